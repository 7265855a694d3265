package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter keeping one login_attempts row per email.
// Counters are shared by every process pointed at the same database.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over q (a *pgxpool.Pool or mock).
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, email string) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM login_attempts WHERE email=$1`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, normalize(email)).Scan(&blockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, err
	}
	if now := l.now(); blockedUntil.After(now) {
		return false, blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success drops the counters for email.
func (l *PG) Success(ctx context.Context, email string) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM login_attempts WHERE email=$1`, normalize(email))
	return err
}

// Failure records a failed attempt; may set a block until a future time.
func (l *PG) Failure(ctx context.Context, email string) (bool, time.Duration, error) {
	now := l.now().UTC()
	key := normalize(email)

	const q = `
INSERT INTO login_attempts (email, fail_count, blocked_until, updated_at)
VALUES ($1, 1, 'epoch', $2)
ON CONFLICT (email) DO UPDATE
SET
  fail_count = CASE WHEN $2::timestamptz - login_attempts.updated_at > $3::interval THEN 1 ELSE login_attempts.fail_count + 1 END,
  updated_at = $2
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, key, now, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const upd = `UPDATE login_attempts SET blocked_until=$2 WHERE email=$1`
	if _, err := l.pool.Exec(ctx, upd, key, now.Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
