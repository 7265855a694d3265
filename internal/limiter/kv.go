package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/funnelai/funnel-core/internal/errs"
	"github.com/funnelai/funnel-core/internal/repository"
)

// KeyAttempts is the durable key holding login attempt counters.
const KeyAttempts = "login_attempts"

type attempt struct {
	FailCount    int       `json:"failCount"`
	BlockedUntil time.Time `json:"blockedUntil"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// KV is a limiter with sliding window and lockout, persisted in a repository.KV
// so that counters survive process restarts.
type KV struct {
	kv       repository.KV
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time

	mu sync.Mutex
}

// NewKV constructs a KV-backed limiter.
func NewKV(kv repository.KV, window time.Duration, maxFails int, blockFor time.Duration) *KV {
	return &KV{kv: kv, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

func normalize(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (l *KV) load(ctx context.Context) (map[string]attempt, error) {
	b, err := l.kv.Get(ctx, KeyAttempts)
	if errors.Is(err, errs.ErrNotFound) {
		return map[string]attempt{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]attempt{}
	if err := json.Unmarshal(b, &m); err != nil {
		// corrupt counters only weaken the limiter; start over
		return map[string]attempt{}, nil
	}
	return m, nil
}

func (l *KV) save(ctx context.Context, m map[string]attempt) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}
	return l.kv.Set(ctx, KeyAttempts, b)
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *KV) Allow(ctx context.Context, email string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.load(ctx)
	if err != nil {
		return false, 0, err
	}
	a, ok := m[normalize(email)]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); a.BlockedUntil.After(now) {
		return false, a.BlockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success resets counters for email.
func (l *KV) Success(ctx context.Context, email string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.load(ctx)
	if err != nil {
		return err
	}
	key := normalize(email)
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return l.save(ctx, m)
}

// Failure records a failed attempt; may set a block until a future time.
func (l *KV) Failure(ctx context.Context, email string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.load(ctx)
	if err != nil {
		return false, 0, err
	}
	now := l.now()
	key := normalize(email)
	a := m[key]
	if now.Sub(a.UpdatedAt) > l.window {
		a.FailCount = 0
	}
	a.FailCount++
	a.UpdatedAt = now

	blocked := a.FailCount >= l.maxFails
	if blocked {
		a.BlockedUntil = now.Add(l.blockFor)
	}
	m[key] = a
	if err := l.save(ctx, m); err != nil {
		return false, 0, err
	}
	if blocked {
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
