package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/funnelai/funnel-core/internal/errs"
	"github.com/funnelai/funnel-core/internal/repository"
	"github.com/jackc/pgx/v5"
)

var _ repository.KV = (*KVStore)(nil)

// KVStore implements repository.KV on the kv_store table.
type KVStore struct{ db *DB }

// NewKVStore constructs a key-value store over db.
func NewKVStore(db *DB) *KVStore { return &KVStore{db: db} }

// Get selects the value for key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT value FROM kv_store WHERE key=$1`
	var v string
	if err := s.db.Pool.QueryRow(ctx, q, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return []byte(v), nil
}

// Set upserts the value for key.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	const q = `
INSERT INTO kv_store (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP`
	if _, err := s.db.Pool.Exec(ctx, q, key, string(value)); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// Delete removes the row for key, if any.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM kv_store WHERE key=$1`
	if _, err := s.db.Pool.Exec(ctx, q, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}
