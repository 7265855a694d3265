// Package repository defines the durable key-value contract implemented by concrete backends.
package repository

import "context"

// Keys used by the stores. Key spaces of the two stores never overlap.
const (
	KeyUser     = "user"
	KeySession  = "session"
	KeyAccounts = "accounts"
	KeyWaitlist = "waitlist"
	KeyFunnels  = "funnels"
)

// KV is a durable key-value store holding JSON text values.
type KV interface {
	// Get returns the stored value or errs.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
