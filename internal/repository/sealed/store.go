// Package sealed wraps a repository.KV so that values are encrypted at rest.
package sealed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/funnelai/funnel-core/internal/crypto/seal"
	"github.com/funnelai/funnel-core/internal/repository"
)

var _ repository.KV = (*Store)(nil)

const envelopeVersion = 1

// envelope keeps the stored value valid JSON text for every backend.
type envelope struct {
	V    int    `json:"v"`
	Data []byte `json:"data"` // nonce||ciphertext, base64 in JSON
}

// Store seals values with a key derived from a passphrase and the entry key.
type Store struct {
	next   repository.KV
	master []byte
}

// New wraps next. The passphrase must be the same on every run.
func New(next repository.KV, passphrase string) *Store {
	return &Store{next: next, master: seal.MasterKey([]byte(passphrase))}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.V != envelopeVersion {
		return nil, fmt.Errorf("%s: not a sealed value", key)
	}
	sub, err := seal.SubKey(s.master, key)
	if err != nil {
		return nil, err
	}
	pt, err := seal.Open(sub, env.Data, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", key, err)
	}
	return pt, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	sub, err := seal.SubKey(s.master, key)
	if err != nil {
		return err
	}
	blob, err := seal.Seal(sub, value, []byte(key))
	if err != nil {
		return fmt.Errorf("%s: seal: %w", key, err)
	}
	raw, err := json.Marshal(envelope{V: envelopeVersion, Data: blob})
	if err != nil {
		return err
	}
	return s.next.Set(ctx, key, raw)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.next.Delete(ctx, key)
}
