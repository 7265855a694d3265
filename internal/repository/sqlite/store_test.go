package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/funnelai/funnel-core/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTripAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "funnelai.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)

	_, err = s.Get(ctx, "user")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Set(ctx, "user", []byte(`{"id":"1"}`)))
	require.NoError(t, s.Set(ctx, "user", []byte(`{"id":"2"}`)))
	require.NoError(t, s.Set(ctx, "waitlist", []byte(`[]`)))
	require.NoError(t, s.Close())

	// migrations are idempotent and data survives a reopen
	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Get(ctx, "user")
	require.NoError(t, err)
	require.Equal(t, `{"id":"2"}`, string(got))

	require.NoError(t, s.Delete(ctx, "user"))
	require.NoError(t, s.Delete(ctx, "user"))
	_, err = s.Get(ctx, "user")
	require.ErrorIs(t, err, errs.ErrNotFound)

	got, err = s.Get(ctx, "waitlist")
	require.NoError(t, err)
	require.Equal(t, `[]`, string(got))
}
