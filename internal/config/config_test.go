package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/funnelai/funnel-core/internal/model"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FUNNELAI_STORAGE", "FUNNELAI_STORAGE_KEY", "FUNNELAI_DATA_DIR", "FUNNELAI_DSN", "FUNNELAI_ADMIN_EMAIL",
		"FUNNELAI_JWT_KEY", "FUNNELAI_ACCESS_TTL", "FUNNELAI_GENERATOR", "FUNNELAI_LOGIN_DELAY",
		"FUNNELAI_WAITLIST_DELAY", "FUNNELAI_GENERATE_DELAY", "FUNNELAI_DEV", "RESEND_API_KEY",
		"FUNNELAI_EMAIL_FROM", "STRIPE_PRICE_PRO", "STRIPE_PRICE_ENTERPRISE",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, StorageFile, cfg.Storage)
	require.Equal(t, DefaultAdminEmail, cfg.AdminEmail)
	require.Equal(t, time.Second, cfg.LoginDelay)
	require.Equal(t, 500*time.Millisecond, cfg.WaitlistDelay)
	require.Equal(t, 2*time.Second, cfg.GenerateDelay)
	require.Equal(t, "keyword", cfg.Generator)
	require.Empty(t, cfg.JWTKey)
	require.False(t, cfg.Dev)
	require.Len(t, cfg.Plans, 3)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FUNNELAI_STORAGE", "SQLite")
	t.Setenv("FUNNELAI_DSN", "/tmp/f.db")
	t.Setenv("FUNNELAI_LOGIN_DELAY", "0s")
	t.Setenv("FUNNELAI_DEV", "true")
	t.Setenv("FUNNELAI_JWT_KEY", "k")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, StorageSQLite, cfg.Storage)
	require.Equal(t, time.Duration(0), cfg.LoginDelay)
	require.True(t, cfg.Dev)
	require.Equal(t, []byte("k"), cfg.JWTKey)
}

func TestFromEnv_Errors(t *testing.T) {
	cases := map[string][2]string{
		"bad duration":     {"FUNNELAI_GENERATE_DELAY", "soon"},
		"negative":         {"FUNNELAI_WAITLIST_DELAY", "-1s"},
		"bad bool":         {"FUNNELAI_DEV", "maybe"},
		"unknown storage":  {"FUNNELAI_STORAGE", "redis"},
		"postgres w/o dsn": {"FUNNELAI_STORAGE", "postgres"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			_, err := FromEnv()
			require.Error(t, err)
		})
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("FUNNELAI_ADMIN_EMAIL")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FUNNELAI_ADMIN_EMAIL=boss@x.io\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FUNNELAI_ADMIN_EMAIL") })

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "boss@x.io", cfg.AdminEmail)
}

func TestLoad_MissingFileIgnored(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
}

func TestPlans_PriceOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRIPE_PRICE_PRO", "price_live_pro")

	plans := Plans()
	require.Equal(t, model.TierFree, plans[0].ID)
	require.Equal(t, "price_free", plans[0].PriceID)
	require.Equal(t, "price_live_pro", plans[1].PriceID)
	require.Equal(t, 29, plans[1].Price)
	require.Equal(t, "price_enterprise", plans[2].PriceID)
}
