// Package config reads runtime settings from .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/funnelai/funnel-core/internal/model"
)

// Storage backends.
const (
	StorageFile     = "file"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

const DefaultAdminEmail = "admin@funnelai.com"

// Config holds every tunable of the funnelctl host.
type Config struct {
	Storage    string
	DataDir    string // empty means the per-user config dir
	DSN        string // postgres DSN or sqlite file path
	StorageKey string // non-empty seals stored values
	AdminEmail string

	JWTKey    []byte // empty disables session tokens
	AccessTTL time.Duration

	Generator     string
	LoginDelay    time.Duration
	WaitlistDelay time.Duration
	GenerateDelay time.Duration

	Dev bool

	ResendAPIKey string // empty disables email
	EmailFrom    string

	Plans []Plan
}

// Plan is one entry of the pricing catalog.
type Plan struct {
	ID       model.Tier `json:"id"`
	Name     string     `json:"name"`
	Price    int        `json:"price"` // USD per month
	PriceID  string     `json:"priceId"`
	Features []string   `json:"features"`
}

// Load reads .env files (missing files are ignored) and then the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment.
func FromEnv() (Config, error) {
	cfg := Config{
		Storage:      strings.ToLower(getEnvOrDefault("FUNNELAI_STORAGE", StorageFile)),
		DataDir:      os.Getenv("FUNNELAI_DATA_DIR"),
		DSN:          os.Getenv("FUNNELAI_DSN"),
		StorageKey:   os.Getenv("FUNNELAI_STORAGE_KEY"),
		AdminEmail:   getEnvOrDefault("FUNNELAI_ADMIN_EMAIL", DefaultAdminEmail),
		JWTKey:       []byte(os.Getenv("FUNNELAI_JWT_KEY")),
		Generator:    getEnvOrDefault("FUNNELAI_GENERATOR", "keyword"),
		ResendAPIKey: os.Getenv("RESEND_API_KEY"),
		EmailFrom:    os.Getenv("FUNNELAI_EMAIL_FROM"),
		Plans:        Plans(),
	}

	var err error
	if cfg.AccessTTL, err = durationEnv("FUNNELAI_ACCESS_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.LoginDelay, err = durationEnv("FUNNELAI_LOGIN_DELAY", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WaitlistDelay, err = durationEnv("FUNNELAI_WAITLIST_DELAY", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.GenerateDelay, err = durationEnv("FUNNELAI_GENERATE_DELAY", 2*time.Second); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("FUNNELAI_DEV"); v != "" {
		if cfg.Dev, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("FUNNELAI_DEV: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks the storage selection.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageFile, StorageMemory:
	case StoragePostgres, StorageSQLite:
		if c.DSN == "" {
			return fmt.Errorf("storage %q needs FUNNELAI_DSN", c.Storage)
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if c.AccessTTL <= 0 {
		return errors.New("access ttl must be positive")
	}
	return nil
}

// Plans returns the pricing catalog; paid price ids may be overridden by env.
func Plans() []Plan {
	return []Plan{
		{
			ID: model.TierFree, Name: "Starter", Price: 0, PriceID: "price_free",
			Features: []string{"3 active funnels", "AI content generation", "Basic analytics", "Email support"},
		},
		{
			ID: model.TierPro, Name: "Pro", Price: 29, PriceID: getEnvOrDefault("STRIPE_PRICE_PRO", "price_pro"),
			Features: []string{"Unlimited funnels", "Advanced AI features", "A/B testing", "Priority support", "Custom domains"},
		},
		{
			ID: model.TierEnterprise, Name: "Enterprise", Price: 99, PriceID: getEnvOrDefault("STRIPE_PRICE_ENTERPRISE", "price_enterprise"),
			Features: []string{"Everything in Pro", "White label solution", "API access", "Dedicated support"},
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration", key)
	}
	return d, nil
}
