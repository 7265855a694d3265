package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/funnelai/funnel-core/internal/config"
	"github.com/funnelai/funnel-core/internal/limiter"
	"github.com/funnelai/funnel-core/internal/migrate"
	"github.com/funnelai/funnel-core/internal/repository"
	"github.com/funnelai/funnel-core/internal/repository/file"
	"github.com/funnelai/funnel-core/internal/repository/memory"
	"github.com/funnelai/funnel-core/internal/repository/postgres"
	"github.com/funnelai/funnel-core/internal/repository/sealed"
	"github.com/funnelai/funnel-core/internal/repository/sqlite"
)

// Login lockout policy.
const (
	attemptWindow = 15 * time.Minute
	maxFailures   = 5
	lockoutFor    = 15 * time.Minute
)

// store is the durable side of one invocation.
type store struct {
	kv      repository.KV
	limiter limiter.Limiter // nil means counters kept in kv
	close   func()
}

func (s store) loginLimiter() limiter.Limiter {
	if s.limiter != nil {
		return s.limiter
	}
	return limiter.NewKV(s.kv, attemptWindow, maxFailures, lockoutFor)
}

// openStore builds the backend selected by cfg, sealed when a storage key is
// configured. The caller must call close.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store, error) {
	st, err := openBackend(ctx, cfg, log)
	if err != nil {
		return store{}, err
	}
	if cfg.StorageKey != "" {
		st.kv = sealed.New(st.kv, cfg.StorageKey)
	}
	return st, nil
}

func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (store, error) {
	nop := func() {}
	switch cfg.Storage {
	case config.StorageMemory:
		return store{kv: memory.New(), close: nop}, nil

	case config.StorageFile:
		dir := cfg.DataDir
		if dir == "" {
			dir = file.DefaultDir()
		}
		fs, err := file.New(dir)
		if err != nil {
			return store{}, err
		}
		log.Debug("storage", zap.String("backend", "file"), zap.String("dir", fs.Dir()))
		return store{kv: fs, close: nop}, nil

	case config.StorageSQLite:
		db, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return store{}, err
		}
		log.Debug("storage", zap.String("backend", "sqlite"))
		return store{kv: db, close: func() { _ = db.Close() }}, nil

	case config.StoragePostgres:
		if err := migrate.UpPostgres(ctx, cfg.DSN); err != nil {
			return store{}, err
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return store{}, fmt.Errorf("connect postgres: %w", err)
		}
		log.Debug("storage", zap.String("backend", "postgres"))
		return store{
			kv:      postgres.NewKVStore(db),
			limiter: limiter.NewPG(db.Pool, attemptWindow, maxFailures, lockoutFor),
			close:   db.Close,
		}, nil
	}
	return store{}, fmt.Errorf("unknown storage %q", cfg.Storage)
}
