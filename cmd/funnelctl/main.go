// Command funnelctl drives the funnel builder's session and funnel stores from a terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/funnelai/funnel-core/internal/config"
	"github.com/funnelai/funnel-core/internal/errs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `funnelctl
Usage:
  funnelctl [-storage file|memory|sqlite|postgres] [-data-dir dir] [-dsn dsn] [-dev] <cmd> [args]

Commands:
  version
  signup     -email <e> -password <p> [-name <n>]
  login      -email <e> -password <p>
  logout
  whoami
  waitlist   join -email <e> [-name <n>] | list     (list: admin only)
  funnel     list | get -id <id> | rm -id <id>
  funnel     add -name <n> [-type t] [-status s] [-headline ..] [-cta ..]
  funnel     update -id <id> [-name ..] [-status ..] [-views n] [-conversions n] [-headline ..]
  generate   -type <ct> -prompt <text> [-id <funnel id>] [-n <1-5>]
  keygen     [-len <hex chars>]
  stats
  plans
`)
	os.Exit(2)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	code := 1
	switch {
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrRateLimited):
		code = 3
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrInvalidTransition):
		code = 4
	}
	os.Exit(code)
}

func newLogger(dev bool) *zap.Logger {
	if dev {
		l, _ := zap.NewDevelopment()
		return l
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// main loads configuration, opens storage and dispatches one subcommand.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}

	// flags override env
	storage := flag.String("storage", cfg.Storage, "storage backend")
	dataDir := flag.String("data-dir", cfg.DataDir, "directory for the file backend")
	dsn := flag.String("dsn", cfg.DSN, "postgres DSN or sqlite path")
	dev := flag.Bool("dev", cfg.Dev, "development logging")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}
	cfg.Storage, cfg.DataDir, cfg.DSN, cfg.Dev = *storage, *dataDir, *dsn, *dev
	if err := cfg.Validate(); err != nil {
		fail(err)
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		fail(err)
	}

	a, err := newApp(cfg, st, logger, os.Stdout, os.Stderr)
	if err != nil {
		st.close()
		fail(err)
	}
	err = a.run(ctx, flag.Args())
	st.close()
	if errors.Is(err, errUsage) {
		usage()
	}
	if err != nil {
		fail(err)
	}
}
