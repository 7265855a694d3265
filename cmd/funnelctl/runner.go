package main

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// command runs one subcommand with its own arguments.
type command func(ctx context.Context, args []string) error

var errInternal = errors.New("internal error")

// logging wraps next with structured logging of the outcome and duration.
func logging(log *zap.Logger, name string, next command) command {
	return func(ctx context.Context, args []string) error {
		start := time.Now()
		err := next(ctx, args)

		// metadata only, never arguments
		log.Info("command",
			zap.String("cmd", name),
			zap.Bool("ok", err == nil),
			zap.Duration("dur", time.Since(start)),
		)
		return err
	}
}

// recovering turns a panic inside next into errInternal.
func recovering(log *zap.Logger, name string, next command) command {
	return func(ctx context.Context, args []string) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("cmd", name),
				)
				err = errInternal
			}
		}()
		return next(ctx, args)
	}
}

// chain applies recovering inside logging, so panics are logged as failures.
func chain(log *zap.Logger, name string, c command) command {
	return logging(log, name, recovering(log, name, c))
}
