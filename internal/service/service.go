// Package service contains the session and funnel stores that views read from.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/funnelai/funnel-core/internal/errs"
	"github.com/funnelai/funnel-core/internal/repository"
)

func putJSON(ctx context.Context, kv repository.KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, b); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: invalid email %q", errs.ErrValidation, email)
	}
	return nil
}
