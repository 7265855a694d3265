// Package generate produces marketing copy for funnels. All strategies are
// canned: nothing here calls a model.
package generate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/funnelai/funnel-core/internal/model"
)

// Generator returns copy of the requested type for a free-text prompt.
type Generator interface {
	Generate(ctx context.Context, ct model.ContentType, prompt string) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, ct model.ContentType, prompt string) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, ct model.ContentType, prompt string) (string, error) {
	return f(ctx, ct, prompt)
}

// Strategy names accepted by New.
const (
	StrategyKeyword   = "keyword"
	StrategyTemplates = "templates"
)

// New returns the generator for a strategy name.
func New(strategy string) (Generator, error) {
	switch strategy {
	case "", StrategyKeyword:
		return Keyword{}, nil
	case StrategyTemplates:
		return NewTemplates(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)), nil
	default:
		return nil, fmt.Errorf("unknown generator strategy %q", strategy)
	}
}

// Latency wraps next with a simulated processing delay of base plus a uniform
// random jitter in [0, jitter). The delay honours ctx.
type Latency struct {
	next   Generator
	base   time.Duration
	jitter time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// WithLatency wraps next. Zero base and jitter make it a pass-through.
func WithLatency(next Generator, base, jitter time.Duration) *Latency {
	return &Latency{
		next:   next,
		base:   base,
		jitter: jitter,
		rnd:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1)),
	}
}

func (l *Latency) delay() time.Duration {
	d := l.base
	if l.jitter > 0 {
		l.mu.Lock()
		d += time.Duration(l.rnd.Int64N(int64(l.jitter)))
		l.mu.Unlock()
	}
	return d
}

// Generate waits out the delay, then delegates.
func (l *Latency) Generate(ctx context.Context, ct model.ContentType, prompt string) (string, error) {
	if err := Sleep(ctx, l.delay()); err != nil {
		return "", err
	}
	return l.next.Generate(ctx, ct, prompt)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fallback(ct model.ContentType, prompt string) string {
	return fmt.Sprintf("AI-generated %s content based on: %s", ct, strings.TrimSpace(prompt))
}
