package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/funnelai/funnel-core/internal/errs"
	"github.com/funnelai/funnel-core/internal/events"
	"github.com/funnelai/funnel-core/internal/generate"
	"github.com/funnelai/funnel-core/internal/model"
	"github.com/funnelai/funnel-core/internal/repository"
)

// FunnelService owns the funnel collection of the running client.
type FunnelService interface {
	// Load reads the persisted collection, seeding it on first run.
	Load(ctx context.Context) error
	// Add validates draft, assigns id and timestamps and persists.
	Add(ctx context.Context, draft model.FunnelDraft) (model.Funnel, error)
	// Update merges patch into the funnel with id; unknown ids report OutcomeNotFound.
	Update(ctx context.Context, id string, patch model.FunnelPatch) (model.Outcome, error)
	// Delete removes the funnel with id; unknown ids report OutcomeNotFound.
	Delete(ctx context.Context, id string) (model.Outcome, error)

	List() []model.Funnel
	Get(id string) (model.Funnel, bool)
	Stats() model.Summary

	// Generate returns copy for prompt after the simulated latency.
	Generate(ctx context.Context, ct model.ContentType, prompt string) (string, error)
	// GenerateInto generates copy and writes it into the funnel's matching content
	// field unless a newer request for the same field has already been applied.
	GenerateInto(ctx context.Context, id string, ct model.ContentType, prompt string) (text string, applied bool, err error)
	// History returns the most recent generations, newest first.
	History() []string

	Subscribe() (<-chan events.Event, func())
}

// FunnelOptions configures a FunnelServiceImpl. Zero values are usable.
type FunnelOptions struct {
	Generator     generate.Generator // defaults to generate.Keyword
	GenerateDelay time.Duration
	Jitter        time.Duration

	Events *events.Broadcaster
	Logger *zap.Logger
	Now    func() time.Time
}

type FunnelServiceImpl struct {
	kv     repository.KV
	gen    generate.Generator
	seq    *generate.Sequencer
	events *events.Broadcaster
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	funnels []model.Funnel
	history []string
}

// HistorySize bounds the generation history.
const HistorySize = 5

var _ FunnelService = (*FunnelServiceImpl)(nil)

// NewFunnelService constructs FunnelService over kv. Call Load before use.
func NewFunnelService(kv repository.KV, opts FunnelOptions) *FunnelServiceImpl {
	s := &FunnelServiceImpl{
		kv:      kv,
		gen:     opts.Generator,
		seq:     generate.NewSequencer(),
		events:  opts.Events,
		logger:  opts.Logger,
		now:     opts.Now,
		funnels: []model.Funnel{},
	}
	if s.gen == nil {
		s.gen = generate.Keyword{}
	}
	if opts.GenerateDelay > 0 || opts.Jitter > 0 {
		s.gen = generate.WithLatency(s.gen, opts.GenerateDelay, opts.Jitter)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.events == nil {
		s.events = events.NewBroadcaster(s.logger)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SeedFunnels is the collection written on first run.
func SeedFunnels() []model.Funnel {
	return []model.Funnel{{
		ID:        "1",
		Name:      "Lead Magnet Funnel",
		Type:      model.FunnelLeadMagnet,
		Status:    model.StatusPublished,
		CreatedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
		Analytics: model.Analytics{Views: 1247, Conversions: 156, ConversionRate: 12.5, Revenue: 4680},
		Content: model.Content{
			Headline:    "Get Your Free Marketing Guide",
			Subheadline: "Learn the secrets that helped 10,000+ entrepreneurs grow their business",
			CTA:         "Download Free Guide",
			Description: "This comprehensive guide covers everything you need to know about digital marketing for small businesses.",
		},
	}}
}

// Load replaces in-memory state with the persisted collection. An absent or
// unreadable value is replaced by the seed collection, which is persisted.
func (s *FunnelServiceImpl) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.kv.Get(ctx, repository.KeyFunnels)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return s.seed(ctx)
	case err != nil:
		return fmt.Errorf("read funnels: %w", err)
	}

	var list []model.Funnel
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.Warn("funnels unreadable, reseeding", zap.Error(err))
		return s.seed(ctx)
	}
	if list == nil {
		list = []model.Funnel{}
	}
	s.funnels = list
	s.logger.Debug("funnels loaded", zap.Int("count", len(list)))
	return nil
}

func (s *FunnelServiceImpl) seed(ctx context.Context) error {
	list := SeedFunnels()
	if err := putJSON(ctx, s.kv, repository.KeyFunnels, list); err != nil {
		return err
	}
	s.funnels = list
	s.events.Publish(events.Event{Kind: events.FunnelSeeded})
	return nil
}

// Add appends a new funnel. Both timestamps are set to the current time.
func (s *FunnelServiceImpl) Add(ctx context.Context, draft model.FunnelDraft) (model.Funnel, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	if draft.Name == "" {
		return model.Funnel{}, fmt.Errorf("%w: empty funnel name", errs.ErrValidation)
	}
	if draft.Status == "" {
		draft.Status = model.StatusDraft
	}
	if err := draft.Validate(); err != nil {
		return model.Funnel{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.newID()
	if err != nil {
		return model.Funnel{}, err
	}
	now := s.now().UTC()
	f := model.Funnel{
		ID:        id,
		Name:      draft.Name,
		Type:      draft.Type,
		Status:    draft.Status,
		CreatedAt: now,
		UpdatedAt: now,
		Analytics: draft.Analytics,
		Content:   draft.Content,
	}

	next := append(slices.Clone(s.funnels), f)
	if err := s.persist(ctx, next); err != nil {
		return model.Funnel{}, err
	}
	s.events.Publish(events.Event{Kind: events.FunnelAdded, ID: id})
	s.logger.Info("funnel added", zap.String("funnel_id", id), zap.String("type", string(f.Type)))
	return f, nil
}

// Update shallow-merges patch. Status may only move forward and updatedAt
// always increases.
func (s *FunnelServiceImpl) Update(ctx context.Context, id string, patch model.FunnelPatch) (model.Outcome, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return "", fmt.Errorf("%w: empty funnel name", errs.ErrValidation)
		}
		patch.Name = &name
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return model.OutcomeNotFound, nil
	}
	if err := s.apply(ctx, i, patch); err != nil {
		return "", err
	}
	return model.OutcomeOK, nil
}

// apply merges patch into s.funnels[i] and persists. Caller holds s.mu.
func (s *FunnelServiceImpl) apply(ctx context.Context, i int, patch model.FunnelPatch) error {
	prev := s.funnels[i]
	f, err := patch.Apply(prev)
	if err != nil {
		return err
	}
	f.UpdatedAt = s.tick(prev.UpdatedAt)

	next := slices.Clone(s.funnels)
	next[i] = f
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.events.Publish(events.Event{Kind: events.FunnelUpdated, ID: f.ID})
	s.logger.Info("funnel updated", zap.String("funnel_id", f.ID), zap.String("status", string(f.Status)))
	return nil
}

// Delete removes the funnel. Deleting an unknown id is not an error.
func (s *FunnelServiceImpl) Delete(ctx context.Context, id string) (model.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return model.OutcomeNotFound, nil
	}
	next := slices.Delete(slices.Clone(s.funnels), i, i+1)
	if err := s.persist(ctx, next); err != nil {
		return "", err
	}
	s.events.Publish(events.Event{Kind: events.FunnelDeleted, ID: id})
	s.logger.Info("funnel deleted", zap.String("funnel_id", id))
	return model.OutcomeOK, nil
}

// List returns a snapshot in insertion order.
func (s *FunnelServiceImpl) List() []model.Funnel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.funnels)
}

func (s *FunnelServiceImpl) Get(id string) (model.Funnel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(id); i >= 0 {
		return s.funnels[i], true
	}
	return model.Funnel{}, false
}

// Stats totals analytics over the collection.
func (s *FunnelServiceImpl) Stats() model.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum model.Summary
	for _, f := range s.funnels {
		sum.Funnels++
		if f.Status == model.StatusPublished {
			sum.Published++
		}
		sum.Views += f.Analytics.Views
		sum.Conversions += f.Analytics.Conversions
		sum.Revenue += f.Analytics.Revenue
	}
	sum.ConversionRate = model.Analytics{Views: sum.Views, Conversions: sum.Conversions}.Rate()
	return sum
}

// Generate accepts the short tags and their long aliases (call-to-action,
// email-body, ad-copy). The generator runs outside the store lock; only the
// history is updated.
func (s *FunnelServiceImpl) Generate(ctx context.Context, ct model.ContentType, prompt string) (string, error) {
	ct, err := model.ParseContentType(string(ct))
	if err != nil {
		return "", err
	}
	start := time.Now()
	text, err := s.gen.Generate(ctx, ct, prompt)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.history = append([]string{text}, s.history[:min(len(s.history), HistorySize-1)]...)
	s.mu.Unlock()

	s.logger.Debug("content generated", zap.String("type", string(ct)), zap.Duration("took", time.Since(start)))
	return text, nil
}

// History returns up to HistorySize generated texts, newest first.
func (s *FunnelServiceImpl) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *FunnelServiceImpl) GenerateInto(ctx context.Context, id string, ct model.ContentType, prompt string) (string, bool, error) {
	ct, err := model.ParseContentType(string(ct))
	if err != nil {
		return "", false, err
	}
	var field model.Content
	if field.Field(ct) == nil {
		return "", false, fmt.Errorf("%w: %q is not a funnel content field", errs.ErrValidation, ct)
	}
	if _, ok := s.Get(id); !ok {
		return "", false, fmt.Errorf("funnel %s: %w", id, errs.ErrNotFound)
	}

	ticket := s.seq.Begin(id + "/" + string(ct))
	text, err := s.Generate(ctx, ct, prompt)
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return text, false, fmt.Errorf("funnel %s: %w", id, errs.ErrNotFound)
	}
	if !s.seq.Commit(ticket) {
		s.logger.Debug("stale generation discarded", zap.String("funnel_id", id), zap.String("type", string(ct)))
		return text, false, nil
	}
	content := s.funnels[i].Content
	*content.Field(ct) = text
	if err := s.apply(ctx, i, model.FunnelPatch{Content: &content}); err != nil {
		return text, false, err
	}
	return text, true, nil
}

func (s *FunnelServiceImpl) Subscribe() (<-chan events.Event, func()) {
	return s.events.Subscribe()
}

func (s *FunnelServiceImpl) persist(ctx context.Context, next []model.Funnel) error {
	if err := putJSON(ctx, s.kv, repository.KeyFunnels, next); err != nil {
		return err
	}
	s.funnels = next
	return nil
}

func (s *FunnelServiceImpl) index(id string) int {
	return slices.IndexFunc(s.funnels, func(f model.Funnel) bool { return f.ID == id })
}

// tick returns the current time, or prev+1ns if the clock has not moved past prev.
func (s *FunnelServiceImpl) tick(prev time.Time) time.Time {
	now := s.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

func (s *FunnelServiceImpl) newID() (string, error) {
	for {
		uid, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		if id := uid.String(); s.index(id) < 0 {
			return id, nil
		}
	}
}
