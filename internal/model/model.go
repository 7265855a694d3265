// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/funnelai/funnel-core/internal/errs"
)

// Tier is a subscription level. The zero value means no subscription.
type Tier string

const (
	TierNone       Tier = ""
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierNone, TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Identity is the signed-in user's session record.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
	Subscription Tier      `json:"subscription,omitempty"`
}

// Account is a stored credential for an identity created by signup.
type Account struct {
	Identity Identity `json:"identity"`
	Salt     []byte   `json:"salt"`
	PwdHash  []byte   `json:"pwdHash"` // Argon2id(password, Salt)
}

// Tokens is the persisted session token (optional, only when signing is configured).
type Tokens struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// WaitlistEntry is a pre-signup lead capture. Entries are append-only.
type WaitlistEntry struct {
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// FunnelType enumerates funnel kinds.
type FunnelType string

const (
	FunnelLanding    FunnelType = "landing"
	FunnelSales      FunnelType = "sales"
	FunnelWebinar    FunnelType = "webinar"
	FunnelLeadMagnet FunnelType = "lead-magnet"
)

// Valid reports whether t is a known funnel type.
func (t FunnelType) Valid() bool {
	switch t {
	case FunnelLanding, FunnelSales, FunnelWebinar, FunnelLeadMagnet:
		return true
	}
	return false
}

// FunnelStatus is the lifecycle state of a funnel.
type FunnelStatus string

const (
	StatusDraft     FunnelStatus = "draft"
	StatusPublished FunnelStatus = "published"
	StatusArchived  FunnelStatus = "archived"
)

// statusRank orders statuses along the only allowed direction of travel.
var statusRank = map[FunnelStatus]int{
	StatusDraft:     0,
	StatusPublished: 1,
	StatusArchived:  2,
}

// Valid reports whether s is a known status.
func (s FunnelStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanBecome reports whether a funnel in status s may be moved to next.
// Statuses only move forward; rewriting the current status is allowed.
func (s FunnelStatus) CanBecome(next FunnelStatus) bool {
	from, ok1 := statusRank[s]
	to, ok2 := statusRank[next]
	return ok1 && ok2 && to >= from
}

// Analytics holds funnel performance counters. All values are non-negative.
type Analytics struct {
	Views          int64   `json:"views"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversionRate"` // caller-supplied, percent
	Revenue        float64 `json:"revenue"`
}

// Rate derives the conversion rate in percent from the counters.
func (a Analytics) Rate() float64 {
	if a.Views <= 0 {
		return 0
	}
	return float64(a.Conversions) / float64(a.Views) * 100
}

// Validate checks counters for negative values and conversions exceeding views.
func (a Analytics) Validate() error {
	if a.Views < 0 || a.Conversions < 0 || a.ConversionRate < 0 || a.Revenue < 0 {
		return fmt.Errorf("%w: negative analytics value", errs.ErrValidation)
	}
	if a.Conversions > a.Views {
		return fmt.Errorf("%w: conversions (%d) exceed views (%d)", errs.ErrValidation, a.Conversions, a.Views)
	}
	return nil
}

// Content is the copy shown on a funnel page.
type Content struct {
	Headline    string `json:"headline"`
	Subheadline string `json:"subheadline"`
	CTA         string `json:"cta"`
	Description string `json:"description"`
}

// Funnel is a user's conversion-page project.
type Funnel struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      FunnelType   `json:"type"`
	Status    FunnelStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Analytics Analytics    `json:"analytics"`
	Content   Content      `json:"content"`
}

// FunnelDraft carries every Funnel field the caller controls (no id, no timestamps).
type FunnelDraft struct {
	Name      string
	Type      FunnelType
	Status    FunnelStatus
	Analytics Analytics
	Content   Content
}

// Validate checks enums and analytics of a new funnel.
func (d FunnelDraft) Validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown funnel type %q", errs.ErrValidation, d.Type)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("%w: unknown funnel status %q", errs.ErrValidation, d.Status)
	}
	return d.Analytics.Validate()
}

// FunnelPatch is a partial update. Nil fields are left untouched; sub-records
// are replaced as a whole.
type FunnelPatch struct {
	Name      *string
	Type      *FunnelType
	Status    *FunnelStatus
	Analytics *Analytics
	Content   *Content
}

// Empty reports whether the patch changes no field.
func (p FunnelPatch) Empty() bool {
	return p.Name == nil && p.Type == nil && p.Status == nil && p.Analytics == nil && p.Content == nil
}

// Apply merges p into f and returns the result. It validates enums, analytics
// and the status transition but does not touch timestamps.
func (p FunnelPatch) Apply(f Funnel) (Funnel, error) {
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.Type != nil {
		if !p.Type.Valid() {
			return Funnel{}, fmt.Errorf("%w: unknown funnel type %q", errs.ErrValidation, *p.Type)
		}
		f.Type = *p.Type
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return Funnel{}, fmt.Errorf("%w: unknown funnel status %q", errs.ErrValidation, *p.Status)
		}
		if !f.Status.CanBecome(*p.Status) {
			return Funnel{}, fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, f.Status, *p.Status)
		}
		f.Status = *p.Status
	}
	if p.Analytics != nil {
		if err := p.Analytics.Validate(); err != nil {
			return Funnel{}, err
		}
		f.Analytics = *p.Analytics
	}
	if p.Content != nil {
		f.Content = *p.Content
	}
	return f, nil
}

// Outcome reports whether an update or delete found its target.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeNotFound Outcome = "not_found"
)

// Summary aggregates analytics across a funnel collection.
type Summary struct {
	Funnels        int     `json:"funnels"`
	Published      int     `json:"published"`
	Views          int64   `json:"views"`
	Conversions    int64   `json:"conversions"`
	Revenue        float64 `json:"revenue"`
	ConversionRate float64 `json:"conversionRate"`
}

// ContentType tags the kind of copy requested from a generator.
type ContentType string

const (
	ContentHeadline    ContentType = "headline"
	ContentSubheadline ContentType = "subheadline"
	ContentCTA         ContentType = "cta"
	ContentEmail       ContentType = "email"
	ContentAd          ContentType = "ad"
	ContentDescription ContentType = "description"
)

var contentAliases = map[string]ContentType{
	"headline":       ContentHeadline,
	"subheadline":    ContentSubheadline,
	"cta":            ContentCTA,
	"call-to-action": ContentCTA,
	"email":          ContentEmail,
	"email-body":     ContentEmail,
	"ad":             ContentAd,
	"ad-copy":        ContentAd,
	"description":    ContentDescription,
}

// ParseContentType maps a tag (or one of its long aliases) to a ContentType.
func ParseContentType(s string) (ContentType, error) {
	ct, ok := contentAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown content type %q", errs.ErrValidation, s)
	}
	return ct, nil
}

// Field returns a pointer to the Content field that holds copy of type ct,
// or nil when ct is not part of a funnel page (email, ad).
func (c *Content) Field(ct ContentType) *string {
	switch ct {
	case ContentHeadline:
		return &c.Headline
	case ContentSubheadline:
		return &c.Subheadline
	case ContentCTA:
		return &c.CTA
	case ContentDescription:
		return &c.Description
	}
	return nil
}
