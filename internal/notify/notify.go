// Package notify sends transactional email for session events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/resendlabs/resend-go"

	"github.com/funnelai/funnel-core/internal/model"
)

// Notifier delivers user-facing notifications. Callers treat failures as
// non-fatal.
type Notifier interface {
	WaitlistJoined(ctx context.Context, entry model.WaitlistEntry) error
	Welcome(ctx context.Context, id model.Identity) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) WaitlistJoined(context.Context, model.WaitlistEntry) error { return nil }
func (Nop) Welcome(context.Context, model.Identity) error             { return nil }

const defaultFrom = "FunnelAI <noreply@funnelai.com>"

// Resend sends email through the Resend API.
type Resend struct {
	send func(*resend.SendEmailRequest) error
	from string
}

// NewResend builds a Resend notifier. from may be empty.
func NewResend(apiKey, from string) (*Resend, error) {
	if apiKey == "" {
		return nil, errors.New("resend api key is required")
	}
	client := resend.NewClient(apiKey)
	return newResend(func(req *resend.SendEmailRequest) error {
		_, err := client.Emails.Send(req)
		return err
	}, from), nil
}

func newResend(send func(*resend.SendEmailRequest) error, from string) *Resend {
	if from == "" {
		from = defaultFrom
	}
	return &Resend{send: send, from: from}
}

// WaitlistJoined confirms a waitlist signup to the entrant.
func (r *Resend) WaitlistJoined(ctx context.Context, entry model.WaitlistEntry) error {
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>You're on the FunnelAI waitlist. We'll email %s as soon as your spot opens up.</p>",
		html.EscapeString(greeting(entry.Name)), html.EscapeString(entry.Email),
	)
	return r.deliver(ctx, entry.Email, "You're on the FunnelAI waitlist", body)
}

// Welcome greets a newly signed-up account.
func (r *Resend) Welcome(ctx context.Context, id model.Identity) error {
	body := fmt.Sprintf(
		"<p>Welcome to FunnelAI, %s!</p><p>Your first funnel is waiting in the dashboard.</p>",
		html.EscapeString(greeting(id.Name)),
	)
	return r.deliver(ctx, id.Email, "Welcome to FunnelAI", body)
}

func (r *Resend) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	if err := r.send(req); err != nil {
		return fmt.Errorf("send %q via resend: %w", subject, err)
	}
	return nil
}

func greeting(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return "there"
}
