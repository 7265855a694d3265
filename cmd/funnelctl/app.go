package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/funnelai/funnel-core/internal/config"
	pkgcrypto "github.com/funnelai/funnel-core/internal/crypto"
	"github.com/funnelai/funnel-core/internal/errs"
	"github.com/funnelai/funnel-core/internal/events"
	"github.com/funnelai/funnel-core/internal/generate"
	"github.com/funnelai/funnel-core/internal/model"
	"github.com/funnelai/funnel-core/internal/notify"
	"github.com/funnelai/funnel-core/internal/service"
)

var errUsage = errors.New("usage")

// app holds the stores for one CLI invocation; it plays the role of the views.
type app struct {
	sess    service.SessionService
	funnels service.FunnelService
	bus     *events.Broadcaster
	plans   []config.Plan
	log     *zap.Logger
	out     io.Writer
	errOut  io.Writer
}

func newApp(cfg config.Config, st store, log *zap.Logger, out, errOut io.Writer) (*app, error) {
	gen, err := generate.New(cfg.Generator)
	if err != nil {
		return nil, err
	}

	var n notify.Notifier = notify.Nop{}
	if cfg.ResendAPIKey != "" {
		r, err := notify.NewResend(cfg.ResendAPIKey, cfg.EmailFrom)
		if err != nil {
			return nil, err
		}
		n = r
	}

	bus := events.NewBroadcaster(log)
	sess := service.NewSessionService(st.kv, service.SessionOptions{
		AdminEmail:    cfg.AdminEmail,
		SignKey:       cfg.JWTKey,
		AccessTTL:     cfg.AccessTTL,
		LoginDelay:    cfg.LoginDelay,
		WaitlistDelay: cfg.WaitlistDelay,
		Limiter:       st.loginLimiter(),
		Notifier:      n,
		Events:        bus,
		Logger:        log,
	})
	funnels := service.NewFunnelService(st.kv, service.FunnelOptions{
		Generator:     gen,
		GenerateDelay: cfg.GenerateDelay,
		Events:        bus,
		Logger:        log,
	})
	return &app{
		sess: sess, funnels: funnels, bus: bus, plans: cfg.Plans,
		log: log, out: out, errOut: errOut,
	}, nil
}

func (a *app) commands() map[string]command {
	return map[string]command{
		"version":  a.cmdVersion,
		"login":    a.cmdLogin,
		"signup":   a.cmdSignup,
		"logout":   a.cmdLogout,
		"whoami":   a.cmdWhoami,
		"waitlist": a.cmdWaitlist,
		"funnel":   a.cmdFunnel,
		"generate": a.cmdGenerate,
		"stats":    a.cmdStats,
		"plans":    a.cmdPlans,
		"keygen":   a.cmdKeygen,
	}
}

// run restores the session, then dispatches args[0].
func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	c, ok := a.commands()[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	ch, cancel := a.bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			a.log.Debug("event", zap.String("kind", string(ev.Kind)), zap.String("id", ev.ID))
		}
	}()
	defer func() {
		cancel()
		<-done
	}()

	if _, _, err := a.sess.Restore(ctx); err != nil {
		return err
	}
	return chain(a.log, args[0], c)(ctx, args[1:])
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (a *app) cmdVersion(context.Context, []string) error {
	fmt.Fprintf(a.out, "funnelctl %s (%s)\n", version, buildDate)
	return nil
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := a.flags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	id, err := a.sess.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	a.printJSON(id)
	return nil
}

func (a *app) cmdSignup(ctx context.Context, args []string) error {
	fs := a.flags("signup")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	id, err := a.sess.Signup(ctx, *email, *password, *name)
	if err != nil {
		return err
	}
	a.printJSON(id)
	return nil
}

func (a *app) cmdLogout(ctx context.Context, _ []string) error {
	if err := a.sess.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

func (a *app) cmdWhoami(context.Context, []string) error {
	id, ok := a.sess.Current()
	if !ok {
		return errors.New("not signed in")
	}
	a.printJSON(id)
	return nil
}

func (a *app) cmdWaitlist(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "join":
		fs := a.flags("waitlist join")
		email := fs.String("email", "", "email")
		name := fs.String("name", "", "name")
		if err := fs.Parse(args[1:]); err != nil {
			return errUsage
		}
		entry, err := a.sess.JoinWaitlist(ctx, *email, *name)
		if err != nil {
			return err
		}
		a.printJSON(entry)
	case "list":
		list, err := a.sess.Waitlist(ctx)
		if err != nil {
			return err
		}
		a.printJSON(list)
	default:
		return errUsage
	}
	return nil
}

func (a *app) cmdStats(ctx context.Context, _ []string) error {
	if err := a.funnels.Load(ctx); err != nil {
		return err
	}
	a.printJSON(a.funnels.Stats())
	return nil
}

func (a *app) cmdPlans(context.Context, []string) error {
	a.printJSON(a.plans)
	return nil
}

// cmdKeygen prints a fresh session signing key in .env form.
func (a *app) cmdKeygen(_ context.Context, args []string) error {
	fs := a.flags("keygen")
	length := fs.Int("len", 64, "key length in hex characters")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	key, err := pkgcrypto.NewSigningKey(*length)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	fmt.Fprintf(a.out, "FUNNELAI_JWT_KEY=%s\n", key)
	return nil
}

func (a *app) cmdGenerate(ctx context.Context, args []string) error {
	fs := a.flags("generate")
	typ := fs.String("type", "headline", "content type (headline|subheadline|cta|email|ad|description)")
	prompt := fs.String("prompt", "", "what the copy is about")
	id := fs.String("id", "", "funnel id to write the copy into (optional)")
	n := fs.Int("n", 1, "number of variants; more than one prints the history, newest first")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *n < 1 || *n > service.HistorySize {
		return fmt.Errorf("%w: -n must be between 1 and %d", errs.ErrValidation, service.HistorySize)
	}
	ct, err := model.ParseContentType(*typ)
	if err != nil {
		return err
	}

	if *id == "" {
		var text string
		for range *n {
			if text, err = a.funnels.Generate(ctx, ct, *prompt); err != nil {
				return err
			}
		}
		if *n == 1 {
			fmt.Fprintln(a.out, text)
		} else {
			a.printJSON(a.funnels.History())
		}
		return nil
	}

	if err := a.funnels.Load(ctx); err != nil {
		return err
	}
	text, applied, err := a.funnels.GenerateInto(ctx, *id, ct, *prompt)
	if err != nil {
		return err
	}
	a.printJSON(struct {
		Text    string `json:"text"`
		Applied bool   `json:"applied"`
	}{text, applied})
	return nil
}
