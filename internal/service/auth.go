package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/funnelai/funnel-core/internal/crypto"
	"github.com/funnelai/funnel-core/internal/errs"
	"github.com/funnelai/funnel-core/internal/events"
	"github.com/funnelai/funnel-core/internal/generate"
	"github.com/funnelai/funnel-core/internal/limiter"
	"github.com/funnelai/funnel-core/internal/model"
	"github.com/funnelai/funnel-core/internal/notify"
	"github.com/funnelai/funnel-core/internal/repository"
)

// SessionService owns the signed-in identity and the waitlist.
type SessionService interface {
	// Restore loads a previously persisted identity. Corrupt state is dropped, not returned.
	Restore(ctx context.Context) (model.Identity, bool, error)
	// Login signs in; registered accounts are verified, unknown emails get a demo identity.
	Login(ctx context.Context, email, password string) (model.Identity, error)
	// Signup registers a credential and signs in.
	Signup(ctx context.Context, email, password, name string) (model.Identity, error)
	// Logout clears the identity from memory and storage.
	Logout(ctx context.Context) error
	// JoinWaitlist appends a lead to the persisted waitlist.
	JoinWaitlist(ctx context.Context, email, name string) (model.WaitlistEntry, error)
	// Waitlist lists all entries; admin only.
	Waitlist(ctx context.Context) ([]model.WaitlistEntry, error)

	Current() (model.Identity, bool)
	Token() (model.Tokens, bool)
	Subscribe() (<-chan events.Event, func())
}

// SessionOptions configures a SessionServiceImpl. Zero values are usable.
type SessionOptions struct {
	AdminEmail    string        // reserved admin address, defaults to admin@funnelai.com
	SignKey       []byte        // HS256 key; empty disables session tokens
	AccessTTL     time.Duration // token lifetime, defaults to 24h
	LoginDelay    time.Duration
	WaitlistDelay time.Duration

	Limiter  limiter.Limiter
	Notifier notify.Notifier
	Events   *events.Broadcaster
	Logger   *zap.Logger
	Now      func() time.Time
}

type SessionServiceImpl struct {
	kv        repository.KV
	admin     string
	signKey   []byte
	accessTTL time.Duration
	loginWait time.Duration
	joinWait  time.Duration
	lim       limiter.Limiter
	notifier  notify.Notifier
	events    *events.Broadcaster
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	current *model.Identity
	token   *model.Tokens
}

var _ SessionService = (*SessionServiceImpl)(nil)

// NewSessionService constructs SessionService over kv.
func NewSessionService(kv repository.KV, opts SessionOptions) *SessionServiceImpl {
	s := &SessionServiceImpl{
		kv:        kv,
		admin:     opts.AdminEmail,
		signKey:   opts.SignKey,
		accessTTL: opts.AccessTTL,
		loginWait: opts.LoginDelay,
		joinWait:  opts.WaitlistDelay,
		lim:       opts.Limiter,
		notifier:  opts.Notifier,
		events:    opts.Events,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.admin == "" {
		s.admin = "admin@funnelai.com"
	}
	if s.accessTTL <= 0 {
		s.accessTTL = 24 * time.Hour
	}
	if s.lim == nil {
		s.lim = limiter.Nop{}
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
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

var errCorruptSession = errors.New("corrupt session")

// Restore reads the persisted identity (and token, when signing is enabled).
// A value that cannot be decoded is removed and the service stays signed out.
func (s *SessionServiceImpl) Restore(ctx context.Context) (model.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current, s.token = nil, nil

	raw, err := s.kv.Get(ctx, repository.KeyUser)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Identity{}, false, nil
	}
	if err != nil {
		return model.Identity{}, false, fmt.Errorf("read identity: %w", err)
	}

	var id model.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		s.dropCorrupt(ctx, err)
		return model.Identity{}, false, nil
	}
	if id.ID == "" || id.Email == "" {
		s.dropCorrupt(ctx, errors.New("identity without id or email"))
		return model.Identity{}, false, nil
	}

	tok, err := s.restoreToken(ctx, id)
	if errors.Is(err, errCorruptSession) {
		s.dropCorrupt(ctx, err)
		return model.Identity{}, false, nil
	}
	if err != nil {
		return model.Identity{}, false, err
	}

	s.current, s.token = &id, tok
	s.logger.Debug("session restored", zap.String("user_id", id.ID))
	return id, true, nil
}

func (s *SessionServiceImpl) restoreToken(ctx context.Context, id model.Identity) (*model.Tokens, error) {
	if len(s.signKey) == 0 {
		return nil, nil
	}
	raw, err := s.kv.Get(ctx, repository.KeySession)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var tok model.Tokens
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptSession, err)
	}
	if err := s.verifyToken(tok.AccessToken, id.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptSession, err)
	}
	return &tok, nil
}

func (s *SessionServiceImpl) dropCorrupt(ctx context.Context, cause error) {
	s.logger.Warn("dropping unreadable session state", zap.Error(cause))
	if err := s.kv.Delete(ctx, repository.KeyUser); err != nil {
		s.logger.Warn("delete user key", zap.Error(err))
	}
	if err := s.kv.Delete(ctx, repository.KeySession); err != nil {
		s.logger.Warn("delete session key", zap.Error(err))
	}
}

// Login waits the simulated delay, then signs in. Accounts created by Signup
// must present the right password; repeated failures are rate limited.
func (s *SessionServiceImpl) Login(ctx context.Context, email, password string) (model.Identity, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return model.Identity{}, err
	}
	if err := generate.Sleep(ctx, s.loginWait); err != nil {
		return model.Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	allowed, retry, err := s.lim.Allow(ctx, email)
	if err != nil {
		return model.Identity{}, err
	}
	if !allowed {
		return model.Identity{}, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, retry.Round(time.Second))
	}

	accounts, err := s.loadAccounts(ctx)
	if err != nil {
		return model.Identity{}, err
	}

	var id model.Identity
	if acc, ok := accounts[accountKey(email)]; ok {
		if !pkgcrypto.VerifyPassword([]byte(password), acc.Salt, acc.PwdHash) {
			blocked, _, ferr := s.lim.Failure(ctx, email)
			if ferr != nil {
				s.logger.Warn("login failure not recorded", zap.Error(ferr))
			}
			if blocked {
				return model.Identity{}, errs.ErrRateLimited
			}
			return model.Identity{}, errs.ErrUnauthorized
		}
		if err := s.lim.Success(ctx, email); err != nil {
			s.logger.Warn("login attempts not reset", zap.Error(err))
		}
		id = acc.Identity
		id.IsAdmin = s.isAdmin(id.Email)
	} else {
		id, err = s.newIdentity(email, localPart(email))
		if err != nil {
			return model.Identity{}, err
		}
	}

	if err := s.establish(ctx, id); err != nil {
		return model.Identity{}, err
	}
	s.events.Publish(events.Event{Kind: events.SessionLogin, ID: id.ID})
	s.logger.Info("login", zap.String("user_id", id.ID), zap.Bool("admin", id.IsAdmin))
	return id, nil
}

// Signup registers email with an Argon2id credential and signs in.
func (s *SessionServiceImpl) Signup(ctx context.Context, email, password, name string) (model.Identity, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return model.Identity{}, err
	}
	if password == "" {
		return model.Identity{}, fmt.Errorf("%w: empty password", errs.ErrValidation)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = localPart(email)
	}
	if err := generate.Sleep(ctx, s.loginWait); err != nil {
		return model.Identity{}, err
	}

	id, err := s.signup(ctx, email, password, name)
	if err != nil {
		return model.Identity{}, err
	}
	if err := s.notifier.Welcome(ctx, id); err != nil {
		s.logger.Warn("welcome email not sent", zap.String("user_id", id.ID), zap.Error(err))
	}
	return id, nil
}

func (s *SessionServiceImpl) signup(ctx context.Context, email, password, name string) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.loadAccounts(ctx)
	if err != nil {
		return model.Identity{}, err
	}
	key := accountKey(email)
	if _, exists := accounts[key]; exists {
		return model.Identity{}, errs.ErrAlreadyExists
	}

	id, err := s.newIdentity(email, name)
	if err != nil {
		return model.Identity{}, err
	}
	salt, hash, err := pkgcrypto.NewCredential(password)
	if err != nil {
		return model.Identity{}, err
	}
	accounts[key] = model.Account{Identity: id, Salt: salt, PwdHash: hash}
	if err := putJSON(ctx, s.kv, repository.KeyAccounts, accounts); err != nil {
		return model.Identity{}, err
	}

	if err := s.establish(ctx, id); err != nil {
		return model.Identity{}, err
	}
	s.events.Publish(events.Event{Kind: events.SessionSignup, ID: id.ID})
	s.logger.Info("signup", zap.String("user_id", id.ID))
	return id, nil
}

// Logout always clears memory; storage errors are reported after the fact.
func (s *SessionServiceImpl) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var uid string
	if s.current != nil {
		uid = s.current.ID
	}
	s.current, s.token = nil, nil

	err := errors.Join(
		s.kv.Delete(ctx, repository.KeyUser),
		s.kv.Delete(ctx, repository.KeySession),
	)
	s.events.Publish(events.Event{Kind: events.SessionLogout, ID: uid})
	return err
}

// JoinWaitlist appends a lead after the simulated delay and sends a
// confirmation email on a best-effort basis.
func (s *SessionServiceImpl) JoinWaitlist(ctx context.Context, email, name string) (model.WaitlistEntry, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return model.WaitlistEntry{}, err
	}
	if err := generate.Sleep(ctx, s.joinWait); err != nil {
		return model.WaitlistEntry{}, err
	}

	entry, err := s.appendWaitlist(ctx, model.WaitlistEntry{Email: email, Name: strings.TrimSpace(name)})
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	if err := s.notifier.WaitlistJoined(ctx, entry); err != nil {
		s.logger.Warn("waitlist confirmation not sent", zap.Error(err))
	}
	return entry, nil
}

func (s *SessionServiceImpl) appendWaitlist(ctx context.Context, entry model.WaitlistEntry) (model.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.readWaitlist(ctx)
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	entry.JoinedAt = s.now().UTC()
	list = append(list, entry)
	if err := putJSON(ctx, s.kv, repository.KeyWaitlist, list); err != nil {
		return model.WaitlistEntry{}, err
	}
	s.events.Publish(events.Event{Kind: events.WaitlistJoined})
	s.logger.Info("waitlist joined", zap.Int("size", len(list)))
	return entry, nil
}

// Waitlist returns every entry in join order. Only an admin identity may read it.
func (s *SessionServiceImpl) Waitlist(ctx context.Context) ([]model.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || !s.current.IsAdmin {
		return nil, errs.ErrUnauthorized
	}
	return s.readWaitlist(ctx)
}

// readWaitlist treats an absent or unreadable list as empty.
func (s *SessionServiceImpl) readWaitlist(ctx context.Context) ([]model.WaitlistEntry, error) {
	raw, err := s.kv.Get(ctx, repository.KeyWaitlist)
	if errors.Is(err, errs.ErrNotFound) {
		return []model.WaitlistEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read waitlist: %w", err)
	}
	var list []model.WaitlistEntry
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.Warn("waitlist unreadable, starting empty", zap.Error(err))
		return []model.WaitlistEntry{}, nil
	}
	if list == nil {
		list = []model.WaitlistEntry{}
	}
	return list, nil
}

// Current returns a copy of the signed-in identity.
func (s *SessionServiceImpl) Current() (model.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.Identity{}, false
	}
	return *s.current, true
}

// Token returns the session token, if one was issued.
func (s *SessionServiceImpl) Token() (model.Tokens, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return model.Tokens{}, false
	}
	return *s.token, true
}

// Subscribe registers for session change events.
func (s *SessionServiceImpl) Subscribe() (<-chan events.Event, func()) {
	return s.events.Subscribe()
}

// establish persists id (and a fresh token) and then makes it current.
// Caller holds s.mu.
func (s *SessionServiceImpl) establish(ctx context.Context, id model.Identity) error {
	var tok *model.Tokens
	if len(s.signKey) > 0 {
		access, exp, err := s.issueAccessToken(id.ID)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		tok = &model.Tokens{AccessToken: access, ExpiresAt: exp}
		if err := putJSON(ctx, s.kv, repository.KeySession, tok); err != nil {
			return err
		}
	} else if err := s.kv.Delete(ctx, repository.KeySession); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	if err := putJSON(ctx, s.kv, repository.KeyUser, id); err != nil {
		if tok != nil {
			_ = s.kv.Delete(ctx, repository.KeySession)
		}
		return err
	}
	s.current, s.token = &id, tok
	return nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *SessionServiceImpl) issueAccessToken(subject string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

func (s *SessionServiceImpl) verifyToken(raw, subject string) error {
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return s.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	return err
}

func (s *SessionServiceImpl) newIdentity(email, name string) (model.Identity, error) {
	uid, err := uuid.NewV7()
	if err != nil {
		return model.Identity{}, err
	}
	return model.Identity{
		ID:           uid.String(),
		Email:        email,
		Name:         name,
		IsAdmin:      s.isAdmin(email),
		CreatedAt:    s.now().UTC(),
		Subscription: model.TierFree,
	}, nil
}

func (s *SessionServiceImpl) isAdmin(email string) bool { return email == s.admin }

// loadAccounts returns the credential map keyed by lowercased email.
func (s *SessionServiceImpl) loadAccounts(ctx context.Context) (map[string]model.Account, error) {
	raw, err := s.kv.Get(ctx, repository.KeyAccounts)
	if errors.Is(err, errs.ErrNotFound) {
		return map[string]model.Account{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}
	accounts := map[string]model.Account{}
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

func accountKey(email string) string { return strings.ToLower(email) }

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
