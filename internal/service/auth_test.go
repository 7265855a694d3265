package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/funnelai/funnel-core/internal/errs"
	"github.com/funnelai/funnel-core/internal/events"
	"github.com/funnelai/funnel-core/internal/limiter"
	"github.com/funnelai/funnel-core/internal/model"
	"github.com/funnelai/funnel-core/internal/repository"
	"github.com/funnelai/funnel-core/internal/repository/memory"
)

/************ fakes ************/

// fakeKV wraps the memory store and can fail writes to selected keys.
type fakeKV struct {
	*memory.Store
	setErr map[string]error
}

var _ repository.KV = (*fakeKV)(nil)

func newFakeKV() *fakeKV { return &fakeKV{Store: memory.New(), setErr: map[string]error{}} }

func (f *fakeKV) Set(ctx context.Context, key string, value []byte) error {
	if err := f.setErr[key]; err != nil {
		return err
	}
	return f.Store.Set(ctx, key, value)
}

func (f *fakeKV) has(t *testing.T, key string) bool {
	t.Helper()
	_, err := f.Get(context.Background(), key)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("get %s: %v", key, err)
	}
	return err == nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	joined   []model.WaitlistEntry
	welcomed []model.Identity
	err      error
}

func (f *fakeNotifier) WaitlistJoined(_ context.Context, e model.WaitlistEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, e)
	return f.err
}

func (f *fakeNotifier) Welcome(_ context.Context, id model.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomed = append(f.welcomed, id)
	return f.err
}

// brokenLimiter allows every attempt but cannot record outcomes.
type brokenLimiter struct{ err error }

var _ limiter.Limiter = brokenLimiter{}

func (brokenLimiter) Allow(context.Context, string) (bool, time.Duration, error) { return true, 0, nil }
func (l brokenLimiter) Success(context.Context, string) error                  { return l.err }
func (l brokenLimiter) Failure(context.Context, string) (bool, time.Duration, error) {
	return false, 0, l.err
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(t *testing.T, kv repository.KV, mut ...func(*SessionOptions)) *SessionServiceImpl {
	t.Helper()
	opts := SessionOptions{
		Logger: zaptest.NewLogger(t),
		Now:    func() time.Time { return fixedNow },
	}
	for _, m := range mut {
		m(&opts)
	}
	return NewSessionService(kv, opts)
}

func nextEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event received")
	}
	return events.Event{}
}

/************ tests ************/

func TestLogin_AdminFlagOnlyForReservedAddress(t *testing.T) {
	ctx := context.Background()
	cases := map[string]bool{
		"admin@funnelai.com":  true,
		"user@funnelai.com":   false,
		"Admin@funnelai.com":  false,
		"admin@funnelai.com2": false,
	}
	for email, want := range cases {
		s := newSession(t, newFakeKV())
		id, err := s.Login(ctx, email, "anything")
		if err != nil {
			t.Fatalf("Login(%s): %v", email, err)
		}
		if id.IsAdmin != want {
			t.Fatalf("Login(%s): admin=%v, want %v", email, id.IsAdmin, want)
		}
	}
}

func TestLogin_DemoIdentity(t *testing.T) {
	kv := newFakeKV()
	s := newSession(t, kv)

	id, err := s.Login(context.Background(), " jane.doe@example.com ", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id.Name != "jane.doe" || id.Email != "jane.doe@example.com" || id.Subscription != model.TierFree {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.ID == "" || !id.CreatedAt.Equal(fixedNow) {
		t.Fatalf("id/createdAt not set: %+v", id)
	}
	if cur, ok := s.Current(); !ok || cur != id {
		t.Fatalf("Current mismatch: %+v %v", cur, ok)
	}
	if !kv.has(t, repository.KeyUser) {
		t.Fatalf("identity must be persisted")
	}
	if kv.has(t, repository.KeySession) {
		t.Fatalf("no session token without a signing key")
	}
}

func TestLogin_InvalidEmail(t *testing.T) {
	s := newSession(t, newFakeKV())
	for _, email := range []string{"", "   ", "nope"} {
		if _, err := s.Login(context.Background(), email, "x"); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("Login(%q): want ErrValidation, got %v", email, err)
		}
	}
}

func TestSignup_AdminFlagAndProfile(t *testing.T) {
	ctx := context.Background()
	n := &fakeNotifier{}
	s := newSession(t, newFakeKV(), func(o *SessionOptions) { o.Notifier = n })

	id, err := s.Signup(ctx, "admin@funnelai.com", "pw", "Boss")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if !id.IsAdmin || id.Name != "Boss" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	s2 := newSession(t, newFakeKV())
	id2, err := s2.Signup(ctx, "someone@funnelai.com", "pw", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if id2.IsAdmin || id2.Name != "someone" {
		t.Fatalf("unexpected identity: %+v", id2)
	}
	if len(n.welcomed) != 1 || n.welcomed[0].ID != id.ID {
		t.Fatalf("welcome not sent: %+v", n.welcomed)
	}
}

func TestSignup_CustomAdminAddress(t *testing.T) {
	s := newSession(t, newFakeKV(), func(o *SessionOptions) { o.AdminEmail = "ops@acme.io" })

	id, err := s.Signup(context.Background(), "ops@acme.io", "pw", "Ops")
	if err != nil || !id.IsAdmin {
		t.Fatalf("custom admin not honoured: %+v err=%v", id, err)
	}
}

func TestSignup_Validation(t *testing.T) {
	s := newSession(t, newFakeKV())
	ctx := context.Background()

	if _, err := s.Signup(ctx, "bad", "pw", "n"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation for email, got %v", err)
	}
	if _, err := s.Signup(ctx, "a@b.com", "", "n"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation for password, got %v", err)
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	s := newSession(t, newFakeKV())
	ctx := context.Background()

	if _, err := s.Signup(ctx, "a@b.com", "pw", "A"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := s.Signup(ctx, "A@B.com", "pw2", "A2"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestLogin_VerifiesRegisteredAccount(t *testing.T) {
	s := newSession(t, newFakeKV())
	ctx := context.Background()

	signed, err := s.Signup(ctx, "a@b.com", "secret", "Ann")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := s.Login(ctx, "a@b.com", "wrong"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("failed login must not sign in")
	}

	id, err := s.Login(ctx, "a@b.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id.ID != signed.ID || id.Name != "Ann" {
		t.Fatalf("login must return the registered identity: %+v", id)
	}
}

func TestLogin_RateLimitedAfterRepeatedFailures(t *testing.T) {
	kv := newFakeKV()
	lim := limiter.NewKV(kv, time.Minute, 2, time.Hour)
	s := newSession(t, kv, func(o *SessionOptions) { o.Limiter = lim })
	ctx := context.Background()

	if _, err := s.Signup(ctx, "a@b.com", "secret", "A"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := s.Login(ctx, "a@b.com", "x"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("first failure: want ErrUnauthorized, got %v", err)
	}
	if _, err := s.Login(ctx, "a@b.com", "x"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("second failure: want ErrRateLimited, got %v", err)
	}
	if _, err := s.Login(ctx, "a@b.com", "secret"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("blocked account: want ErrRateLimited, got %v", err)
	}
}

func TestLogin_LimiterStorageErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := newSession(t, newFakeKV(), func(o *SessionOptions) {
		o.Limiter = brokenLimiter{err: errors.New("counters unavailable")}
		o.Logger = zap.New(core)
	})
	ctx := context.Background()

	if _, err := s.Signup(ctx, "a@b.com", "secret", "A"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := s.Login(ctx, "a@b.com", "wrong"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if n := logs.FilterMessage("login failure not recorded").Len(); n != 1 {
		t.Fatalf("failure error must be logged once, got %d", n)
	}
	if _, err := s.Login(ctx, "a@b.com", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if n := logs.FilterMessage("login attempts not reset").Len(); n != 1 {
		t.Fatalf("success error must be logged once, got %d", n)
	}
}

func TestLogin_CanceledDuringDelayHasNoEffect(t *testing.T) {
	kv := newFakeKV()
	s := newSession(t, kv, func(o *SessionOptions) { o.LoginDelay = time.Hour })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Login(ctx, "a@b.com", "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
	if kv.Keys() != 0 {
		t.Fatalf("nothing must be written, keys=%d", kv.Keys())
	}
}

func TestLogin_StorageFailureLeavesSignedOut(t *testing.T) {
	kv := newFakeKV()
	boom := errors.New("disk full")
	kv.setErr[repository.KeyUser] = boom
	s := newSession(t, kv)

	if _, err := s.Login(context.Background(), "a@b.com", "x"); !errors.Is(err, boom) {
		t.Fatalf("want storage error, got %v", err)
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("memory must not change when persistence fails")
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()

	id, err := newSession(t, kv).Signup(ctx, "a@b.com", "pw", "Ann")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	s := newSession(t, kv)
	got, ok, err := s.Restore(ctx)
	if err != nil || !ok {
		t.Fatalf("Restore: ok=%v err=%v", ok, err)
	}
	if got != id {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, id)
	}
	if !got.CreatedAt.Equal(fixedNow) {
		t.Fatalf("createdAt not reconstructed: %v", got.CreatedAt)
	}
}

func TestRestore_Absent(t *testing.T) {
	s := newSession(t, newFakeKV())
	_, ok, err := s.Restore(context.Background())
	if err != nil || ok {
		t.Fatalf("Restore on empty storage: ok=%v err=%v", ok, err)
	}
}

func TestRestore_MalformedIsDropped(t *testing.T) {
	ctx := context.Background()
	for _, raw := range []string{"{not json", `{"name":"x"}`, `"string"`} {
		kv := newFakeKV()
		_ = kv.Set(ctx, repository.KeyUser, []byte(raw))
		_ = kv.Set(ctx, repository.KeySession, []byte(`{}`))

		s := newSession(t, kv)
		_, ok, err := s.Restore(ctx)
		if err != nil || ok {
			t.Fatalf("Restore(%s): ok=%v err=%v", raw, ok, err)
		}
		if kv.has(t, repository.KeyUser) || kv.has(t, repository.KeySession) {
			t.Fatalf("Restore(%s): corrupt keys must be removed", raw)
		}
	}
}

func TestSessionToken_IssuedAndRestored(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()
	key := func(o *SessionOptions) { o.SignKey = []byte("k"); o.AccessTTL = time.Hour }

	s := newSession(t, kv, key)
	id, err := s.Login(ctx, "a@b.com", "x")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	tok, ok := s.Token()
	if !ok || tok.AccessToken == "" || !tok.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Fatalf("token not issued: %+v", tok)
	}

	later := func(o *SessionOptions) {
		o.Now = func() time.Time { return fixedNow.Add(30 * time.Minute) }
	}
	s2 := newSession(t, kv, key, later)
	got, ok, err := s2.Restore(ctx)
	if err != nil || !ok || got.ID != id.ID {
		t.Fatalf("Restore: ok=%v err=%v id=%+v", ok, err, got)
	}
	if tok2, ok := s2.Token(); !ok || tok2.AccessToken != tok.AccessToken {
		t.Fatalf("token not restored")
	}
}

func TestSessionToken_InvalidTokenDropsSession(t *testing.T) {
	ctx := context.Background()
	cases := map[string]func(*SessionOptions){
		"expired": func(o *SessionOptions) {
			o.SignKey = []byte("k")
			o.Now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
		},
		"other key": func(o *SessionOptions) { o.SignKey = []byte("other") },
	}
	for name, restoreOpts := range cases {
		t.Run(name, func(t *testing.T) {
			kv := newFakeKV()
			s := newSession(t, kv, func(o *SessionOptions) { o.SignKey = []byte("k"); o.AccessTTL = time.Hour })
			if _, err := s.Login(ctx, "a@b.com", "x"); err != nil {
				t.Fatalf("Login: %v", err)
			}

			_, ok, err := newSession(t, kv, restoreOpts).Restore(ctx)
			if err != nil || ok {
				t.Fatalf("Restore: ok=%v err=%v", ok, err)
			}
			if kv.has(t, repository.KeyUser) || kv.has(t, repository.KeySession) {
				t.Fatalf("session keys must be removed")
			}
		})
	}
}

func TestSessionToken_SubjectMismatchDropsSession(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()
	key := func(o *SessionOptions) { o.SignKey = []byte("k") }

	id, err := newSession(t, kv, key).Login(ctx, "a@b.com", "x")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id.ID = "someone-else"
	raw, _ := json.Marshal(id)
	_ = kv.Set(ctx, repository.KeyUser, raw)

	if _, ok, err := newSession(t, kv, key).Restore(ctx); err != nil || ok {
		t.Fatalf("Restore: ok=%v err=%v", ok, err)
	}
}

func TestLogout_ClearsStateAndNotifies(t *testing.T) {
	kv := newFakeKV()
	s := newSession(t, kv, func(o *SessionOptions) { o.SignKey = []byte("k") })
	ctx := context.Background()

	id, err := s.Login(ctx, "a@b.com", "x")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	ch, cancel := s.Subscribe()
	defer cancel()

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("still signed in")
	}
	if _, ok := s.Token(); ok {
		t.Fatalf("token must be cleared")
	}
	if kv.has(t, repository.KeyUser) || kv.has(t, repository.KeySession) {
		t.Fatalf("storage not cleared")
	}
	if ev := nextEvent(t, ch); ev.Kind != events.SessionLogout || ev.ID != id.ID {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
}

func TestJoinWaitlist_PersistsInOrder(t *testing.T) {
	kv := newFakeKV()
	n := &fakeNotifier{}
	s := newSession(t, kv, func(o *SessionOptions) { o.Notifier = n })
	ctx := context.Background()

	if _, err := s.JoinWaitlist(ctx, "a@b.com", "A"); err != nil {
		t.Fatalf("JoinWaitlist: %v", err)
	}
	if _, err := s.JoinWaitlist(ctx, "c@d.com", "C"); err != nil {
		t.Fatalf("JoinWaitlist: %v", err)
	}

	raw, err := kv.Get(ctx, repository.KeyWaitlist)
	if err != nil {
		t.Fatalf("waitlist not persisted: %v", err)
	}
	var list []model.WaitlistEntry
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 || list[0].Email != "a@b.com" || list[1].Email != "c@d.com" {
		t.Fatalf("unexpected waitlist: %+v", list)
	}
	if !list[0].JoinedAt.Equal(fixedNow) {
		t.Fatalf("joinedAt not set: %v", list[0].JoinedAt)
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("waitlist must not sign in")
	}
	if len(n.joined) != 2 {
		t.Fatalf("confirmations sent: %d", len(n.joined))
	}
}

func TestJoinWaitlist_NotifierFailureIgnored(t *testing.T) {
	s := newSession(t, newFakeKV(), func(o *SessionOptions) { o.Notifier = &fakeNotifier{err: errors.New("smtp down")} })
	if _, err := s.JoinWaitlist(context.Background(), "a@b.com", "A"); err != nil {
		t.Fatalf("JoinWaitlist must succeed when email fails: %v", err)
	}
}

func TestJoinWaitlist_MalformedListStartsOver(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()
	_ = kv.Set(ctx, repository.KeyWaitlist, []byte("oops"))
	s := newSession(t, kv)

	if _, err := s.JoinWaitlist(ctx, "a@b.com", "A"); err != nil {
		t.Fatalf("JoinWaitlist: %v", err)
	}
	raw, _ := kv.Get(ctx, repository.KeyWaitlist)
	var list []model.WaitlistEntry
	if err := json.Unmarshal(raw, &list); err != nil || len(list) != 1 {
		t.Fatalf("want a fresh 1-element list, got %s (%v)", raw, err)
	}
}

func TestWaitlist_AdminOnly(t *testing.T) {
	kv := newFakeKV()
	s := newSession(t, kv)
	ctx := context.Background()

	if _, err := s.JoinWaitlist(ctx, "a@b.com", "A"); err != nil {
		t.Fatalf("JoinWaitlist: %v", err)
	}
	if _, err := s.Waitlist(ctx); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("signed out: want ErrUnauthorized, got %v", err)
	}
	if _, err := s.Login(ctx, "user@b.com", "x"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := s.Waitlist(ctx); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("non-admin: want ErrUnauthorized, got %v", err)
	}
	if _, err := s.Login(ctx, "admin@funnelai.com", "x"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	list, err := s.Waitlist(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("admin Waitlist: %v %+v", err, list)
	}
}
