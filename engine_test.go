package authgate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/erpcore/authgate/identity"
	"github.com/erpcore/authgate/store/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	clock  *testClock
	redis  *miniredis.Miniredis
	audit  chan AuditEvent
	notes  chan ResetNotice
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Revocation.Enabled = true
	cfg.PasswordReset.ResetURL = "https://shop.example/reset"
	cfg.Audit.DropIfFull = false
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		store: memory.New(),
		clock: &testClock{now: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)},
		redis: mr,
		notes: make(chan ResetNotice, 4),
	}
	sink := NewChannelAuditSink(256)
	env.audit = make(chan AuditEvent, 256)
	go func() {
		for ev := range sink.Events() {
			env.audit <- ev
		}
	}()

	engine, err := New().
		WithConfig(cfg).
		WithIdentityStore(env.store).
		WithRedis(rdb).
		WithClock(env.clock.Now).
		WithAuditSink(sink).
		WithNotifier(NotifierFunc(func(_ context.Context, n ResetNotice) error {
			env.notes <- n
			return nil
		})).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) seed(t *testing.T, email, pw string, role identity.Role) identity.Identity {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	created, err := env.store.Create(context.Background(), identity.Identity{
		ID:           "u-" + strings.Split(email, "@")[0],
		Email:        email,
		Name:         "Seeded",
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return created
}

// waitEvent returns the first audit event of type within a second.
func (env *testEnv) waitEvent(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-env.audit:
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s audit event", eventType)
			return AuditEvent{}
		}
	}
}

func TestLoginScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	seeded := env.seed(t, "a@x.com", "Secret123!", identity.RoleVendor)
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	if _, err := env.engine.Login(ctx, "a@x.com", "nope-nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}

	res, err := env.engine.Login(ctx, "A@X.com", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("missing tokens")
	}
	if res.User.ID != seeded.ID || res.User.Role != identity.RoleVendor {
		t.Fatalf("user = %+v", res.User)
	}
	if !res.RefreshExpiresAt.Equal(env.clock.Now().Add(7 * 24 * time.Hour)) {
		t.Fatalf("refresh expiry = %v", res.RefreshExpiresAt)
	}

	p, err := env.engine.Validate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.Subject != seeded.ID || p.Role != identity.RoleVendor || !p.HasPermission("products:write") {
		t.Fatalf("principal = %+v", p)
	}

	stored, _ := env.store.GetByID(ctx, seeded.ID)
	if stored.FailedLoginAttempts != 0 || stored.LastLoginAt == nil {
		t.Fatalf("counter not reset: %+v", stored)
	}

	ev := env.waitEvent(t, "login_success")
	if ev.UserID != seeded.ID || ev.IP != "203.0.113.9" {
		t.Fatalf("audit = %+v", ev)
	}
}

func TestLockoutScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "a@x.com", "Secret123!", identity.RoleUser)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := env.engine.Login(ctx, "a@x.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := env.engine.Login(ctx, "a@x.com", "Secret123!"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("6th attempt: %v", err)
	}
	env.waitEvent(t, "account_locked")

	env.clock.Advance(59 * time.Minute)
	if _, err := env.engine.Login(ctx, "a@x.com", "Secret123!"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("still locked: %v", err)
	}

	env.clock.Advance(time.Minute)
	if _, err := env.engine.Login(ctx, "a@x.com", "Secret123!"); err != nil {
		t.Fatalf("after lock elapsed: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLockoutTriggered] != 1 || snap.Counters[MetricLoginLocked] != 2 {
		t.Fatalf("counters = %v", snap.Counters)
	}
}

func TestValidateRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "a@x.com", "Secret123!", identity.RoleUser)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "a@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	forged := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": "u-a",
		"typ": "access",
		"iss": "authgate",
		"exp": env.clock.Now().Add(time.Hour).Unix(),
	})
	wrongSecret, err := forged.SignedString([]byte(strings.Repeat("w", 32)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := env.engine.Validate(ctx, ""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := env.engine.Validate(ctx, wrongSecret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: %v", err)
	}
	if _, err := env.engine.Validate(ctx, res.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh as access: %v", err)
	}

	env.clock.Advance(time.Hour)
	if _, err := env.engine.Validate(ctx, res.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if got := snap.Histograms[MetricValidateLatency]; len(got) != histBucketCount {
		t.Fatalf("latency buckets = %v", got)
	}
}

func TestLogoutRevokesAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "a@x.com", "Secret123!", identity.RoleUser)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "a@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	other, err := env.engine.Login(ctx, "a@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}

	for i := 0; i < 3; i++ {
		env.engine.Logout(ctx, res.AccessToken, res.RefreshToken)
	}
	env.engine.Logout(ctx, "", "")
	env.engine.Logout(ctx, "garbage", "garbage")

	if _, err := env.engine.Validate(ctx, res.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("revoked access: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("revoked refresh: %v", err)
	}
	if _, err := env.engine.Validate(ctx, other.AccessToken); err != nil {
		t.Fatalf("unrelated session must survive: %v", err)
	}
}

func TestLogoutWithoutRevocationStore(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Revocation.Enabled = false })
	env.seed(t, "a@x.com", "Secret123!", identity.RoleUser)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "a@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	env.engine.Logout(ctx, res.AccessToken, res.RefreshToken)

	if env.engine.RevocationEnabled() {
		t.Fatal("revocation should be off")
	}
	if _, err := env.engine.Validate(ctx, res.AccessToken); err != nil {
		t.Fatalf("access stays valid until expiry without a store: %v", err)
	}
}

func TestValidateFailsClosedOnRevocationOutage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "a@x.com", "Secret123!", identity.RoleUser)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "a@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	env.redis.Close()

	if _, err := env.engine.Validate(ctx, res.AccessToken); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("outage: %v", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	env := newTestEnv(t, nil)
	seeded := env.seed(t, "a@x.com", "Secret123!", identity.RoleUser)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "a@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := env.engine.SetRole(ctx, seeded.ID, identity.RoleManager); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	env.clock.Advance(time.Second)
	next, err := env.engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	p, err := env.engine.Validate(ctx, next.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.Role != identity.RoleManager || !p.HasPermission("reports:read") {
		t.Fatalf("role change not picked up: %+v", p)
	}

	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("old refresh token reuse: %v", err)
	}
}

func TestPasswordResetScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "a@x.com", "Secret123!", identity.RoleUser)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "ghost@x.com"); err != nil {
		t.Fatalf("unknown email must look like success: %v", err)
	}
	select {
	case n := <-env.notes:
		t.Fatalf("unexpected notice for unknown email: %+v", n)
	default:
	}

	before, err := env.engine.Login(ctx, "a@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := env.engine.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	var notice ResetNotice
	select {
	case notice = <-env.notes:
	case <-time.After(time.Second):
		t.Fatal("no reset notice")
	}
	if notice.Token == "" || !strings.HasPrefix(notice.ResetURL, "https://shop.example/reset?token=") {
		t.Fatalf("notice = %+v", notice)
	}
	if !notice.ExpiresAt.Equal(env.clock.Now().Add(30 * time.Minute)) {
		t.Fatalf("expiry = %v", notice.ExpiresAt)
	}

	if err := env.engine.CompletePasswordReset(ctx, "not-the-token", "NewSecret123!"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("bad token: %v", err)
	}

	env.clock.Advance(time.Second)
	if err := env.engine.CompletePasswordReset(ctx, notice.Token, "NewSecret123!"); err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}
	if err := env.engine.CompletePasswordReset(ctx, notice.Token, "Other123456!"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("token reuse: %v", err)
	}

	if _, err := env.engine.Login(ctx, "a@x.com", "Secret123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: %v", err)
	}
	if _, err := env.engine.Login(ctx, "a@x.com", "NewSecret123!"); err != nil {
		t.Fatalf("new password: %v", err)
	}

	if _, err := env.engine.Validate(ctx, before.AccessToken); err != nil {
		t.Fatalf("pre-reset access token stays valid until expiry: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, before.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("pre-reset refresh token: %v", err)
	}
}

func TestRegisterAndChangePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user, err := env.engine.Register(ctx, RegisterRequest{Email: "new@x.com", Name: "New", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Role != identity.RoleUser {
		t.Fatalf("role = %s", user.Role)
	}
	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "NEW@x.com", Password: "Secret123!"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate: %v", err)
	}

	if err := env.engine.ChangePassword(ctx, user.ID, "wrong-current", "Changed123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current: %v", err)
	}
	if err := env.engine.ChangePassword(ctx, user.ID, "Secret123!", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("weak: %v", err)
	}
	if err := env.engine.ChangePassword(ctx, user.ID, "Secret123!", "Changed123!"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := env.engine.Login(ctx, "new@x.com", "Changed123!"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	profile, err := env.engine.Profile(ctx, user.ID)
	if err != nil || profile.Email != "new@x.com" {
		t.Fatalf("Profile = %+v, %v", profile, err)
	}
}

func TestAdminOperationsRecordActor(t *testing.T) {
	env := newTestEnv(t, nil)
	target := env.seed(t, "a@x.com", "Secret123!", identity.RoleUser)
	ctx := WithPrincipal(context.Background(), &Principal{Subject: "u-admin", Role: identity.RoleAdmin})

	if err := env.engine.SetRole(ctx, target.ID, identity.RoleVendor); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	ev := env.waitEvent(t, "role_change")
	if ev.Metadata["actor_id"] != "u-admin" || ev.Metadata["role"] != "vendor" {
		t.Fatalf("audit = %+v", ev)
	}

	if err := env.engine.UnlockAccount(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
	if err := env.engine.Deactivate(ctx, target.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := env.engine.Login(ctx, "a@x.com", "Secret123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("deactivated login: %v", err)
	}
}

func TestRevokePrincipal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "a@x.com", "Secret123!", identity.RoleUser)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "a@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	p, err := env.engine.Validate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := env.engine.Revoke(ctx, p); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := env.engine.Validate(ctx, res.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("after Revoke: %v", err)
	}
}

func TestBuildRequirements(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without identity store")
	}

	cfg := testConfig()
	cfg.Revocation.Enabled = true
	if _, err := New().WithConfig(cfg).WithIdentityStore(memory.New()).Build(); err == nil {
		t.Fatal("expected error for revocation without redis")
	}

	cfg = testConfig()
	cfg.RateLimit.Enabled = true
	if _, err := New().WithConfig(cfg).WithIdentityStore(memory.New()).Build(); err == nil {
		t.Fatal("expected error for rate limiting without redis")
	}

	b := New().WithConfig(testConfig()).WithIdentityStore(memory.New())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("builder reuse must fail")
	}
}

type recordingRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
}

func (r *recordingRevoker) Revoke(_ context.Context, token string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[token] = ttl
	return nil
}

func (r *recordingRevoker) IsRevoked(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.revoked[token]
	return ok, nil
}

func TestRevocationStoreSurvivesLaterConfig(t *testing.T) {
	rev := &recordingRevoker{revoked: map[string]time.Duration{}}
	store := memory.New()

	cfg := testConfig()
	cfg.Revocation.Enabled = false
	engine, err := New().
		WithRevocationStore(rev).
		WithConfig(cfg).
		WithIdentityStore(store).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	if !engine.RevocationEnabled() || !engine.Config().Revocation.Enabled {
		t.Fatal("an injected revocation store must enable revocation")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("Secret123!"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if _, err := store.Create(context.Background(), identity.Identity{
		ID: "u-a", Email: "a@x.com", PasswordHash: string(hash), Role: identity.RoleUser, Active: true,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctx := context.Background()
	res, err := engine.Login(ctx, "a@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	engine.Logout(ctx, res.AccessToken, res.RefreshToken)
	if _, err := engine.Validate(ctx, res.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("validate after logout: %v", err)
	}
}

func TestResetLink(t *testing.T) {
	if got := resetLink("", "abc"); got != "" {
		t.Fatalf("empty base = %q", got)
	}
	if got := resetLink("https://shop.example/reset?lang=en", "a+b"); got != "https://shop.example/reset?lang=en&token=a%2Bb" {
		t.Fatalf("link = %q", got)
	}
}
