package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var (
	testAccessSecret  = []byte("access-secret-access-secret-0123")
	testRefreshSecret = []byte("refresh-secret-refresh-secret-01")
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, clock *fakeClock) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "authgate",
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	m := newTestManager(t, clock)

	pair, err := m.Issue("u1", "vendor", []string{"products:write", "orders:read"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !pair.AccessExpiresAt.Equal(clock.now.Add(time.Hour)) {
		t.Fatalf("access exp = %v", pair.AccessExpiresAt)
	}

	claims, err := m.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != "vendor" || claims.Type != TypeAccess {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Permissions) != 2 || claims.Permissions[0] != "products:write" {
		t.Fatalf("unexpected permissions: %v", claims.Permissions)
	}
	if claims.ID == "" {
		t.Fatal("expected jti")
	}

	refresh, err := m.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if refresh.Subject != "u1" || refresh.Role != "" || refresh.Type != TypeRefresh {
		t.Fatalf("unexpected refresh claims: %+v", refresh)
	}
	if refresh.ID == claims.ID {
		t.Fatal("access and refresh must carry distinct jti")
	}
}

func TestExpiryBoundary(t *testing.T) {
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: issued}
	m := newTestManager(t, clock)

	pair, err := m.Issue("u1", "user", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock.now = issued.Add(time.Hour - time.Second)
	if _, err := m.VerifyAccess(pair.AccessToken); err != nil {
		t.Fatalf("token must be valid one second before exp: %v", err)
	}

	clock.now = issued.Add(time.Hour)
	if _, err := m.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at exp, got %v", err)
	}
	if got := m.Remaining(&Claims{RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(issued)}}); got != 0 {
		t.Fatalf("remaining after exp = %v", got)
	}
}

func TestReportedExpiryMatchesEncodedExpiry(t *testing.T) {
	issued := time.Date(2026, 3, 1, 9, 30, 0, 900_000_000, time.UTC)
	clock := &fakeClock{now: issued}
	m := newTestManager(t, clock)

	pair, err := m.Issue("u1", "user", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	want := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	if !pair.AccessExpiresAt.Equal(want) {
		t.Fatalf("access exp = %v, want %v", pair.AccessExpiresAt, want)
	}

	claims, err := m.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if !claims.ExpiresAt.Time.Equal(pair.RefreshExpiresAt) {
		t.Fatalf("refresh exp encoded %v, reported %v", claims.ExpiresAt.Time, pair.RefreshExpiresAt)
	}

	clock.now = pair.AccessExpiresAt.Add(-500 * time.Millisecond)
	if _, err := m.VerifyAccess(pair.AccessToken); err != nil {
		t.Fatalf("token must be valid before its reported expiry: %v", err)
	}
	clock.now = pair.AccessExpiresAt
	if _, err := m.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at reported expiry, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)
	pair, err := m.Issue("u1", "user", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.VerifyAccess(pair.RefreshToken); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("refresh token as access: got %v", err)
	}
	if _, err := m.VerifyRefresh(pair.AccessToken); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("access token as refresh: got %v", err)
	}

	other, err := NewManager(Config{
		AccessSecret:  []byte("some-other-access-secret-0123456"),
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    2 * time.Hour,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := other.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)
	pair, err := m.Issue("u1", "user", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	forged := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{
		Role: "admin",
		Type: TypeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "authgate",
			ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	})
	forgedStr, _ := forged.SignedString([]byte("attacker-chosen-secret-000000000"))
	parts := strings.Split(pair.AccessToken, ".")
	forgedParts := strings.Split(forgedStr, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	if _, err := m.VerifyAccess(spliced); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)
	claims := Claims{
		Role: "admin",
		Type: TypeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "authgate",
			ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	}

	none, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := m.VerifyAccess(none); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("alg none: expected ErrInvalidSignature, got %v", err)
	}

	hs384, err := gjwt.NewWithClaims(gjwt.SigningMethodHS384, claims).SignedString(testAccessSecret)
	if err != nil {
		t.Fatalf("sign hs384: %v", err)
	}
	if _, err := m.VerifyAccess(hs384); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("HS384: expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	m := newTestManager(t, &fakeClock{now: time.Now()})
	for _, tok := range []string{"", "abc", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.%%%.sig"} {
		if _, err := m.VerifyAccess(tok); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: expected ErrMalformed, got %v", tok, err)
		}
	}
}

func TestVerifyRequiresExpiry(t *testing.T) {
	m := newTestManager(t, &fakeClock{now: time.Now()})
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{
		Type:             TypeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{Subject: "u1", Issuer: "authgate"},
	}).SignedString(testAccessSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.VerifyAccess(tok); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for missing exp, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	base := Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    time.Hour * 24,
	}

	same := base
	same.RefreshSecret = same.AccessSecret
	if _, err := NewManager(same); err == nil {
		t.Fatal("expected identical secrets to be rejected")
	}

	noTTL := base
	noTTL.AccessTTL = 0
	if _, err := NewManager(noTTL); err == nil {
		t.Fatal("expected zero TTL to be rejected")
	}

	missing := base
	missing.AccessSecret = nil
	if _, err := NewManager(missing); err == nil {
		t.Fatal("expected missing secret to be rejected")
	}
}
