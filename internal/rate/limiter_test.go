package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLoginBudget(t *testing.T) {
	l, mr := newTestLimiter(t, Config{LoginMaxAttempts: 3, LoginWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if err := l.RecordLoginFailure(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("record %d: %v", i+1, err)
		}
	}
	if err := l.CheckLogin(ctx, "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "10.0.0.2"); err != nil {
		t.Fatalf("other IP must not be limited: %v", err)
	}

	if ttl := mr.TTL("agl:10.0.0.1"); ttl != time.Minute {
		t.Fatalf("window ttl = %v", ttl)
	}
	mr.FastForward(time.Minute + time.Second)
	if err := l.CheckLogin(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("window must reset: %v", err)
	}
}

func TestResetBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{ResetMaxRequests: 2, ResetWindow: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.AllowReset(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := l.AllowReset(ctx, "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestDisabledLimitsAndMissingIP(t *testing.T) {
	l, mr := newTestLimiter(t, Config{LoginMaxAttempts: 1, LoginWindow: time.Minute})
	ctx := context.Background()

	if err := l.AllowReset(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("disabled reset limit: %v", err)
	}
	if err := l.RecordLoginFailure(ctx, ""); err != nil {
		t.Fatalf("empty ip: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", mr.Keys())
	}
}

func TestRedisDown(t *testing.T) {
	l, mr := newTestLimiter(t, Config{LoginMaxAttempts: 1, LoginWindow: time.Minute})
	mr.Close()
	if err := l.CheckLogin(context.Background(), "10.0.0.1"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
