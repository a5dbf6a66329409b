package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisFixedWindowLimiter(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	ctx := context.Background()

	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("second request should pass")
	}
	d := limiter.Allow(ctx, "ip-1")
	if d.Allowed {
		t.Fatalf("third request should be blocked")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry after: %v", d.RetryAfter)
	}
	if !limiter.Allow(ctx, "ip-2").Allowed {
		t.Fatalf("other keys keep their own quota")
	}
}

func TestRedisFixedWindowLimiterNewWindow(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	now := time.Date(2026, 1, 1, 10, 0, 5, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("first request should pass")
	}
	if limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("second request in window should be blocked")
	}
	now = now.Add(time.Minute)
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("request in next window should pass")
	}
}

func TestRedisFixedWindowLimiterFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	redis.Close()
	if limiter.Allow(context.Background(), "ip-1").Allowed {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestRedisFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}

func TestMemoryFixedWindowLimiter(t *testing.T) {
	limiter, err := NewMemoryFixedWindowLimiter(2, time.Minute)
	if err != nil {
		t.Fatalf("new memory limiter: %v", err)
	}
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if !limiter.Allow(ctx, "ip-1").Allowed {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	d := limiter.Allow(ctx, "ip-1")
	if d.Allowed || d.RetryAfter != time.Minute {
		t.Fatalf("expected block with full window retry, got %+v", d)
	}
	now = now.Add(time.Minute)
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("new window should reset quota")
	}
}

func TestLimiterConstructorsRejectBadQuota(t *testing.T) {
	if _, err := NewMemoryFixedWindowLimiter(0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewRedisFixedWindowLimiter("127.0.0.1:6379", "", "", 1, 0); err == nil {
		t.Fatalf("expected error for zero window")
	}
}
