package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestLoginLimiterBlocksAfterQuota(t *testing.T) {
	r := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(r.Addr(), "", "shield:ratelimit:login", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	for i := 0; i < 2; i++ {
		if !limiter.Allow("49.37.155.12") {
			t.Fatalf("attempt %d within quota should pass", i+1)
		}
	}
	if limiter.Allow("49.37.155.12") {
		t.Fatal("attempt over quota should be blocked")
	}
	// Another caller has its own budget.
	if !limiter.Allow("203.0.113.9") {
		t.Fatal("distinct client must not share the exhausted budget")
	}
}

func TestLimiterNormalizesBlankKeys(t *testing.T) {
	r := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(r.Addr(), "", "shield:ratelimit:verify", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	// Unresolvable client addresses collapse into one shared bucket.
	if !limiter.Allow("") {
		t.Fatal("first blank-key attempt should pass")
	}
	if limiter.Allow("   ") {
		t.Fatal("blank keys must share one budget")
	}
}

func TestLimiterFailsClosedWhenRedisDown(t *testing.T) {
	r := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(r.Addr(), "", "shield:ratelimit:verify", 5, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	r.Close()
	if limiter.Allow("49.37.155.12") {
		t.Fatal("otp verification must not open up when redis is down")
	}
}

func TestLimiterRejectsBadConfig(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("", "", "shield:ratelimit:login", 5, time.Minute); err == nil {
		t.Fatal("expected error for missing redis addr")
	}
	if _, err := NewRedisFixedWindowLimiter("localhost:6379", "", "shield:ratelimit:login", 0, time.Minute); err == nil {
		t.Fatal("expected error for zero limit")
	}
}
