// internal/utils/rate_limiter_test.go

package utils

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAllowWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d should fit in the burst", i+1)
		}
	}
	if rl.Allow() {
		t.Error("fourth request should be throttled")
	}
}

func TestRateLimiterNonPositiveRateIsUnlimited(t *testing.T) {
	rl := NewRateLimiter(0, 0)

	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Fatal("disabled limiter should never throttle")
		}
	}
}

func TestRateLimiterSetRate(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow()
	if rl.Allow() {
		t.Fatal("second request should be throttled at 1 rps")
	}

	rl.SetRate(0)
	if !rl.Allow() {
		t.Error("limiter should be unlimited after SetRate(0)")
	}
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0.01, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait should fail when the context expires first")
	}
}

// One throttled host must not starve requests to the others.
func TestHostLimiterIsolatesHosts(t *testing.T) {
	hl := NewHostLimiter(0.01, 1)
	ctx := context.Background()

	if err := hl.Wait(ctx, "slow.example.com"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- hl.Wait(ctx, "other.example.com")
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("other host: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request to an unthrottled host blocked")
	}
}

func TestHostLimiterReusesLimiterPerHost(t *testing.T) {
	hl := NewHostLimiter(1, 1)

	first := hl.forHost("funds.example.com")
	second := hl.forHost("funds.example.com")
	if first != second {
		t.Error("same host should share one limiter")
	}
	if hl.forHost("other.example.com") == first {
		t.Error("distinct hosts should get distinct limiters")
	}
}
