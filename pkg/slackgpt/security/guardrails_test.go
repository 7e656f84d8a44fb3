package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestInputGuardrail_Length(t *testing.T) {
	t.Parallel()
	g := NewInputGuardrail(Config{MaxInputLength: 10, RateLimit: 100})

	if err := g.Validate("U1", "short"); err != nil {
		t.Errorf("Validate(short) = %v, want nil", err)
	}
	if err := g.Validate("U1", strings.Repeat("x", 11)); !errors.Is(err, ErrInputTooLong) {
		t.Errorf("Validate(long) = %v, want ErrInputTooLong", err)
	}
}

func TestInputGuardrail_Defaults(t *testing.T) {
	t.Parallel()
	g := NewInputGuardrail(Config{})
	if g.maxLength != 4096 {
		t.Errorf("maxLength = %d, want 4096", g.maxLength)
	}
	if g.limiter.burst != 30 {
		t.Errorf("burst = %d, want 30", g.limiter.burst)
	}
}

func TestRateLimiter_PerUser(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("U1") {
			t.Fatalf("message %d rejected within burst", i+1)
		}
	}
	if rl.Allow("U1") {
		t.Error("fourth message allowed, want rate limited")
	}
	if !rl.Allow("U2") {
		t.Error("other user limited by U1's traffic")
	}

	// One token refills every 20s.
	now = now.Add(21 * time.Second)
	if !rl.Allow("U1") {
		t.Error("message after refill rejected")
	}
}

func TestRateLimiter_PrunesIdleUsers(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("U1")
	rl.Allow("U2")

	now = now.Add(5 * time.Minute)
	rl.Allow("U3")

	if _, ok := rl.users["U1"]; ok {
		t.Error("idle user U1 not pruned")
	}
	if len(rl.users) != 1 {
		t.Errorf("users = %d, want 1", len(rl.users))
	}
}
