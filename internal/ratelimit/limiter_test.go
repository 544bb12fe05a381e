package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/solagent/solagent/internal/ratelimit"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(capacity, refill float64) (*ratelimit.Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewLimiter(
		map[string]ratelimit.Config{
			"rpc": {Capacity: capacity, RefillPerSec: refill},
		},
		ratelimit.DefaultConfig(),
		ratelimit.WithClock(clock.Now),
	)
	return l, clock
}

func TestBurstThenExhaustion(t *testing.T) {
	l, _ := newTestLimiter(5, 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.TryConsume(ctx, "rpc", "user-1", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("call %d within capacity should be allowed", i+1)
		}
	}

	d, _ := l.TryConsume(ctx, "rpc", "user-1", 1)
	if d.Allowed {
		t.Fatal("6th call should be rejected, bucket is empty")
	}
	if d.RetryAfter <= 0 {
		t.Fatal("rejected decision must carry a retry-after estimate")
	}
}

func TestRefillOverTime(t *testing.T) {
	l, clock := newTestLimiter(5, 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.TryConsume(ctx, "rpc", "user-1", 1)
	}

	clock.Advance(2 * time.Second)
	for i := 0; i < 2; i++ {
		d, _ := l.TryConsume(ctx, "rpc", "user-1", 1)
		if !d.Allowed {
			t.Fatalf("2s at 1 token/s should permit 2 calls, call %d rejected", i+1)
		}
	}
	d, _ := l.TryConsume(ctx, "rpc", "user-1", 1)
	if d.Allowed {
		t.Fatal("refilled tokens exhausted, call should be rejected")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	l, clock := newTestLimiter(5, 1)
	ctx := context.Background()

	// Idle far longer than capacity/refill
	clock.Advance(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		if d, _ := l.TryConsume(ctx, "rpc", "user-1", 1); d.Allowed {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("burst after idle = %d, want capacity 5", allowed)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(2, 1)
	ctx := context.Background()

	l.TryConsume(ctx, "rpc", "user-1", 1)
	l.TryConsume(ctx, "rpc", "user-1", 1)
	if d, _ := l.TryConsume(ctx, "rpc", "user-1", 1); d.Allowed {
		t.Fatal("user-1 bucket should be empty")
	}
	if d, _ := l.TryConsume(ctx, "rpc", "user-2", 1); !d.Allowed {
		t.Fatal("user-2 has its own bucket and should be allowed")
	}
}

func TestUnknownTypeFallsBackToDefault(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewLimiter(nil,
		ratelimit.Config{Capacity: 1, RefillPerSec: 1},
		ratelimit.WithClock(clock.Now),
	)
	ctx := context.Background()

	if d, _ := l.TryConsume(ctx, "unconfigured", "k", 1); !d.Allowed {
		t.Fatal("first call on default bucket should be allowed")
	}
	if d, _ := l.TryConsume(ctx, "unconfigured", "k", 1); d.Allowed {
		t.Fatal("default capacity 1 should reject the second call")
	}
}

func TestRetryAfterEstimate(t *testing.T) {
	l, _ := newTestLimiter(1, 2) // 2 tokens/s
	ctx := context.Background()

	l.TryConsume(ctx, "rpc", "k", 1)
	d, _ := l.TryConsume(ctx, "rpc", "k", 1)
	if d.Allowed {
		t.Fatal("bucket should be empty")
	}
	// One full token at 2 tokens/s is 500ms
	if d.RetryAfter < 400*time.Millisecond || d.RetryAfter > 600*time.Millisecond {
		t.Fatalf("RetryAfter = %v, want ~500ms", d.RetryAfter)
	}
}

func TestZeroRefillDefaultReplaced(t *testing.T) {
	// A default that can never refill would strand every unconfigured key
	// with an infinite retry-after, so it is rejected up front.
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewLimiter(nil,
		ratelimit.Config{Capacity: 2, RefillPerSec: 0},
		ratelimit.WithClock(clock.Now),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d, _ := l.TryConsume(ctx, "rpc", "k", 1); !d.Allowed {
			t.Fatalf("call %d: broken default should be replaced by DefaultConfig (capacity %v)",
				i+1, ratelimit.DefaultConfig().Capacity)
		}
	}

	// Exhausting the bucket must still yield a finite retry-after
	for i := 0; i < 100; i++ {
		l.TryConsume(ctx, "rpc", "k", 1)
	}
	d, _ := l.TryConsume(ctx, "rpc", "k", 1)
	if d.Allowed {
		t.Fatal("bucket should be exhausted")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Hour {
		t.Fatalf("RetryAfter = %v, want a finite positive estimate", d.RetryAfter)
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	ctx := context.Background()

	l.TryConsume(ctx, "rpc", "k", 1)
	l.Reset("rpc", "k")
	if d, _ := l.TryConsume(ctx, "rpc", "k", 1); !d.Allowed {
		t.Fatal("reset bucket should start full")
	}
}
