package breaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/solagent/solagent/internal/breaker"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(t *testing.T, threshold int, cooldown time.Duration) (*breaker.Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := breaker.NewRegistry(
		breaker.Config{FailureThreshold: threshold, Cooldown: cooldown},
		breaker.WithClock(clock.Now),
	)
	return reg.Get("test_tool"), clock
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, 3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("closed breaker should allow, got %v", err)
		}
		b.OnFailure()
	}
	if b.State() != breaker.StateClosed {
		t.Fatalf("below threshold, state = %v, want closed", b.State())
	}

	b.OnFailure()
	if b.State() != breaker.StateOpen {
		t.Fatalf("at threshold, state = %v, want open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("open breaker should reject, got %v", err)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(t, 3, time.Minute)

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()

	if b.State() != breaker.StateClosed {
		t.Fatal("non-consecutive failures should not open the circuit")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(t, 1, time.Minute)

	b.OnFailure()
	if b.State() != breaker.StateOpen {
		t.Fatal("expected open")
	}

	clock.Advance(59 * time.Second)
	if err := b.Allow(); !errors.Is(err, breaker.ErrOpen) {
		t.Fatal("before cooldown elapses the breaker must reject")
	}

	clock.Advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("after cooldown one probe should be admitted, got %v", err)
	}
	if b.State() != breaker.StateHalfOpen {
		t.Fatalf("state = %v, want half_open", b.State())
	}

	// Second caller while the probe is in flight
	if err := b.Allow(); !errors.Is(err, breaker.ErrOpen) {
		t.Fatal("concurrent call during probe must be rejected")
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(t, 1, time.Minute)

	b.OnFailure()
	clock.Advance(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe not admitted: %v", err)
	}
	b.OnSuccess()

	if b.State() != breaker.StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker should allow, got %v", err)
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(t, 1, time.Minute)

	b.OnFailure()
	clock.Advance(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe not admitted: %v", err)
	}
	b.OnFailure()

	if b.State() != breaker.StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}

	// Cooldown restarts from the probe failure
	clock.Advance(30 * time.Second)
	if err := b.Allow(); !errors.Is(err, breaker.ErrOpen) {
		t.Fatal("cooldown should restart after a failed probe")
	}
	clock.Advance(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("next probe should be admitted, got %v", err)
	}
}

func TestBreakerIgnoredOutcomeReleasesProbe(t *testing.T) {
	b, clock := newTestBreaker(t, 1, time.Minute)

	b.OnFailure()
	clock.Advance(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe not admitted: %v", err)
	}
	b.OnIgnored()

	if b.State() != breaker.StateHalfOpen {
		t.Fatalf("state = %v, want half_open after ignored outcome", b.State())
	}
	// The probe slot is free again, so the next caller is admitted
	if err := b.Allow(); err != nil {
		t.Fatalf("next probe should be admitted, got %v", err)
	}
	b.OnSuccess()
	if b.State() != breaker.StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerIgnoredIsNoopWhileClosed(t *testing.T) {
	b, _ := newTestBreaker(t, 2, time.Minute)

	b.OnFailure()
	b.OnIgnored()
	b.OnFailure()

	if b.State() != breaker.StateOpen {
		t.Fatal("ignored outcomes must not touch the failure count")
	}
}

func TestRegistryIsolatesKeys(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := breaker.NewRegistry(
		breaker.Config{FailureThreshold: 1, Cooldown: time.Minute},
		breaker.WithClock(clock.Now),
	)

	reg.Get("tool_a").OnFailure()
	if reg.Get("tool_a").State() != breaker.StateOpen {
		t.Fatal("tool_a should be open")
	}
	if reg.Get("tool_b").State() != breaker.StateClosed {
		t.Fatal("tool_b must be unaffected by tool_a failures")
	}
	if err := reg.Get("tool_b").Allow(); err != nil {
		t.Fatalf("tool_b should allow, got %v", err)
	}
}

func TestRegistryStateChangeCallback(t *testing.T) {
	var transitions []string
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := breaker.NewRegistry(
		breaker.Config{FailureThreshold: 1, Cooldown: time.Minute},
		breaker.WithClock(clock.Now),
		breaker.WithStateChange(func(key string, from, to breaker.State) {
			transitions = append(transitions, key+":"+from.String()+"->"+to.String())
		}),
	)

	b := reg.Get("tool_a")
	b.OnFailure()
	clock.Advance(61 * time.Second)
	b.Allow()
	b.OnSuccess()

	want := []string{
		"tool_a:closed->open",
		"tool_a:open->half_open",
		"tool_a:half_open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}
