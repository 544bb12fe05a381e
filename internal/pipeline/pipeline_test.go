package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solagent/solagent/internal/breaker"
	"github.com/solagent/solagent/internal/events"
	"github.com/solagent/solagent/internal/models"
	"github.com/solagent/solagent/internal/pipeline"
	"github.com/solagent/solagent/internal/ratelimit"
	"github.com/solagent/solagent/internal/tools"
)

func flakySpec(name string) tools.Spec {
	return tools.Spec{
		Name:        name,
		Description: "test tool",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"wallet": map[string]any{"type": "string"},
			},
		},
	}
}

// failNTimes returns a handler that errors for the first n calls, then
// succeeds, and the counter tracking total invocations.
func failNTimes(n int) (tools.Handler, *atomic.Int64) {
	var calls atomic.Int64
	return func(ctx context.Context, args map[string]any) (any, error) {
		if calls.Add(1) <= int64(n) {
			return nil, errors.New("transient failure")
		}
		return "ok", nil
	}, &calls
}

func toolCall(name string, args map[string]any) models.ToolCall {
	return models.ToolCall{ID: "c1", Name: name, Arguments: args, SessionID: "s1", UserID: "u1"}
}

type stubBackend struct {
	decision ratelimit.Decision
	err      error
	calls    atomic.Int64
}

func (s *stubBackend) TryConsume(ctx context.Context, limitType, key string, cost float64) (ratelimit.Decision, error) {
	s.calls.Add(1)
	return s.decision, s.err
}

// ─── Rate limiting ────────────────────────────────────────────────────────────

func TestRateLimitRejectsWithoutInvoking(t *testing.T) {
	reg := tools.NewRegistry()
	h, calls := failNTimes(0)
	reg.Register(flakySpec("tool"), h)

	backend := &stubBackend{decision: ratelimit.Decision{Allowed: false, RetryAfter: 3 * time.Second}}
	exec := pipeline.NewExecutor(reg, nil, pipeline.NewRateLimit(pipeline.RateLimitConfig{
		Enabled: true,
		Rules:   map[string]pipeline.RateLimitRule{"tool": {Type: "rpc"}},
	}, backend))

	result := exec.Execute(context.Background(), toolCall("tool", nil))
	if result.Success || result.ErrorKind != models.KindRateLimited {
		t.Fatalf("expected rate_limited, got %+v", result)
	}
	if result.RetryAfterMs != 3000 {
		t.Errorf("RetryAfterMs = %d, want 3000", result.RetryAfterMs)
	}
	if calls.Load() != 0 {
		t.Error("handler must not run when the bucket is exhausted")
	}
}

func TestRateLimitFailsOpenOnBackendError(t *testing.T) {
	reg := tools.NewRegistry()
	h, calls := failNTimes(0)
	reg.Register(flakySpec("tool"), h)

	backend := &stubBackend{err: errors.New("redis down")}
	exec := pipeline.NewExecutor(reg, nil, pipeline.NewRateLimit(pipeline.RateLimitConfig{
		Enabled: true,
		Rules:   map[string]pipeline.RateLimitRule{"tool": {Type: "rpc"}},
	}, backend))

	result := exec.Execute(context.Background(), toolCall("tool", nil))
	if !result.Success {
		t.Fatalf("backend failure must not block the call, got %+v", result)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
}

func TestRateLimitKeyFromIdentifierField(t *testing.T) {
	reg := tools.NewRegistry()
	h, _ := failNTimes(0)
	reg.Register(flakySpec("tool"), h)

	var gotKey string
	backend := &keyCapture{inner: ratelimit.Decision{Allowed: true}, key: &gotKey}
	exec := pipeline.NewExecutor(reg, nil, pipeline.NewRateLimit(pipeline.RateLimitConfig{
		Enabled: true,
		Rules:   map[string]pipeline.RateLimitRule{"tool": {Type: "rpc", IdentifierField: "wallet"}},
	}, backend))

	exec.Execute(context.Background(), toolCall("tool", map[string]any{"wallet": "Abc123"}))
	if gotKey != "Abc123" {
		t.Errorf("bucket key = %q, want identifier field value", gotKey)
	}

	// Missing identifier falls back to the user ID
	exec.Execute(context.Background(), toolCall("tool", nil))
	if gotKey != "u1" {
		t.Errorf("bucket key = %q, want user ID fallback", gotKey)
	}
}

type keyCapture struct {
	inner ratelimit.Decision
	key   *string
}

func (k *keyCapture) TryConsume(ctx context.Context, limitType, key string, cost float64) (ratelimit.Decision, error) {
	*k.key = key
	return k.inner, nil
}

// ─── Retry ────────────────────────────────────────────────────────────────────

func TestRetryRecoversTransientFailure(t *testing.T) {
	reg := tools.NewRegistry()
	h, calls := failNTimes(2)
	reg.Register(flakySpec("tool"), h)

	exec := pipeline.NewExecutor(reg, nil, pipeline.NewRetry(pipeline.RetryConfig{
		Enabled:    true,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
	}))

	result := exec.Execute(context.Background(), toolCall("tool", nil))
	if !result.Success {
		t.Fatalf("expected success after retries, got %+v", result)
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3 (1 + 2 retries)", calls.Load())
	}
}

func TestRetryExhaustionReturnsLastFailure(t *testing.T) {
	reg := tools.NewRegistry()
	h, calls := failNTimes(100)
	reg.Register(flakySpec("tool"), h)

	exec := pipeline.NewExecutor(reg, nil, pipeline.NewRetry(pipeline.RetryConfig{
		Enabled:    true,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
	}))

	result := exec.Execute(context.Background(), toolCall("tool", nil))
	if result.Success || result.ErrorKind != models.KindExecution {
		t.Fatalf("expected execution failure after exhaustion, got %+v", result)
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", calls.Load())
	}
}

func TestRetrySkipsValidationErrors(t *testing.T) {
	reg := tools.NewRegistry()
	h, calls := failNTimes(0)
	spec := flakySpec("tool")
	spec.InputSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"wallet": map[string]any{"type": "string"}},
		"required":   []string{"wallet"},
	}
	reg.Register(spec, h)

	exec := pipeline.NewExecutor(reg, nil, pipeline.NewRetry(pipeline.RetryConfig{
		Enabled:    true,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
	}))

	result := exec.Execute(context.Background(), toolCall("tool", nil))
	if result.Success || result.ErrorKind != models.KindValidation {
		t.Fatalf("expected validation failure, got %+v", result)
	}
	if calls.Load() != 0 {
		t.Error("validation failures must not be retried")
	}
}

// ─── Circuit breaker ──────────────────────────────────────────────────────────

func TestBreakerOpensAndShortCircuits(t *testing.T) {
	reg := tools.NewRegistry()
	h, calls := failNTimes(100)
	reg.Register(flakySpec("tool"), h)

	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 2, Cooldown: time.Minute})
	exec := pipeline.NewExecutor(reg, nil, pipeline.NewCircuitBreaker(pipeline.CircuitBreakerConfig{
		Enabled: true,
	}, breakers))

	for i := 0; i < 2; i++ {
		result := exec.Execute(context.Background(), toolCall("tool", nil))
		if result.ErrorKind != models.KindExecution {
			t.Fatalf("call %d: expected execution failure, got %+v", i+1, result)
		}
	}

	result := exec.Execute(context.Background(), toolCall("tool", nil))
	if result.ErrorKind != models.KindCircuitOpen {
		t.Fatalf("expected circuit_open, got %+v", result)
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2 (open circuit must not invoke)", calls.Load())
	}
}

func TestBreakerIgnoresValidationFailures(t *testing.T) {
	reg := tools.NewRegistry()
	h, _ := failNTimes(0)
	spec := flakySpec("tool")
	spec.InputSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"wallet": map[string]any{"type": "string"}},
		"required":   []string{"wallet"},
	}
	reg.Register(spec, h)

	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 2, Cooldown: time.Minute})
	exec := pipeline.NewExecutor(reg, nil, pipeline.NewCircuitBreaker(pipeline.CircuitBreakerConfig{
		Enabled: true,
	}, breakers))

	for i := 0; i < 10; i++ {
		exec.Execute(context.Background(), toolCall("tool", nil))
	}
	if breakers.Get("tool").State() != breaker.StateClosed {
		t.Fatal("caller mistakes must not trip the breaker")
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBreakerRecoversAfterBadArgumentProbe(t *testing.T) {
	reg := tools.NewRegistry()
	h, calls := failNTimes(2)
	spec := flakySpec("tool")
	spec.InputSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"wallet": map[string]any{"type": "string"}},
		"required":   []string{"wallet"},
	}
	reg.Register(spec, h)

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breakers := breaker.NewRegistry(
		breaker.Config{FailureThreshold: 2, Cooldown: time.Minute},
		breaker.WithClock(clock.Now),
	)
	exec := pipeline.NewExecutor(reg, nil, pipeline.NewCircuitBreaker(pipeline.CircuitBreakerConfig{
		Enabled: true,
	}, breakers))

	valid := map[string]any{"wallet": "w1"}
	for i := 0; i < 2; i++ {
		exec.Execute(context.Background(), toolCall("tool", valid))
	}
	if breakers.Get("tool").State() != breaker.StateOpen {
		t.Fatal("breaker should be open after two failures")
	}

	// Cooldown elapses; the probe slot goes to a call with bad arguments
	clock.Advance(61 * time.Second)
	result := exec.Execute(context.Background(), toolCall("tool", nil))
	if result.ErrorKind != models.KindValidation {
		t.Fatalf("expected validation result, got %+v", result)
	}

	// The wasted probe must not fence off the now-healthy tool
	result = exec.Execute(context.Background(), toolCall("tool", valid))
	if !result.Success {
		t.Fatalf("healthy tool still rejected after bad-argument probe: %+v", result)
	}
	if breakers.Get("tool").State() != breaker.StateClosed {
		t.Fatalf("state = %v, want closed", breakers.Get("tool").State())
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", calls.Load())
	}
}

func TestRetryAttemptsCountAgainstBreaker(t *testing.T) {
	reg := tools.NewRegistry()
	h, _ := failNTimes(100)
	reg.Register(flakySpec("tool"), h)

	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 3, Cooldown: time.Minute})
	exec := pipeline.NewExecutor(reg, nil,
		pipeline.NewRetry(pipeline.RetryConfig{Enabled: true, MaxRetries: 2, BaseDelay: time.Millisecond}),
		pipeline.NewCircuitBreaker(pipeline.CircuitBreakerConfig{Enabled: true}, breakers),
	)

	// One execute = 3 attempts, each recorded by the inner breaker
	exec.Execute(context.Background(), toolCall("tool", nil))
	if breakers.Get("tool").State() != breaker.StateOpen {
		t.Fatal("each retry attempt should count against the breaker")
	}
}

// ─── Events ───────────────────────────────────────────────────────────────────

func TestExecutePublishesLifecycleEvents(t *testing.T) {
	reg := tools.NewRegistry()
	h, _ := failNTimes(1)
	reg.Register(flakySpec("tool"), h)

	bus := events.NewBus()
	defer bus.Close()

	topics := make(chan string, 4)
	for _, topic := range []string{events.TopicToolCalled, events.TopicToolSucceeded, events.TopicToolFailed} {
		topic := topic
		bus.Subscribe(topic, func(evt events.Event) { topics <- topic })
	}

	exec := pipeline.NewExecutor(reg, bus)

	exec.Execute(context.Background(), toolCall("tool", nil)) // fails once
	exec.Execute(context.Background(), toolCall("tool", nil)) // then succeeds

	got := map[string]int{}
	for i := 0; i < 4; i++ {
		select {
		case topic := <-topics:
			got[topic]++
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, received %v", got)
		}
	}
	if got[events.TopicToolCalled] != 2 || got[events.TopicToolFailed] != 1 || got[events.TopicToolSucceeded] != 1 {
		t.Fatalf("event counts = %v", got)
	}
}
