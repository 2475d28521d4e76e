package resilience

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

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

func newTestBreaker(maxFailures, halfOpen int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "test",
		MaxFailures:      maxFailures,
		Timeout:          100 * time.Millisecond,
		HalfOpenMaxCalls: halfOpen,
	})
	cb.now = clock.Now
	return cb, clock
}

func fail(context.Context) error    { return fmt.Errorf("operation failed") }
func succeed(context.Context) error { return nil }

func TestCircuitBreakerBasicFlow(t *testing.T) {
	cb, _ := newTestBreaker(3, 2)

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %v", cb.State())
	}

	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to remain Closed after success, got %v", cb.State())
	}
}

func TestCircuitBreakerFailureTransition(t *testing.T) {
	cb, _ := newTestBreaker(2, 2)
	ctx := context.Background()

	if err := cb.Execute(ctx, fail); err == nil {
		t.Error("Expected error, got nil")
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to be Closed after first failure, got %v", cb.State())
	}

	if err := cb.Execute(ctx, fail); err == nil {
		t.Error("Expected error, got nil")
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected state to be Open after reaching failure threshold, got %v", cb.State())
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, 1)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, succeed)
	cb.Execute(ctx, fail)

	if cb.State() != StateClosed {
		t.Errorf("Expected non-consecutive failures to keep breaker closed, got %v", cb.State())
	}
}

func TestCircuitBreakerOpenState(t *testing.T) {
	cb, _ := newTestBreaker(1, 2)
	ctx := context.Background()

	cb.Execute(ctx, fail)

	err := cb.Execute(ctx, func(context.Context) error {
		t.Error("Operation should not be executed when circuit is open")
		return nil
	})

	if err != ErrCircuitOpen {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(1, 2)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	clock.Advance(150 * time.Millisecond)

	if err := cb.Execute(ctx, succeed); err != nil {
		t.Errorf("Expected probe to run, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected HalfOpen after one probe, got %v", cb.State())
	}

	if err := cb.Execute(ctx, succeed); err != nil {
		t.Errorf("Expected second probe to run, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed after all probes succeed, got %v", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, 2)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	clock.Advance(150 * time.Millisecond)
	cb.Execute(ctx, fail)

	if cb.State() != StateOpen {
		t.Errorf("Expected failed probe to reopen breaker, got %v", cb.State())
	}
	if err := cb.Execute(ctx, succeed); err != ErrCircuitOpen {
		t.Errorf("Expected ErrCircuitOpen right after reopening, got %v", err)
	}
}

func TestCircuitBreakerCanceledNotCounted(t *testing.T) {
	cb, _ := newTestBreaker(1, 1)

	err := cb.Execute(context.Background(), func(context.Context) error {
		return fmt.Errorf("send: %w", context.Canceled)
	})
	if err == nil {
		t.Error("Expected error to be returned")
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected cancellation to leave breaker closed, got %v", cb.State())
	}
}

func TestCircuitBreakerStateChangeHook(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "brevo",
		MaxFailures:      1,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	})

	cb.Execute(context.Background(), fail)

	if len(transitions) != 1 || transitions[0] != "brevo:closed->open" {
		t.Errorf("Unexpected transitions %v", transitions)
	}
	if cb.Stats()["state"] != "open" {
		t.Errorf("Expected stats to report open, got %v", cb.Stats()["state"])
	}
}

func TestCircuitBreakerConcurrency(t *testing.T) {
	cb, _ := newTestBreaker(5, 3)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				cb.Execute(context.Background(), func(context.Context) error {
					if (id+j)%3 == 0 {
						return fmt.Errorf("failure %d-%d", id, j)
					}
					return nil
				})
			}
		}(i)
	}
	wg.Wait()

	err := cb.Execute(context.Background(), succeed)
	if err != nil && err != ErrCircuitOpen {
		t.Errorf("Unexpected error after concurrent operations: %v", err)
	}
}
