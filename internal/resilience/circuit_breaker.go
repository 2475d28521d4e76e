package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitBreakerConfig struct {
	Name             string        `json:"name"`
	MaxFailures      int           `json:"max_failures"`
	Timeout          time.Duration `json:"timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
	// OnStateChange, when set, is called with the lock released.
	OnStateChange func(name string, from, to State) `json:"-"`
}

func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "default",
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker stops calling a failing dependency for Timeout after
// MaxFailures consecutive failures, then lets HalfOpenMaxCalls probes through.
// Every probe must succeed to close it again.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	probes    int
	successes int
	openedAt  time.Time

	config CircuitBreakerConfig
	now    func() time.Time
}

func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	cfg := *config
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &CircuitBreaker{config: cfg, now: time.Now}
}

// Execute runs fn unless the breaker is open. Context cancellation is not
// counted as a failure of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)

	switch {
	case err == nil:
		cb.record(true)
	case errors.Is(err, context.Canceled):
		cb.release()
	default:
		cb.record(false)
	}

	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()

	var changed bool
	var from State
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.successes = 0
	}

	var err error
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxCalls {
			err = ErrCircuitOpen
		} else {
			cb.probes++
		}
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateHalfOpen)
	}
	return err
}

// release hands back a half-open probe slot without judging the call.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	from := cb.state
	to := from

	switch {
	case success && from == StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMaxCalls {
			to = StateClosed
		}
	case success:
		cb.failures = 0
	case from == StateHalfOpen:
		to = StateOpen
	default:
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			to = StateOpen
		}
	}

	if to != from {
		cb.state = to
		cb.failures = 0
		cb.probes = 0
		cb.successes = 0
		if to == StateOpen {
			cb.openedAt = cb.now()
		}
	}
	cb.mu.Unlock()

	if to != from {
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":            cb.config.Name,
		"state":           cb.state.String(),
		"failure_count":   cb.failures,
		"probes":          cb.probes,
		"opened_at":       cb.openedAt.Unix(),
		"max_failures":    cb.config.MaxFailures,
		"timeout_seconds": cb.config.Timeout.Seconds(),
	}
}
