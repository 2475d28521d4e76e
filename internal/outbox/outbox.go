package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"flowdesk/backend/internal/lifecycle"
	"flowdesk/backend/internal/logger"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("outbox is closed")

// Executor carries out one effect.
type Executor interface {
	Execute(ctx context.Context, effect lifecycle.Effect) error
}

type ExecutorFunc func(ctx context.Context, effect lifecycle.Effect) error

func (f ExecutorFunc) Execute(ctx context.Context, effect lifecycle.Effect) error {
	return f(ctx, effect)
}

// Observer counts effect outcomes: "ok", "failed" or "dropped".
type Observer interface {
	ObserveEffect(kind string, outcome string)
}

type Config struct {
	Concurrency int
	Buffer      int
	Timeout     time.Duration
}

// Outbox runs effects off the request path. Failures are logged and
// counted, never returned to the code that enqueued them.
type Outbox struct {
	queue    chan lifecycle.Effect
	executor Executor
	config   Config
	log      *logger.Logger
	observer Observer

	mu     sync.RWMutex
	closed bool

	runMu   sync.Mutex
	started bool
	wg      sync.WaitGroup
}

func New(executor Executor, config Config, log *logger.Logger) *Outbox {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Buffer < 0 {
		config.Buffer = 0
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Outbox{
		queue:    make(chan lifecycle.Effect, config.Buffer),
		executor: executor,
		config:   config,
		log:      log.Named("outbox"),
	}
}

func (o *Outbox) SetObserver(obs Observer) {
	o.observer = obs
}

// Enqueue hands effects to the workers, blocking while the buffer is full.
// If ctx ends first the remaining effects are dropped and logged.
func (o *Outbox) Enqueue(ctx context.Context, effects ...lifecycle.Effect) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for i, e := range effects {
		if o.closed {
			o.drop(effects[i:], ErrClosed)
			return ErrClosed
		}
		select {
		case o.queue <- e:
		case <-ctx.Done():
			o.drop(effects[i:], ctx.Err())
			return ctx.Err()
		}
	}
	return nil
}

// Run starts the workers. Executions are detached from ctx so an effect
// that was accepted still runs during shutdown.
func (o *Outbox) Run(ctx context.Context) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if o.started || closed {
		return
	}
	o.started = true

	base := context.WithoutCancel(ctx)
	for i := 0; i < o.config.Concurrency; i++ {
		o.wg.Add(1)
		go o.loop(base)
	}
	o.log.Info("outbox started", zap.Int("concurrency", o.config.Concurrency))
}

// Stop refuses new effects and waits until the queued ones are executed.
func (o *Outbox) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	o.runMu.Lock()
	started := o.started
	o.runMu.Unlock()

	if !started {
		for e := range o.queue {
			o.drop([]lifecycle.Effect{e}, ErrClosed)
		}
		return
	}
	o.wg.Wait()
	o.log.Info("outbox stopped")
}

func (o *Outbox) loop(ctx context.Context) {
	defer o.wg.Done()
	for e := range o.queue {
		o.execute(ctx, e)
	}
}

func (o *Outbox) execute(ctx context.Context, e lifecycle.Effect) {
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	start := time.Now()
	err := o.executor.Execute(ctx, e)
	if err != nil {
		o.observe(e.Kind, "failed")
		o.log.Error("effect failed",
			zap.String("kind", string(e.Kind)),
			zap.String("task_id", e.TaskID.String()),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	o.observe(e.Kind, "ok")
	o.log.Debug("effect executed",
		zap.String("kind", string(e.Kind)),
		zap.String("task_id", e.TaskID.String()),
		zap.Duration("took", time.Since(start)),
	)
}

func (o *Outbox) drop(effects []lifecycle.Effect, reason error) {
	for _, e := range effects {
		o.observe(e.Kind, "dropped")
		o.log.Warn("effect dropped",
			zap.String("kind", string(e.Kind)),
			zap.String("task_id", e.TaskID.String()),
			zap.Error(reason),
		)
	}
}

func (o *Outbox) observe(kind lifecycle.EffectKind, outcome string) {
	if o.observer != nil {
		o.observer.ObserveEffect(string(kind), outcome)
	}
}
