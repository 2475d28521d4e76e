package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowdesk/backend/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type JobHandler func(ctx context.Context, job *Job) error

// Observer receives one call per finished job attempt. outcome is one of
// "success", "retry" or "dead".
type Observer interface {
	ObserveJob(jobType string, outcome string, took time.Duration)
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; the job goes straight to the
// dead queue.
func Permanent(err error) error {
	return permanentError{err: err}
}

type Config struct {
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	RetryBase    time.Duration
	PromoteBatch int
	// LeaseTimeout is how long a claimed job may go unacknowledged before
	// another worker takes it over.
	LeaseTimeout time.Duration
}

type Worker struct {
	client   *redis.Client
	queue    *JobQueue
	handlers map[JobType]JobHandler
	mu       sync.RWMutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	config   Config
	observer Observer
	log      *logger.Logger
}

func NewWorker(client *redis.Client, queue *JobQueue, config Config, log *logger.Logger) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 30 * time.Second
	}
	if config.PromoteBatch <= 0 {
		config.PromoteBatch = 100
	}
	if config.LeaseTimeout <= config.JobTimeout {
		config.LeaseTimeout = 2 * config.JobTimeout
	}

	return &Worker{
		client:   client,
		queue:    queue,
		handlers: make(map[JobType]JobHandler),
		config:   config,
		log:      log.Named("worker"),
	}
}

func (w *Worker) SetObserver(o Observer) {
	w.observer = o
}

func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

// Start launches the promoter and the worker goroutines. They run until Stop
// is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.log.Info("starting worker", zap.Int("concurrency", w.config.Concurrency))

	w.wg.Add(1)
	go w.promoteLoop(ctx)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx)
	}
}

func (w *Worker) Stop() {
	w.log.Info("stopping worker")
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.log.Info("worker stopped")
}

func (w *Worker) promoteLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		now := w.queue.now()
		if n, err := w.queue.RecoverStale(ctx, now, w.config.LeaseTimeout); err != nil && ctx.Err() == nil {
			w.log.Error("recover failed", zap.Error(err))
		} else if n > 0 {
			w.log.Warn("requeued abandoned jobs", zap.Int("count", n))
		}
		if _, err := w.queue.PromoteDue(ctx, now, w.config.PromoteBatch); err != nil && ctx.Err() == nil {
			w.log.Error("promote failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) workerLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.processNext(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("error processing job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// claim blocks for up to one poll interval, then moves the next ready job
// onto the processing list and leases it. An empty result means the poll
// timed out.
func (w *Worker) claim(ctx context.Context) (string, error) {
	raw, err := w.client.BLMove(ctx, ReadyKey, ProcessingKey, "LEFT", "RIGHT", w.config.PollInterval).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to claim job: %w", err)
	}

	// Without a lease the next recovery pass starts one.
	if err := w.queue.lease(context.WithoutCancel(ctx), raw, w.queue.now().Add(w.config.LeaseTimeout)); err != nil {
		w.log.Warn("failed to lease job", zap.Error(err))
	}
	return raw, nil
}

func (w *Worker) processNext(ctx context.Context) error {
	raw, err := w.claim(ctx)
	if err != nil || raw == "" {
		return err
	}
	persist := context.WithoutCancel(ctx)

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return errors.Join(fmt.Errorf("failed to unmarshal job: %w", err), w.queue.ack(persist, raw))
	}

	// A job whose outcome could not be stored stays claimed until its lease
	// lapses.
	if err := w.execute(ctx, &job); err != nil {
		return err
	}
	return w.queue.ack(persist, raw)
}

func (w *Worker) execute(ctx context.Context, job *Job) error {
	w.mu.RLock()
	handler, exists := w.handlers[job.Type]
	w.mu.RUnlock()

	log := w.log.With(zap.String("job_id", job.ID), zap.String("job_type", string(job.Type)))
	// Retries and burials must land even while shutting down.
	persist := context.WithoutCancel(ctx)

	if !exists {
		err := fmt.Errorf("no handler registered for job type: %s", job.Type)
		w.observe(job, "dead", 0)
		return w.queue.bury(persist, job, err)
	}

	started := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	err := handler(jobCtx, job)
	cancel()
	took := time.Since(started)

	if err == nil {
		log.Debug("job completed", zap.Duration("took", took))
		w.observe(job, "success", took)
		return nil
	}

	job.Attempts++
	job.LastError = err.Error()

	var permanent permanentError
	if job.Attempts < job.MaxTries && !errors.As(err, &permanent) {
		delay := time.Duration(1<<(job.Attempts-1)) * w.config.RetryBase
		job.ProcessAt = w.queue.now().Add(delay).UTC()
		log.Warn("job failed, retrying",
			zap.Int("attempt", job.Attempts),
			zap.Int("max_tries", job.MaxTries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		w.observe(job, "retry", took)
		return w.queue.schedule(persist, job)
	}

	log.Error("job failed permanently", zap.Int("attempts", job.Attempts), zap.Error(err))
	w.observe(job, "dead", took)
	return w.queue.bury(persist, job, err)
}

func (w *Worker) observe(job *Job, outcome string, took time.Duration) {
	if w.observer != nil {
		w.observer.ObserveJob(string(job.Type), outcome, took)
	}
}
