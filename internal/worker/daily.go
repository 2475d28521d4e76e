package worker

import (
	"context"
	"fmt"
	"time"

	"flowdesk/backend/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dailyLockPrefix = "flowdesk:daily:"

type DailySummaryPayload struct {
	Date string `json:"date"`
}

// DailyTrigger enqueues one daily summary job per calendar day at a fixed
// wall-clock time. A per-date SETNX lock keeps several instances from
// enqueueing the same day twice.
type DailyTrigger struct {
	client *redis.Client
	queue  *JobQueue
	hour   int
	minute int
	loc    *time.Location
	log    *logger.Logger
	now    func() time.Time
}

func NewDailyTrigger(client *redis.Client, queue *JobQueue, hour, minute int, loc *time.Location, log *logger.Logger) *DailyTrigger {
	if loc == nil {
		loc = time.Local
	}
	return &DailyTrigger{
		client: client,
		queue:  queue,
		hour:   hour,
		minute: minute,
		loc:    loc,
		log:    log.Named("daily_trigger"),
		now:    time.Now,
	}
}

// NextRun returns the first trigger time strictly after from.
func (d *DailyTrigger) NextRun(from time.Time) time.Time {
	local := from.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run blocks until ctx is done.
func (d *DailyTrigger) Run(ctx context.Context) {
	for {
		next := d.NextRun(d.now())
		d.log.Info("daily summary scheduled", zap.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := d.Fire(ctx, next); err != nil {
			d.log.Error("daily summary trigger failed", zap.Error(err))
		}
	}
}

// Fire enqueues the summary job for the day of at, unless another instance
// already did. It reports whether this call enqueued the job.
func (d *DailyTrigger) Fire(ctx context.Context, at time.Time) (bool, error) {
	date := at.In(d.loc).Format("2006-01-02")

	acquired, err := d.client.SetNX(ctx, dailyLockPrefix+date, "1", 48*time.Hour).Result()
	if err != nil {
		return false, fmt.Errorf("failed to take daily lock: %w", err)
	}
	if !acquired {
		d.log.Debug("daily summary already triggered", zap.String("date", date))
		return false, nil
	}

	if _, err := d.queue.Enqueue(ctx, JobTypeDailySummary, DailySummaryPayload{Date: date}); err != nil {
		return false, err
	}
	return true, nil
}
