package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	ScheduledKey  = "flowdesk:jobs:scheduled"
	ReadyKey      = "flowdesk:jobs:ready"
	ProcessingKey = "flowdesk:jobs:processing"
	LeaseKey      = "flowdesk:jobs:leases"
	DeadKey       = "flowdesk:jobs:dead"
)

type JobType string

const (
	JobTypeDeadlineReminder JobType = "deadline_reminder"
	JobTypePendingReminder  JobType = "pending_reminder"
	JobTypeDailySummary     JobType = "daily_summary"
)

type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	MaxTries  int             `json:"max_tries"`
	CreatedAt time.Time       `json:"created_at"`
	ProcessAt time.Time       `json:"process_at"`
	LastError string          `json:"last_error,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Type, err))
	}
	return nil
}

type DeadJob struct {
	Job      Job       `json:"original_job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// promoteScript moves due members of the scheduled set onto the ready list
// in one step, so two instances never promote the same job.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('RPUSH', KEYS[2], member)
end
return #due
`)

// recoverScript requeues processing entries whose lease has lapsed. An entry
// with no lease yet gets one, so a job claimed an instant before the scan is
// left alone.
var recoverScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
local moved = 0
for _, member in ipairs(items) do
	local expires = redis.call('HGET', KEYS[3], member)
	if not expires then
		redis.call('HSET', KEYS[3], member, ARGV[2])
	elseif tonumber(expires) <= tonumber(ARGV[1]) then
		redis.call('LREM', KEYS[1], 1, member)
		redis.call('HDEL', KEYS[3], member)
		redis.call('RPUSH', KEYS[2], member)
		moved = moved + 1
	end
end
return moved
`)

// JobQueue is the producer side: jobs wait in a sorted set scored by their
// fire time until a promoter moves them onto the ready list.
type JobQueue struct {
	client   *redis.Client
	maxTries int
	now      func() time.Time
}

func NewJobQueue(client *redis.Client, maxTries int) *JobQueue {
	if maxTries <= 0 {
		maxTries = 3
	}
	return &JobQueue{client: client, maxTries: maxTries, now: time.Now}
}

func (q *JobQueue) Enqueue(ctx context.Context, jobType JobType, payload interface{}) (*Job, error) {
	return q.ScheduleAt(ctx, jobType, payload, q.now())
}

// ScheduleAt stores a job to run at or after at. A time in the past runs on
// the next promoter tick.
func (q *JobQueue) ScheduleAt(ctx context.Context, jobType JobType, payload interface{}, at time.Time) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:        id.String(),
		Type:      jobType,
		Payload:   data,
		MaxTries:  q.maxTries,
		CreatedAt: q.now().UTC(),
		ProcessAt: at.UTC(),
	}

	if err := q.schedule(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *JobQueue) schedule(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.ZAdd(ctx, ScheduledKey, redis.Z{
		Score:  float64(job.ProcessAt.UnixMilli()),
		Member: data,
	}).Err()
}

// PromoteDue moves up to limit jobs whose fire time is not after now onto the
// ready list and reports how many moved.
func (q *JobQueue) PromoteDue(ctx context.Context, now time.Time, limit int) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{ScheduledKey, ReadyKey},
		strconv.FormatInt(now.UnixMilli(), 10), limit,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote jobs: %w", err)
	}
	return n, nil
}

// RecoverStale moves claimed jobs whose lease expired by now back onto the
// ready list. They belonged to a worker that died mid-handler.
func (q *JobQueue) RecoverStale(ctx context.Context, now time.Time, lease time.Duration) (int, error) {
	n, err := recoverScript.Run(ctx, q.client,
		[]string{ProcessingKey, ReadyKey, LeaseKey},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(lease).UnixMilli(), 10),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to recover jobs: %w", err)
	}
	return n, nil
}

func (q *JobQueue) lease(ctx context.Context, raw string, until time.Time) error {
	return q.client.HSet(ctx, LeaseKey, raw, until.UnixMilli()).Err()
}

// ack drops a claimed job once its outcome (done, retried or buried) is stored.
func (q *JobQueue) ack(ctx context.Context, raw string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, ProcessingKey, 1, raw)
		pipe.HDel(ctx, LeaseKey, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

func (q *JobQueue) bury(ctx context.Context, job *Job, jobErr error) error {
	data, err := json.Marshal(DeadJob{Job: *job, Error: jobErr.Error(), FailedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}
	return q.client.RPush(ctx, DeadKey, data).Err()
}

type QueueSizes struct {
	Scheduled  int64 `json:"scheduled"`
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

func (q *JobQueue) Sizes(ctx context.Context) (QueueSizes, error) {
	pipe := q.client.Pipeline()
	scheduled := pipe.ZCard(ctx, ScheduledKey)
	ready := pipe.LLen(ctx, ReadyKey)
	processing := pipe.LLen(ctx, ProcessingKey)
	dead := pipe.LLen(ctx, DeadKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueSizes{}, err
	}
	return QueueSizes{
		Scheduled:  scheduled.Val(),
		Ready:      ready.Val(),
		Processing: processing.Val(),
		Dead:       dead.Val(),
	}, nil
}

// Scheduled lists waiting jobs in fire-time order.
func (q *JobQueue) Scheduled(ctx context.Context) ([]Job, error) {
	members, err := q.client.ZRange(ctx, ScheduledKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return decodeJobs(members)
}

func (q *JobQueue) DeadJobs(ctx context.Context, limit int64) ([]DeadJob, error) {
	items, err := q.client.LRange(ctx, DeadKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	dead := make([]DeadJob, 0, len(items))
	for _, item := range items {
		var d DeadJob
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			return nil, err
		}
		dead = append(dead, d)
	}
	return dead, nil
}

func decodeJobs(members []string) ([]Job, error) {
	jobs := make([]Job, 0, len(members))
	for _, m := range members {
		var job Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
