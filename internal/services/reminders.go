package services

import (
	"context"
	"errors"
	"math"
	"time"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/notify"
	"flowdesk/backend/internal/repositories"
	"flowdesk/backend/internal/worker"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// DeadlineReminderPayload remembers the deadline the job was scheduled for,
// in Unix seconds. A task whose deadline has moved since is skipped.
type DeadlineReminderPayload struct {
	TaskID   uuid.UUID `json:"taskId"`
	Deadline int64     `json:"deadline"`
}

// PendingReminderPayload carries the fire time the job was scheduled with.
// It must still match the task's pendingReminderAt when the job runs.
type PendingReminderPayload struct {
	TaskID uuid.UUID `json:"taskId"`
	FireAt int64     `json:"fireAt"`
}

type ReminderNotifier interface {
	TaskReminder(ctx context.Context, task *models.Task, timeLeft string) error
	TaskOverdue(ctx context.Context, task *models.Task) error
	DailySummary(ctx context.Context, userID uuid.UUID, openTasks int, date string) error
}

// ReminderService holds the job handlers of the reminder scheduler. Every
// handler re-reads the task, so a job that no longer applies does nothing.
type ReminderService struct {
	tasks    repositories.TaskRepository
	notifier ReminderNotifier
	log      *logger.Logger
	now      func() time.Time
}

func NewReminderService(tasks repositories.TaskRepository, notifier ReminderNotifier, log *logger.Logger) *ReminderService {
	return &ReminderService{
		tasks:    tasks,
		notifier: notifier,
		log:      log.Named("reminders"),
		now:      time.Now,
	}
}

func (s *ReminderService) Register(w *worker.Worker) {
	w.RegisterHandler(worker.JobTypeDeadlineReminder, s.HandleDeadlineReminder)
	w.RegisterHandler(worker.JobTypePendingReminder, s.HandlePendingReminder)
	w.RegisterHandler(worker.JobTypeDailySummary, s.HandleDailySummary)
}

func (s *ReminderService) HandleDeadlineReminder(ctx context.Context, job *worker.Job) error {
	var p DeadlineReminderPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	task, skip, err := s.load(ctx, p.TaskID)
	if skip || err != nil {
		return err
	}
	if task.Deadline.Unix() != p.Deadline {
		s.skip(job, task.ID, "deadline moved")
		return nil
	}

	return s.notifier.TaskOverdue(ctx, task)
}

func (s *ReminderService) HandlePendingReminder(ctx context.Context, job *worker.Job) error {
	var p PendingReminderPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	task, skip, err := s.load(ctx, p.TaskID)
	if skip || err != nil {
		return err
	}
	if task.PendingReminderAt == nil || task.PendingReminderAt.Unix() != p.FireAt {
		s.skip(job, task.ID, "superseded")
		return nil
	}

	return s.notifier.TaskReminder(ctx, task, notify.FormatMinutes(s.minutesLeft(task)))
}

// HandleDailySummary mails every user with open tasks. Individual send
// failures are logged and do not fail the job, so a retry never mails the
// users that already got theirs.
func (s *ReminderService) HandleDailySummary(ctx context.Context, job *worker.Job) error {
	var p worker.DailySummaryPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	counts, err := s.tasks.CountOpenByAssignee(ctx)
	if err != nil {
		return err
	}

	sent, failed := 0, 0
	for userID, open := range counts {
		if open <= 0 {
			continue
		}
		if err := s.notifier.DailySummary(ctx, userID, int(open), p.Date); err != nil {
			failed++
			s.log.Warn("daily summary not sent", zap.String("user_id", userID.String()), zap.Error(err))
			continue
		}
		sent++
	}

	s.log.Info("daily summary finished",
		zap.String("date", p.Date),
		zap.Int("sent", sent),
		zap.Int("failed", failed),
	)
	return nil
}

// load returns skip=true when the task is gone or already completed.
func (s *ReminderService) load(ctx context.Context, id uuid.UUID) (*models.Task, bool, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.log.Debug("reminder for missing task skipped", zap.String("task_id", id.String()))
			return nil, true, nil
		}
		return nil, false, err
	}
	if task.Status == models.StatusCompleted {
		s.log.Debug("reminder for completed task skipped", zap.String("task_id", id.String()))
		return task, true, nil
	}
	return task, false, nil
}

func (s *ReminderService) skip(job *worker.Job, taskID uuid.UUID, reason string) {
	s.log.Debug("reminder skipped",
		zap.String("job_id", job.ID),
		zap.String("task_id", taskID.String()),
		zap.String("reason", reason),
	)
}

// minutesLeft is the time required, or less when the job runs late.
func (s *ReminderService) minutesLeft(task *models.Task) int {
	left := int(math.Ceil(task.Deadline.Sub(s.now()).Minutes()))
	if left < 0 {
		left = 0
	}
	if left > task.TimeRequired {
		return task.TimeRequired
	}
	return left
}
