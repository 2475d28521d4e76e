package services

import (
	"context"
	"fmt"
	"time"

	"flowdesk/backend/internal/lifecycle"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/worker"
)

type Scheduler interface {
	ScheduleAt(ctx context.Context, jobType worker.JobType, payload interface{}, at time.Time) (*worker.Job, error)
}

type AssignmentNotifier interface {
	TaskAssigned(ctx context.Context, task *models.Task) error
}

// EffectExecutor routes lifecycle effects to the reminder scheduler or the
// notification dispatcher.
type EffectExecutor struct {
	scheduler Scheduler
	notifier  AssignmentNotifier
}

func NewEffectExecutor(scheduler Scheduler, notifier AssignmentNotifier) *EffectExecutor {
	return &EffectExecutor{scheduler: scheduler, notifier: notifier}
}

func (e *EffectExecutor) Execute(ctx context.Context, effect lifecycle.Effect) error {
	switch effect.Kind {
	case lifecycle.EffectScheduleDeadline:
		payload := DeadlineReminderPayload{TaskID: effect.TaskID, Deadline: effect.FireAt.Unix()}
		_, err := e.scheduler.ScheduleAt(ctx, worker.JobTypeDeadlineReminder, payload, effect.FireAt)
		return err
	case lifecycle.EffectSchedulePending:
		payload := PendingReminderPayload{TaskID: effect.TaskID, FireAt: effect.FireAt.Unix()}
		_, err := e.scheduler.ScheduleAt(ctx, worker.JobTypePendingReminder, payload, effect.FireAt)
		return err
	case lifecycle.EffectNotifyAssigned:
		if effect.Task == nil {
			return fmt.Errorf("notify effect for task %s has no snapshot", effect.TaskID)
		}
		return e.notifier.TaskAssigned(ctx, effect.Task)
	default:
		return fmt.Errorf("unknown effect kind %q", effect.Kind)
	}
}
