package lifecycle

import (
	"time"

	"flowdesk/backend/internal/models"

	"github.com/gofrs/uuid"
)

type EffectKind string

const (
	EffectNotifyAssigned   EffectKind = "notify.assigned"
	EffectScheduleDeadline EffectKind = "schedule.deadline"
	EffectSchedulePending  EffectKind = "schedule.pending"
)

// Effect is a side-effect command produced by a lifecycle transition. It is
// executed after the task has been persisted.
type Effect struct {
	Kind   EffectKind
	TaskID uuid.UUID
	UserID uuid.UUID
	// FireAt is set for schedule effects. For deadline reminders it equals
	// the deadline the reminder was computed from.
	FireAt time.Time
	// Task is a snapshot taken for notify effects.
	Task *models.Task
}

func notifyAssigned(task *models.Task) Effect {
	snapshot := *task
	return Effect{Kind: EffectNotifyAssigned, TaskID: task.ID, UserID: task.AssignedTo, Task: &snapshot}
}

func scheduleDeadline(task *models.Task) Effect {
	return Effect{Kind: EffectScheduleDeadline, TaskID: task.ID, UserID: task.AssignedTo, FireAt: task.Deadline}
}

func schedulePending(task *models.Task, at time.Time) Effect {
	return Effect{Kind: EffectSchedulePending, TaskID: task.ID, UserID: task.AssignedTo, FireAt: at}
}

// Count returns how many effects of the given kind are in the list.
func Count(effects []Effect, kind EffectKind) int {
	n := 0
	for _, e := range effects {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
