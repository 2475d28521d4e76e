package lifecycle

import (
	"strings"
	"time"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/models"

	"github.com/gofrs/uuid"
)

// Draft carries the caller-supplied fields of a new task.
type Draft struct {
	Title        string
	Description  string
	Priority     models.Priority
	Deadline     time.Time
	TimeRequired int
	AssignedTo   uuid.UUID
}

// ExtensionAsk is an assignee's request for more time.
type ExtensionAsk struct {
	Reason          string
	ExtraTimeNeeded int
}

// Patch is a partial update. Nil fields are left alone.
type Patch struct {
	Status           *models.TaskStatus
	Remarks          *string
	Deadline         *time.Time
	TimeRequired     *int
	ExtensionReason  *string
	ExtensionRequest *ExtensionAsk
}

// Resolution is an admin's decision on a pending extension request.
type Resolution struct {
	Approved        bool
	NewDeadline     *time.Time
	NewTimeRequired *int
}

// NewTask validates a draft and builds the record to insert. A nil or equal
// AssignedTo makes the task self-assigned to creator.
func NewTask(d Draft, creator uuid.UUID) (*models.Task, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if d.Deadline.IsZero() {
		return nil, apperr.Validation("deadline is required")
	}

	priority := d.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, apperr.Validation("priority %q is not allowed", priority)
	}

	timeRequired := d.TimeRequired
	if timeRequired == 0 {
		timeRequired = models.DefaultTimeRequired
	}
	if timeRequired < 0 {
		return nil, apperr.Validation("timeRequired must be positive")
	}

	assignee := d.AssignedTo
	if assignee == uuid.Nil {
		assignee = creator
	}

	return &models.Task{
		Title:        title,
		Description:  d.Description,
		Priority:     priority,
		Deadline:     models.NormalizeTime(d.Deadline),
		TimeRequired: timeRequired,
		Status:       models.StatusPending,
		AssignedTo:   assignee,
		AssignedBy:   creator,
	}, nil
}

// CreationEffects lists what follows an insert: a deadline reminder always,
// and an assignment notice when someone else created the task.
func CreationEffects(task *models.Task) []Effect {
	effects := []Effect{scheduleDeadline(task)}
	if !task.IsSelfAssigned() {
		effects = append(effects, notifyAssigned(task))
	}
	return effects
}

// Apply validates patch against the field policy for actor, mutates task in
// place and returns the effects to run once it is saved. On error task is
// left untouched.
func Apply(task *models.Task, actor Actor, patch Patch) ([]Effect, error) {
	allowed := PermittedFields(actor, task.IsSelfAssigned())

	if patch.Status != nil && allowed.Has(FieldStatus) && !patch.Status.Valid() {
		return nil, apperr.Validation("status %q is not allowed", *patch.Status)
	}
	if patch.Deadline != nil && allowed.Has(FieldDeadline) && patch.Deadline.IsZero() {
		return nil, apperr.Validation("deadline must be a valid timestamp")
	}
	if patch.TimeRequired != nil && allowed.Has(FieldTimeRequired) && *patch.TimeRequired <= 0 {
		return nil, apperr.Validation("timeRequired must be positive")
	}
	if patch.ExtensionRequest != nil && allowed.Has(FieldExtensionRequest) {
		if patch.ExtensionRequest.ExtraTimeNeeded <= 0 {
			return nil, apperr.Validation("extraTimeNeeded must be positive")
		}
		if task.ExtensionRequest.IsPending() {
			return nil, apperr.Conflict("an extension request is already pending")
		}
	}

	prevStatus := task.Status
	prevDeadline := task.Deadline
	prevTimeRequired := task.TimeRequired

	if patch.Status != nil && allowed.Has(FieldStatus) {
		task.Status = *patch.Status
	}
	if patch.Remarks != nil && allowed.Has(FieldRemarks) {
		task.Remarks = *patch.Remarks
	}
	if patch.Deadline != nil && allowed.Has(FieldDeadline) {
		task.Deadline = models.NormalizeTime(*patch.Deadline)
	}
	if patch.TimeRequired != nil && allowed.Has(FieldTimeRequired) {
		task.TimeRequired = *patch.TimeRequired
	}
	if patch.ExtensionReason != nil && allowed.Has(FieldExtensionReason) {
		task.ExtensionReason = *patch.ExtensionReason
	}
	if patch.ExtensionRequest != nil && allowed.Has(FieldExtensionRequest) {
		task.ExtensionRequest = models.ExtensionRequest{
			Requested:       true,
			Reason:          patch.ExtensionRequest.Reason,
			ExtraTimeNeeded: patch.ExtensionRequest.ExtraTimeNeeded,
			Status:          models.ExtensionPending,
		}
	}

	// Becoming pending is what arms the pending reminder. A task that was
	// created pending has none yet, so setting pending explicitly arms it too.
	armPending := patch.Status != nil && allowed.Has(FieldStatus) &&
		task.Status == models.StatusPending &&
		(prevStatus == models.StatusYetToStart || task.PendingReminderAt == nil)

	timingChanged := !task.Deadline.Equal(prevDeadline) || task.TimeRequired != prevTimeRequired

	return reschedule(task, armPending, timingChanged), nil
}

// Resolve settles the pending extension request on task.
func Resolve(task *models.Task, r Resolution) ([]Effect, error) {
	if !task.ExtensionRequest.IsPending() {
		return nil, apperr.Conflict("no pending extension request")
	}
	if !r.Approved {
		task.ExtensionRequest.Status = models.ExtensionRejected
		return nil, nil
	}

	if r.NewDeadline != nil && r.NewDeadline.IsZero() {
		return nil, apperr.Validation("newDeadline must be a valid timestamp")
	}
	if r.NewTimeRequired != nil && *r.NewTimeRequired <= 0 {
		return nil, apperr.Validation("newTimeRequired must be positive")
	}

	prevDeadline := task.Deadline
	prevTimeRequired := task.TimeRequired

	task.ExtensionRequest.Status = models.ExtensionApproved
	if r.NewDeadline != nil {
		task.Deadline = models.NormalizeTime(*r.NewDeadline)
	}
	if r.NewTimeRequired != nil {
		task.TimeRequired = *r.NewTimeRequired
	}

	timingChanged := !task.Deadline.Equal(prevDeadline) || task.TimeRequired != prevTimeRequired
	return reschedule(task, false, timingChanged), nil
}

// reschedule emits at most one pending reminder and, when the timing moved,
// a new deadline reminder. A pending reminder whose instant is unchanged is
// not scheduled twice. Jobs scheduled earlier become stale and are
// skipped when they fire.
func reschedule(task *models.Task, armPending, timingChanged bool) []Effect {
	var effects []Effect

	if timingChanged {
		effects = append(effects, scheduleDeadline(task))
	}

	rearm := timingChanged && task.Status == models.StatusPending && task.PendingReminderAt != nil
	if armPending || rearm {
		at := task.ReminderAt()
		// A job for this exact instant is already queued and still matches.
		if task.PendingReminderAt != nil && task.PendingReminderAt.Equal(at) {
			return effects
		}
		task.PendingReminderAt = &at
		effects = append(effects, schedulePending(task, at))
	}

	return effects
}
