package repositories

import (
	"time"

	"flowdesk/backend/internal/models"

	"github.com/gofrs/uuid"
)

type extensionDocument struct {
	Requested       bool   `bson:"requested"`
	Reason          string `bson:"reason"`
	ExtraTimeNeeded int    `bson:"extraTimeNeeded"`
	Status          string `bson:"status,omitempty"`
}

type taskDocument struct {
	ID                string            `bson:"_id"`
	Title             string            `bson:"title"`
	Description       string            `bson:"description"`
	Priority          string            `bson:"priority"`
	Deadline          time.Time         `bson:"deadline"`
	TimeRequired      int               `bson:"timeRequired"`
	Status            string            `bson:"status"`
	AssignedTo        string            `bson:"assignedTo"`
	AssignedBy        string            `bson:"assignedBy"`
	Remarks           string            `bson:"remarks"`
	ExtensionReason   string            `bson:"extensionReason"`
	ExtensionRequest  extensionDocument `bson:"extensionRequest"`
	PendingReminderAt *time.Time        `bson:"pendingReminderAt,omitempty"`
	CreatedAt         time.Time         `bson:"createdAt"`
	UpdatedAt         time.Time         `bson:"updatedAt"`
}

type userDocument struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func newTaskDocument(t *models.Task) taskDocument {
	return taskDocument{
		ID:              t.ID.String(),
		Title:           t.Title,
		Description:     t.Description,
		Priority:        string(t.Priority),
		Deadline:        t.Deadline,
		TimeRequired:    t.TimeRequired,
		Status:          string(t.Status),
		AssignedTo:      t.AssignedTo.String(),
		AssignedBy:      t.AssignedBy.String(),
		Remarks:         t.Remarks,
		ExtensionReason: t.ExtensionReason,
		ExtensionRequest: extensionDocument{
			Requested:       t.ExtensionRequest.Requested,
			Reason:          t.ExtensionRequest.Reason,
			ExtraTimeNeeded: t.ExtensionRequest.ExtraTimeNeeded,
			Status:          string(t.ExtensionRequest.Status),
		},
		PendingReminderAt: t.PendingReminderAt,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

func (d taskDocument) model() (*models.Task, error) {
	id, err := uuid.FromString(d.ID)
	if err != nil {
		return nil, err
	}
	assignedTo, err := uuid.FromString(d.AssignedTo)
	if err != nil {
		return nil, err
	}
	assignedBy, err := uuid.FromString(d.AssignedBy)
	if err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:              id,
		Title:           d.Title,
		Description:     d.Description,
		Priority:        models.Priority(d.Priority),
		Deadline:        models.NormalizeTime(d.Deadline),
		TimeRequired:    d.TimeRequired,
		Status:          models.TaskStatus(d.Status),
		AssignedTo:      assignedTo,
		AssignedBy:      assignedBy,
		Remarks:         d.Remarks,
		ExtensionReason: d.ExtensionReason,
		ExtensionRequest: models.ExtensionRequest{
			Requested:       d.ExtensionRequest.Requested,
			Reason:          d.ExtensionRequest.Reason,
			ExtraTimeNeeded: d.ExtensionRequest.ExtraTimeNeeded,
			Status:          models.ExtensionStatus(d.ExtensionRequest.Status),
		},
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	if d.PendingReminderAt != nil {
		at := models.NormalizeTime(*d.PendingReminderAt)
		task.PendingReminderAt = &at
	}
	return task, nil
}

func newUserDocument(u *models.User) userDocument {
	return userDocument{
		ID:        u.ID.String(),
		Name:      u.Name,
		Email:     u.Email,
		Password:  u.Password,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (d userDocument) model() (*models.User, error) {
	id, err := uuid.FromString(d.ID)
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:        id,
		Name:      d.Name,
		Email:     d.Email,
		Password:  d.Password,
		Role:      models.Role(d.Role),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}
