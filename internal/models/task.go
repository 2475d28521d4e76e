package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type TaskStatus string

const (
	StatusYetToStart TaskStatus = "yet-to-start"
	StatusPending    TaskStatus = "pending"
	StatusCompleted  TaskStatus = "completed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusYetToStart, StatusPending, StatusCompleted:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

const DefaultTimeRequired = 30

// ExtensionRequest is the assignee's ask for more time on an admin-assigned
// task. Requested is false until the first request is raised.
type ExtensionRequest struct {
	Requested       bool            `json:"requested" gorm:"not null;default:false"`
	Reason          string          `json:"reason"`
	ExtraTimeNeeded int             `json:"extraTimeNeeded"`
	Status          ExtensionStatus `json:"status"`
}

func (r ExtensionRequest) IsPending() bool {
	return r.Requested && r.Status == ExtensionPending
}

type Task struct {
	ID                uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	Title             string           `json:"title" gorm:"not null"`
	Description       string           `json:"description"`
	Priority          Priority         `json:"priority" gorm:"not null;default:'medium'"`
	Deadline          time.Time        `json:"deadline" gorm:"not null;index"`
	TimeRequired      int              `json:"timeRequired" gorm:"not null;default:30"`
	Status            TaskStatus       `json:"status" gorm:"not null;default:'yet-to-start';index"`
	AssignedTo        uuid.UUID        `json:"assignedTo" gorm:"type:uuid;not null;index"`
	AssignedBy        uuid.UUID        `json:"assignedBy" gorm:"type:uuid;not null"`
	Remarks           string           `json:"remarks"`
	ExtensionReason   string           `json:"extensionReason"`
	ExtensionRequest  ExtensionRequest `json:"extensionRequest" gorm:"embedded;embeddedPrefix:extension_request_"`
	PendingReminderAt *time.Time       `json:"pendingReminderAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		t.ID = id
	}
	return nil
}

// IsSelfAssigned reports whether the creator is also the assignee.
func (t *Task) IsSelfAssigned() bool {
	return t.AssignedBy == t.AssignedTo
}

// ReminderAt is the instant when exactly TimeRequired minutes remain before
// the deadline.
func (t *Task) ReminderAt() time.Time {
	return t.Deadline.Add(-time.Duration(t.TimeRequired) * time.Minute)
}

// NormalizeTime is how every stored timestamp is shaped, so values survive a
// round trip through any backend unchanged.
func NormalizeTime(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Second)
}
