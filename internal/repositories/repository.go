package repositories

import (
	"context"

	"flowdesk/backend/internal/models"

	"github.com/gofrs/uuid"
)

// TaskRepository persists tasks. Lookups of absent records return an error
// matching apperr.ErrNotFound.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	// Update writes every field of task. Concurrent writers are last-write-wins.
	Update(ctx context.Context, task *models.Task) error
	// ListByAssignee returns the user's tasks, newest first.
	ListByAssignee(ctx context.Context, userID uuid.UUID) ([]models.Task, error)
	// ListAll returns every task, latest deadline first.
	ListAll(ctx context.Context) ([]models.Task, error)
	// CountOpenByAssignee counts tasks that are not completed, per assignee.
	CountOpenByAssignee(ctx context.Context) (map[uuid.UUID]int64, error)
}

// UserRepository persists users. Emails are compared lower-cased; Create
// fails with apperr.ErrConflict when the email is taken.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
}
