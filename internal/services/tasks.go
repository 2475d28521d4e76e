package services

import (
	"context"
	"fmt"
	"time"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/lifecycle"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// EffectQueue accepts effects for asynchronous execution.
type EffectQueue interface {
	Enqueue(ctx context.Context, effects ...lifecycle.Effect) error
}

// TaskWithAssignee is a task listing row for admins. AssignedTo replaces the
// bare id with the assignee's summary.
type TaskWithAssignee struct {
	models.Task
	AssignedTo models.UserSummary `json:"assignedTo"`
}

type TaskService interface {
	CreateSelfAssigned(ctx context.Context, caller *models.User, draft lifecycle.Draft) (*models.Task, error)
	CreateAdminAssigned(ctx context.Context, caller *models.User, draft lifecycle.Draft) (*models.Task, error)
	// UpdateAsAssignee applies patch for the task's assignee. An admin who is
	// not the assignee is routed to UpdateAsAdmin.
	UpdateAsAssignee(ctx context.Context, caller *models.User, taskID uuid.UUID, patch lifecycle.Patch) (*models.Task, error)
	UpdateAsAdmin(ctx context.Context, caller *models.User, taskID uuid.UUID, patch lifecycle.Patch) (*models.Task, error)
	ResolveExtensionRequest(ctx context.Context, caller *models.User, taskID uuid.UUID, r lifecycle.Resolution) (*models.Task, error)
	ListMine(ctx context.Context, caller *models.User) ([]models.Task, error)
	ListAll(ctx context.Context, caller *models.User) ([]TaskWithAssignee, error)
}

type TaskServiceImpl struct {
	tasks          repositories.TaskRepository
	users          repositories.UserRepository
	effects        EffectQueue
	log            *logger.Logger
	enqueueTimeout time.Duration
}

func NewTaskService(tasks repositories.TaskRepository, users repositories.UserRepository, effects EffectQueue, log *logger.Logger) *TaskServiceImpl {
	return &TaskServiceImpl{
		tasks:          tasks,
		users:          users,
		effects:        effects,
		log:            log.Named("tasks"),
		enqueueTimeout: 5 * time.Second,
	}
}

func (s *TaskServiceImpl) CreateSelfAssigned(ctx context.Context, caller *models.User, draft lifecycle.Draft) (*models.Task, error) {
	draft.AssignedTo = caller.ID
	return s.create(ctx, caller, draft)
}

func (s *TaskServiceImpl) CreateAdminAssigned(ctx context.Context, caller *models.User, draft lifecycle.Draft) (*models.Task, error) {
	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}
	if draft.AssignedTo == uuid.Nil {
		return nil, apperr.Validation("assignedTo is required")
	}
	if _, err := s.users.GetByID(ctx, draft.AssignedTo); err != nil {
		return nil, err
	}
	return s.create(ctx, caller, draft)
}

func (s *TaskServiceImpl) create(ctx context.Context, caller *models.User, draft lifecycle.Draft) (*models.Task, error) {
	task, err := lifecycle.NewTask(draft, caller.ID)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	s.log.Info("task created",
		zap.String("task_id", task.ID.String()),
		zap.String("assigned_to", task.AssignedTo.String()),
		zap.Bool("self_assigned", task.IsSelfAssigned()),
	)
	s.dispatch(ctx, lifecycle.CreationEffects(task))
	return task, nil
}

func (s *TaskServiceImpl) UpdateAsAssignee(ctx context.Context, caller *models.User, taskID uuid.UUID, patch lifecycle.Patch) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AssignedTo != caller.ID {
		if caller.IsAdmin() {
			return s.apply(ctx, task, lifecycle.ActorAdmin, patch)
		}
		return nil, apperr.Unauthorized("task is assigned to another user")
	}
	return s.apply(ctx, task, lifecycle.ActorAssignee, patch)
}

func (s *TaskServiceImpl) UpdateAsAdmin(ctx context.Context, caller *models.User, taskID uuid.UUID, patch lifecycle.Patch) (*models.Task, error) {
	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, task, lifecycle.ActorAdmin, patch)
}

func (s *TaskServiceImpl) apply(ctx context.Context, task *models.Task, actor lifecycle.Actor, patch lifecycle.Patch) (*models.Task, error) {
	effects, err := lifecycle.Apply(task, actor, patch)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}

	s.log.Info("task updated",
		zap.String("task_id", task.ID.String()),
		zap.String("actor", actor.String()),
		zap.String("status", string(task.Status)),
		zap.Int("effects", len(effects)),
	)
	s.dispatch(ctx, effects)
	return task, nil
}

func (s *TaskServiceImpl) ResolveExtensionRequest(ctx context.Context, caller *models.User, taskID uuid.UUID, r lifecycle.Resolution) (*models.Task, error) {
	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	effects, err := lifecycle.Resolve(task, r)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}

	s.log.Info("extension request resolved",
		zap.String("task_id", task.ID.String()),
		zap.Bool("approved", r.Approved),
	)
	s.dispatch(ctx, effects)
	return task, nil
}

func (s *TaskServiceImpl) ListMine(ctx context.Context, caller *models.User) ([]models.Task, error) {
	return s.tasks.ListByAssignee(ctx, caller.ID)
}

func (s *TaskServiceImpl) ListAll(ctx context.Context, caller *models.User) ([]TaskWithAssignee, error) {
	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}

	tasks, err := s.tasks.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}

	byID := make(map[uuid.UUID]models.UserSummary, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].Summary()
	}

	rows := make([]TaskWithAssignee, 0, len(tasks))
	for _, t := range tasks {
		summary, ok := byID[t.AssignedTo]
		if !ok {
			summary = models.UserSummary{ID: t.AssignedTo}
		}
		rows = append(rows, TaskWithAssignee{Task: t, AssignedTo: summary})
	}
	return rows, nil
}

// dispatch hands effects to the outbox once the write is durable. The
// request context may already be gone, so enqueueing gets its own deadline.
func (s *TaskServiceImpl) dispatch(ctx context.Context, effects []lifecycle.Effect) {
	if len(effects) == 0 || s.effects == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.enqueueTimeout)
	defer cancel()

	if err := s.effects.Enqueue(ctx, effects...); err != nil {
		s.log.Warn("effects not enqueued", zap.Error(err), zap.Int("effects", len(effects)))
	}
}
