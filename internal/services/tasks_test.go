package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/lifecycle"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/suite"
)

type TaskServiceSuite struct {
	suite.Suite
	tasks   *repositories.GormTaskRepository
	users   *repositories.GormUserRepository
	queue   *recordingQueue
	service *TaskServiceImpl
	admin   *models.User
	alice   *models.User
	bob     *models.User
	ctx     context.Context
	due     time.Time
}

func (s *TaskServiceSuite) SetupTest() {
	pool := newTestPool(s.T())
	s.tasks = repositories.NewGormTaskRepository(pool.DB)
	s.users = repositories.NewGormUserRepository(pool.DB)
	s.queue = &recordingQueue{}
	s.service = NewTaskService(s.tasks, s.users, s.queue, logger.NewNop())
	s.ctx = context.Background()
	s.admin = seedUser(s.T(), s.users, "admin@example.com", models.RoleAdmin)
	s.alice = seedUser(s.T(), s.users, "alice@example.com", models.RoleUser)
	s.bob = seedUser(s.T(), s.users, "bob@example.com", models.RoleUser)
	s.due = models.NormalizeTime(time.Now().Add(72 * time.Hour))
}

func (s *TaskServiceSuite) assign(to *models.User) *models.Task {
	task, err := s.service.CreateAdminAssigned(s.ctx, s.admin, lifecycle.Draft{
		Title:        "Prepare slides",
		Deadline:     s.due,
		TimeRequired: 60,
		AssignedTo:   to.ID,
	})
	s.Require().NoError(err)
	s.queue.take()
	return task
}

func (s *TaskServiceSuite) TestCreateSelfAssigned() {
	task, err := s.service.CreateSelfAssigned(s.ctx, s.alice, lifecycle.Draft{Title: "Write notes", Deadline: s.due})
	s.Require().NoError(err)

	s.Equal(s.alice.ID, task.AssignedTo)
	s.Equal(s.alice.ID, task.AssignedBy)
	s.Equal(models.StatusPending, task.Status)
	s.Equal(models.DefaultTimeRequired, task.TimeRequired)

	effects := s.queue.take()
	s.Require().Len(effects, 1)
	s.Equal(lifecycle.EffectScheduleDeadline, effects[0].Kind)
	s.True(effects[0].FireAt.Equal(s.due))
}

func (s *TaskServiceSuite) TestCreateSelfAssignedValidation() {
	_, err := s.service.CreateSelfAssigned(s.ctx, s.alice, lifecycle.Draft{Deadline: s.due})
	s.ErrorIs(err, apperr.ErrValidation)
	s.Empty(s.queue.take())
}

func (s *TaskServiceSuite) TestCreateAdminAssigned() {
	task, err := s.service.CreateAdminAssigned(s.ctx, s.admin, lifecycle.Draft{
		Title: "Review PR", Deadline: s.due, AssignedTo: s.alice.ID, Priority: models.PriorityHigh,
	})
	s.Require().NoError(err)
	s.Equal(s.admin.ID, task.AssignedBy)
	s.Equal(models.StatusPending, task.Status)

	effects := s.queue.take()
	s.Equal(1, lifecycle.Count(effects, lifecycle.EffectNotifyAssigned))
	s.Equal(1, lifecycle.Count(effects, lifecycle.EffectScheduleDeadline))
	s.Equal(0, lifecycle.Count(effects, lifecycle.EffectSchedulePending))
}

func (s *TaskServiceSuite) TestCreateAdminAssignedRequiresAdminAndAssignee() {
	_, err := s.service.CreateAdminAssigned(s.ctx, s.alice, lifecycle.Draft{Title: "x", Deadline: s.due, AssignedTo: s.bob.ID})
	s.ErrorIs(err, apperr.ErrForbidden)

	_, err = s.service.CreateAdminAssigned(s.ctx, s.admin, lifecycle.Draft{Title: "x", Deadline: s.due, AssignedTo: uuid.Must(uuid.NewV4())})
	s.ErrorIs(err, apperr.ErrNotFound)
	s.Empty(s.queue.take())
}

func (s *TaskServiceSuite) TestUpdateAsAssigneeByStranger() {
	task := s.assign(s.alice)

	_, err := s.service.UpdateAsAssignee(s.ctx, s.bob, task.ID, lifecycle.Patch{Status: statusPtr(models.StatusCompleted)})
	s.ErrorIs(err, apperr.ErrUnauthorized)

	stored, err := s.tasks.GetByID(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, stored.Status)
}

func (s *TaskServiceSuite) TestUpdateAsAssigneeMissingTask() {
	_, err := s.service.UpdateAsAssignee(s.ctx, s.alice, uuid.Must(uuid.NewV4()), lifecycle.Patch{})
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *TaskServiceSuite) TestAssigneeCannotMoveAdminDeadline() {
	task := s.assign(s.alice)

	updated, err := s.service.UpdateAsAssignee(s.ctx, s.alice, task.ID, lifecycle.Patch{
		Deadline: timePtr(s.due.Add(24 * time.Hour)),
		Remarks:  strPtr("on it"),
	})
	s.Require().NoError(err)
	s.True(updated.Deadline.Equal(s.due))
	s.Equal("on it", updated.Remarks)

	stored, err := s.tasks.GetByID(s.ctx, task.ID)
	s.Require().NoError(err)
	s.True(stored.Deadline.Equal(s.due))
	s.Equal("on it", stored.Remarks)
}

func (s *TaskServiceSuite) TestAdminRoutedThroughAssigneeEndpoint() {
	task := s.assign(s.alice)

	updated, err := s.service.UpdateAsAssignee(s.ctx, s.admin, task.ID, lifecycle.Patch{TimeRequired: intPtr(120)})
	s.Require().NoError(err)
	s.Equal(120, updated.TimeRequired)
	s.Equal(1, lifecycle.Count(s.queue.take(), lifecycle.EffectScheduleDeadline))
}

func (s *TaskServiceSuite) TestExtensionRequestLifecycle() {
	task := s.assign(s.alice)

	updated, err := s.service.UpdateAsAssignee(s.ctx, s.alice, task.ID, lifecycle.Patch{
		ExtensionRequest: &lifecycle.ExtensionAsk{Reason: "blocked", ExtraTimeNeeded: 120},
	})
	s.Require().NoError(err)
	s.True(updated.ExtensionRequest.Requested)
	s.Equal(models.ExtensionPending, updated.ExtensionRequest.Status)

	_, err = s.service.UpdateAsAssignee(s.ctx, s.alice, task.ID, lifecycle.Patch{
		ExtensionRequest: &lifecycle.ExtensionAsk{Reason: "again", ExtraTimeNeeded: 60},
	})
	s.ErrorIs(err, apperr.ErrConflict)

	_, err = s.service.ResolveExtensionRequest(s.ctx, s.alice, task.ID, lifecycle.Resolution{Approved: true})
	s.ErrorIs(err, apperr.ErrForbidden)

	newDeadline := s.due.Add(2 * time.Hour)
	resolved, err := s.service.ResolveExtensionRequest(s.ctx, s.admin, task.ID, lifecycle.Resolution{
		Approved:    true,
		NewDeadline: &newDeadline,
	})
	s.Require().NoError(err)
	s.Equal(models.ExtensionApproved, resolved.ExtensionRequest.Status)
	s.True(resolved.Deadline.Equal(newDeadline))

	effects := s.queue.take()
	s.Require().Equal(1, lifecycle.Count(effects, lifecycle.EffectScheduleDeadline))

	stored, err := s.tasks.GetByID(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Equal(models.ExtensionApproved, stored.ExtensionRequest.Status)
	s.True(stored.Deadline.Equal(newDeadline))

	_, err = s.service.ResolveExtensionRequest(s.ctx, s.admin, task.ID, lifecycle.Resolution{Approved: false})
	s.ErrorIs(err, apperr.ErrConflict)
}

func (s *TaskServiceSuite) TestRejectedExtensionKeepsDeadline() {
	task := s.assign(s.alice)
	_, err := s.service.UpdateAsAssignee(s.ctx, s.alice, task.ID, lifecycle.Patch{
		ExtensionRequest: &lifecycle.ExtensionAsk{Reason: "sick", ExtraTimeNeeded: 30},
	})
	s.Require().NoError(err)

	resolved, err := s.service.ResolveExtensionRequest(s.ctx, s.admin, task.ID, lifecycle.Resolution{Approved: false})
	s.Require().NoError(err)
	s.Equal(models.ExtensionRejected, resolved.ExtensionRequest.Status)
	s.True(resolved.Deadline.Equal(s.due))
	s.Empty(s.queue.take())
}

func (s *TaskServiceSuite) TestPendingReminderArmedOnce() {
	task := s.assign(s.alice)

	_, err := s.service.UpdateAsAssignee(s.ctx, s.alice, task.ID, lifecycle.Patch{Status: statusPtr(models.StatusPending)})
	s.Require().NoError(err)
	effects := s.queue.take()
	s.Require().Equal(1, lifecycle.Count(effects, lifecycle.EffectSchedulePending))

	stored, err := s.tasks.GetByID(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.PendingReminderAt)
	s.True(stored.PendingReminderAt.Equal(s.due.Add(-60 * time.Minute)))

	_, err = s.service.UpdateAsAssignee(s.ctx, s.alice, task.ID, lifecycle.Patch{Status: statusPtr(models.StatusPending)})
	s.Require().NoError(err)
	s.Equal(0, lifecycle.Count(s.queue.take(), lifecycle.EffectSchedulePending))
}

func (s *TaskServiceSuite) TestUpdateAsAdminRequiresAdmin() {
	task := s.assign(s.alice)
	_, err := s.service.UpdateAsAdmin(s.ctx, s.alice, task.ID, lifecycle.Patch{Status: statusPtr(models.StatusCompleted)})
	s.ErrorIs(err, apperr.ErrForbidden)

	updated, err := s.service.UpdateAsAdmin(s.ctx, s.admin, task.ID, lifecycle.Patch{
		Status:          statusPtr(models.StatusCompleted),
		ExtensionReason: strPtr("handled offline"),
	})
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, updated.Status)
	s.Equal("handled offline", updated.ExtensionReason)
}

func (s *TaskServiceSuite) TestListMineNewestFirst() {
	first, err := s.service.CreateSelfAssigned(s.ctx, s.alice, lifecycle.Draft{Title: "first", Deadline: s.due})
	s.Require().NoError(err)
	time.Sleep(1100 * time.Millisecond)
	second, err := s.service.CreateSelfAssigned(s.ctx, s.alice, lifecycle.Draft{Title: "second", Deadline: s.due})
	s.Require().NoError(err)
	s.assign(s.bob)

	tasks, err := s.service.ListMine(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Require().Len(tasks, 2)
	s.Equal(second.ID, tasks[0].ID)
	s.Equal(first.ID, tasks[1].ID)
}

func (s *TaskServiceSuite) TestListAllWithAssigneeSummary() {
	s.assign(s.alice)
	later, err := s.service.CreateSelfAssigned(s.ctx, s.bob, lifecycle.Draft{Title: "later", Deadline: s.due.Add(time.Hour)})
	s.Require().NoError(err)

	_, err = s.service.ListAll(s.ctx, s.alice)
	s.ErrorIs(err, apperr.ErrForbidden)

	rows, err := s.service.ListAll(s.ctx, s.admin)
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal(later.ID, rows[0].ID)
	s.Equal("bob@example.com", rows[0].AssignedTo.Email)
	s.Equal("alice@example.com", rows[1].AssignedTo.Email)

	data, err := json.Marshal(rows[1])
	s.Require().NoError(err)
	var decoded map[string]interface{}
	s.Require().NoError(json.Unmarshal(data, &decoded))
	assignee, ok := decoded["assignedTo"].(map[string]interface{})
	s.Require().True(ok)
	s.Equal("alice@example.com", assignee["email"])
	s.Equal("Prepare slides", decoded["title"])
}

func TestTaskServiceSuite(t *testing.T) {
	suite.Run(t, new(TaskServiceSuite))
}
