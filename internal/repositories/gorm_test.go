package repositories_test

import (
	"context"
	"testing"
	"time"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/database"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"
)

type GormRepositorySuite struct {
	suite.Suite
	pool  *database.DatabasePool
	tasks *repositories.GormTaskRepository
	users *repositories.GormUserRepository
	ctx   context.Context
}

func (s *GormRepositorySuite) SetupTest() {
	pool, err := database.NewDatabasePool(&database.PoolConfig{
		Driver:   database.DriverSQLite,
		DSN:      "file::memory:",
		LogLevel: logger.Silent,
	})
	s.Require().NoError(err)
	s.Require().NoError(pool.Migrate())

	s.pool = pool
	s.tasks = repositories.NewGormTaskRepository(pool.DB)
	s.users = repositories.NewGormUserRepository(pool.DB)
	s.ctx = context.Background()
}

func (s *GormRepositorySuite) TearDownTest() {
	s.pool.Close()
}

func (s *GormRepositorySuite) createUser(email string) *models.User {
	user := &models.User{Name: "User " + email, Email: email, Password: "hash", Role: models.RoleUser}
	s.Require().NoError(s.users.Create(s.ctx, user))
	return user
}

func (s *GormRepositorySuite) newTask(owner uuid.UUID, title string, deadline, created time.Time) *models.Task {
	task := &models.Task{
		Title:        title,
		Priority:     models.PriorityHigh,
		Deadline:     deadline,
		TimeRequired: 30,
		Status:       models.StatusPending,
		AssignedTo:   owner,
		AssignedBy:   owner,
		CreatedAt:    created,
	}
	s.Require().NoError(s.tasks.Create(s.ctx, task))
	return task
}

func (s *GormRepositorySuite) TestUserCreateAndLookup() {
	user := s.createUser("Ada@Example.com")
	s.NotEqual(uuid.Nil, user.ID)
	s.Equal("ada@example.com", user.Email)

	byID, err := s.users.GetByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal("hash", byID.Password)

	byEmail, err := s.users.GetByEmail(s.ctx, "  ADA@example.com")
	s.Require().NoError(err)
	s.Equal(user.ID, byEmail.ID)
}

func (s *GormRepositorySuite) TestUserDuplicateEmail() {
	first := s.createUser("dup@example.com")

	err := s.users.Create(s.ctx, &models.User{Name: "Other", Email: "DUP@example.com", Password: "x", Role: models.RoleUser})
	s.ErrorIs(err, apperr.ErrConflict)
	s.Contains(err.Error(), "user already exists")

	stored, err := s.users.GetByEmail(s.ctx, "dup@example.com")
	s.Require().NoError(err)
	s.Equal(first.ID, stored.ID)
	s.Equal(first.Name, stored.Name)
}

func (s *GormRepositorySuite) TestUserNotFound() {
	_, err := s.users.GetByID(s.ctx, uuid.Must(uuid.NewV4()))
	s.ErrorIs(err, apperr.ErrNotFound)

	_, err = s.users.GetByEmail(s.ctx, "nobody@example.com")
	s.ErrorIs(err, apperr.ErrNotFound)

	err = s.users.Update(s.ctx, &models.User{ID: uuid.Must(uuid.NewV4()), Email: "x@example.com"})
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *GormRepositorySuite) TestUserUpdateAndList() {
	a := s.createUser("a@example.com")
	s.createUser("b@example.com")

	a.Role = models.RoleAdmin
	s.Require().NoError(s.users.Update(s.ctx, a))

	got, err := s.users.GetByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.True(got.IsAdmin())

	all, err := s.users.List(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *GormRepositorySuite) TestTaskRoundTrip() {
	owner := s.createUser("owner@example.com")
	deadline := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	task := s.newTask(owner.ID, "Write tests", deadline, time.Time{})

	got, err := s.tasks.GetByID(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Equal("Write tests", got.Title)
	s.True(got.Deadline.Equal(deadline))
	s.True(got.IsSelfAssigned())
	s.Nil(got.PendingReminderAt)
	s.False(got.ExtensionRequest.Requested)
}

func (s *GormRepositorySuite) TestTaskUpdateWritesZeroValues() {
	owner := s.createUser("owner@example.com")
	task := s.newTask(owner.ID, "Ship", time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC), time.Time{})

	at := task.ReminderAt()
	task.PendingReminderAt = &at
	task.Remarks = "halfway"
	task.ExtensionRequest = models.ExtensionRequest{Requested: true, Reason: "more", ExtraTimeNeeded: 60, Status: models.ExtensionPending}
	s.Require().NoError(s.tasks.Update(s.ctx, task))

	got, err := s.tasks.GetByID(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.PendingReminderAt)
	s.True(got.PendingReminderAt.Equal(at))
	s.Equal("halfway", got.Remarks)
	s.True(got.ExtensionRequest.IsPending())

	got.Remarks = ""
	got.Status = models.StatusCompleted
	got.ExtensionRequest.Status = models.ExtensionRejected
	s.Require().NoError(s.tasks.Update(s.ctx, got))

	again, err := s.tasks.GetByID(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Empty(again.Remarks)
	s.Equal(models.StatusCompleted, again.Status)
	s.Equal(models.ExtensionRejected, again.ExtensionRequest.Status)
}

func (s *GormRepositorySuite) TestTaskUpdateKeepsAssignment() {
	owner := s.createUser("owner@example.com")
	task := s.newTask(owner.ID, "Fixed", time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC), time.Time{})

	task.AssignedBy = uuid.Must(uuid.NewV4())
	s.Require().NoError(s.tasks.Update(s.ctx, task))

	got, err := s.tasks.GetByID(s.ctx, task.ID)
	s.Require().NoError(err)
	s.True(got.IsSelfAssigned())
}

func (s *GormRepositorySuite) TestTaskNotFound() {
	_, err := s.tasks.GetByID(s.ctx, uuid.Must(uuid.NewV4()))
	s.ErrorIs(err, apperr.ErrNotFound)

	err = s.tasks.Update(s.ctx, &models.Task{ID: uuid.Must(uuid.NewV4()), Title: "ghost"})
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *GormRepositorySuite) TestTaskListing() {
	u1 := s.createUser("u1@example.com")
	u2 := s.createUser("u2@example.com")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.newTask(u1.ID, "oldest", base.Add(72*time.Hour), base)
	s.newTask(u1.ID, "newest", base.Add(24*time.Hour), base.Add(2*time.Hour))
	s.newTask(u2.ID, "other", base.Add(48*time.Hour), base.Add(time.Hour))

	mine, err := s.tasks.ListByAssignee(s.ctx, u1.ID)
	s.Require().NoError(err)
	s.Require().Len(mine, 2)
	s.Equal("newest", mine[0].Title)
	s.Equal("oldest", mine[1].Title)

	all, err := s.tasks.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal("oldest", all[0].Title)
	s.Equal("other", all[1].Title)
	s.Equal("newest", all[2].Title)
}

func (s *GormRepositorySuite) TestCountOpenByAssignee() {
	u1 := s.createUser("u1@example.com")
	u2 := s.createUser("u2@example.com")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.newTask(u1.ID, "a", base, base)
	s.newTask(u1.ID, "b", base, base)
	done := s.newTask(u2.ID, "c", base, base)
	done.Status = models.StatusCompleted
	s.Require().NoError(s.tasks.Update(s.ctx, done))

	counts, err := s.tasks.CountOpenByAssignee(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), counts[u1.ID])
	_, hasU2 := counts[u2.ID]
	s.False(hasU2)
}

func TestGormRepositorySuite(t *testing.T) {
	suite.Run(t, new(GormRepositorySuite))
}
