package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"flowdesk/backend/internal/database"
	"flowdesk/backend/internal/handlers"
	"flowdesk/backend/internal/lifecycle"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/middleware"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/repositories"
	"flowdesk/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
	gormlogger "gorm.io/gorm/logger"
)

type recordingQueue struct {
	mu      sync.Mutex
	effects []lifecycle.Effect
}

func (q *recordingQueue) Enqueue(_ context.Context, effects ...lifecycle.Effect) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.effects = append(q.effects, effects...)
	return nil
}

func (q *recordingQueue) kinds() []lifecycle.EffectKind {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]lifecycle.EffectKind, 0, len(q.effects))
	for _, e := range q.effects {
		out = append(out, e.Kind)
	}
	return out
}

type HandlerSuite struct {
	suite.Suite
	router     *gin.Engine
	auth       *services.AuthServiceImpl
	queue      *recordingQueue
	adminToken string
	userToken  string
	user       *models.User
	due        time.Time
}

func (s *HandlerSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.Require().NoError(handlers.RegisterValidators())

	pool, err := database.NewDatabasePool(&database.PoolConfig{
		Driver:   database.DriverSQLite,
		DSN:      "file::memory:",
		LogLevel: gormlogger.Silent,
	})
	s.Require().NoError(err)
	s.Require().NoError(pool.Migrate())
	s.T().Cleanup(func() { pool.Close() })

	log := logger.NewNop()
	users := repositories.NewGormUserRepository(pool.DB)
	tasks := repositories.NewGormTaskRepository(pool.DB)
	s.queue = &recordingQueue{}
	s.auth = services.NewAuthService(users, services.AuthConfig{
		Secret:        "test-secret",
		BCryptCost:    bcrypt.MinCost,
		AdminEmail:    "admin@flowdesk.test",
		AdminPassword: "admin-password",
	}, log)
	taskService := services.NewTaskService(tasks, users, s.queue, log)

	authHandler := handlers.NewAuthHandler(s.auth, log)
	taskHandler := handlers.NewTaskHandler(taskService, log)
	adminHandler := handlers.NewAdminHandler(taskService, services.NewUserService(users), log)

	router := gin.New()
	router.POST("/api/auth/register", authHandler.Register)
	router.POST("/api/auth/login", authHandler.Login)
	api := router.Group("/api/tasks", middleware.Authenticated(s.auth))
	api.GET("", taskHandler.ListMine)
	api.POST("", taskHandler.Create)
	api.PUT("/:id", taskHandler.Update)
	admin := router.Group("/api/admin", middleware.AdminOnly(s.auth))
	admin.GET("/users", adminHandler.ListUsers)
	admin.POST("/tasks", adminHandler.CreateTask)
	admin.GET("/all-tasks", adminHandler.ListAllTasks)
	admin.PUT("/tasks/:id", adminHandler.UpdateTask)
	admin.PUT("/extension-request/:id", adminHandler.ResolveExtension)
	s.router = router

	s.due = models.NormalizeTime(time.Now().Add(48 * time.Hour))

	var reg handlers.RegisterResponse
	s.Require().Equal(http.StatusCreated, s.do("POST", "/api/auth/register", "", gin.H{
		"name": "Ada", "email": "ada@flowdesk.test", "password": "password123",
	}, &reg))
	s.userToken = reg.Token
	s.user, err = users.GetByEmail(context.Background(), "ada@flowdesk.test")
	s.Require().NoError(err)

	var login handlers.LoginResponse
	s.Require().Equal(http.StatusOK, s.do("POST", "/api/auth/login", "", gin.H{
		"email": "admin@flowdesk.test", "password": "admin-password",
	}, &login))
	s.adminToken = login.Token
}

func (s *HandlerSuite) do(method, path, token string, body interface{}, out interface{}) int {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if out != nil {
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func (s *HandlerSuite) errorCode(method, path, token string, body interface{}) (int, string) {
	var resp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	status := s.do(method, path, token, body, &resp)
	return status, resp.Error
}

func (s *HandlerSuite) TestRegister() {
	var resp handlers.RegisterResponse
	status := s.do("POST", "/api/auth/register", "", gin.H{
		"name": "Grace", "email": "Grace@FlowDesk.test", "password": "password123",
	}, &resp)

	s.Equal(http.StatusCreated, status)
	s.Equal("grace@flowdesk.test", resp.Email)
	s.Equal(models.RoleUser, resp.Role)
	s.NotEmpty(resp.Token)
	s.NotEmpty(resp.ID)
}

func (s *HandlerSuite) TestRegisterDuplicateEmail() {
	status, code := s.errorCode("POST", "/api/auth/register", "", gin.H{
		"name": "Ada again", "email": "ada@flowdesk.test", "password": "password123",
	})
	s.Equal(http.StatusConflict, status)
	s.Equal("conflict", code)
}

func (s *HandlerSuite) TestRegisterValidation() {
	tests := []struct {
		name string
		body gin.H
	}{
		{"short password", gin.H{"name": "X", "email": "x@flowdesk.test", "password": "short"}},
		{"bad email", gin.H{"name": "X", "email": "not-an-email", "password": "password123"}},
		{"missing name", gin.H{"email": "x@flowdesk.test", "password": "password123"}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			status, code := s.errorCode("POST", "/api/auth/register", "", tt.body)
			s.Equal(http.StatusBadRequest, status)
			s.Equal("validation_error", code)
		})
	}
}

func (s *HandlerSuite) TestLoginWrongPassword() {
	status, code := s.errorCode("POST", "/api/auth/login", "", gin.H{
		"email": "ada@flowdesk.test", "password": "wrong-password",
	})
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("unauthorized", code)
}

func (s *HandlerSuite) TestLoginReturnsRole() {
	var resp handlers.LoginResponse
	status := s.do("POST", "/api/auth/login", "", gin.H{
		"email": "ada@flowdesk.test", "password": "password123",
	}, &resp)
	s.Equal(http.StatusOK, status)
	s.Equal(models.RoleUser, resp.Role)
	s.NotEmpty(resp.Token)
}

func (s *HandlerSuite) TestCreateSelfAssignedIgnoresAssignee() {
	var task models.Task
	status := s.do("POST", "/api/tasks", s.userToken, gin.H{
		"title":      "Write report",
		"deadline":   s.due,
		"priority":   "high",
		"assignedTo": "00000000-0000-0000-0000-000000000001",
	}, &task)

	s.Equal(http.StatusCreated, status)
	s.Equal(s.user.ID, task.AssignedTo)
	s.Equal(s.user.ID, task.AssignedBy)
	s.Equal(models.PriorityHigh, task.Priority)
	s.Equal(models.DefaultTimeRequired, task.TimeRequired)
	s.Equal([]lifecycle.EffectKind{lifecycle.EffectScheduleDeadline}, s.queue.kinds())
}

func (s *HandlerSuite) TestCreateRejectsUnknownPriority() {
	status, code := s.errorCode("POST", "/api/tasks", s.userToken, gin.H{
		"title": "Write report", "deadline": s.due, "priority": "urgent",
	})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("validation_error", code)
}

func (s *HandlerSuite) TestTasksRequireToken() {
	status, code := s.errorCode("GET", "/api/tasks", "", nil)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("unauthorized", code)
}

func (s *HandlerSuite) TestListMineEmpty() {
	var tasks []models.Task
	s.Equal(http.StatusOK, s.do("GET", "/api/tasks", s.userToken, nil, &tasks))
	s.NotNil(tasks)
	s.Empty(tasks)
}

func (s *HandlerSuite) TestAdminRoutesForbidUsers() {
	status, code := s.errorCode("GET", "/api/admin/users", s.userToken, nil)
	s.Equal(http.StatusForbidden, status)
	s.Equal("forbidden", code)
}

func (s *HandlerSuite) TestAdminWritesForbidUsersWithoutChange() {
	var task models.Task
	s.Require().Equal(http.StatusCreated, s.do("POST", "/api/admin/tasks", s.adminToken, gin.H{
		"title": "Budget", "assignedTo": s.user.ID, "deadline": s.due, "timeRequired": 45,
	}, &task))
	s.Require().Equal(http.StatusOK, s.do("PUT", "/api/tasks/"+task.ID.String(), s.userToken, gin.H{
		"extensionRequest": gin.H{"reason": "waiting on finance", "extraTimeNeeded": 60},
	}, nil))
	effects := len(s.queue.kinds())

	later := s.due.Add(72 * time.Hour)
	writes := []struct {
		method, path string
		body         gin.H
	}{
		{"PUT", "/api/admin/tasks/" + task.ID.String(), gin.H{"status": "completed", "deadline": later, "timeRequired": 5}},
		{"PUT", "/api/admin/extension-request/" + task.ID.String(), gin.H{"approved": true, "newDeadline": later}},
		{"POST", "/api/admin/tasks", gin.H{"title": "Sneaky", "assignedTo": s.user.ID, "deadline": s.due}},
	}
	for _, w := range writes {
		status, code := s.errorCode(w.method, w.path, s.userToken, w.body)
		s.Equal(http.StatusForbidden, status, w.path)
		s.Equal("forbidden", code, w.path)
	}

	var mine []models.Task
	s.Require().Equal(http.StatusOK, s.do("GET", "/api/tasks", s.userToken, nil, &mine))
	s.Require().Len(mine, 1)
	s.Equal(models.StatusPending, mine[0].Status)
	s.True(mine[0].Deadline.Equal(s.due))
	s.Equal(45, mine[0].TimeRequired)
	s.True(mine[0].ExtensionRequest.IsPending())
	s.Len(s.queue.kinds(), effects)
}

func (s *HandlerSuite) TestAdminListUsersHidesPasswords() {
	var raw []map[string]interface{}
	s.Equal(http.StatusOK, s.do("GET", "/api/admin/users", s.adminToken, nil, &raw))
	s.Len(raw, 2)
	for _, u := range raw {
		s.NotContains(u, "password")
	}
}

func (s *HandlerSuite) TestAdminAssignAndExtensionFlow() {
	var task models.Task
	status := s.do("POST", "/api/admin/tasks", s.adminToken, gin.H{
		"title":        "Quarterly review",
		"assignedTo":   s.user.ID,
		"deadline":     s.due,
		"timeRequired": 90,
	}, &task)
	s.Require().Equal(http.StatusCreated, status)
	s.Equal(s.user.ID, task.AssignedTo)
	s.ElementsMatch([]lifecycle.EffectKind{lifecycle.EffectScheduleDeadline, lifecycle.EffectNotifyAssigned}, s.queue.kinds())

	path := "/api/tasks/" + task.ID.String()

	// Assignees of admin tasks cannot move the deadline.
	later := s.due.Add(24 * time.Hour)
	var updated models.Task
	s.Require().Equal(http.StatusOK, s.do("PUT", path, s.userToken, gin.H{
		"deadline": later,
		"remarks":  "on it",
		"extensionRequest": gin.H{
			"reason":          "blocked on data",
			"extraTimeNeeded": 120,
		},
	}, &updated))
	s.True(updated.Deadline.Equal(s.due))
	s.Equal("on it", updated.Remarks)
	s.True(updated.ExtensionRequest.IsPending())

	status, code := s.errorCode("PUT", path, s.userToken, gin.H{
		"extensionRequest": gin.H{"reason": "again", "extraTimeNeeded": 30},
	})
	s.Equal(http.StatusConflict, status)
	s.Equal("conflict", code)

	var resolved models.Task
	s.Require().Equal(http.StatusOK, s.do("PUT", "/api/admin/extension-request/"+task.ID.String(), s.adminToken, gin.H{
		"approved":    true,
		"newDeadline": later,
	}, &resolved))
	s.Equal(models.ExtensionApproved, resolved.ExtensionRequest.Status)
	s.True(resolved.Deadline.Equal(later))

	var all []services.TaskWithAssignee
	s.Require().Equal(http.StatusOK, s.do("GET", "/api/admin/all-tasks", s.adminToken, nil, &all))
	s.Require().Len(all, 1)
	s.Equal("Ada", all[0].AssignedTo.Name)
}

func (s *HandlerSuite) TestResolveRequiresApproved() {
	var task models.Task
	s.Require().Equal(http.StatusCreated, s.do("POST", "/api/admin/tasks", s.adminToken, gin.H{
		"title": "Audit", "assignedTo": s.user.ID, "deadline": s.due,
	}, &task))

	status, code := s.errorCode("PUT", "/api/admin/extension-request/"+task.ID.String(), s.adminToken, gin.H{})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("validation_error", code)

	status, code = s.errorCode("PUT", "/api/admin/extension-request/"+task.ID.String(), s.adminToken, gin.H{"approved": false})
	s.Equal(http.StatusConflict, status)
	s.Equal("conflict", code)
}

func (s *HandlerSuite) TestUpdateUnknownTask() {
	status, code := s.errorCode("PUT", "/api/tasks/not-a-uuid", s.userToken, gin.H{"status": "completed"})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("validation_error", code)

	status, code = s.errorCode("PUT", "/api/tasks/6f1c2cbb-3c1e-4a57-9f44-6f0d5d2c6a11", s.userToken, gin.H{"status": "completed"})
	s.Equal(http.StatusNotFound, status)
	s.Equal("not_found", code)
}

func (s *HandlerSuite) TestUpdateRejectsUnknownStatus() {
	var task models.Task
	s.Require().Equal(http.StatusCreated, s.do("POST", "/api/tasks", s.userToken, gin.H{
		"title": "Inbox zero", "deadline": s.due,
	}, &task))

	status, code := s.errorCode("PUT", "/api/tasks/"+task.ID.String(), s.userToken, gin.H{"status": "done"})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("validation_error", code)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}
