package handlers

import (
	"net/http"
	"time"

	"flowdesk/backend/internal/lifecycle"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/services"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves /api/admin. Every route sits behind the admin gate;
// the services check the role again.
type AdminHandler struct {
	tasks services.TaskService
	users services.UserService
	log   *logger.Logger
}

type ResolveExtensionRequest struct {
	Approved        *bool      `json:"approved" binding:"required"`
	NewDeadline     *time.Time `json:"newDeadline"`
	NewTimeRequired *int       `json:"newTimeRequired" binding:"omitempty,min=1"`
}

func NewAdminHandler(tasks services.TaskService, users services.UserService, log *logger.Logger) *AdminHandler {
	return &AdminHandler{tasks: tasks, users: users, log: log.Named("admin")}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	users, err := h.users.ListUsers(c.Request.Context(), user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (h *AdminHandler) CreateTask(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, bindError(err))
		return
	}

	task, err := h.tasks.CreateAdminAssigned(c.Request.Context(), user, req.draft())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// ListAllTasks returns every task with its assignee, latest deadline first.
func (h *AdminHandler) ListAllTasks(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	tasks, err := h.tasks.ListAll(c.Request.Context(), user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if tasks == nil {
		tasks = []services.TaskWithAssignee{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *AdminHandler) UpdateTask(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	id, err := taskIDParam(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, bindError(err))
		return
	}

	task, err := h.tasks.UpdateAsAdmin(c.Request.Context(), user, id, req.patch())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *AdminHandler) ResolveExtension(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	id, err := taskIDParam(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	var req ResolveExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, bindError(err))
		return
	}

	task, err := h.tasks.ResolveExtensionRequest(c.Request.Context(), user, id, lifecycle.Resolution{
		Approved:        *req.Approved,
		NewDeadline:     req.NewDeadline,
		NewTimeRequired: req.NewTimeRequired,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
