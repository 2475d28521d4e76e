package handlers

import (
	"net/http"
	"time"

	"flowdesk/backend/internal/lifecycle"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type TaskHandler struct {
	tasks services.TaskService
	log   *logger.Logger
}

type CreateTaskRequest struct {
	Title        string          `json:"title" binding:"required"`
	Description  string          `json:"description"`
	Priority     models.Priority `json:"priority" binding:"omitempty,taskpriority"`
	Deadline     time.Time       `json:"deadline"`
	TimeRequired int             `json:"timeRequired" binding:"omitempty,min=1"`
	// AssignedTo is read on the admin route only.
	AssignedTo uuid.UUID `json:"assignedTo"`
}

func (r CreateTaskRequest) draft() lifecycle.Draft {
	return lifecycle.Draft{
		Title:        r.Title,
		Description:  r.Description,
		Priority:     r.Priority,
		Deadline:     r.Deadline,
		TimeRequired: r.TimeRequired,
		AssignedTo:   r.AssignedTo,
	}
}

type ExtensionRequestBody struct {
	Reason          string `json:"reason"`
	ExtraTimeNeeded int    `json:"extraTimeNeeded" binding:"min=1"`
}

// UpdateTaskRequest is shared by the assignee and admin routes. Fields the
// caller may not change are dropped by the lifecycle field policy.
type UpdateTaskRequest struct {
	Status           *models.TaskStatus    `json:"status" binding:"omitempty,taskstatus"`
	Remarks          *string               `json:"remarks"`
	Deadline         *time.Time            `json:"deadline"`
	TimeRequired     *int                  `json:"timeRequired" binding:"omitempty,min=1"`
	ExtensionReason  *string               `json:"extensionReason"`
	ExtensionRequest *ExtensionRequestBody `json:"extensionRequest"`
}

func (r UpdateTaskRequest) patch() lifecycle.Patch {
	p := lifecycle.Patch{
		Status:          r.Status,
		Remarks:         r.Remarks,
		Deadline:        r.Deadline,
		TimeRequired:    r.TimeRequired,
		ExtensionReason: r.ExtensionReason,
	}
	if r.ExtensionRequest != nil {
		p.ExtensionRequest = &lifecycle.ExtensionAsk{
			Reason:          r.ExtensionRequest.Reason,
			ExtraTimeNeeded: r.ExtensionRequest.ExtraTimeNeeded,
		}
	}
	return p
}

func NewTaskHandler(tasks services.TaskService, log *logger.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, log: log.Named("tasks")}
}

// ListMine returns the caller's tasks, newest first.
func (h *TaskHandler) ListMine(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	tasks, err := h.tasks.ListMine(c.Request.Context(), user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

// Create makes a task assigned to the caller, whatever assignedTo says.
func (h *TaskHandler) Create(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, bindError(err))
		return
	}

	draft := req.draft()
	draft.AssignedTo = user.ID
	task, err := h.tasks.CreateSelfAssigned(c.Request.Context(), user, draft)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) Update(c *gin.Context) {
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

	task, err := h.tasks.UpdateAsAssignee(c.Request.Context(), user, id, req.patch())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
