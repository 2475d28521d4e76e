package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/middleware"
	"flowdesk/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// respondError writes the standard error body. Internal failures are logged
// and hidden behind a generic message.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status, code := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.Error(err),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
		)
		message = "internal server error"
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}

// bindError turns a gin binding failure into a validation error that names
// the offending fields.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("malformed request body")
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "taskpriority", "taskstatus":
		return fmt.Sprintf("%s %q is not allowed", field, fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func taskIDParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid task id %q", c.Param("id"))
	}
	return id, nil
}

// currentUser is the authenticated caller. Routes mounted without the auth
// middleware get a 401 instead of a nil user.
func currentUser(c *gin.Context, log *logger.Logger) (*models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, log, apperr.Unauthorized("authentication required"))
		return nil, false
	}
	return user, true
}
