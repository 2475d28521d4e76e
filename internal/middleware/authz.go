package middleware

import (
	"context"
	"net/http"
	"strings"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	userKey = "user"
	// UserIDKey and UserRoleKey are kept for request logging and metrics.
	UserIDKey   = "user_id"
	UserRoleKey = "user_role"
)

// Authenticator resolves a bearer token to a user. Failures must match
// apperr.ErrUnauthorized.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type AuthzConfig struct {
	Auth Authenticator
	// Role, when set, is required of the resolved user.
	Role models.Role
	// AllowQueryToken accepts ?token= when no Authorization header is sent.
	// Browsers cannot set headers on a websocket upgrade.
	AllowQueryToken bool
}

func AuthzMiddleware(config AuthzConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c, config.AllowQueryToken)
		if err != nil {
			abort(c, err)
			return
		}

		user, err := config.Auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}

		if config.Role != "" && user.Role != config.Role {
			abort(c, apperr.Forbidden("role "+string(config.Role)+" required"))
			return
		}

		c.Set(userKey, user)
		c.Set(UserIDKey, user.ID.String())
		c.Set(UserRoleKey, string(user.Role))
		c.Next()
	}
}

// Authenticated admits any caller with a valid token whose user still exists.
func Authenticated(auth Authenticator) gin.HandlerFunc {
	return AuthzMiddleware(AuthzConfig{Auth: auth})
}

// AdminOnly additionally requires the admin role, else 403.
func AdminOnly(auth Authenticator) gin.HandlerFunc {
	return AuthzMiddleware(AuthzConfig{Auth: auth, Role: models.RoleAdmin})
}

// CurrentUser returns the user resolved by AuthzMiddleware.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

func bearerToken(c *gin.Context, allowQuery bool) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if allowQuery {
			if token := c.Query("token"); token != "" {
				return token, nil
			}
		}
		return "", apperr.Unauthorized("authorization header is required")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", apperr.Unauthorized("authorization header must use Bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", apperr.Unauthorized("empty bearer token")
	}
	return token, nil
}

func abort(c *gin.Context, err error) {
	status, code := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}
