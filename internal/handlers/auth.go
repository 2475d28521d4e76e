package handlers

import (
	"net/http"

	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	auth services.AuthService
	log  *logger.Logger
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RegisterResponse struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	Token string      `json:"token"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	Role  models.Role `json:"role"`
	User  models.User `json:"user"`
}

func NewAuthHandler(auth services.AuthService, log *logger.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log.Named("auth")}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, bindError(err))
		return
	}

	result, err := h.auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info("user registered", zap.String("user_id", result.User.ID.String()))
	c.JSON(http.StatusCreated, RegisterResponse{
		ID:    result.User.ID.String(),
		Name:  result.User.Name,
		Email: result.User.Email,
		Role:  result.User.Role,
		Token: result.Token,
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, bindError(err))
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token: result.Token,
		Role:  result.User.Role,
		User:  *result.User,
	})
}
