package services

import (
	"context"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/repositories"
)

type UserService interface {
	ListUsers(ctx context.Context, caller *models.User) ([]models.User, error)
}

type UserServiceImpl struct {
	users repositories.UserRepository
}

func NewUserService(users repositories.UserRepository) *UserServiceImpl {
	return &UserServiceImpl{users: users}
}

func (s *UserServiceImpl) ListUsers(ctx context.Context, caller *models.User) ([]models.User, error) {
	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}
	return s.users.List(ctx)
}
