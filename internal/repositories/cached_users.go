package repositories

import (
	"context"
	"errors"
	"time"

	"flowdesk/backend/internal/cache"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/models"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// cachedUser is the identity part of models.User. The password hash never
// leaves the database.
type cachedUser struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// CachedUserRepository serves GetByID from a cache. Every authenticated
// request resolves its user, so this is the hot path. Users it returns from
// GetByID carry no password hash; credential checks go through GetByEmail.
type CachedUserRepository struct {
	UserRepository
	cache cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedUserRepository(inner UserRepository, c cache.Cache, ttl time.Duration, log *logger.Logger) *CachedUserRepository {
	return &CachedUserRepository{
		UserRepository: inner,
		cache:          c,
		ttl:            ttl,
		log:            log.Named("user_cache"),
	}
}

func userKey(id uuid.UUID) string {
	return "user:" + id.String()
}

func (r *CachedUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var cu cachedUser
	err := r.cache.Get(ctx, userKey(id), &cu)
	if err == nil {
		return &models.User{
			ID:        cu.ID,
			Name:      cu.Name,
			Email:     cu.Email,
			Role:      cu.Role,
			CreatedAt: cu.CreatedAt,
			UpdatedAt: cu.UpdatedAt,
		}, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.log.Warn("cache read failed", zap.String("user_id", id.String()), zap.Error(err))
	}

	user, err := r.UserRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.store(ctx, user)
	identity := *user
	identity.Password = ""
	return &identity, nil
}

func (r *CachedUserRepository) Update(ctx context.Context, user *models.User) error {
	if err := r.UserRepository.Update(ctx, user); err != nil {
		return err
	}
	r.invalidate(ctx, user.ID)
	return nil
}

func (r *CachedUserRepository) store(ctx context.Context, u *models.User) {
	cu := cachedUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if err := r.cache.Set(ctx, userKey(u.ID), cu, r.ttl); err != nil {
		r.log.Warn("cache write failed", zap.String("user_id", u.ID.String()), zap.Error(err))
	}
}

func (r *CachedUserRepository) invalidate(ctx context.Context, id uuid.UUID) {
	if err := r.cache.Delete(ctx, userKey(id)); err != nil {
		r.log.Warn("cache invalidation failed", zap.String("user_id", id.String()), zap.Error(err))
	}
}
