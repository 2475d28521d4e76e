package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 8

// Claims is the payload of an access token.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	Secret        string
	Issuer        string
	TokenTTL      time.Duration
	BCryptCost    int
	AdminEmail    string
	AdminPassword string
}

// AuthResult is returned by register and login.
type AuthResult struct {
	User  *models.User
	Token string
}

type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	GenerateToken(user *models.User) (string, error)
	ParseToken(token string) (*Claims, error)
	// Authenticate parses token and resolves the user it names. Any failure
	// is apperr.ErrUnauthorized.
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type AuthServiceImpl struct {
	users  repositories.UserRepository
	config AuthConfig
	log    *logger.Logger
	now    func() time.Time
}

func NewAuthService(users repositories.UserRepository, config AuthConfig, log *logger.Logger) *AuthServiceImpl {
	if config.Issuer == "" {
		config.Issuer = "flowdesk"
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 30 * 24 * time.Hour
	}
	if config.BCryptCost == 0 {
		config.BCryptCost = bcrypt.DefaultCost
	}
	config.AdminEmail = strings.ToLower(strings.TrimSpace(config.AdminEmail))

	return &AuthServiceImpl{
		users:  users,
		config: config,
		log:    log.Named("auth"),
		now:    time.Now,
	}
}

func (s *AuthServiceImpl) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return nil, apperr.Validation("name, email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("email %q is not valid", email)
	}
	if len(password) < MinPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", MinPasswordLength)
	}
	// The admin address is reserved for the configured admin login.
	if s.config.AdminEmail != "" && email == s.config.AdminEmail {
		return nil, apperr.Conflict("user already exists")
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{Name: name, Email: email, Password: hash, Role: models.RoleUser}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.String("user_id", user.ID.String()))

	return s.issue(user)
}

// Login checks the configured admin credentials first; a match creates or
// promotes the admin account. Everyone else is checked against the stored
// bcrypt hash.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	if s.isAdminLogin(email, password) {
		user, err := s.ensureAdmin(ctx)
		if err != nil {
			return nil, err
		}
		return s.issue(user)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, apperr.Unauthorized("invalid credentials")
	}

	return s.issue(user)
}

func (s *AuthServiceImpl) GenerateToken(user *models.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: user.ID.String(),
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (s *AuthServiceImpl) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, apperr.Unauthorized("invalid token")
	}
	return claims, nil
}

func (s *AuthServiceImpl) Authenticate(ctx context.Context, tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, apperr.Unauthorized("missing token")
	}
	claims, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	id, err := uuid.FromString(claims.UserID)
	if err != nil {
		return nil, apperr.Unauthorized("invalid token subject")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Unauthorized("user no longer exists")
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthServiceImpl) isAdminLogin(email, password string) bool {
	if s.config.AdminEmail == "" || s.config.AdminPassword == "" {
		return false
	}
	return email == s.config.AdminEmail &&
		subtle.ConstantTimeCompare([]byte(password), []byte(s.config.AdminPassword)) == 1
}

func (s *AuthServiceImpl) ensureAdmin(ctx context.Context) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, s.config.AdminEmail)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		hash, err := s.hash(s.config.AdminPassword)
		if err != nil {
			return nil, err
		}
		user = &models.User{Name: "Admin", Email: s.config.AdminEmail, Password: hash, Role: models.RoleAdmin}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
		s.log.Info("admin account created", zap.String("user_id", user.ID.String()))
	case err != nil:
		return nil, err
	default:
		if err := s.claimAdmin(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// claimAdmin makes an existing account with the admin address the admin,
// with the configured admin password as its only credential.
func (s *AuthServiceImpl) claimAdmin(ctx context.Context, user *models.User) error {
	current := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(s.config.AdminPassword)) == nil
	if user.IsAdmin() && current {
		return nil
	}

	hash, err := s.hash(s.config.AdminPassword)
	if err != nil {
		return err
	}
	promoted := !user.IsAdmin()
	user.Role = models.RoleAdmin
	user.Password = hash
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	if promoted {
		s.log.Info("account promoted to admin", zap.String("user_id", user.ID.String()))
	} else {
		s.log.Info("admin password reset to configured value", zap.String("user_id", user.ID.String()))
	}
	return nil
}

func (s *AuthServiceImpl) issue(user *models.User) (*AuthResult, error) {
	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthServiceImpl) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BCryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
