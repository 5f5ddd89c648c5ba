package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/smartirrigation/irrigation-api/internal/crypto"
	"github.com/smartirrigation/irrigation-api/internal/model"
	"github.com/smartirrigation/irrigation-api/internal/repository"
)

// AuthService handles registration, login and token issuance.
type AuthService struct {
	users    repository.UserStore
	activity *ActivityService
	tokens   *crypto.TokenIssuer
	logger   *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates a new AuthService.
func NewAuthService(users repository.UserStore, activity *ActivityService, tokens *crypto.TokenIssuer, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		activity: activity,
		tokens:   tokens,
		logger:   logger,
	}
}

// Register creates a new account. Uniqueness is decided by the store's
// unique email constraint, not by a lookup beforehand.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest, meta model.RequestMeta) (model.RegisterResponse, error) {
	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)

	if req.Email == "" || req.Password == "" {
		return model.RegisterResponse{}, ErrCredentialsRequired
	}
	if err := validateStruct(req); err != nil {
		return model.RegisterResponse{}, err
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		return model.RegisterResponse{}, err
	}

	user := &model.User{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Roles:        []string{model.DefaultRole},
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.RegisterResponse{}, ErrEmailTaken
		}
		return model.RegisterResponse{}, storageError(err)
	}

	s.activity.record(ctx, user.ID, model.ActionRegister, meta)

	return model.RegisterResponse{ID: user.ID, Email: user.Email}, nil
}

// Login verifies credentials and returns a signed session token.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest, meta model.RequestMeta) (model.AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return model.AuthResponse{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Spend the same hashing work as a real comparison.
			_, _ = crypto.VerifyPassword(req.Password, s.fallbackHash())
			return model.AuthResponse{}, ErrInvalidCredentials
		}
		return model.AuthResponse{}, storageError(err)
	}

	match, err := crypto.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		s.logger.WarnContext(ctx, "stored password hash unreadable", "user_id", user.ID, "error", err)
		return model.AuthResponse{}, ErrInvalidCredentials
	}
	if !match {
		return model.AuthResponse{}, ErrInvalidCredentials
	}

	if crypto.NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user.ID, req.Password)
	}

	token, _, err := s.tokens.Issue(crypto.Subject{ID: user.ID, Email: user.Email, Roles: user.Roles})
	if err != nil {
		return model.AuthResponse{}, err
	}

	s.activity.record(ctx, user.ID, model.ActionLogin, meta)

	return model.AuthResponse{
		Token: token,
		User:  user.ToResponse(),
	}, nil
}

// Me returns the profile of the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (model.UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.UserResponse{}, ErrUserGone
		}
		return model.UserResponse{}, storageError(err)
	}
	return user.ToResponse(), nil
}

// upgradeHash replaces a legacy or weaker hash after a successful login.
func (s *AuthService) upgradeHash(ctx context.Context, userID, password string) {
	hash, err := crypto.HashPassword(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, userID, hash)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", userID, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", userID)
}

func (s *AuthService) fallbackHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = crypto.HashPassword("irrigation-unknown-account")
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
