package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"realtycrm/internal/models"
	"realtycrm/pkg/auth"
)

var (
	ErrEmailTaken         = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is disabled")
	ErrTokenRevoked       = errors.New("refresh token has been revoked")
)

// UserService handles team member accounts and their tokens
type UserService struct {
	repo Repository[models.User]
	auth *auth.JWTAuth
	now  func() time.Time

	// registrations check-then-insert the email
	registerMu sync.Mutex
}

// NewUserService creates a new user service
func NewUserService(repo Repository[models.User], jwtAuth *auth.JWTAuth) *UserService {
	return &UserService{repo: repo, auth: jwtAuth, now: time.Now}
}

// Register creates an account. The first account becomes an admin; later
// accounts get the requested role only when an admin creates them.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest, callerRole string) (*models.User, error) {
	email := models.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, invalid(fmt.Errorf("valid email address is required"))
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		return nil, invalid(err)
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	all, err := s.repo.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	for _, u := range all {
		if u.Email == email {
			return nil, ErrEmailTaken
		}
	}

	role := models.RoleExecutive
	switch {
	case len(all) == 0:
		role = models.RoleAdmin
		log.Printf("🎉 Creating first user as admin: %s", email)
	case callerRole == models.RoleAdmin && models.ValidRole(req.Role):
		role = req.Role
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := models.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
	}
	if user.Name == "" {
		user.Name = email
	}
	if err := s.repo.Insert(ctx, user.ID, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("✅ User registered: %s (%s, %s)", user.Email, user.ID, user.Role)
	return &user, nil
}

// Login verifies credentials and issues tokens
func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	user, err := s.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	valid, err := s.auth.VerifyPassword(user.PasswordHash, req.Password)
	if err != nil || !valid {
		log.Printf("⚠️ Failed login attempt for user: %s", user.Email)
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	user.LastLoginAt = s.now()
	if err := s.repo.Replace(ctx, user.ID, *user); err != nil {
		log.Printf("⚠️ Failed to update last login time: %v", err)
	}

	return s.issue(user)
}

// Refresh exchanges a refresh token for a new token pair
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*models.LoginResponse, error) {
	claims, err := s.auth.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := s.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if claims.Version != user.RefreshTokenVersion {
		return nil, ErrTokenRevoked
	}
	return s.issue(user)
}

// Logout revokes every refresh token issued to the user so far
func (s *UserService) Logout(ctx context.Context, userID string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	user.RefreshTokenVersion++
	if err := s.repo.Replace(ctx, user.ID, *user); err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	log.Printf("✅ User logged out: %s", userID)
	return nil
}

func (s *UserService) issue(user *models.User) (*models.LoginResponse, error) {
	access, refresh, err := s.auth.GenerateTokens(auth.Principal{ID: user.ID, Email: user.Email, Role: user.Role}, user.RefreshTokenVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}
	return &models.LoginResponse{
		Token:        access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.auth.AccessTokenExpiry.Seconds()),
		User:         user,
	}, nil
}

// GetUser retrieves a user by ID
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrDocumentNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email address
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	users, err := s.repo.List(ctx, Match{"email": models.NormalizeEmail(email)})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(users) == 0 {
		return nil, ErrUserNotFound
	}
	return &users[0], nil
}

// ListUsers returns team members, optionally only those with role
func (s *UserService) ListUsers(ctx context.Context, role string) ([]models.User, error) {
	var match Match
	if role != "" {
		match = Match{"role": role}
	}
	return s.repo.List(ctx, match)
}

// SetActive enables or disables an account
func (s *UserService) SetActive(ctx context.Context, id string, active bool) (*models.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	user.IsActive = active
	if !active {
		user.RefreshTokenVersion++
	}
	if err := s.repo.Replace(ctx, user.ID, *user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}
