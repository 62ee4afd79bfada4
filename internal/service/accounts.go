package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ICJIA/icjia-accessibility-status/internal/activity"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 50
	minPasswordLength = 8
)

// AccountStore is what admin account management needs from persistence.
type AccountStore interface {
	CreateAdminUser(ctx context.Context, user *model.AdminUser) error
	GetAdminUser(ctx context.Context, id string) (*model.AdminUser, error)
	ListAdminUsers(ctx context.Context) ([]model.AdminUser, error)
}

// AccountService manages admin users.
type AccountService struct {
	store    AccountStore
	activity *activity.Logger
	hashCost int
}

// NewAccountService creates an AccountService hashing passwords at hashCost.
func NewAccountService(store AccountStore, act *activity.Logger, hashCost int) *AccountService {
	return &AccountService{store: store, activity: act, hashCost: hashCost}
}

// NewAdmin is the input for CreateAdmin.
type NewAdmin struct {
	Username string
	Email    string
	Password string
}

// CreateAdmin validates and stores a new admin user. actorID is empty when
// the account is created from the command line.
func (s *AccountService) CreateAdmin(ctx context.Context, actorID string, in NewAdmin, info activity.RequestInfo) (*model.AdminUser, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if l := len(username); l < minUsernameLength || l > maxUsernameLength {
		return nil, fmt.Errorf("%w: username must be %d to %d characters", ErrInvalidInput, minUsernameLength, maxUsernameLength)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := HashPassword(in.Password, s.hashCost)
	if err != nil {
		return nil, err
	}
	user := &model.AdminUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedBy:    optionalString(actorID),
	}
	if err := s.store.CreateAdminUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create admin user: %w", err)
	}

	s.activity.AdminUserCreated(ctx, info, actorID, username, email)
	return user, nil
}

// Get returns an admin user by ID.
func (s *AccountService) Get(ctx context.Context, id string) (*model.AdminUser, error) {
	return s.store.GetAdminUser(ctx, id)
}

// List returns every admin user.
func (s *AccountService) List(ctx context.Context) ([]model.AdminUser, error) {
	return s.store.ListAdminUsers(ctx)
}
