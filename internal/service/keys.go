package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ICJIA/icjia-accessibility-status/internal/activity"
	"github.com/ICJIA/icjia-accessibility-status/internal/apikey"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
)

const maxKeyNameLength = 100

// KeyManagerStore is what admin key management needs from persistence.
type KeyManagerStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, limit, offset int) ([]model.APIKey, error)
	CountAPIKeys(ctx context.Context) (int64, error)
	UpdateAPIKey(ctx context.Context, id string, u model.APIKeyUpdate) (*model.APIKey, error)
	DeactivateAPIKey(ctx context.Context, id string) error
	DeleteAPIKey(ctx context.Context, id string) error
}

// CreateKeyInput describes a key an admin asked for.
type CreateKeyInput struct {
	Name        string
	Environment string
	Scopes      []string
	ExpiresAt   *time.Time
	Notes       *string
}

// CreatedKey is a newly issued key. FullKey is shown once and never stored.
type CreatedKey struct {
	Key     *model.APIKey
	FullKey string
}

// KeyManager implements the admin operations on API keys.
type KeyManager struct {
	store    KeyManagerStore
	gen      *apikey.Generator
	activity *activity.Logger
	logger   *slog.Logger
	now      func() time.Time
}

// NewKeyManager creates a KeyManager.
func NewKeyManager(store KeyManagerStore, gen *apikey.Generator, act *activity.Logger, logger *slog.Logger) *KeyManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyManager{store: store, gen: gen, activity: act, logger: logger, now: time.Now}
}

// Create issues a new key. Scopes default to apikey.DefaultScopes.
func (m *KeyManager) Create(ctx context.Context, actorID string, in CreateKeyInput, info activity.RequestInfo) (*CreatedKey, error) {
	name := strings.TrimSpace(in.Name)
	if err := validateKeyName(name); err != nil {
		return nil, err
	}
	env, err := apikey.ParseEnvironment(in.Environment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	scopes := in.Scopes
	if len(scopes) == 0 {
		scopes = append([]string(nil), apikey.DefaultScopes...)
	}
	if err := apikey.ValidateScopes(scopes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(m.now()) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}

	mat, err := m.gen.Generate(env)
	if err != nil {
		return nil, err
	}
	key := &model.APIKey{
		KeyName:     name,
		KeyHash:     mat.HashedKey,
		KeyPrefix:   mat.Prefix,
		KeySuffix:   mat.Suffix,
		Environment: string(env),
		Scopes:      scopes,
		CreatedBy:   optionalString(actorID),
		ExpiresAt:   in.ExpiresAt,
		IsActive:    true,
		Notes:       in.Notes,
	}
	if err := m.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}

	m.activity.APIKeyCreated(ctx, info, actorID, key, apikey.DisplayName(key.KeyPrefix, key.KeySuffix))
	m.logger.Info("api key created", "key_id", key.ID, "environment", key.Environment)
	return &CreatedKey{Key: key, FullKey: mat.FullKey}, nil
}

// List returns a page of keys and the total count.
func (m *KeyManager) List(ctx context.Context, limit, offset int) ([]model.APIKey, int64, error) {
	keys, err := m.store.ListAPIKeys(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := m.store.CountAPIKeys(ctx)
	if err != nil {
		return nil, 0, err
	}
	return keys, total, nil
}

// Get returns one key.
func (m *KeyManager) Get(ctx context.Context, id string) (*model.APIKey, error) {
	return m.store.GetAPIKey(ctx, id)
}

// Update changes a key's metadata. The key material never changes.
func (m *KeyManager) Update(ctx context.Context, actorID, id string, u model.APIKeyUpdate, info activity.RequestInfo) (*model.APIKey, error) {
	if u.KeyName != nil {
		name := strings.TrimSpace(*u.KeyName)
		if err := validateKeyName(name); err != nil {
			return nil, err
		}
		u.KeyName = &name
	}
	if u.Scopes != nil {
		if len(u.Scopes) == 0 {
			return nil, fmt.Errorf("%w: at least one scope is required", ErrInvalidInput)
		}
		if err := apikey.ValidateScopes(u.Scopes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	key, err := m.store.UpdateAPIKey(ctx, id, u)
	if err != nil {
		return nil, err
	}
	m.activity.APIKeyUpdated(ctx, info, actorID, key)
	return key, nil
}

// Revoke deactivates a key immediately. The record is kept.
func (m *KeyManager) Revoke(ctx context.Context, actorID, id string, info activity.RequestInfo) (*model.APIKey, error) {
	key, err := m.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.store.DeactivateAPIKey(ctx, id); err != nil {
		return nil, err
	}
	key.IsActive = false
	m.activity.APIKeyRevoked(ctx, info, actorID, key.ID, key.KeyName)
	return key, nil
}

// Delete removes a key permanently.
func (m *KeyManager) Delete(ctx context.Context, actorID, id string, info activity.RequestInfo) error {
	key, err := m.store.GetAPIKey(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteAPIKey(ctx, id); err != nil {
		return err
	}
	m.activity.APIKeyDeleted(ctx, info, actorID, key.ID, key.KeyName)
	return nil
}

func validateKeyName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: key_name is required", ErrInvalidInput)
	}
	if len(name) > maxKeyNameLength {
		return fmt.Errorf("%w: key_name must be at most %d characters", ErrInvalidInput, maxKeyNameLength)
	}
	return nil
}
