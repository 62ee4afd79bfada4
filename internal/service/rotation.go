package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ICJIA/icjia-accessibility-status/internal/activity"
	"github.com/ICJIA/icjia-accessibility-status/internal/apikey"
	"github.com/ICJIA/icjia-accessibility-status/internal/metrics"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/sanitize"
)

// DefaultGracePeriodDays applies when a rotation does not name a grace period.
const DefaultGracePeriodDays = 10

const graceExpiredReason = "Grace period expired after rotation"

// RotationStore is what key rotation needs from persistence.
type RotationStore interface {
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	RotateAPIKey(ctx context.Context, newKey *model.APIKey, oldID string, graceExpiresAt time.Time) error
	ListGraceExpiredAPIKeys(ctx context.Context, now time.Time) ([]model.APIKey, error)
	DeactivateAPIKey(ctx context.Context, id string) error
	APIKeyRotationStats(ctx context.Context) (*model.RotationStats, error)
}

// RotationResult describes a completed rotation. FullKey is the only copy of
// the new key's plaintext.
type RotationResult struct {
	NewKey               *model.APIKey
	FullKey              string
	OldKeyID             string
	OldKeyName           string
	GracePeriodExpiresAt time.Time
	GracePeriodDays      int
}

// SweepResult counts the outcome of one grace period sweep.
type SweepResult struct {
	Deactivated int
	Failed      int
}

// RotationManager replaces keys while letting the old key live out a grace
// period, and retires keys whose grace period has ended.
type RotationManager struct {
	store     RotationStore
	gen       *apikey.Generator
	activity  *activity.Logger
	logger    *slog.Logger
	graceDays int
	now       func() time.Time
}

// NewRotationManager creates a RotationManager. A non-positive graceDays
// selects DefaultGracePeriodDays.
func NewRotationManager(store RotationStore, gen *apikey.Generator, act *activity.Logger, logger *slog.Logger, graceDays int) *RotationManager {
	if logger == nil {
		logger = slog.Default()
	}
	if graceDays <= 0 {
		graceDays = DefaultGracePeriodDays
	}
	return &RotationManager{
		store:     store,
		gen:       gen,
		activity:  act,
		logger:    logger,
		graceDays: graceDays,
		now:       time.Now,
	}
}

// Rotate issues a replacement for the key oldKeyID. The new key inherits
// the old key's name, scopes and expiry; the old key stays active until
// its grace period ends. graceDays <= 0 uses the configured default.
func (m *RotationManager) Rotate(ctx context.Context, oldKeyID, actorUserID string, graceDays int) (*RotationResult, error) {
	if graceDays <= 0 {
		graceDays = m.graceDays
	}

	old, err := m.store.GetAPIKey(ctx, oldKeyID)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", oldKeyID, err)
	}

	env := apikey.Environment(old.Environment)
	if env == "" {
		env = apikey.Live
	}
	mat, err := m.gen.Generate(env)
	if err != nil {
		return nil, err
	}

	notes := "Rotated from key " + old.ID
	oldID := old.ID
	newKey := &model.APIKey{
		KeyName:          old.KeyName,
		KeyHash:          mat.HashedKey,
		KeyPrefix:        mat.Prefix,
		KeySuffix:        mat.Suffix,
		Environment:      string(mat.Environment),
		Scopes:           append([]string(nil), old.Scopes...),
		CreatedBy:        optionalString(actorUserID),
		ExpiresAt:        old.ExpiresAt,
		IsActive:         true,
		Notes:            &notes,
		RotatedFromKeyID: &oldID,
	}

	graceEnds := m.now().UTC().AddDate(0, 0, graceDays)
	if err := m.store.RotateAPIKey(ctx, newKey, old.ID, graceEnds); err != nil {
		return nil, fmt.Errorf("rotate key %s: %w", old.ID, err)
	}

	m.activity.APIKeyRotation(ctx, actorUserID, old.ID, newKey.ID, graceDays)
	m.logger.Info("api key rotated",
		"old_key_id", old.ID,
		"new_key_id", newKey.ID,
		"grace_period_days", graceDays,
	)

	return &RotationResult{
		NewKey:               newKey,
		FullKey:              mat.FullKey,
		OldKeyID:             old.ID,
		OldKeyName:           old.KeyName,
		GracePeriodExpiresAt: graceEnds,
		GracePeriodDays:      graceDays,
	}, nil
}

// SweepExpiredGracePeriods deactivates every active key whose grace period
// has ended. A key that fails to deactivate is logged and skipped.
func (m *RotationManager) SweepExpiredGracePeriods(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	keys, err := m.store.ListGraceExpiredAPIKeys(ctx, m.now())
	if err != nil {
		return res, fmt.Errorf("list grace expired keys: %w", err)
	}
	if len(keys) == 0 {
		m.logger.Debug("no expired grace period keys")
		return res, nil
	}

	for _, k := range keys {
		if err := m.store.DeactivateAPIKey(ctx, k.ID); err != nil {
			res.Failed++
			metrics.SweepDeactivations.WithLabelValues("failed").Inc()
			m.logger.Error("deactivate api key failed", "key_id", k.ID, "error", sanitize.Error(err))
			continue
		}
		res.Deactivated++
		metrics.SweepDeactivations.WithLabelValues("deactivated").Inc()
		m.activity.APIKeyDeactivation(ctx, k.ID, graceExpiredReason)
		m.logger.Info("api key deactivated", "key_id", k.ID, "key_name", k.KeyName, "reason", graceExpiredReason)
	}

	m.logger.Info("grace period sweep finished", "deactivated", res.Deactivated, "failed", res.Failed)
	return res, nil
}

// Sweep runs SweepExpiredGracePeriods for the scheduler.
func (m *RotationManager) Sweep(ctx context.Context) error {
	_, err := m.SweepExpiredGracePeriods(ctx)
	return err
}

// Stats returns aggregate key counts.
func (m *RotationManager) Stats(ctx context.Context) (*model.RotationStats, error) {
	stats, err := m.store.APIKeyRotationStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotation stats: %w", err)
	}
	return stats, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
