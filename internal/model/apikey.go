package model

import (
	"slices"
	"time"
)

// APIKey is a bearer credential issued to an external integration. Only the
// bcrypt hash of the full key is stored; the prefix and suffix are kept in
// clear so the key can be recognised in listings without being recoverable.
type APIKey struct {
	ID          string    `json:"id" db:"id"`
	KeyName     string    `json:"key_name" db:"key_name"`
	KeyHash     string    `json:"-" db:"key_hash"` // bcrypt hash, never expose
	KeyPrefix   string    `json:"key_prefix" db:"key_prefix"`
	KeySuffix   string    `json:"key_suffix" db:"key_suffix"`
	Environment string    `json:"environment" db:"environment"`
	Scopes      []string  `json:"scopes"`
	CreatedBy   *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`

	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	UsageCount int64      `json:"usage_count" db:"usage_count"`

	// Hourly quota window. The count resets once the window is an hour old.
	UsageWindowStart *time.Time `json:"-" db:"usage_window_start"`
	UsageWindowCount int64      `json:"-" db:"usage_window_count"`

	ExpiresAt            *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	IsActive             bool       `json:"is_active" db:"is_active"`
	Notes                *string    `json:"notes,omitempty" db:"notes"`
	RotatedFromKeyID     *string    `json:"rotated_from_key_id,omitempty" db:"rotated_from_key_id"`
	GracePeriodExpiresAt *time.Time `json:"grace_period_expires_at,omitempty" db:"grace_period_expires_at"`
}

// HasScope reports whether the key was granted scope.
func (k *APIKey) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// IsExpired reports whether the key carries an expiry that lies before now.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// WindowCount returns the number of requests counted against the hourly
// quota window that is current at now. A window that started an hour or
// more ago counts as empty.
func (k *APIKey) WindowCount(now time.Time) int64 {
	if k.UsageWindowStart == nil || !now.Before(k.UsageWindowStart.Add(time.Hour)) {
		return 0
	}
	return k.UsageWindowCount
}

// APIKeyUpdate carries the mutable fields of an API key. Nil fields are left
// untouched.
type APIKeyUpdate struct {
	KeyName   *string
	Scopes    []string
	ExpiresAt *time.Time
	IsActive  *bool
	Notes     *string

	// ClearExpiry removes an existing expiry when ExpiresAt is nil.
	ClearExpiry bool
}

// Empty reports whether the update would change nothing.
func (u APIKeyUpdate) Empty() bool {
	return u.KeyName == nil && u.Scopes == nil && u.ExpiresAt == nil &&
		u.IsActive == nil && u.Notes == nil && !u.ClearExpiry
}

// RotationStats summarises the key population for the rotation dashboard.
type RotationStats struct {
	TotalKeys         int `json:"total_keys"`
	ActiveKeys        int `json:"active_keys"`
	InactiveKeys      int `json:"inactive_keys"`
	KeysInGracePeriod int `json:"keys_in_grace_period"`
	RotatedKeys       int `json:"rotated_keys"`
}
