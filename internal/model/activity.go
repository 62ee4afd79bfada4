package model

import "time"

// Severity grades an activity log entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Activity event types written by the service layer.
const (
	EventAPIKeyUsage        = "api_key_usage"
	EventAPIKeyCreated      = "api_key_created"
	EventAPIKeyUpdated      = "api_key_updated"
	EventAPIKeyRevoked      = "api_key_revoked"
	EventAPIKeyDeleted      = "api_key_deleted"
	EventAPIKeyRotation     = "api_key_rotation"
	EventAPIKeyDeactivation = "api_key_deactivation"
	EventRateLimitViolation = "rate_limit_violation"
	EventLogin              = "login"
	EventFailedLogin        = "failed_login"
	EventLogout             = "logout"
	EventAdminUserCreated   = "admin_user_created"
)

// ActivityEntry is one append-only row of the audit trail. Metadata is
// sanitized before it is persisted.
type ActivityEntry struct {
	ID              string                 `json:"id"`
	EventType       string                 `json:"event_type"`
	Description     string                 `json:"description"`
	Severity        Severity               `json:"severity"`
	CreatedByUser   *string                `json:"created_by_user,omitempty"`
	CreatedByAPIKey *string                `json:"created_by_api_key,omitempty"`
	IPAddress       string                 `json:"ip_address,omitempty"`
	UserAgent       string                 `json:"user_agent,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ActivityFilter narrows ListActivity results. Zero values match everything.
type ActivityFilter struct {
	EventType string
	Severity  Severity
	UserID    string
	APIKeyID  string
}
