// Package activity writes the audit trail. Every entry's metadata passes
// through sanitize.Object before it is stored, and storage failures never
// reach the caller.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/sanitize"
)

// Writer persists activity entries.
type Writer interface {
	InsertActivity(ctx context.Context, entry *model.ActivityEntry) error
}

// Submitter runs a task in the background.
type Submitter interface {
	Submit(name string, fn func(context.Context) error) bool
}

// Limit types reported with rate limit violations.
const (
	LimitLogin   = "login"
	LimitAPIKey  = "api_key"
	LimitSession = "session"
	LimitGeneral = "general"
)

// RequestInfo identifies where a request came from.
type RequestInfo struct {
	IP        string
	UserAgent string
}

// RequestInfoFrom extracts the client address and user agent from r.
// Missing values are reported as "unknown".
func RequestInfoFrom(r *http.Request) RequestInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if ip == "" {
		ip = "unknown"
	}
	ua := r.UserAgent()
	if ua == "" {
		ua = "unknown"
	}
	return RequestInfo{IP: ip, UserAgent: ua}
}

// Logger records activity entries.
type Logger struct {
	writer Writer
	queue  Submitter
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Logger. With a nil queue, LogAsync writes synchronously.
func New(w Writer, q Submitter, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{writer: w, queue: q, logger: logger, now: time.Now}
}

// Log sanitizes and stores entry. Failures are logged and dropped.
func (l *Logger) Log(ctx context.Context, entry model.ActivityEntry) {
	if err := l.insert(ctx, entry); err != nil {
		l.logger.Error("activity log write failed",
			"event_type", entry.EventType,
			"error", sanitize.Error(err),
		)
	}
}

// LogAsync hands entry to the background queue. A failed write is reported
// to the queue's error sink.
func (l *Logger) LogAsync(entry model.ActivityEntry) {
	if l.queue == nil {
		l.Log(context.Background(), entry)
		return
	}
	l.queue.Submit("activity:"+entry.EventType, func(ctx context.Context) error {
		return l.insert(ctx, entry)
	})
}

func (l *Logger) insert(ctx context.Context, entry model.ActivityEntry) error {
	entry.Metadata = sanitize.Object(entry.Metadata)
	if entry.Metadata == nil {
		entry.Metadata = map[string]interface{}{}
	}
	if entry.Severity == "" {
		entry.Severity = model.SeverityInfo
	}
	if err := l.writer.InsertActivity(ctx, &entry); err != nil {
		return fmt.Errorf("insert activity %s: %w", entry.EventType, err)
	}
	return nil
}

func (l *Logger) timestamp() string {
	return l.now().UTC().Format(time.RFC3339)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ---------------------------------------------------------------------------
// Event helpers
// ---------------------------------------------------------------------------

// RateLimitViolation records a request rejected by a limiter. It is written
// synchronously so the violation is stored before the response goes out.
func (l *Logger) RateLimitViolation(ctx context.Context, info RequestInfo, limitType, userID, apiKeyID string) {
	l.Log(ctx, model.ActivityEntry{
		EventType:       model.EventRateLimitViolation,
		Description:     "Rate limit exceeded for " + limitType,
		Severity:        model.SeverityWarning,
		CreatedByUser:   optional(userID),
		CreatedByAPIKey: optional(apiKeyID),
		IPAddress:       info.IP,
		UserAgent:       info.UserAgent,
		Metadata: map[string]interface{}{
			"limit_type": limitType,
			"timestamp":  l.timestamp(),
		},
	})
}

// APIKeyUsage records an authenticated API request in the background.
func (l *Logger) APIKeyUsage(info RequestInfo, apiKeyID, endpoint, method string, status int) {
	l.LogAsync(model.ActivityEntry{
		EventType:       model.EventAPIKeyUsage,
		Description:     fmt.Sprintf("API key used: %s %s", method, endpoint),
		Severity:        model.SeverityInfo,
		CreatedByAPIKey: optional(apiKeyID),
		IPAddress:       info.IP,
		UserAgent:       info.UserAgent,
		Metadata: map[string]interface{}{
			"endpoint":    endpoint,
			"method":      method,
			"status_code": status,
			"timestamp":   l.timestamp(),
		},
	})
}

// APIKeyRotation records a rotation and the length of the old key's grace period.
func (l *Logger) APIKeyRotation(ctx context.Context, userID, oldKeyID, newKeyID string, graceDays int) {
	l.Log(ctx, model.ActivityEntry{
		EventType:     model.EventAPIKeyRotation,
		Description:   fmt.Sprintf("API key rotated. Old key will expire in %d days.", graceDays),
		Severity:      model.SeverityInfo,
		CreatedByUser: optional(userID),
		Metadata: map[string]interface{}{
			"old_key_id":        oldKeyID,
			"new_key_id":        newKeyID,
			"grace_period_days": graceDays,
			"timestamp":         l.timestamp(),
		},
	})
}

// APIKeyDeactivation records a key turned off outside an admin request.
func (l *Logger) APIKeyDeactivation(ctx context.Context, keyID, reason string) {
	l.Log(ctx, model.ActivityEntry{
		EventType:   model.EventAPIKeyDeactivation,
		Description: "API key deactivated: " + reason,
		Severity:    model.SeverityInfo,
		Metadata: map[string]interface{}{
			"key_id":    keyID,
			"reason":    reason,
			"timestamp": l.timestamp(),
		},
	})
}

// APIKeyCreated records a new key. Only its display form is stored.
func (l *Logger) APIKeyCreated(ctx context.Context, info RequestInfo, userID string, key *model.APIKey, displayKey string) {
	l.Log(ctx, model.ActivityEntry{
		EventType:     model.EventAPIKeyCreated,
		Description:   "API key created: " + key.KeyName,
		Severity:      model.SeverityInfo,
		CreatedByUser: optional(userID),
		IPAddress:     info.IP,
		UserAgent:     info.UserAgent,
		Metadata: map[string]interface{}{
			"key_id":      key.ID,
			"key_name":    key.KeyName,
			"display_key": displayKey,
			"environment": key.Environment,
			"scopes":      key.Scopes,
			"timestamp":   l.timestamp(),
		},
	})
}

// APIKeyUpdated records a metadata change on a key.
func (l *Logger) APIKeyUpdated(ctx context.Context, info RequestInfo, userID string, key *model.APIKey) {
	l.Log(ctx, model.ActivityEntry{
		EventType:     model.EventAPIKeyUpdated,
		Description:   "API key updated: " + key.KeyName,
		Severity:      model.SeverityInfo,
		CreatedByUser: optional(userID),
		IPAddress:     info.IP,
		UserAgent:     info.UserAgent,
		Metadata: map[string]interface{}{
			"key_id":    key.ID,
			"is_active": key.IsActive,
			"timestamp": l.timestamp(),
		},
	})
}

// APIKeyRevoked records an admin deactivating a key.
func (l *Logger) APIKeyRevoked(ctx context.Context, info RequestInfo, userID, keyID, keyName string) {
	l.Log(ctx, model.ActivityEntry{
		EventType:     model.EventAPIKeyRevoked,
		Description:   "API key revoked: " + keyName,
		Severity:      model.SeverityWarning,
		CreatedByUser: optional(userID),
		IPAddress:     info.IP,
		UserAgent:     info.UserAgent,
		Metadata: map[string]interface{}{
			"key_id":    keyID,
			"timestamp": l.timestamp(),
		},
	})
}

// APIKeyDeleted records a key being permanently removed.
func (l *Logger) APIKeyDeleted(ctx context.Context, info RequestInfo, userID, keyID, keyName string) {
	l.Log(ctx, model.ActivityEntry{
		EventType:     model.EventAPIKeyDeleted,
		Description:   "API key deleted: " + keyName,
		Severity:      model.SeverityWarning,
		CreatedByUser: optional(userID),
		IPAddress:     info.IP,
		UserAgent:     info.UserAgent,
		Metadata: map[string]interface{}{
			"key_id":    keyID,
			"timestamp": l.timestamp(),
		},
	})
}

// FailedLogin records a rejected login attempt.
func (l *Logger) FailedLogin(ctx context.Context, info RequestInfo, username, reason string) {
	l.Log(ctx, model.ActivityEntry{
		EventType:   model.EventFailedLogin,
		Description: fmt.Sprintf("Failed login attempt for user: %s (%s)", username, reason),
		Severity:    model.SeverityWarning,
		IPAddress:   info.IP,
		UserAgent:   info.UserAgent,
		Metadata: map[string]interface{}{
			"username":  username,
			"reason":    reason,
			"timestamp": l.timestamp(),
		},
	})
}

// SuccessfulLogin records a new admin session.
func (l *Logger) SuccessfulLogin(ctx context.Context, info RequestInfo, userID, username string) {
	l.Log(ctx, model.ActivityEntry{
		EventType:     model.EventLogin,
		Description:   "User logged in: " + username,
		Severity:      model.SeverityInfo,
		CreatedByUser: optional(userID),
		IPAddress:     info.IP,
		UserAgent:     info.UserAgent,
		Metadata: map[string]interface{}{
			"username":  username,
			"timestamp": l.timestamp(),
		},
	})
}

// Logout records a session ended by its owner.
func (l *Logger) Logout(ctx context.Context, info RequestInfo, userID string) {
	l.Log(ctx, model.ActivityEntry{
		EventType:     model.EventLogout,
		Description:   "User logged out",
		Severity:      model.SeverityInfo,
		CreatedByUser: optional(userID),
		IPAddress:     info.IP,
		UserAgent:     info.UserAgent,
		Metadata: map[string]interface{}{
			"timestamp": l.timestamp(),
		},
	})
}

// AdminUserCreated records a new admin account. Only a masked form of the
// email address is stored.
func (l *Logger) AdminUserCreated(ctx context.Context, info RequestInfo, actorID, username, email string) {
	l.Log(ctx, model.ActivityEntry{
		EventType:     model.EventAdminUserCreated,
		Description:   "Admin user created: " + username,
		Severity:      model.SeverityInfo,
		CreatedByUser: optional(actorID),
		IPAddress:     info.IP,
		UserAgent:     info.UserAgent,
		Metadata: map[string]interface{}{
			"username":  username,
			"email":     sanitize.Email(email),
			"timestamp": l.timestamp(),
		},
	})
}
