package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ICJIA/icjia-accessibility-status/internal/metrics"
	"github.com/ICJIA/icjia-accessibility-status/internal/retry"
	"github.com/ICJIA/icjia-accessibility-status/internal/sanitize"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
)

// Stable reasons carried by AuthError and rendered to clients.
const (
	ReasonMissingHeader           = "missing_header"
	ReasonInvalidAuthFormat       = "invalid_auth_format"
	ReasonInvalidKeyFormat        = "invalid_key_format"
	ReasonInternalError           = "internal_error"
	ReasonNoActiveKeys            = "no_active_keys"
	ReasonInvalidKey              = "invalid_key"
	ReasonKeyExpired              = "key_expired"
	ReasonRateLimited             = "rate_limited"
	ReasonSessionMissing          = "session_missing"
	ReasonSessionInvalid          = "session_invalid"
	ReasonSessionExpired          = "session_expired"
	ReasonAuthenticationRequired  = "authentication_required"
	ReasonInsufficientPermissions = "insufficient_permissions"
)

// AuthError is a rejected authentication attempt. Err holds an
// infrastructure cause and is never shown to clients.
type AuthError struct {
	Reason     string
	Status     int
	Title      string
	Message    string
	RetryAfter int // seconds, zero when not applicable
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason + ": " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

func authError(reason string, status int, title, message string) *AuthError {
	return &AuthError{Reason: reason, Status: status, Title: title, Message: message}
}

func internalError(err error) *AuthError {
	return &AuthError{
		Reason:  ReasonInternalError,
		Status:  http.StatusInternalServerError,
		Title:   "Internal server error",
		Message: "Internal server error",
		Err:     err,
	}
}

// retryOptions returns opts with an OnRetry hook that logs and counts each
// retry of op.
func retryOptions(opts retry.Options, logger *slog.Logger, op string) retry.Options {
	opts.OnRetry = func(attempt int, err error) {
		metrics.RetryAttempts.WithLabelValues(op).Inc()
		logger.Warn("retrying store operation",
			"operation", op,
			"attempt", attempt,
			"error", sanitize.Error(err),
		)
	}
	return opts
}

// discard adapts a single-error call to the generic retry helpers.
func discard(fn func(ctx context.Context) error) func(ctx context.Context) (struct{}, error) {
	return func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}
}
