package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ICJIA/icjia-accessibility-status/internal/activity"
	"github.com/ICJIA/icjia-accessibility-status/internal/apikey"
	"github.com/ICJIA/icjia-accessibility-status/internal/metrics"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/retry"
	"github.com/ICJIA/icjia-accessibility-status/internal/sanitize"
)

// RetryAfterSeconds is the hint sent with a per-key quota rejection.
const RetryAfterSeconds = 3600

// KeyStore is what the key authenticator needs from persistence.
type KeyStore interface {
	ListActiveAPIKeys(ctx context.Context) ([]model.APIKey, error)
	RecordAPIKeyUsage(ctx context.Context, id string, now time.Time) error
}

// KeyIdentity is the caller resolved from a valid API key.
type KeyIdentity struct {
	ID        string   `json:"id"`
	KeyName   string   `json:"key_name"`
	Scopes    []string `json:"scopes"`
	CreatedBy *string  `json:"created_by,omitempty"`
}

// HasScope reports whether the key was granted scope.
func (k *KeyIdentity) HasScope(scope string) bool {
	return k != nil && slices.Contains(k.Scopes, scope)
}

// RequestMeta describes the request being authenticated, for auditing.
type RequestMeta struct {
	Info   activity.RequestInfo
	Method string
	Path   string
}

// KeyAuthConfig tunes a KeyAuthenticator.
type KeyAuthConfig struct {
	HourlyLimit int
	Retry       retry.Options
}

// KeyAuthenticator resolves bearer API keys against the active keys in the
// store. Every request costs one bcrypt comparison per active key in the
// worst case.
type KeyAuthenticator struct {
	store    KeyStore
	activity *activity.Logger
	queue    activity.Submitter
	logger   *slog.Logger
	limit    int
	retry    retry.Options
	now      func() time.Time
}

// NewKeyAuthenticator creates a KeyAuthenticator. Usage bookkeeping is
// submitted to queue so it never delays the request.
func NewKeyAuthenticator(store KeyStore, act *activity.Logger, queue activity.Submitter, logger *slog.Logger, cfg KeyAuthConfig) *KeyAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HourlyLimit <= 0 {
		cfg.HourlyLimit = 100
	}
	return &KeyAuthenticator{
		store:    store,
		activity: act,
		queue:    queue,
		logger:   logger,
		limit:    cfg.HourlyLimit,
		retry:    retryOptions(cfg.Retry, logger, "list_active_api_keys"),
		now:      time.Now,
	}
}

// Authenticate validates the Authorization header value and returns the
// matching key's identity. Rejections are *AuthError.
func (a *KeyAuthenticator) Authenticate(ctx context.Context, header string, meta RequestMeta) (*KeyIdentity, error) {
	id, err := a.authenticate(ctx, header, meta)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			metrics.AuthOutcomes.WithLabelValues("api_key", ae.Reason).Inc()
		}
		return nil, err
	}
	metrics.AuthOutcomes.WithLabelValues("api_key", "ok").Inc()
	return id, nil
}

func (a *KeyAuthenticator) authenticate(ctx context.Context, header string, meta RequestMeta) (*KeyIdentity, error) {
	if header == "" {
		return nil, authError(ReasonMissingHeader, http.StatusUnauthorized,
			"Authentication required",
			"Missing Authorization header. Include your API key as: Authorization: Bearer sk_live_...")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, authError(ReasonInvalidAuthFormat, http.StatusUnauthorized,
			"Invalid authentication format",
			"Authorization header must use Bearer token format: Authorization: Bearer sk_live_...")
	}

	if !apikey.IsValidFormat(token) {
		a.logger.Warn("invalid api key format", "key", sanitize.APIKey(token), "ip", meta.Info.IP)
		return nil, authError(ReasonInvalidKeyFormat, http.StatusUnauthorized,
			"Invalid API key format",
			fmt.Sprintf("API key must start with sk_live_ or sk_test_ and be %d characters long", apikey.KeyLength))
	}

	keys, err := retry.DoSmart(ctx, a.retry, a.store.ListActiveAPIKeys)
	if err != nil {
		a.logger.Error("api key lookup failed", "error", sanitize.Error(err))
		return nil, internalError(err)
	}
	if len(keys) == 0 {
		return nil, authError(ReasonNoActiveKeys, http.StatusUnauthorized,
			"Invalid API key",
			"No active API keys found. Please create an API key in the admin panel.")
	}

	var matched *model.APIKey
	for i := range keys {
		if apikey.Validate(token, keys[i].KeyHash) {
			matched = &keys[i]
			break
		}
	}
	if matched == nil {
		return nil, authError(ReasonInvalidKey, http.StatusUnauthorized,
			"Invalid API key",
			"The provided API key is not valid or has been revoked.")
	}

	now := a.now()
	if matched.IsExpired(now) {
		return nil, authError(ReasonKeyExpired, http.StatusUnauthorized,
			"API key expired",
			"This API key has expired. Please create a new one in the admin panel.")
	}

	// Read then write: concurrent requests can overshoot the cap slightly.
	if matched.WindowCount(now) >= int64(a.limit) {
		a.activity.RateLimitViolation(ctx, meta.Info, activity.LimitAPIKey, "", matched.ID)
		e := authError(ReasonRateLimited, http.StatusTooManyRequests,
			"API rate limit exceeded",
			fmt.Sprintf("Maximum %d requests per hour allowed for this API key.", a.limit))
		e.RetryAfter = RetryAfterSeconds
		return nil, e
	}

	keyID := matched.ID
	a.submit("record_api_key_usage", func(ctx context.Context) error {
		return a.store.RecordAPIKeyUsage(ctx, keyID, now)
	})
	a.activity.APIKeyUsage(meta.Info, keyID, meta.Path, meta.Method, http.StatusOK)

	return &KeyIdentity{
		ID:        matched.ID,
		KeyName:   matched.KeyName,
		Scopes:    matched.Scopes,
		CreatedBy: matched.CreatedBy,
	}, nil
}

func (a *KeyAuthenticator) submit(name string, fn func(context.Context) error) {
	if a.queue != nil {
		a.queue.Submit(name, fn)
		return
	}
	if err := fn(context.Background()); err != nil {
		a.logger.Warn("background task failed", "task", name, "error", sanitize.Error(err))
	}
}
