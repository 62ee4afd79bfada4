package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ICJIA/icjia-accessibility-status/internal/activity"
	"github.com/ICJIA/icjia-accessibility-status/internal/apikey"
	"github.com/ICJIA/icjia-accessibility-status/internal/config"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/server/middleware"
	"github.com/ICJIA/icjia-accessibility-status/internal/service"
)

// ActivityReader is the read side of the activity log.
type ActivityReader interface {
	ListActivity(ctx context.Context, f model.ActivityFilter, limit, offset int) ([]model.ActivityEntry, error)
	CountActivity(ctx context.Context, f model.ActivityFilter) (int64, error)
}

// SystemDeps bundles the services behind the admin API.
type SystemDeps struct {
	Keys     *service.KeyManager
	Rotation *service.RotationManager
	Accounts *service.AccountService
	Sessions *service.SessionService
	Activity ActivityReader
	Logger   *slog.Logger

	// CookieSecure sets the Secure flag on the session cookie.
	CookieSecure bool
}

// SystemHandler serves the admin API: sessions, API keys, admin users and
// the activity log.
type SystemHandler struct {
	keys         *service.KeyManager
	rotation     *service.RotationManager
	accounts     *service.AccountService
	sessions     *service.SessionService
	activity     ActivityReader
	logger       *slog.Logger
	cookieSecure bool
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(deps SystemDeps) *SystemHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHandler{
		keys:         deps.Keys,
		rotation:     deps.Rotation,
		accounts:     deps.Accounts,
		sessions:     deps.Sessions,
		activity:     deps.Activity,
		logger:       logger,
		cookieSecure: deps.CookieSecure,
	}
}

// actorID returns the admin behind the request, or "" when the route is
// mounted without a session.
func actorID(r *http.Request) string {
	if id := middleware.GetSessionIdentity(r.Context()); id != nil {
		return id.UserID
	}
	return ""
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies admin credentials and sets the session cookie.
// POST /api/v1/auth/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.sessions.Login(r.Context(), req.Username, req.Password, activity.RequestInfoFrom(r))
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	case err != nil:
		writeServiceError(w, h.logger, err, "", "Login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       adminToMap(res.User),
		"expires_at": res.ExpiresAt,
	})
}

// Logout ends the current session and clears the cookie.
// DELETE /api/v1/auth/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(middleware.SessionCookie); err == nil {
		token = c.Value
	}
	if err := h.sessions.Logout(r.Context(), token, actorID(r), activity.RequestInfoFrom(r)); err != nil {
		writeServiceError(w, h.logger, err, "", "Logout failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Logged out successfully",
	})
}

// Me returns the admin user behind the session.
// GET /api/v1/auth/me
func (h *SystemHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := actorID(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	user, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "User not found", "Failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": adminToMap(user),
	})
}

// ---------------------------------------------------------------------------
// API key management
// ---------------------------------------------------------------------------

// ListAPIKeys returns a page of API keys. Only the masked display form of
// each key is returned.
// GET /api/v1/system/api-key
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	keys, total, err := h.keys.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err, "", "Failed to fetch API keys")
		return
	}

	resources := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		resources = append(resources, apiKeyToMap(&keys[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count:  len(resources),
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	})
}

type createAPIKeyRequest struct {
	KeyName     string     `json:"key_name"`
	Environment string     `json:"environment,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

// CreateAPIKey issues a key and returns the plaintext exactly once.
// POST /api/v1/system/api-key
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	created, err := h.keys.Create(r.Context(), actorID(r), service.CreateKeyInput{
		Name:        req.KeyName,
		Environment: req.Environment,
		Scopes:      req.Scopes,
		ExpiresAt:   req.ExpiresAt,
		Notes:       req.Notes,
	}, activity.RequestInfoFrom(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "", "Failed to create API key")
		return
	}

	key := apiKeyToMap(created.Key)
	key["full_key"] = created.FullKey
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"apiKey":  key,
		"warning": "This is the only time the full API key will be displayed. Please save it securely.",
	})
}

type updateAPIKeyRequest struct {
	KeyName  *string         `json:"key_name,omitempty"`
	Scopes   []string        `json:"scopes,omitempty"`
	IsActive *bool           `json:"is_active,omitempty"`
	Notes    *string         `json:"notes,omitempty"`
	Expires  json.RawMessage `json:"expires_at,omitempty"`
}

// toUpdate converts the request. An explicit "expires_at": null clears the
// expiry.
func (req updateAPIKeyRequest) toUpdate() (model.APIKeyUpdate, error) {
	u := model.APIKeyUpdate{
		KeyName:  req.KeyName,
		Scopes:   req.Scopes,
		IsActive: req.IsActive,
		Notes:    req.Notes,
	}
	switch {
	case len(req.Expires) == 0:
	case bytes.Equal(req.Expires, []byte("null")):
		u.ClearExpiry = true
	default:
		var t time.Time
		if err := json.Unmarshal(req.Expires, &t); err != nil {
			return u, fmt.Errorf("%w: expires_at must be an RFC 3339 timestamp", service.ErrInvalidInput)
		}
		u.ExpiresAt = &t
	}
	return u, nil
}

// UpdateAPIKey changes a key's metadata.
// PUT /api/v1/system/api-key/{keyId}
func (h *SystemHandler) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")

	var req updateAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	u, err := req.toUpdate()
	if err != nil {
		writeServiceError(w, h.logger, err, "", "Failed to update API key")
		return
	}

	key, err := h.keys.Update(r.Context(), actorID(r), id, u, activity.RequestInfoFrom(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "API key not found", "Failed to update API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "API key updated successfully",
		"apiKey":  apiKeyToMap(key),
	})
}

// DeleteAPIKey removes a key permanently.
// DELETE /api/v1/system/api-key/{keyId}
func (h *SystemHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")
	if err := h.keys.Delete(r.Context(), actorID(r), id, activity.RequestInfoFrom(r)); err != nil {
		writeServiceError(w, h.logger, err, "API key not found", "Failed to delete API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "API key deleted successfully",
	})
}

// RevokeAPIKey deactivates a key but keeps its record.
// POST /api/v1/system/api-key/{keyId}/revoke
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")
	key, err := h.keys.Revoke(r.Context(), actorID(r), id, activity.RequestInfoFrom(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "API key not found", "Failed to revoke API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "API key revoked successfully",
		"apiKey":  apiKeyToMap(key),
	})
}

type rotateAPIKeyRequest struct {
	GracePeriodDays int `json:"grace_period_days,omitempty"`
}

const maxGracePeriodDays = 90

// RotateAPIKey replaces a key. The new plaintext is returned once and the
// old key stays valid until its grace period ends.
// POST /api/v1/system/api-key/{keyId}/rotate
func (h *SystemHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")

	var req rotateAPIKeyRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.GracePeriodDays < 0 || req.GracePeriodDays > maxGracePeriodDays {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("grace_period_days must be between 0 and %d (0 uses the default)", maxGracePeriodDays))
		return
	}

	res, err := h.rotation.Rotate(r.Context(), id, actorID(r), req.GracePeriodDays)
	if err != nil {
		writeServiceError(w, h.logger, err, "API key not found", "Failed to rotate API key")
		return
	}

	newKey := apiKeyToMap(res.NewKey)
	newKey["full_key"] = res.FullKey
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "API key rotated successfully",
		"newKey":  newKey,
		"oldKey": map[string]interface{}{
			"id":                      res.OldKeyID,
			"key_name":                res.OldKeyName,
			"grace_period_expires_at": res.GracePeriodExpiresAt,
			"grace_period_days":       res.GracePeriodDays,
		},
		"warning": fmt.Sprintf("This is the only time the new API key will be displayed. Please save it securely. The old key will remain active for %d days.", res.GracePeriodDays),
	})
}

// RotationStats summarises the key population.
// GET /api/v1/system/api-key/stats/rotation
func (h *SystemHandler) RotationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.rotation.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "", "Failed to fetch rotation statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":     stats,
		"timestamp": timestamp(),
	})
}

// ---------------------------------------------------------------------------
// Admin users
// ---------------------------------------------------------------------------

// ListAdmins returns all admin users.
// GET /api/v1/system/admin
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	users, err := h.accounts.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "", "Failed to list admin users")
		return
	}

	resources := make([]map[string]interface{}, 0, len(users))
	for i := range users {
		resources = append(resources, adminToMap(&users[i]))
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count: len(resources),
			Total: int64(len(resources)),
		},
	})
}

// CreateAdmin adds an admin user.
// POST /api/v1/system/admin
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, err := h.accounts.CreateAdmin(r.Context(), actorID(r), service.NewAdmin{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	}, activity.RequestInfoFrom(r))
	if errors.Is(err, config.ErrConflict) {
		writeError(w, http.StatusConflict, "An admin user with this username already exists")
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "", "Failed to create admin user")
		return
	}
	writeJSON(w, http.StatusCreated, adminToMap(user))
}

// ---------------------------------------------------------------------------
// Activity log
// ---------------------------------------------------------------------------

// ListActivity returns a page of the activity log, newest first. The
// event_type, severity, user_id and api_key_id query parameters filter it.
// GET /api/v1/system/activity-log
func (h *SystemHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.ActivityFilter{
		EventType: q.Get("event_type"),
		Severity:  model.Severity(q.Get("severity")),
		UserID:    q.Get("user_id"),
		APIKeyID:  q.Get("api_key_id"),
	}
	if f.Severity != "" && !f.Severity.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid severity: "+string(f.Severity))
		return
	}

	limit, offset := pagination(r)
	entries, err := h.activity.ListActivity(r.Context(), f, limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err, "", "Failed to fetch activity log")
		return
	}
	total, err := h.activity.CountActivity(r.Context(), f)
	if err != nil {
		writeServiceError(w, h.logger, err, "", "Failed to fetch activity log")
		return
	}

	resources := make([]map[string]interface{}, 0, len(entries))
	for i := range entries {
		resources = append(resources, activityToMap(&entries[i]))
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count:  len(resources),
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	})
}

// ---------------------------------------------------------------------------
// Serialization helpers (never expose hashes or plaintext keys)
// ---------------------------------------------------------------------------

func apiKeyToMap(key *model.APIKey) map[string]interface{} {
	m := map[string]interface{}{
		"id":          key.ID,
		"key_name":    key.KeyName,
		"display_key": apikey.DisplayName(key.KeyPrefix, key.KeySuffix),
		"environment": key.Environment,
		"scopes":      key.Scopes,
		"is_active":   key.IsActive,
		"usage_count": key.UsageCount,
		"created_at":  key.CreatedAt,
		"updated_at":  key.UpdatedAt,
	}
	if key.CreatedBy != nil {
		m["created_by"] = *key.CreatedBy
	}
	if key.LastUsedAt != nil {
		m["last_used_at"] = key.LastUsedAt
	}
	if key.ExpiresAt != nil {
		m["expires_at"] = key.ExpiresAt
	}
	if key.Notes != nil {
		m["notes"] = *key.Notes
	}
	if key.RotatedFromKeyID != nil {
		m["rotated_from_key_id"] = *key.RotatedFromKeyID
	}
	if key.GracePeriodExpiresAt != nil {
		m["grace_period_expires_at"] = key.GracePeriodExpiresAt
	}
	return m
}

func adminToMap(user *model.AdminUser) map[string]interface{} {
	m := map[string]interface{}{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"created_at": user.CreatedAt,
		"updated_at": user.UpdatedAt,
	}
	if user.CreatedBy != nil {
		m["created_by"] = *user.CreatedBy
	}
	return m
}

func activityToMap(e *model.ActivityEntry) map[string]interface{} {
	m := map[string]interface{}{
		"id":          e.ID,
		"event_type":  e.EventType,
		"description": e.Description,
		"severity":    e.Severity,
		"ip_address":  e.IPAddress,
		"user_agent":  e.UserAgent,
		"metadata":    e.Metadata,
		"created_at":  e.CreatedAt,
	}
	if e.CreatedByUser != nil {
		m["created_by_user"] = *e.CreatedByUser
	}
	if e.CreatedByAPIKey != nil {
		m["created_by_api_key"] = *e.CreatedByAPIKey
	}
	return m
}
