package handler

import (
	"net/http"
	"strings"
	"testing"

	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/server/middleware"
	"github.com/ICJIA/icjia-accessibility-status/internal/service"
)

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

func TestLogin_ValidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	rr := env.do(t, "POST", "/api/v1/auth/session", toJSON(t, map[string]string{
		"username": testUsername,
		"password": testPassword,
	}))
	assertStatus(t, rr, http.StatusOK)

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if len(cookie.Value) != 43 {
		t.Errorf("token length = %d, want 43", len(cookie.Value))
	}

	var body struct {
		User map[string]interface{} `json:"user"`
	}
	decodeJSON(t, rr, &body)
	if body.User["username"] != testUsername {
		t.Errorf("username = %v", body.User["username"])
	}
	if _, ok := body.User["password_hash"]; ok {
		t.Error("password hash must not be exposed")
	}
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"wrong password", map[string]string{"username": testUsername, "password": "nope-nope"}, http.StatusUnauthorized},
		{"unknown user", map[string]string{"username": "ghost", "password": testPassword}, http.StatusUnauthorized},
		{"missing password", map[string]string{"username": testUsername}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/auth/session", toJSON(t, tt.body))
			assertStatus(t, rr, tt.status)
			if len(rr.Result().Cookies()) != 0 {
				t.Error("failed login must not set a cookie")
			}
		})
	}
}

func TestMeAndLogout(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/auth/me", nil)
	assertStatus(t, rr, http.StatusUnauthorized)
	if got := errorReason(t, rr); got != service.ReasonSessionMissing {
		t.Errorf("reason = %q, want %q", got, service.ReasonSessionMissing)
	}

	user := env.login(t)

	rr = env.do(t, "GET", "/api/v1/auth/me", nil)
	assertStatus(t, rr, http.StatusOK)
	var me struct {
		User map[string]interface{} `json:"user"`
	}
	decodeJSON(t, rr, &me)
	if me.User["id"] != user.ID {
		t.Errorf("me id = %v, want %s", me.User["id"], user.ID)
	}

	rr = env.do(t, "DELETE", "/api/v1/auth/session", nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "GET", "/api/v1/auth/me", nil)
	assertStatus(t, rr, http.StatusUnauthorized)
	if got := errorReason(t, rr); got != service.ReasonSessionInvalid {
		t.Errorf("reason after logout = %q, want %q", got, service.ReasonSessionInvalid)
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

type createdKeyBody struct {
	APIKey  map[string]interface{} `json:"apiKey"`
	Warning string                 `json:"warning"`
}

func (e *testEnv) createKey(t *testing.T, body map[string]interface{}) createdKeyBody {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/system/api-key", toJSON(t, body))
	assertStatus(t, rr, http.StatusCreated)
	var out createdKeyBody
	decodeJSON(t, rr, &out)
	return out
}

func TestAPIKeyCRUD(t *testing.T) {
	env := newTestEnv(t)
	user := env.login(t)

	created := env.createKey(t, map[string]interface{}{"key_name": "Status bot"})
	fullKey, _ := created.APIKey["full_key"].(string)
	if !strings.HasPrefix(fullKey, "sk_live_") || len(fullKey) != 72 {
		t.Errorf("full_key = %q", fullKey)
	}
	display, _ := created.APIKey["display_key"].(string)
	if !strings.Contains(display, "****") || strings.Contains(display, fullKey[20:60]) {
		t.Errorf("display_key = %q", display)
	}
	if created.APIKey["created_by"] != user.ID {
		t.Errorf("created_by = %v, want %s", created.APIKey["created_by"], user.ID)
	}
	if !strings.Contains(created.Warning, "only time") {
		t.Errorf("warning = %q", created.Warning)
	}
	id := created.APIKey["id"].(string)

	// List never carries plaintext or hashes.
	rr := env.do(t, "GET", "/api/v1/system/api-key", nil)
	assertStatus(t, rr, http.StatusOK)
	if strings.Contains(rr.Body.String(), fullKey) || strings.Contains(rr.Body.String(), "key_hash") {
		t.Fatalf("list leaked key material: %s", rr.Body.String())
	}
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 1 || list.Meta.Total != 1 {
		t.Fatalf("list = %+v", list)
	}

	rr = env.do(t, "PUT", "/api/v1/system/api-key/"+id, toJSON(t, map[string]interface{}{
		"key_name": "Renamed bot",
		"scopes":   []string{"sites:read", "sites:write"},
	}))
	assertStatus(t, rr, http.StatusOK)
	var updated struct {
		APIKey map[string]interface{} `json:"apiKey"`
	}
	decodeJSON(t, rr, &updated)
	if updated.APIKey["key_name"] != "Renamed bot" {
		t.Errorf("key_name = %v", updated.APIKey["key_name"])
	}

	rr = env.do(t, "PUT", "/api/v1/system/api-key/"+id, toJSON(t, map[string]interface{}{}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "PUT", "/api/v1/system/api-key/missing", toJSON(t, map[string]interface{}{"key_name": "x"}))
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, "POST", "/api/v1/system/api-key/"+id+"/revoke", nil)
	assertStatus(t, rr, http.StatusOK)
	var revoked struct {
		Message string                 `json:"message"`
		APIKey  map[string]interface{} `json:"apiKey"`
	}
	decodeJSON(t, rr, &revoked)
	if revoked.APIKey["is_active"] != false {
		t.Errorf("is_active after revoke = %v", revoked.APIKey["is_active"])
	}

	rr = env.do(t, "DELETE", "/api/v1/system/api-key/"+id, nil)
	assertStatus(t, rr, http.StatusOK)
	rr = env.do(t, "DELETE", "/api/v1/system/api-key/"+id, nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestCreateAPIKey_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"scopes":["sites:read"]}`},
		{"unknown scope", `{"key_name":"x","scopes":["sites:admin"]}`},
		{"unknown environment", `{"key_name":"x","environment":"staging"}`},
		{"past expiry", `{"key_name":"x","expires_at":"2001-01-01T00:00:00Z"}`},
		{"unknown field", `{"key_name":"x","role":"admin"}`},
		{"malformed", `{"key_name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/system/api-key", strings.NewReader(tt.body))
			assertStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestRotateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	created := env.createKey(t, map[string]interface{}{"key_name": "Rotating bot", "scopes": []string{"sites:read"}})
	oldID := created.APIKey["id"].(string)

	rr := env.do(t, "POST", "/api/v1/system/api-key/"+oldID+"/rotate", toJSON(t, map[string]int{"grace_period_days": 5}))
	assertStatus(t, rr, http.StatusCreated)

	var body struct {
		Message string                 `json:"message"`
		NewKey  map[string]interface{} `json:"newKey"`
		OldKey  map[string]interface{} `json:"oldKey"`
		Warning string                 `json:"warning"`
	}
	decodeJSON(t, rr, &body)
	if body.NewKey["full_key"] == created.APIKey["full_key"] || body.NewKey["full_key"] == nil {
		t.Error("rotation should return a new full key")
	}
	if body.NewKey["rotated_from_key_id"] != oldID {
		t.Errorf("rotated_from_key_id = %v, want %s", body.NewKey["rotated_from_key_id"], oldID)
	}
	if body.OldKey["id"] != oldID || body.OldKey["grace_period_days"] != float64(5) {
		t.Errorf("oldKey = %v", body.OldKey)
	}
	if !strings.HasSuffix(body.Warning, "remain active for 5 days.") {
		t.Errorf("warning = %q", body.Warning)
	}

	rr = env.do(t, "GET", "/api/v1/system/api-key/stats/rotation", nil)
	assertStatus(t, rr, http.StatusOK)
	var stats struct {
		Stats     model.RotationStats `json:"stats"`
		Timestamp string              `json:"timestamp"`
	}
	decodeJSON(t, rr, &stats)
	if stats.Stats.TotalKeys != 2 || stats.Stats.KeysInGracePeriod != 1 || stats.Stats.RotatedKeys != 1 {
		t.Errorf("stats = %+v", stats.Stats)
	}
	if stats.Timestamp == "" {
		t.Error("expected timestamp")
	}
}

func TestRotateAPIKey_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	rr := env.do(t, "POST", "/api/v1/system/api-key/missing/rotate", nil)
	assertStatus(t, rr, http.StatusNotFound)

	created := env.createKey(t, map[string]interface{}{"key_name": "bot"})
	id := created.APIKey["id"].(string)
	rr = env.do(t, "POST", "/api/v1/system/api-key/"+id+"/rotate", toJSON(t, map[string]int{"grace_period_days": 1000}))
	assertStatus(t, rr, http.StatusBadRequest)
	var rangeErr model.ErrorResponse
	decodeJSON(t, rr, &rangeErr)
	if !strings.Contains(rangeErr.Error.Message, "between 0 and 90 (0 uses the default)") {
		t.Errorf("range message = %q", rangeErr.Error.Message)
	}

	// An empty body selects the default grace period.
	rr = env.do(t, "POST", "/api/v1/system/api-key/"+id+"/rotate", nil)
	assertStatus(t, rr, http.StatusCreated)
	var body struct {
		OldKey map[string]interface{} `json:"oldKey"`
	}
	decodeJSON(t, rr, &body)
	if body.OldKey["grace_period_days"] != float64(service.DefaultGracePeriodDays) {
		t.Errorf("grace_period_days = %v", body.OldKey["grace_period_days"])
	}
}

// ---------------------------------------------------------------------------
// External API
// ---------------------------------------------------------------------------

func TestWhoami(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	reader := env.createKey(t, map[string]interface{}{"key_name": "reader", "scopes": []string{"sites:read"}})
	writer := env.createKey(t, map[string]interface{}{"key_name": "writer", "scopes": []string{"sites:write"}})
	env.cookie = nil

	rr := env.bearer(t, reader.APIKey["full_key"].(string))
	assertStatus(t, rr, http.StatusOK)
	var id map[string]interface{}
	decodeJSON(t, rr, &id)
	if id["key_name"] != "reader" {
		t.Errorf("key_name = %v", id["key_name"])
	}

	rr = env.bearer(t, writer.APIKey["full_key"].(string))
	assertStatus(t, rr, http.StatusForbidden)
	if got := errorReason(t, rr); got != service.ReasonInsufficientPermissions {
		t.Errorf("reason = %q", got)
	}

	rr = env.bearer(t, "")
	assertStatus(t, rr, http.StatusUnauthorized)
	if got := errorReason(t, rr); got != service.ReasonMissingHeader {
		t.Errorf("reason = %q", got)
	}
}

func TestWhoami_HourlyQuota(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	reader := env.createKey(t, map[string]interface{}{"key_name": "reader", "scopes": []string{"sites:read"}})
	env.cookie = nil
	key := reader.APIKey["full_key"].(string)

	// The test limit is 3 requests per hour. Usage is recorded in the
	// background, so wait for it between calls.
	for i := 0; i < 3; i++ {
		assertStatus(t, env.bearer(t, key), http.StatusOK)
		env.queue.Wait()
	}

	rr := env.bearer(t, key)
	assertStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") != "3600" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
	if got := errorReason(t, rr); got != service.ReasonRateLimited {
		t.Errorf("reason = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Admin users and activity log
// ---------------------------------------------------------------------------

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	rr := env.do(t, "POST", "/api/v1/system/admin", toJSON(t, map[string]string{
		"username": "second",
		"email":    "second@example.com",
		"password": "another-long-password",
	}))
	assertStatus(t, rr, http.StatusCreated)

	rr = env.do(t, "POST", "/api/v1/system/admin", toJSON(t, map[string]string{
		"username": "second",
		"email":    "dupe@example.com",
		"password": "another-long-password",
	}))
	assertStatus(t, rr, http.StatusConflict)

	rr = env.do(t, "POST", "/api/v1/system/admin", toJSON(t, map[string]string{
		"username": "third",
		"email":    "third@example.com",
		"password": "short",
	}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "GET", "/api/v1/system/admin", nil)
	assertStatus(t, rr, http.StatusOK)
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 2 {
		t.Errorf("admins = %d, want 2", len(list.Resource))
	}
}

func TestActivityLog(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.createKey(t, map[string]interface{}{"key_name": "audited"})
	env.queue.Wait()

	rr := env.do(t, "GET", "/api/v1/system/activity-log?event_type="+model.EventAPIKeyCreated, nil)
	assertStatus(t, rr, http.StatusOK)
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if list.Meta.Total != 1 || len(list.Resource) != 1 {
		t.Fatalf("activity = %+v", list)
	}
	if list.Resource[0]["event_type"] != model.EventAPIKeyCreated {
		t.Errorf("event_type = %v", list.Resource[0]["event_type"])
	}

	rr = env.do(t, "GET", "/api/v1/system/activity-log?limit=1", nil)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 1 || list.Meta.Total < 2 {
		t.Errorf("paged activity = %d of %d", len(list.Resource), list.Meta.Total)
	}

	rr = env.do(t, "GET", "/api/v1/system/activity-log?severity=loud", nil)
	assertStatus(t, rr, http.StatusBadRequest)
}
