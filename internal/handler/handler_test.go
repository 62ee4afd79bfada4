package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ICJIA/icjia-accessibility-status/internal/activity"
	"github.com/ICJIA/icjia-accessibility-status/internal/apikey"
	"github.com/ICJIA/icjia-accessibility-status/internal/config"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/retry"
	"github.com/ICJIA/icjia-accessibility-status/internal/server/middleware"
	"github.com/ICJIA/icjia-accessibility-status/internal/service"
	"github.com/ICJIA/icjia-accessibility-status/internal/tasks"
)

const (
	testUsername = "admin"
	testPassword = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *config.Store
	queue    *tasks.Queue
	keys     *service.KeyManager
	accounts *service.AccountService
	handler  *SystemHandler
	router   chi.Router

	// cookie is sent with every request once set.
	cookie *http.Cookie
}

// newTestEnv creates a fresh test environment with an in-memory store and a
// Chi router carrying the same auth middleware as the server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := tasks.NewQueue(1, 64, logger, nil)
	t.Cleanup(func() {
		queue.Close(context.Background())
		store.Close()
	})

	opts := retry.DefaultOptions()
	opts.InitialDelay = 0
	opts.MaxDelay = 0

	act := activity.New(store, queue, logger)
	gen := apikey.NewGenerator(bcrypt.MinCost)
	keys := service.NewKeyManager(store, gen, act, logger)
	accounts := service.NewAccountService(store, act, bcrypt.MinCost)
	sessions := service.NewSessionService(store, act, logger, service.SessionConfig{Retry: opts})
	keyAuth := service.NewKeyAuthenticator(store, act, queue, logger, service.KeyAuthConfig{HourlyLimit: 3, Retry: opts})

	sysHandler := NewSystemHandler(SystemDeps{
		Keys:     keys,
		Rotation: service.NewRotationManager(store, gen, act, logger, 0),
		Accounts: accounts,
		Sessions: sessions,
		Activity: store,
		Logger:   logger,
	})

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/session", sysHandler.Login)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(sessions))
			r.Delete("/auth/session", sysHandler.Logout)
			r.Get("/auth/me", sysHandler.Me)

			r.Get("/system/api-key", sysHandler.ListAPIKeys)
			r.Post("/system/api-key", sysHandler.CreateAPIKey)
			r.Get("/system/api-key/stats/rotation", sysHandler.RotationStats)
			r.Put("/system/api-key/{keyId}", sysHandler.UpdateAPIKey)
			r.Delete("/system/api-key/{keyId}", sysHandler.DeleteAPIKey)
			r.Post("/system/api-key/{keyId}/revoke", sysHandler.RevokeAPIKey)
			r.Post("/system/api-key/{keyId}/rotate", sysHandler.RotateAPIKey)

			r.Get("/system/admin", sysHandler.ListAdmins)
			r.Post("/system/admin", sysHandler.CreateAdmin)
			r.Get("/system/activity-log", sysHandler.ListActivity)
		})
		r.With(middleware.RequireAPIKey(keyAuth), middleware.RequireScope(apikey.ScopeSitesRead)).
			Get("/external/whoami", Whoami)
	})

	return &testEnv{
		store:    store,
		queue:    queue,
		keys:     keys,
		accounts: accounts,
		handler:  sysHandler,
		router:   r,
	}
}

// seedAdmin creates the default admin account and returns it.
func (e *testEnv) seedAdmin(t *testing.T) *model.AdminUser {
	t.Helper()
	user, err := e.accounts.CreateAdmin(context.Background(), "", service.NewAdmin{
		Username: testUsername,
		Email:    "admin@example.com",
		Password: testPassword,
	}, activity.RequestInfo{})
	if err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return user
}

// login seeds the default admin, logs in and keeps the session cookie for
// later requests.
func (e *testEnv) login(t *testing.T) *model.AdminUser {
	t.Helper()
	user := e.seedAdmin(t)
	rr := e.do(t, "POST", "/api/v1/auth/session", toJSON(t, map[string]string{
		"username": testUsername,
		"password": testPassword,
	}))
	assertStatus(t, rr, http.StatusOK)
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			e.cookie = c
		}
	}
	if e.cookie == nil {
		t.Fatal("login did not set the session cookie")
	}
	return user
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.cookie != nil {
		req.AddCookie(&http.Cookie{Name: e.cookie.Name, Value: e.cookie.Value})
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// bearer calls the external whoami endpoint with key as the bearer token. An
// empty key sends no Authorization header.
func (e *testEnv) bearer(t *testing.T, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/external/whoami", nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func errorReason(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body model.ErrorResponse
	decodeJSON(t, rr, &body)
	reason, _ := body.Error.Context["reason"].(string)
	return reason
}
