package activity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ICJIA/icjia-accessibility-status/internal/config"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/tasks"
)

type memWriter struct {
	mu      sync.Mutex
	entries []model.ActivityEntry
	err     error
}

func (w *memWriter) InsertActivity(_ context.Context, e *model.ActivityEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.entries = append(w.entries, *e)
	return nil
}

func (w *memWriter) all() []model.ActivityEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.ActivityEntry(nil), w.entries...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogSanitizesMetadata(t *testing.T) {
	w := &memWriter{}
	l := New(w, nil, discardLogger())

	l.Log(context.Background(), model.ActivityEntry{
		EventType:   "test",
		Description: "with secrets",
		Metadata: map[string]interface{}{
			"password": "hunter2hunter2",
			"api_key":  "sk_live_0123456789abcdef",
			"nested":   map[string]interface{}{"token": "tok_abcdefghijklmnop"},
			"site":     "example.org",
		},
	})

	entries := w.all()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	md := entries[0].Metadata
	if md["password"] != "********" {
		t.Errorf("password = %v", md["password"])
	}
	if md["api_key"] != "sk_live_...cdef" {
		t.Errorf("api_key = %v", md["api_key"])
	}
	if md["nested"].(map[string]interface{})["token"] != "tok_abcd...mnop" {
		t.Errorf("nested token = %v", md["nested"])
	}
	if md["site"] != "example.org" {
		t.Errorf("site = %v", md["site"])
	}
	if entries[0].Severity != model.SeverityInfo {
		t.Errorf("severity = %q, want info", entries[0].Severity)
	}
}

func TestLogSwallowsWriteErrors(t *testing.T) {
	w := &memWriter{err: errors.New("db down")}
	l := New(w, nil, discardLogger())

	// Must not panic or propagate.
	l.FailedLogin(context.Background(), RequestInfo{IP: "10.0.0.1"}, "alice", "invalid password")
	if len(w.all()) != 0 {
		t.Error("no entry should be stored")
	}
}

func TestLogAsyncUsesQueue(t *testing.T) {
	w := &memWriter{}
	q := tasks.NewQueue(1, 8, discardLogger(), nil)
	defer q.Close(context.Background())
	l := New(w, q, discardLogger())

	l.APIKeyUsage(RequestInfo{IP: "10.0.0.1", UserAgent: "curl"}, "key-1", "/api/v1/external/whoami", "GET", 200)
	q.Wait()

	entries := w.all()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.EventType != model.EventAPIKeyUsage {
		t.Errorf("event_type = %q", e.EventType)
	}
	if e.CreatedByAPIKey == nil || *e.CreatedByAPIKey != "key-1" {
		t.Errorf("created_by_api_key = %v", e.CreatedByAPIKey)
	}
	if e.Description != "API key used: GET /api/v1/external/whoami" {
		t.Errorf("description = %q", e.Description)
	}
}

func TestLogAsyncReportsFailureToSink(t *testing.T) {
	w := &memWriter{err: errors.New("db down")}
	var mu sync.Mutex
	var failed []string
	q := tasks.NewQueue(1, 8, discardLogger(), func(task string, err error) {
		mu.Lock()
		failed = append(failed, task)
		mu.Unlock()
	})
	defer q.Close(context.Background())
	l := New(w, q, discardLogger())

	l.APIKeyUsage(RequestInfo{}, "key-1", "/x", "GET", 200)
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || failed[0] != "activity:"+model.EventAPIKeyUsage {
		t.Errorf("failed tasks = %v", failed)
	}
}

func TestEventHelpers(t *testing.T) {
	w := &memWriter{}
	l := New(w, nil, discardLogger())
	ctx := context.Background()
	info := RequestInfo{IP: "192.0.2.1", UserAgent: "test"}

	l.RateLimitViolation(ctx, info, LimitAPIKey, "", "key-1")
	l.APIKeyRotation(ctx, "user-1", "old", "new", 10)
	l.APIKeyDeactivation(ctx, "old", "Grace period expired after rotation")
	l.SuccessfulLogin(ctx, info, "user-1", "alice")
	l.AdminUserCreated(ctx, info, "user-1", "bob", "bob.smith@example.org")

	entries := w.all()
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}

	rl := entries[0]
	if rl.EventType != model.EventRateLimitViolation || rl.Severity != model.SeverityWarning {
		t.Errorf("rate limit entry = %+v", rl)
	}
	if rl.CreatedByUser != nil {
		t.Errorf("empty user id should be stored as null, got %q", *rl.CreatedByUser)
	}
	if rl.Metadata["limit_type"] != LimitAPIKey {
		t.Errorf("limit_type = %v", rl.Metadata["limit_type"])
	}

	rot := entries[1]
	if rot.Description != "API key rotated. Old key will expire in 10 days." {
		t.Errorf("rotation description = %q", rot.Description)
	}
	if rot.Metadata["old_key_id"] != "old" || rot.Metadata["new_key_id"] != "new" {
		t.Errorf("rotation metadata = %v", rot.Metadata)
	}

	if entries[2].Description != "API key deactivated: Grace period expired after rotation" {
		t.Errorf("deactivation description = %q", entries[2].Description)
	}
	if entries[3].EventType != model.EventLogin || *entries[3].CreatedByUser != "user-1" {
		t.Errorf("login entry = %+v", entries[3])
	}

	created := entries[4]
	if created.EventType != model.EventAdminUserCreated || created.Metadata["username"] != "bob" {
		t.Errorf("admin created entry = %+v", created)
	}
	if created.Metadata["email"] != "b***@example.org" {
		t.Errorf("email metadata = %v, want masked address", created.Metadata["email"])
	}
}

func TestLogPersistsThroughStore(t *testing.T) {
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	l := New(store, nil, discardLogger())
	l.FailedLogin(context.Background(), RequestInfo{IP: "10.0.0.9", UserAgent: "ua"}, "bob", "unknown user")

	entries, err := store.ListActivity(context.Background(), model.ActivityFilter{EventType: model.EventFailedLogin}, 10, 0)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if !strings.Contains(entries[0].Description, "bob") || entries[0].IPAddress != "10.0.0.9" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestRequestInfoFrom(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:5123"
	r.Header.Set("User-Agent", "status-widget/1.0")

	info := RequestInfoFrom(r)
	if info.IP != "203.0.113.7" || info.UserAgent != "status-widget/1.0" {
		t.Errorf("info = %+v", info)
	}

	r.RemoteAddr = ""
	r.Header.Del("User-Agent")
	info = RequestInfoFrom(r)
	if info.IP != "unknown" || info.UserAgent != "unknown" {
		t.Errorf("empty info = %+v", info)
	}
}
