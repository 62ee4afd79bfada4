package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ICJIA/icjia-accessibility-status/internal/config"
	"github.com/ICJIA/icjia-accessibility-status/internal/service"
)

// ---------------------------------------------------------------------------
// queryInt tests
// ---------------------------------------------------------------------------

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		key        string
		defaultVal int
		want       int
	}{
		{"returns default for missing param", "/test", "limit", 25, 25},
		{"parses integer param", "/test?limit=100", "limit", 25, 100},
		{"returns default for non-integer", "/test?limit=abc", "limit", 25, 25},
		{"parses zero", "/test?offset=0", "offset", 10, 0},
		{"parses negative", "/test?offset=-5", "offset", 0, -5},
		{"returns default for empty value", "/test?limit=", "limit", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryInt(r, tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("queryInt(%q, %d) = %d, want %d", tt.key, tt.defaultVal, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// pagination tests
// ---------------------------------------------------------------------------

func TestPagination(t *testing.T) {
	tests := []struct {
		url         string
		limit, offs int
	}{
		{"/x", defaultPageSize, 0},
		{"/x?limit=10&offset=20", 10, 20},
		{"/x?limit=0", 1, 0},
		{"/x?limit=100000", maxPageSize, 0},
		{"/x?offset=-3", defaultPageSize, 0},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			limit, offset := pagination(httptest.NewRequest("GET", tt.url, nil))
			if limit != tt.limit || offset != tt.offs {
				t.Errorf("pagination = (%d, %d), want (%d, %d)", limit, offset, tt.limit, tt.offs)
			}
		})
	}
}

func TestClampInt(t *testing.T) {
	if clampInt(5, 1, 10) != 5 || clampInt(-1, 1, 10) != 1 || clampInt(11, 1, 10) != 10 {
		t.Error("clampInt out of bounds")
	}
}

// ---------------------------------------------------------------------------
// writeServiceError tests
// ---------------------------------------------------------------------------

func TestWriteServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", fmt.Errorf("load: %w", config.ErrNotFound), http.StatusNotFound, "API key not found"},
		{"conflict", config.ErrConflict, http.StatusConflict, "Resource already exists"},
		{"empty update", config.ErrEmptyUpdate, http.StatusBadRequest, "No fields to update"},
		{"invalid input", fmt.Errorf("%w: key_name is required", service.ErrInvalidInput), http.StatusBadRequest, "key_name is required"},
		{"infrastructure", errors.New("dial tcp 10.1.1.1: refused password=hunter2"), http.StatusInternalServerError, "Failed to do thing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeServiceError(rr, logger, tt.err, "API key not found", "Failed to do thing")
			assertStatus(t, rr, tt.status)

			var body struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			decodeJSON(t, rr, &body)
			if body.Error.Message != tt.message {
				t.Errorf("message = %q, want %q", body.Error.Message, tt.message)
			}
		})
	}
}

func TestReadJSONRejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"key_name":"a","api_key":"x"}`))
	var v struct {
		KeyName string `json:"key_name"`
	}
	if err := readJSON(r, &v); err == nil {
		t.Error("expected error for unknown field")
	}
}
