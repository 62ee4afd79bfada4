package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ICJIA/icjia-accessibility-status/internal/config"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/sanitize"
	"github.com/ICJIA/icjia-accessibility-status/internal/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeServiceError maps store and service errors to a status. Anything
// unrecognised is logged and reported as a generic 500 so infrastructure
// details never reach the client.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg, failMsg string) {
	switch {
	case errors.Is(err, config.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, config.ErrConflict):
		writeError(w, http.StatusConflict, "Resource already exists")
	case errors.Is(err, config.ErrEmptyUpdate):
		writeError(w, http.StatusBadRequest, "No fields to update")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, invalidInputMessage(err))
	default:
		logger.Error(failMsg, "error", sanitize.Error(err))
		writeError(w, http.StatusInternalServerError, failMsg)
	}
}

// invalidInputMessage strips the sentinel prefix from a validation error.
func invalidInputMessage(err error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, service.ErrInvalidInput.Error()+": "); ok {
		return rest
	}
	return msg
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// pagination reads limit and offset, clamped to sane bounds.
func pagination(r *http.Request) (limit, offset int) {
	limit = clampInt(queryInt(r, "limit", defaultPageSize), 1, maxPageSize)
	offset = queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
