package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ICJIA/icjia-accessibility-status/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI document for this API. The document is
// rendered once and cached.
type OpenAPIHandler struct {
	baseURL string
	version string
	logger  *slog.Logger

	once sync.Once
	body []byte
	err  error
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(baseURL, version string, logger *slog.Logger) *OpenAPIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAPIHandler{baseURL: baseURL, version: version, logger: logger}
}

// ServeSpec writes the document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.body, h.err = json.Marshal(openapi.Document(h.baseURL, h.version))
	})
	if h.err != nil {
		h.logger.Error("render openapi document", "error", h.err)
		writeError(w, http.StatusInternalServerError, "Failed to render OpenAPI document")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.body)
}
