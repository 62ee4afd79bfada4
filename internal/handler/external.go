package handler

import (
	"net/http"

	"github.com/ICJIA/icjia-accessibility-status/internal/server/middleware"
)

// Whoami reports the API key the request was authenticated with.
// GET /api/v1/external/whoami
func Whoami(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetKeyIdentity(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	m := map[string]interface{}{
		"id":       id.ID,
		"key_name": id.KeyName,
		"scopes":   id.Scopes,
	}
	if id.CreatedBy != nil {
		m["created_by"] = *id.CreatedBy
	}
	writeJSON(w, http.StatusOK, m)
}
