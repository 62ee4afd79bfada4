package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ICJIA/icjia-accessibility-status/internal/activity"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/service"
)

type contextKeyAuth string

const (
	// KeyIdentityKey is the context key for the caller resolved from an API key.
	KeyIdentityKey contextKeyAuth = "key_identity"
	// SessionIdentityKey is the context key for the admin resolved from a session.
	SessionIdentityKey contextKeyAuth = "session_identity"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "session_token"

// KeyAuthenticator resolves an Authorization header to a key identity.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, header string, meta service.RequestMeta) (*service.KeyIdentity, error)
}

// SessionAuthenticator resolves a session token to an admin identity.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*service.SessionIdentity, error)
}

// RequireAPIKey returns an HTTP middleware that authenticates the bearer API
// key in the Authorization header. On success the key identity is attached
// to the request context. On failure the AuthError is rendered with its
// status, and a quota rejection also sets Retry-After.
func RequireAPIKey(auth KeyAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(r.Context(), r.Header.Get("Authorization"), service.RequestMeta{
				Info:   activity.RequestInfoFrom(r),
				Method: r.Method,
				Path:   r.URL.Path,
			})
			if err != nil {
				writeAuthError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), KeyIdentityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope returns an HTTP middleware that admits only requests whose
// API key carries scope. It must run after RequireAPIKey.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetKeyIdentity(r.Context())
			if id == nil {
				writeAuthError(w, &service.AuthError{
					Reason:  service.ReasonAuthenticationRequired,
					Status:  http.StatusUnauthorized,
					Title:   "Authentication required",
					Message: "This endpoint requires API key authentication",
				})
				return
			}
			if !id.HasScope(scope) {
				writeAuthError(w, &service.AuthError{
					Reason:  service.ReasonInsufficientPermissions,
					Status:  http.StatusForbidden,
					Title:   "Insufficient permissions",
					Message: "This API key does not have the required permission: " + scope,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession returns an HTTP middleware that authenticates the admin
// session cookie and attaches the session identity to the request context.
func RequireSession(auth SessionAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			if c, err := r.Cookie(SessionCookie); err == nil {
				token = c.Value
			}
			id, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), SessionIdentityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyIdentity extracts the API key identity from the context. Returns nil
// for requests that were not authenticated with an API key.
func GetKeyIdentity(ctx context.Context) *service.KeyIdentity {
	if id, ok := ctx.Value(KeyIdentityKey).(*service.KeyIdentity); ok {
		return id
	}
	return nil
}

// GetSessionIdentity extracts the admin session identity from the context.
func GetSessionIdentity(ctx context.Context) *service.SessionIdentity {
	if id, ok := ctx.Value(SessionIdentityKey).(*service.SessionIdentity); ok {
		return id
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, err error) {
	var ae *service.AuthError
	if !errors.As(err, &ae) {
		ae = &service.AuthError{
			Reason:  service.ReasonInternalError,
			Status:  http.StatusInternalServerError,
			Title:   "Internal server error",
			Message: "Internal server error",
		}
	}

	detailCtx := map[string]interface{}{
		"reason": ae.Reason,
		"error":  ae.Title,
	}
	if ae.RetryAfter > 0 {
		detailCtx["retry_after"] = ae.RetryAfter
		w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfter))
	}
	writeJSONError(w, ae.Status, ae.Message, detailCtx)
}

// writeJSONError renders the shared error envelope. The handler package
// has its own helper; this copy avoids an import cycle.
func writeJSONError(w http.ResponseWriter, status int, message string, detailCtx map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    status,
			Message: message,
			Context: detailCtx,
		},
	})
}
