package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// LimitHook is called for every request a limiter rejects.
type LimitHook func(r *http.Request)

// RateLimitPerHour returns an HTTP middleware that limits requests per IP
// address to the given number per hour. A non-positive limit disables it.
func RateLimitPerHour(requestsPerHour int, onLimit LimitHook) func(http.Handler) http.Handler {
	return RateLimit(requestsPerHour, time.Hour, onLimit)
}

// RateLimit returns an HTTP middleware that limits requests per IP address
// to limit per window, using a sliding window. Rejections get the shared
// error envelope and a Retry-After header.
func RateLimit(limit int, window time.Duration, onLimit LimitHook) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	retryAfter := int(window.Seconds())
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if onLimit != nil {
				onLimit(r)
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSONError(w, http.StatusTooManyRequests, "Too many requests, please try again later.", map[string]interface{}{
				"reason":      "rate_limited",
				"retry_after": retryAfter,
			})
		}),
	)
}
