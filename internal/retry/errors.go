package retry

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// StatusError carries an HTTP status code from a remote call so that
// IsRetryable can classify it.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("status %d", e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status code.
func (e *StatusError) StatusCode() int { return e.Code }

var transientErrnos = []syscall.Errno{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ETIMEDOUT,
	syscall.EHOSTUNREACH,
}

// IsRetryable reports whether err looks transient: connection resets and
// refusals, timeouts, unreachable hosts, HTTP 5xx and 429 responses, and
// any error whose message contains "connection" or "timeout" (case
// sensitive). Everything else, including nil, is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		code := coded.StatusCode()
		if (code >= 500 && code < 600) || code == http.StatusTooManyRequests {
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "connection") || strings.Contains(msg, "timeout")
}
