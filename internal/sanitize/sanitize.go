// Package sanitize masks credentials before they reach logs, error messages
// or the activity log.
package sanitize

import (
	"net/http"
	"regexp"
	"strings"
)

const redacted = "***"

// APIKey keeps the first 8 and last 4 characters of key. Values shorter
// than 12 characters are hidden entirely.
func APIKey(key string) string {
	if len(key) < 12 {
		return redacted
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// Token masks an opaque token the same way as APIKey.
func Token(token string) string {
	return APIKey(token)
}

// Password replaces every character with an asterisk, showing at most 8.
func Password(password string) string {
	if password == "" {
		return redacted
	}
	return strings.Repeat("*", min(len(password), 8))
}

// Email keeps the first character of the local part and the domain.
func Email(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return redacted
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}

var sensitiveFields = map[string]bool{
	"password":      true,
	"api_key":       true,
	"apiKey":        true,
	"token":         true,
	"session_token": true,
	"sessionToken":  true,
	"secret":        true,
	"authorization": true,
	"Authorization": true,
	"supabase_key":  true,
	"supabaseKey":   true,
	"access_token":  true,
	"accessToken":   true,
	"refresh_token": true,
	"refreshToken":  true,
	"full_key":      true,
	"fullKey":       true,
}

// Object returns a copy of m with every sensitive field masked. Nested maps
// and slices are walked. m itself is not modified.
func Object(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if sensitiveFields[k] {
			out[k] = maskField(k, v)
			continue
		}
		out[k] = value(v)
	}
	return out
}

func value(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return Object(t)
	case map[string]string:
		m := make(map[string]interface{}, len(t))
		for k, s := range t {
			m[k] = s
		}
		return Object(m)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = value(e)
		}
		return out
	default:
		return v
	}
}

func maskField(key string, v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return redacted
	}
	switch {
	case strings.Contains(key, "password"):
		return Password(s)
	case strings.Contains(key, "api_key"), strings.Contains(key, "apiKey"):
		return APIKey(s)
	case strings.Contains(key, "token"):
		// camelCase names like sessionToken are hidden entirely.
		return Token(s)
	default:
		return redacted
	}
}

var errorPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)sk_[a-z0-9_]+`), "[REDACTED_API_KEY]"},
	{regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9_\-.]+`), "Bearer [REDACTED_TOKEN]"},
	{regexp.MustCompile(`(?i)password[=:]\s*[^\s,}]+`), "password=[REDACTED]"},
	{regexp.MustCompile(`(?i)api[_-]?key[=:]\s*[^\s,}]+`), "api_key=[REDACTED]"},
	{regexp.MustCompile(`(?i)token[=:]\s*[^\s,}]+`), "token=[REDACTED]"},
}

// Error returns the message of err with key material, bearer tokens and
// password, api_key or token assignments redacted.
func Error(err error) string {
	if err == nil {
		return "Unknown error"
	}
	return Message(err.Error())
}

// Message applies the Error redactions to an arbitrary string.
func Message(msg string) string {
	for _, p := range errorPatterns {
		msg = p.re.ReplaceAllString(msg, p.repl)
	}
	return msg
}

// AuthHeader hides the credential in an Authorization header value while
// keeping its scheme.
func AuthHeader(h string) string {
	switch {
	case h == "":
		return redacted
	case strings.HasPrefix(h, "Bearer "):
		return "Bearer [REDACTED_TOKEN]"
	case strings.HasPrefix(h, "Basic "):
		return "Basic [REDACTED_CREDENTIALS]"
	default:
		return "[REDACTED_AUTH]"
	}
}

var sensitiveHeaders = []string{"Authorization", "Cookie", "X-Api-Key", "X-Auth-Token", "X-Access-Token"}

// Headers returns a copy of h with credential-bearing headers redacted.
func Headers(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, name := range sensitiveHeaders {
		vals := out.Values(name)
		if len(vals) == 0 {
			continue
		}
		masked := make([]string, len(vals))
		for i, v := range vals {
			if name == "Authorization" {
				masked[i] = AuthHeader(v)
			} else {
				masked[i] = "[REDACTED]"
			}
		}
		out[http.CanonicalHeaderKey(name)] = masked
	}
	return out
}
