package sanitize

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestAPIKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "***"},
		{"short", "***"},
		{"sk_live_abc123def456ghi789jkl", "sk_live_...9jkl"},
		{"123456789012", "12345678...9012"},
	}
	for _, tt := range tests {
		if got := APIKey(tt.in); got != tt.want {
			t.Errorf("APIKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPassword(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "***"},
		{"abc", "***"},
		{"hunter2", "*******"},
		{"a-very-long-password", "********"},
	}
	for _, tt := range tests {
		if got := Password(tt.in); got != tt.want {
			t.Errorf("Password(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"john.doe@example.com", "j***@example.com"},
		{"@example.com", "***@example.com"},
		{"not-an-email", "***"},
	}
	for _, tt := range tests {
		if got := Email(tt.in); got != tt.want {
			t.Errorf("Email(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestObjectMasksEverySensitiveField(t *testing.T) {
	const secret = "s3cr3t-value-that-is-long"
	for field := range sensitiveFields {
		t.Run(field, func(t *testing.T) {
			in := map[string]interface{}{field: secret, "username": "john"}
			out := Object(in)
			got, _ := out[field].(string)
			if got == secret || strings.Contains(got, "cr3t-value-that") {
				t.Errorf("%s leaked: %q", field, got)
			}
			if out["username"] != "john" {
				t.Errorf("non-sensitive field changed: %v", out["username"])
			}
			if in[field] != secret {
				t.Error("input map must not be modified")
			}
		})
	}
}

func TestObjectMaskingRules(t *testing.T) {
	out := Object(map[string]interface{}{
		"password":      "secret123",
		"api_key":       "sk_live_abc123def456ghi789jkl",
		"session_token": "tok_0123456789abcdef",
		"secret":        "x",
		"authorization": 42,
		"sessionToken":  "abcdefgh1234567890wxyz",
		"accessToken":   "abcdefgh1234567890wxyz",
		"refreshToken":  "abcdefgh1234567890wxyz",
		"nested": map[string]interface{}{
			"token": "nested-token-value",
			"list":  []interface{}{map[string]interface{}{"apiKey": "sk_test_1234567890"}},
		},
	})

	if out["password"] != "********" {
		t.Errorf("password = %v", out["password"])
	}
	if out["api_key"] != "sk_live_...9jkl" {
		t.Errorf("api_key = %v", out["api_key"])
	}
	if out["session_token"] != "tok_0123...cdef" {
		t.Errorf("session_token = %v", out["session_token"])
	}
	if out["secret"] != "***" {
		t.Errorf("secret = %v", out["secret"])
	}
	if out["authorization"] != "***" {
		t.Errorf("non-string authorization = %v", out["authorization"])
	}
	for _, field := range []string{"sessionToken", "accessToken", "refreshToken"} {
		if out[field] != "***" {
			t.Errorf("%s = %v, want fully redacted", field, out[field])
		}
	}

	nested := out["nested"].(map[string]interface{})
	if nested["token"] != "nested-t...alue" {
		t.Errorf("nested token = %v", nested["token"])
	}
	item := nested["list"].([]interface{})[0].(map[string]interface{})
	if item["apiKey"] != "sk_test_...7890" {
		t.Errorf("apiKey in slice = %v", item["apiKey"])
	}
}

func TestError(t *testing.T) {
	err := errors.New("auth failed for sk_live_deadbeef with Bearer abc.def-123 password=hunter2, api-key: xyz token=t0k")
	got := Error(err)
	for _, leak := range []string{"deadbeef", "abc.def-123", "hunter2", "xyz", "t0k"} {
		if strings.Contains(got, leak) {
			t.Errorf("Error() leaked %q: %s", leak, got)
		}
	}
	if !strings.Contains(got, "[REDACTED_API_KEY]") || !strings.Contains(got, "Bearer [REDACTED_TOKEN]") {
		t.Errorf("unexpected redaction: %s", got)
	}
	if Error(nil) != "Unknown error" {
		t.Errorf("Error(nil) = %q", Error(nil))
	}
}

func TestAuthHeader(t *testing.T) {
	tests := map[string]string{
		"":                 "***",
		"Bearer sk_live_x": "Bearer [REDACTED_TOKEN]",
		"Basic dXNlcjpwdw==": "Basic [REDACTED_CREDENTIALS]",
		"Digest abc":       "[REDACTED_AUTH]",
	}
	for in, want := range tests {
		if got := AuthHeader(in); got != want {
			t.Errorf("AuthHeader(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Cookie", "session_token=abc")
	h.Set("X-API-Key", "sk_live_x")
	h.Set("Accept", "application/json")

	out := Headers(h)
	if out.Get("Authorization") != "Bearer [REDACTED_TOKEN]" {
		t.Errorf("Authorization = %q", out.Get("Authorization"))
	}
	if out.Get("Cookie") != "[REDACTED]" || out.Get("X-Api-Key") != "[REDACTED]" {
		t.Errorf("cookie/api key not redacted: %v", out)
	}
	if out.Get("Accept") != "application/json" {
		t.Errorf("Accept changed: %q", out.Get("Accept"))
	}
	if h.Get("Authorization") != "Bearer secret" {
		t.Error("input headers must not be modified")
	}
}
