// Package apikey generates, hashes, validates and masks API key material.
//
// Keys have the form sk_<env>_<64 hex chars>, where env is live or test.
// Only a bcrypt hash is ever persisted; the 16-character prefix and
// 4-character suffix are kept in clear for display.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Environment tags a key as production or test.
type Environment string

const (
	Live Environment = "live"
	Test Environment = "test"
)

const (
	// KeyLength is the total length of a well-formed key.
	KeyLength = 72

	prefixLength = 16
	suffixLength = 4
	randomBytes  = 32
	headerLength = len("sk_live_")
)

// Scopes an API key can be granted.
const (
	ScopeSitesRead   = "sites:read"
	ScopeSitesWrite  = "sites:write"
	ScopeSitesDelete = "sites:delete"
)

// ValidScopes lists every grantable scope.
var ValidScopes = []string{ScopeSitesRead, ScopeSitesWrite, ScopeSitesDelete}

// DefaultScopes is granted when a key is created without explicit scopes.
var DefaultScopes = []string{ScopeSitesWrite}

// ErrUnknownEnvironment is returned for environments other than live and test.
var ErrUnknownEnvironment = errors.New("unknown key environment")

var keyBody = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ParseEnvironment converts s to an Environment. Empty means live.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(strings.ToLower(s)) {
	case "", Live:
		return Live, nil
	case Test:
		return Test, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, s)
}

// Material is a freshly generated key. FullKey must be shown to the caller
// once and then discarded.
type Material struct {
	FullKey     string
	HashedKey   string
	Prefix      string
	Suffix      string
	Environment Environment
}

// Generator creates keys hashed at a fixed bcrypt cost.
type Generator struct {
	Cost int
}

// NewGenerator returns a Generator. A cost outside bcrypt's range falls
// back to bcrypt.DefaultCost.
func NewGenerator(cost int) *Generator {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Generator{Cost: cost}
}

// Generate creates a new key for env from 32 bytes of cryptographic
// randomness and hashes it.
func (g *Generator) Generate(env Environment) (*Material, error) {
	if env != Live && env != Test {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}

	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate random key: %w", err)
	}
	full := "sk_" + string(env) + "_" + hex.EncodeToString(buf)

	hash, err := g.Hash(full)
	if err != nil {
		return nil, err
	}

	return &Material{
		FullKey:     full,
		HashedKey:   hash,
		Prefix:      full[:prefixLength],
		Suffix:      full[len(full)-suffixLength:],
		Environment: env,
	}, nil
}

// Hash returns the bcrypt hash of key.
func (g *Generator) Hash(key string) (string, error) {
	cost := g.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// Validate reports whether provided matches hash. Any comparison failure,
// including a malformed hash, yields false.
func Validate(provided, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(provided)) == nil
}

// IsValidFormat reports whether key is sk_live_ or sk_test_ followed by 64
// lowercase hex characters.
func IsValidFormat(key string) bool {
	if len(key) != KeyLength {
		return false
	}
	if !strings.HasPrefix(key, "sk_live_") && !strings.HasPrefix(key, "sk_test_") {
		return false
	}
	return keyBody.MatchString(key[headerLength:])
}

// EnvironmentOf returns the environment encoded in key, or "" when the key
// is not well formed.
func EnvironmentOf(key string) Environment {
	if !IsValidFormat(key) {
		return ""
	}
	if strings.HasPrefix(key, "sk_test_") {
		return Test
	}
	return Live
}

// Mask hides the middle of key, keeping the first 16 and last 4 characters.
// Keys shorter than 20 characters are hidden entirely. Masking a masked key
// returns it unchanged.
func Mask(key string) string {
	if len(key) < prefixLength+suffixLength {
		return "****"
	}
	return key[:prefixLength] + "****" + key[len(key)-suffixLength:]
}

// DisplayName builds the masked form of a key from its stored prefix and
// suffix.
func DisplayName(prefix, suffix string) string {
	return prefix + "****" + suffix
}

// ValidateScopes returns an error naming the first scope not in ValidScopes.
func ValidateScopes(scopes []string) error {
	for _, s := range scopes {
		if !isValidScope(s) {
			return fmt.Errorf("invalid scope %q (valid: %s)", s, strings.Join(ValidScopes, ", "))
		}
	}
	return nil
}

func isValidScope(s string) bool {
	for _, v := range ValidScopes {
		if s == v {
			return true
		}
	}
	return false
}
