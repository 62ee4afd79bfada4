package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ICJIA/icjia-accessibility-status/internal/activity"
	"github.com/ICJIA/icjia-accessibility-status/internal/config"
	"github.com/ICJIA/icjia-accessibility-status/internal/metrics"
	"github.com/ICJIA/icjia-accessibility-status/internal/model"
	"github.com/ICJIA/icjia-accessibility-status/internal/retry"
	"github.com/ICJIA/icjia-accessibility-status/internal/sanitize"
)

// DefaultSessionTTL is the lifetime of a session when none is configured.
const DefaultSessionTTL = 24 * time.Hour

const sessionTokenBytes = 32

// SessionStore is what the session service needs from persistence.
type SessionStore interface {
	GetAdminUserByUsername(ctx context.Context, username string) (*model.AdminUser, error)
	CreateSession(ctx context.Context, sess *model.Session) error
	GetSessionByToken(ctx context.Context, token string) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionByToken(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// SessionIdentity is the admin resolved from a valid session cookie.
type SessionIdentity struct {
	SessionID string
	UserID    string
	ExpiresAt time.Time
}

// LoginResult is returned by a successful login. Token is the cookie value.
type LoginResult struct {
	Token     string
	User      *model.AdminUser
	ExpiresAt time.Time
}

// SessionConfig tunes a SessionService.
type SessionConfig struct {
	TTL   time.Duration
	Retry retry.Options
}

// SessionService issues, validates and ends admin sessions.
type SessionService struct {
	store    SessionStore
	activity *activity.Logger
	logger   *slog.Logger
	ttl      time.Duration

	lookupRetry retry.Options
	deleteRetry retry.Options
	now         func() time.Time
}

// NewSessionService creates a SessionService.
func NewSessionService(store SessionStore, act *activity.Logger, logger *slog.Logger, cfg SessionConfig) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	return &SessionService{
		store:       store,
		activity:    act,
		logger:      logger,
		ttl:         cfg.TTL,
		lookupRetry: retryOptions(cfg.Retry, logger, "get_session"),
		deleteRetry: retryOptions(cfg.Retry.WithMaxRetries(2), logger, "delete_session"),
		now:         time.Now,
	}
}

// Authenticate resolves a session token. An expired session is deleted
// before it is rejected.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*SessionIdentity, error) {
	id, err := s.authenticate(ctx, token)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			metrics.AuthOutcomes.WithLabelValues("session", ae.Reason).Inc()
		}
		return nil, err
	}
	metrics.AuthOutcomes.WithLabelValues("session", "ok").Inc()
	return id, nil
}

func (s *SessionService) authenticate(ctx context.Context, token string) (*SessionIdentity, error) {
	if token == "" {
		return nil, authError(ReasonSessionMissing, http.StatusUnauthorized,
			"Authentication required", "Authentication required")
	}

	sess, err := retry.DoSmart(ctx, s.lookupRetry, func(ctx context.Context) (*model.Session, error) {
		return s.store.GetSessionByToken(ctx, token)
	})
	if err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			s.logger.Error("session lookup failed", "error", sanitize.Error(err))
		}
		e := authError(ReasonSessionInvalid, http.StatusUnauthorized,
			"Invalid or expired session", "Invalid or expired session")
		e.Err = err
		return nil, e
	}

	if sess.Expired(s.now()) {
		_, derr := retry.DoSmart(ctx, s.deleteRetry, discard(func(ctx context.Context) error {
			return s.store.DeleteSession(ctx, sess.ID)
		}))
		if derr != nil && !errors.Is(derr, config.ErrNotFound) {
			s.logger.Warn("delete expired session failed", "session_id", sess.ID, "error", sanitize.Error(derr))
		}
		return nil, authError(ReasonSessionExpired, http.StatusUnauthorized,
			"Session expired", "Session expired")
	}

	return &SessionIdentity{SessionID: sess.ID, UserID: sess.UserID, ExpiresAt: sess.ExpiresAt}, nil
}

// Login checks the credentials and issues a new session.
func (s *SessionService) Login(ctx context.Context, username, password string, info activity.RequestInfo) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	user, err := s.store.GetAdminUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			s.activity.FailedLogin(ctx, info, username, "unknown user")
			metrics.AuthOutcomes.WithLabelValues("login", "invalid_credentials").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load admin user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, password) {
		s.activity.FailedLogin(ctx, info, username, "invalid password")
		metrics.AuthOutcomes.WithLabelValues("login", "invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	sess := &model.Session{
		UserID:       user.ID,
		SessionToken: token,
		ExpiresAt:    s.now().Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.activity.SuccessfulLogin(ctx, info, user.ID, user.Username)
	metrics.AuthOutcomes.WithLabelValues("login", "ok").Inc()
	return &LoginResult{Token: token, User: user, ExpiresAt: sess.ExpiresAt}, nil
}

// Logout ends the session identified by token. Unknown tokens are ignored.
func (s *SessionService) Logout(ctx context.Context, token, userID string, info activity.RequestInfo) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSessionByToken(ctx, token); err != nil && !errors.Is(err, config.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	s.activity.Logout(ctx, info, userID)
	return nil
}

// PurgeExpired removes every session that has expired.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged expired sessions", "count", n)
	}
	return n, nil
}

// Purge runs PurgeExpired for the scheduler.
func (s *SessionService) Purge(ctx context.Context) error {
	_, err := s.PurgeExpired(ctx)
	return err
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashPassword returns the bcrypt hash of password at cost. A cost outside
// bcrypt's range uses bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
