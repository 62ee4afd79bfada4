package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ICJIA/icjia-accessibility-status/internal/model"
)

// ---------------------------------------------------------------------------
// Admin users
// ---------------------------------------------------------------------------

const adminUserColumns = "id, username, email, password_hash, created_by, created_at, updated_at"

// CreateAdminUser inserts a new admin user. ID and timestamps are populated
// after a successful insert. A duplicate username yields ErrConflict.
func (s *Store) CreateAdminUser(ctx context.Context, user *model.AdminUser) error {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = newID()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	const q = `INSERT INTO admin_users
		(id, username, email, password_hash, created_by, created_at, updated_at)
		VALUES
		(:id, :username, :email, :password_hash, :created_by, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, user); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert admin user: %w", err)
	}
	return nil
}

// GetAdminUser returns an admin user by ID.
func (s *Store) GetAdminUser(ctx context.Context, id string) (*model.AdminUser, error) {
	var user model.AdminUser
	q := s.rebind("SELECT " + adminUserColumns + " FROM admin_users WHERE id = ?")
	if err := s.db.GetContext(ctx, &user, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin user: %w", err)
	}
	return &user, nil
}

// GetAdminUserByUsername returns an admin user by unique username.
func (s *Store) GetAdminUserByUsername(ctx context.Context, username string) (*model.AdminUser, error) {
	var user model.AdminUser
	q := s.rebind("SELECT " + adminUserColumns + " FROM admin_users WHERE username = ?")
	if err := s.db.GetContext(ctx, &user, q, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin user by username: %w", err)
	}
	return &user, nil
}

// ListAdminUsers returns all admin users ordered by username.
func (s *Store) ListAdminUsers(ctx context.Context) ([]model.AdminUser, error) {
	var users []model.AdminUser
	if err := s.db.SelectContext(ctx, &users, "SELECT "+adminUserColumns+" FROM admin_users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("list admin users: %w", err)
	}
	return users, nil
}

// HasAnyAdminUser reports whether at least one admin user exists. Used for
// first-run detection.
func (s *Store) HasAnyAdminUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admin_users"); err != nil {
		return false, fmt.Errorf("count admin users: %w", err)
	}
	return count > 0, nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

const sessionColumns = "id, user_id, session_token, expires_at, created_at"

// CreateSession inserts a session. ID and CreatedAt are populated.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	if sess.ID == "" {
		sess.ID = newID()
	}
	sess.CreatedAt = time.Now().UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()

	const q = `INSERT INTO sessions (id, user_id, session_token, expires_at, created_at)
		VALUES (:id, :user_id, :session_token, :expires_at, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, sess); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSessionByToken looks up a session by its opaque token. Expiry is not
// checked here.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	q := s.rebind("SELECT " + sessionColumns + " FROM sessions WHERE session_token = ?")
	if err := s.db.GetContext(ctx, &sess, q, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session by ID.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM sessions WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRow(result, "delete session")
}

// DeleteSessionByToken removes the session holding token.
func (s *Store) DeleteSessionByToken(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM sessions WHERE session_token = ?"), token)
	if err != nil {
		return fmt.Errorf("delete session by token: %w", err)
	}
	return requireRow(result, "delete session by token")
}

// DeleteExpiredSessions removes every session whose expiry is at or before
// now and returns how many were removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM sessions WHERE expires_at <= ?"), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions rows affected: %w", err)
	}
	return n, nil
}
