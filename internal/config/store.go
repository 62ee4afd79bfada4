package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ICJIA/icjia-accessibility-status/internal/model"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the relational row store behind every component: API keys,
// sessions, admin users, and the activity log. It runs on SQLite for
// single-node installs and on Postgres for shared deployments.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens a SQLite store in dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(DatabaseSettings{Driver: DriverSQLite, DataDir: dataDir})
}

// Open connects to the database described by cfg and applies migrations.
func Open(cfg DatabaseSettings) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case "", DriverSQLite:
		db, err = openSQLite(cfg)
	case DriverPostgres:
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, driver: cfg.Driver}
	if s.driver == "" {
		s.driver = DriverSQLite
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func openSQLite(cfg DatabaseSettings) (*sqlx.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.DataDir == "" {
			dsn = ":memory:?_journal_mode=WAL"
		} else {
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(cfg.DataDir, "a11ystatus.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

func openPostgres(cfg DatabaseSettings) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Driver returns the name of the backing driver.
func (s *Store) Driver() string {
	return s.driver
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rebind(q string) string {
	return s.db.Rebind(q)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

const apiKeyColumns = `id, key_name, key_hash, key_prefix, key_suffix, environment, scopes_json,
	created_by, created_at, updated_at, last_used_at, usage_count, usage_window_start,
	usage_window_count, expires_at, is_active, notes, rotated_from_key_id, grace_period_expires_at`

const insertAPIKeySQL = `INSERT INTO api_keys
	(id, key_name, key_hash, key_prefix, key_suffix, environment, scopes_json,
	 created_by, created_at, updated_at, last_used_at, usage_count, usage_window_start,
	 usage_window_count, expires_at, is_active, notes, rotated_from_key_id, grace_period_expires_at)
	VALUES
	(:id, :key_name, :key_hash, :key_prefix, :key_suffix, :environment, :scopes_json,
	 :created_by, :created_at, :updated_at, :last_used_at, :usage_count, :usage_window_start,
	 :usage_window_count, :expires_at, :is_active, :notes, :rotated_from_key_id, :grace_period_expires_at)`

// apiKeyRow maps 1:1 to the api_keys table. Scopes are stored as a JSON
// array in scopes_json.
type apiKeyRow struct {
	ID                   string     `db:"id"`
	KeyName              string     `db:"key_name"`
	KeyHash              string     `db:"key_hash"`
	KeyPrefix            string     `db:"key_prefix"`
	KeySuffix            string     `db:"key_suffix"`
	Environment          string     `db:"environment"`
	ScopesJSON           string     `db:"scopes_json"`
	CreatedBy            *string    `db:"created_by"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
	LastUsedAt           *time.Time `db:"last_used_at"`
	UsageCount           int64      `db:"usage_count"`
	UsageWindowStart     *time.Time `db:"usage_window_start"`
	UsageWindowCount     int64      `db:"usage_window_count"`
	ExpiresAt            *time.Time `db:"expires_at"`
	IsActive             bool       `db:"is_active"`
	Notes                *string    `db:"notes"`
	RotatedFromKeyID     *string    `db:"rotated_from_key_id"`
	GracePeriodExpiresAt *time.Time `db:"grace_period_expires_at"`
}

func apiKeyRowFromModel(k *model.APIKey) (apiKeyRow, error) {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return apiKeyRow{}, fmt.Errorf("marshal scopes: %w", err)
	}
	return apiKeyRow{
		ID:                   k.ID,
		KeyName:              k.KeyName,
		KeyHash:              k.KeyHash,
		KeyPrefix:            k.KeyPrefix,
		KeySuffix:            k.KeySuffix,
		Environment:          k.Environment,
		ScopesJSON:           string(scopesJSON),
		CreatedBy:            k.CreatedBy,
		CreatedAt:            k.CreatedAt.UTC(),
		UpdatedAt:            k.UpdatedAt.UTC(),
		LastUsedAt:           utcPtr(k.LastUsedAt),
		UsageCount:           k.UsageCount,
		UsageWindowStart:     utcPtr(k.UsageWindowStart),
		UsageWindowCount:     k.UsageWindowCount,
		ExpiresAt:            utcPtr(k.ExpiresAt),
		IsActive:             k.IsActive,
		Notes:                k.Notes,
		RotatedFromKeyID:     k.RotatedFromKeyID,
		GracePeriodExpiresAt: utcPtr(k.GracePeriodExpiresAt),
	}, nil
}

func (r apiKeyRow) toModel() (model.APIKey, error) {
	scopes := []string{}
	if r.ScopesJSON != "" && r.ScopesJSON != "[]" {
		if err := json.Unmarshal([]byte(r.ScopesJSON), &scopes); err != nil {
			return model.APIKey{}, fmt.Errorf("unmarshal scopes for key %s: %w", r.ID, err)
		}
	}
	return model.APIKey{
		ID:                   r.ID,
		KeyName:              r.KeyName,
		KeyHash:              r.KeyHash,
		KeyPrefix:            r.KeyPrefix,
		KeySuffix:            r.KeySuffix,
		Environment:          r.Environment,
		Scopes:               scopes,
		CreatedBy:            r.CreatedBy,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		LastUsedAt:           r.LastUsedAt,
		UsageCount:           r.UsageCount,
		UsageWindowStart:     r.UsageWindowStart,
		UsageWindowCount:     r.UsageWindowCount,
		ExpiresAt:            r.ExpiresAt,
		IsActive:             r.IsActive,
		Notes:                r.Notes,
		RotatedFromKeyID:     r.RotatedFromKeyID,
		GracePeriodExpiresAt: r.GracePeriodExpiresAt,
	}, nil
}

func apiKeysFromRows(rows []apiKeyRow) ([]model.APIKey, error) {
	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// prepareAPIKey assigns an ID and timestamps to a key that is about to be
// inserted.
func prepareAPIKey(key *model.APIKey) {
	now := time.Now().UTC()
	if key.ID == "" {
		key.ID = newID()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now
	}
	if key.UpdatedAt.IsZero() {
		key.UpdatedAt = key.CreatedAt
	}
	if key.Scopes == nil {
		key.Scopes = []string{}
	}
}

// CreateAPIKey inserts a new API key record. KeyHash must already be set.
// ID, CreatedAt and UpdatedAt are populated when empty.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	prepareAPIKey(key)
	row, err := apiKeyRowFromModel(key)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, insertAPIKeySQL, row); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys returns API keys newest first. A non-positive limit returns
// every key.
func (s *Store) ListAPIKeys(ctx context.Context, limit, offset int) ([]model.APIKey, error) {
	q := "SELECT " + apiKeyColumns + " FROM api_keys ORDER BY created_at DESC, id DESC"
	var args []interface{}
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return apiKeysFromRows(rows)
}

// CountAPIKeys returns the total number of API key records.
func (s *Store) CountAPIKeys(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM api_keys"); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}

// ListActiveAPIKeys returns every active key in creation order. The
// authentication scan depends on this order being stable.
func (s *Store) ListActiveAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	q := s.rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE is_active = ? ORDER BY created_at ASC, id ASC")
	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, q, true); err != nil {
		return nil, fmt.Errorf("list active api keys: %w", err)
	}
	return apiKeysFromRows(rows)
}

// UpdateAPIKey applies the non-nil fields of u and returns the updated key.
func (s *Store) UpdateAPIKey(ctx context.Context, id string, u model.APIKeyUpdate) (*model.APIKey, error) {
	if u.Empty() {
		return nil, ErrEmptyUpdate
	}

	var (
		sets []string
		args []interface{}
	)
	if u.KeyName != nil {
		sets = append(sets, "key_name = ?")
		args = append(args, *u.KeyName)
	}
	if u.Scopes != nil {
		scopesJSON, err := json.Marshal(u.Scopes)
		if err != nil {
			return nil, fmt.Errorf("marshal scopes: %w", err)
		}
		sets = append(sets, "scopes_json = ?")
		args = append(args, string(scopesJSON))
	}
	if u.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, u.ExpiresAt.UTC())
	} else if u.ClearExpiry {
		sets = append(sets, "expires_at = NULL")
	}
	if u.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *u.IsActive)
	}
	if u.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *u.Notes)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	q := s.rebind("UPDATE api_keys SET " + strings.Join(sets, ", ") + " WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("update api key: %w", err)
	}
	if err := requireRow(result, "update api key"); err != nil {
		return nil, err
	}
	return s.GetAPIKey(ctx, id)
}

// DeactivateAPIKey marks an API key as inactive. The row is kept.
func (s *Store) DeactivateAPIKey(ctx context.Context, id string) error {
	q := s.rebind("UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, false, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	return requireRow(result, "deactivate api key")
}

// DeleteAPIKey physically removes an API key.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM api_keys WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireRow(result, "delete api key")
}

// RecordAPIKeyUsage increments the lifetime usage counter and the hourly
// window counter in one statement. A window that started an hour or more
// before now is restarted at now with a count of one.
func (s *Store) RecordAPIKeyUsage(ctx context.Context, id string, now time.Time) error {
	now = now.UTC()
	cutoff := now.Add(-time.Hour)

	const q = `UPDATE api_keys SET
		usage_count = usage_count + 1,
		last_used_at = ?,
		usage_window_count = CASE
			WHEN usage_window_start IS NULL OR usage_window_start <= ? THEN 1
			ELSE usage_window_count + 1 END,
		usage_window_start = CASE
			WHEN usage_window_start IS NULL OR usage_window_start <= ? THEN ?
			ELSE usage_window_start END
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, s.rebind(q), now, cutoff, cutoff, now, id)
	if err != nil {
		return fmt.Errorf("record api key usage: %w", err)
	}
	return requireRow(result, "record api key usage")
}

// RotateAPIKey inserts the replacement key and stamps the grace period
// expiry on the old key in one transaction. The old key stays active.
func (s *Store) RotateAPIKey(ctx context.Context, newKey *model.APIKey, oldID string, graceExpiresAt time.Time) error {
	prepareAPIKey(newKey)
	row, err := apiKeyRowFromModel(newKey)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := s.rebind("UPDATE api_keys SET grace_period_expires_at = ?, updated_at = ? WHERE id = ?")
	result, err := tx.ExecContext(ctx, q, graceExpiresAt.UTC(), time.Now().UTC(), oldID)
	if err != nil {
		return fmt.Errorf("set grace period: %w", err)
	}
	if err := requireRow(result, "set grace period"); err != nil {
		return err
	}

	if _, err := tx.NamedExecContext(ctx, insertAPIKeySQL, row); err != nil {
		return fmt.Errorf("insert rotated api key: %w", err)
	}
	return tx.Commit()
}

// ListGraceExpiredAPIKeys returns active keys whose grace period ended
// strictly before now.
func (s *Store) ListGraceExpiredAPIKeys(ctx context.Context, now time.Time) ([]model.APIKey, error) {
	q := s.rebind("SELECT " + apiKeyColumns + ` FROM api_keys
		WHERE is_active = ? AND grace_period_expires_at IS NOT NULL AND grace_period_expires_at < ?
		ORDER BY grace_period_expires_at ASC`)
	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, q, true, now.UTC()); err != nil {
		return nil, fmt.Errorf("list grace expired api keys: %w", err)
	}
	return apiKeysFromRows(rows)
}

// APIKeyRotationStats aggregates key counts for the rotation dashboard.
// Keys in grace period include those whose grace period has already lapsed.
func (s *Store) APIKeyRotationStats(ctx context.Context) (*model.RotationStats, error) {
	var agg struct {
		Total   int64 `db:"total"`
		Active  int64 `db:"active"`
		InGrace int64 `db:"in_grace"`
		Rotated int64 `db:"rotated"`
	}
	q := s.rebind(`SELECT
		COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN is_active = ? THEN 1 ELSE 0 END), 0) AS active,
		COALESCE(SUM(CASE WHEN grace_period_expires_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS in_grace,
		COALESCE(SUM(CASE WHEN rotated_from_key_id IS NOT NULL THEN 1 ELSE 0 END), 0) AS rotated
		FROM api_keys`)
	if err := s.db.GetContext(ctx, &agg, q, true); err != nil {
		return nil, fmt.Errorf("api key rotation stats: %w", err)
	}
	return &model.RotationStats{
		TotalKeys:         int(agg.Total),
		ActiveKeys:        int(agg.Active),
		InactiveKeys:      int(agg.Total - agg.Active),
		KeysInGracePeriod: int(agg.InGrace),
		RotatedKeys:       int(agg.Rotated),
	}, nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// requireRow maps an update or delete that touched nothing to ErrNotFound.
func requireRow(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
