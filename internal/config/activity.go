package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ICJIA/icjia-accessibility-status/internal/model"
)

// The activity log is append-only: the store offers insert, list and count.

type activityRow struct {
	ID              string    `db:"id"`
	EventType       string    `db:"event_type"`
	Description     string    `db:"description"`
	Severity        string    `db:"severity"`
	CreatedByUser   *string   `db:"created_by_user"`
	CreatedByAPIKey *string   `db:"created_by_api_key"`
	IPAddress       string    `db:"ip_address"`
	UserAgent       string    `db:"user_agent"`
	MetadataJSON    string    `db:"metadata_json"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r activityRow) toModel() (model.ActivityEntry, error) {
	var metadata map[string]interface{}
	if r.MetadataJSON != "" && r.MetadataJSON != "{}" {
		if err := json.Unmarshal([]byte(r.MetadataJSON), &metadata); err != nil {
			return model.ActivityEntry{}, fmt.Errorf("unmarshal metadata for entry %s: %w", r.ID, err)
		}
	}
	return model.ActivityEntry{
		ID:              r.ID,
		EventType:       r.EventType,
		Description:     r.Description,
		Severity:        model.Severity(r.Severity),
		CreatedByUser:   r.CreatedByUser,
		CreatedByAPIKey: r.CreatedByAPIKey,
		IPAddress:       r.IPAddress,
		UserAgent:       r.UserAgent,
		Metadata:        metadata,
		CreatedAt:       r.CreatedAt,
	}, nil
}

// InsertActivity appends an entry. ID and CreatedAt are populated when empty;
// Severity defaults to info.
func (s *Store) InsertActivity(ctx context.Context, entry *model.ActivityEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = model.SeverityInfo
	}

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}

	row := activityRow{
		ID:              entry.ID,
		EventType:       entry.EventType,
		Description:     entry.Description,
		Severity:        string(entry.Severity),
		CreatedByUser:   entry.CreatedByUser,
		CreatedByAPIKey: entry.CreatedByAPIKey,
		IPAddress:       entry.IPAddress,
		UserAgent:       entry.UserAgent,
		MetadataJSON:    string(metadataJSON),
		CreatedAt:       entry.CreatedAt.UTC(),
	}

	const q = `INSERT INTO activity_log
		(id, event_type, description, severity, created_by_user, created_by_api_key,
		 ip_address, user_agent, metadata_json, created_at)
		VALUES
		(:id, :event_type, :description, :severity, :created_by_user, :created_by_api_key,
		 :ip_address, :user_agent, :metadata_json, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func activityWhere(f model.ActivityFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.UserID != "" {
		conds = append(conds, "created_by_user = ?")
		args = append(args, f.UserID)
	}
	if f.APIKeyID != "" {
		conds = append(conds, "created_by_api_key = ?")
		args = append(args, f.APIKeyID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListActivity returns entries newest first.
func (s *Store) ListActivity(ctx context.Context, f model.ActivityFilter, limit, offset int) ([]model.ActivityEntry, error) {
	where, args := activityWhere(f)
	q := `SELECT id, event_type, description, severity, created_by_user, created_by_api_key,
		ip_address, user_agent, metadata_json, created_at
		FROM activity_log` + where + " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}

	entries := make([]model.ActivityEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CountActivity returns the number of entries matching f.
func (s *Store) CountActivity(ctx context.Context, f model.ActivityFilter) (int64, error) {
	where, args := activityWhere(f)
	var n int64
	if err := s.db.GetContext(ctx, &n, s.rebind("SELECT COUNT(*) FROM activity_log"+where), args...); err != nil {
		return 0, fmt.Errorf("count activity: %w", err)
	}
	return n, nil
}
