package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DBStore keeps profile entries and the event stream in PostgreSQL
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a database-backed audit store
func NewDBStore(db *sql.DB) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &DBStore{db: db}

	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit tables: %w", err)
	}

	return store, nil
}

// ensureTable creates the audit tables if they don't exist
func (s *DBStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		profile_id VARCHAR(64) NOT NULL,
		sequence BIGINT NOT NULL,
		changed_by VARCHAR(255) NOT NULL,
		changed_at TIMESTAMP WITH TIME ZONE NOT NULL,
		action VARCHAR(50) NOT NULL,
		old_value JSONB,
		new_value JSONB,
		affected_users_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (profile_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS rbac_log_events (
		id VARCHAR(64) PRIMARY KEY,
		action_type VARCHAR(50) NOT NULL,
		performed_by VARCHAR(255) NOT NULL,
		target_id VARCHAR(64) NOT NULL,
		target_name VARCHAR(255) NOT NULL,
		affected_users_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rbac_log_events_created_at ON rbac_log_events(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_rbac_log_events_action_type ON rbac_log_events(action_type);
	CREATE INDEX IF NOT EXISTS idx_rbac_log_events_target ON rbac_log_events(target_id);
	`

	_, err := s.db.Exec(query)
	return err
}

// DB returns the underlying connection for callers that open their own
// transaction around AppendEntry and AppendEvent
func (s *DBStore) DB() *sql.DB {
	return s.db
}

// AppendEntry inserts entry with the next sequence number of its profile.
// The caller is expected to hold the profile row lock inside q, which
// serializes appends for the same profile.
func (s *DBStore) AppendEntry(ctx context.Context, q Queryer, entry *Entry) error {
	var next int64
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_entries WHERE profile_id = $1",
		entry.ProfileID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to get next audit sequence: %w", err)
	}

	query := `
		INSERT INTO audit_entries (
			profile_id, sequence, changed_by, changed_at, action,
			old_value, new_value, affected_users_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = q.ExecContext(ctx, query,
		entry.ProfileID, next, entry.ChangedBy, entry.ChangedAt, string(entry.Action),
		nullJSON(entry.OldValue), nullJSON(entry.NewValue), entry.AffectedUsersCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	entry.Sequence = next
	return nil
}

// AppendEvent inserts one event into the global stream
func (s *DBStore) AppendEvent(ctx context.Context, q Queryer, event *Event) error {
	if !event.ActionType.Valid() {
		return fmt.Errorf("unknown action type %q", event.ActionType)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	query := `
		INSERT INTO rbac_log_events (
			id, action_type, performed_by, target_id, target_name,
			affected_users_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.ExecContext(ctx, query,
		event.ID, string(event.ActionType), event.PerformedBy, event.TargetID, event.TargetName,
		event.AffectedUsersCount, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rbac log event: %w", err)
	}
	return nil
}

// Entries returns the history of a profile ordered by sequence
func (s *DBStore) Entries(ctx context.Context, profileID string) ([]*Entry, error) {
	query := `
		SELECT profile_id, sequence, changed_by, changed_at, action,
		       old_value, new_value, affected_users_count
		FROM audit_entries
		WHERE profile_id = $1
		ORDER BY sequence ASC
	`
	rows, err := s.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}
		var action string
		var oldValue, newValue []byte
		if err := rows.Scan(
			&entry.ProfileID, &entry.Sequence, &entry.ChangedBy, &entry.ChangedAt, &action,
			&oldValue, &newValue, &entry.AffectedUsersCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Action = ActionType(action)
		if len(oldValue) > 0 {
			entry.OldValue = append([]byte(nil), oldValue...)
		}
		if len(newValue) > 0 {
			entry.NewValue = append([]byte(nil), newValue...)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// Events searches the event stream
func (s *DBStore) Events(ctx context.Context, filter EventFilter) ([]*Event, error) {
	where, args := eventWhere(filter)
	query := `
		SELECT id, action_type, performed_by, target_id, target_name,
		       affected_users_count, created_at
		FROM rbac_log_events
	` + where + " ORDER BY created_at DESC, id DESC"

	argCount := len(args) + 1
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search rbac log events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		var actionType string
		if err := rows.Scan(
			&event.ID, &actionType, &event.PerformedBy, &event.TargetID, &event.TargetName,
			&event.AffectedUsersCount, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rbac log event: %w", err)
		}
		event.ActionType = ActionType(actionType)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rbac log events: %w", err)
	}

	return events, nil
}

// Stats aggregates the event stream in SQL
func (s *DBStore) Stats(ctx context.Context, since, until *time.Time) (*Stats, error) {
	where, args := eventWhere(EventFilter{Since: since, Until: until})

	stats := summarize(nil, since, until)

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT performed_by), COALESCE(SUM(affected_users_count), 0) FROM rbac_log_events "+where,
		args...,
	).Scan(&stats.TotalEvents, &stats.UniqueActors, &stats.TotalAffectedUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to get event totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT action_type, COUNT(*) FROM rbac_log_events "+where+" GROUP BY action_type",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by action type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var actionType string
		var count int64
		if err := rows.Scan(&actionType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		at := ActionType(actionType)
		stats.EventsByActionType[at] = count
		if c := at.Category(); c != CategoryUnknown {
			stats.EventsByCategory[c] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event counts: %w", err)
	}

	return stats, nil
}

// Purge deletes events created before the cutoff
func (s *DBStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rbac_log_events WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge rbac log events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged events: %w", err)
	}

	return rowsAffected, nil
}

// eventWhere builds the WHERE clause of an event query
func eventWhere(filter EventFilter) (string, []interface{}) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if filter.Since != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.Since)
		argCount++
	}

	if filter.Until != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.Until)
		argCount++
	}

	if len(filter.ActionTypes) > 0 {
		where += fmt.Sprintf(" AND action_type = ANY($%d)", argCount)
		actionTypes := make([]string, len(filter.ActionTypes))
		for i, at := range filter.ActionTypes {
			actionTypes[i] = string(at)
		}
		args = append(args, pq.Array(actionTypes))
		argCount++
	}

	if filter.TargetID != "" {
		where += fmt.Sprintf(" AND target_id = $%d", argCount)
		args = append(args, filter.TargetID)
		argCount++
	}

	if filter.PerformedBy != "" {
		where += fmt.Sprintf(" AND performed_by = $%d", argCount)
		args = append(args, filter.PerformedBy)
	}

	return where, args
}

func nullJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
