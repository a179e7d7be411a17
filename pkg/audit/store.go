package audit

import (
	"context"
	"database/sql"
	"time"
)

// Reader is the read side of the audit trail
type Reader interface {
	// Entries returns the change history of one profile, oldest first
	Entries(ctx context.Context, profileID string) ([]*Entry, error)

	// Events returns the global change stream, newest first
	Events(ctx context.Context, filter EventFilter) ([]*Event, error)

	// Stats summarizes events in the optional time range
	Stats(ctx context.Context, since, until *time.Time) (*Stats, error)
}

// Store is a Reader that can also drop expired events
type Store interface {
	Reader

	// Purge removes events created before the cutoff and returns how many
	// were removed. Profile entries are never purged.
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Queryer is satisfied by *sql.DB and *sql.Tx so appends can join the
// caller's transaction
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Export reads the events matching filter and encodes them
func Export(ctx context.Context, r Reader, filter EventFilter, format ExportFormat) ([]byte, error) {
	events, err := r.Events(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Encode(events, format)
}

// Encode writes events in the requested format. Unknown formats fall back to JSON.
func Encode(events []*Event, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportCSV(events)
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	default:
		return exportJSON(events)
	}
}

// summarize builds Stats from a slice of events
func summarize(events []*Event, since, until *time.Time) *Stats {
	stats := &Stats{
		EventsByActionType: make(map[ActionType]int64),
		EventsByCategory:   make(map[Category]int64),
	}
	if since != nil || until != nil {
		stats.TimeRange = &TimeRange{}
		if since != nil {
			stats.TimeRange.Start = *since
		}
		if until != nil {
			stats.TimeRange.End = *until
		}
	}

	actors := make(map[string]struct{})
	for _, e := range events {
		stats.TotalEvents++
		stats.EventsByActionType[e.ActionType]++
		if c := e.ActionType.Category(); c != CategoryUnknown {
			stats.EventsByCategory[c]++
		}
		stats.TotalAffectedUsers += int64(e.AffectedUsersCount)
		if e.PerformedBy != "" {
			actors[e.PerformedBy] = struct{}{}
		}
	}
	stats.UniqueActors = int64(len(actors))
	return stats
}
