package audit

import (
	"encoding/json"
	"strings"
	"time"
)

// ActionType tags an event in the global RBAC stream
type ActionType string

const (
	ActionProfileCreated    ActionType = "profile_created"
	ActionProfileUpdated    ActionType = "profile_updated"
	ActionProfileDeleted    ActionType = "profile_deleted"
	ActionRoleCreated       ActionType = "role_created"
	ActionRoleUpdated       ActionType = "role_updated"
	ActionRoleDeleted       ActionType = "role_deleted"
	ActionPermissionChanged ActionType = "permission_changed"
)

// ActionTypes returns every known action type
func ActionTypes() []ActionType {
	return []ActionType{
		ActionProfileCreated, ActionProfileUpdated, ActionProfileDeleted,
		ActionRoleCreated, ActionRoleUpdated, ActionRoleDeleted,
		ActionPermissionChanged,
	}
}

// Valid reports whether a is a known action type
func (a ActionType) Valid() bool {
	for _, known := range ActionTypes() {
		if a == known {
			return true
		}
	}
	return false
}

// Category groups action types by their prefix
type Category string

const (
	CategoryProfile    Category = "profile"
	CategoryRole       Category = "role"
	CategoryPermission Category = "permission"
	CategoryUnknown    Category = ""
)

// Categories returns the trend categories in report order
func Categories() []Category {
	return []Category{CategoryProfile, CategoryRole, CategoryPermission}
}

// Category classifies the action by prefix
func (a ActionType) Category() Category {
	s := string(a)
	switch {
	case strings.HasPrefix(s, "profile_"):
		return CategoryProfile
	case strings.HasPrefix(s, "role_"):
		return CategoryRole
	case strings.HasPrefix(s, "permission_"):
		return CategoryPermission
	}
	return CategoryUnknown
}

// Entry is one immutable change record of a profile. Entries are keyed by
// (ProfileID, Sequence) and only ever appended.
type Entry struct {
	ProfileID          string          `json:"profile_id"`
	Sequence           int64           `json:"sequence"`
	ChangedBy          string          `json:"changed_by"`
	ChangedAt          time.Time       `json:"changed_at"`
	Action             ActionType      `json:"action"`
	OldValue           json.RawMessage `json:"old_value,omitempty"`
	NewValue           json.RawMessage `json:"new_value,omitempty"`
	AffectedUsersCount int             `json:"affected_users_count"`
}

// Event is one record of the global RBAC change stream
type Event struct {
	ID                 string     `json:"id"`
	ActionType         ActionType `json:"action_type"`
	PerformedBy        string     `json:"performed_by"`
	TargetID           string     `json:"target_id"`
	TargetName         string     `json:"target_name"`
	AffectedUsersCount int        `json:"affected_users_count"`
	CreatedAt          time.Time  `json:"created_at"`
}

// EventFilter narrows an event query. Results are newest first.
type EventFilter struct {
	Since       *time.Time
	Until       *time.Time
	ActionTypes []ActionType
	TargetID    string
	PerformedBy string

	Limit  int
	Offset int
}

// matches applies the filter to one event; pagination is not considered
func (f EventFilter) matches(e *Event) bool {
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.CreatedAt.After(*f.Until) {
		return false
	}
	if f.TargetID != "" && e.TargetID != f.TargetID {
		return false
	}
	if f.PerformedBy != "" && e.PerformedBy != f.PerformedBy {
		return false
	}
	if len(f.ActionTypes) > 0 {
		found := false
		for _, at := range f.ActionTypes {
			if at == e.ActionType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ExportFormat is the encoding of an event export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// Stats summarizes the event stream over a time range
type Stats struct {
	TotalEvents        int64                `json:"total_events"`
	EventsByActionType map[ActionType]int64 `json:"events_by_action_type"`
	EventsByCategory   map[Category]int64   `json:"events_by_category"`
	UniqueActors       int64                `json:"unique_actors"`
	TotalAffectedUsers int64                `json:"total_affected_users"`
	TimeRange          *TimeRange           `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RetentionPolicy defines how long events stay in the primary store
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep events
	RetentionDays int

	// ArchiveEnabled uploads expired events before they are purged
	ArchiveEnabled bool
}

// DefaultRetentionPolicy returns a default retention policy (365 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:  365,
		ArchiveEnabled: true,
	}
}

// Cutoff returns the instant before which events have expired
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.RetentionDays)
}
