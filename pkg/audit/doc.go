// Package audit records every committed RBAC change.
//
// # Overview
//
// Two append-only records are kept:
//
//   - Entry: the per-profile history, keyed by (profile_id, sequence), with
//     JSON snapshots of the profile's roles, custom roles, module tiers and
//     sidebar matrix before and after the change.
//   - Event: the global change stream that feeds analytics trends, tagged
//     with an ActionType.
//
// The permission engine writes both inside the same transaction as the
// profile update, using DBStore.AppendEntry and DBStore.AppendEvent with
// the caller's *sql.Tx, or MemoryStore.Append under the engine's lock.
//
// # Action Types
//
// profile_created, profile_updated, profile_deleted, role_created,
// role_updated, role_deleted, permission_changed. Trends group them by
// prefix into the profile, role and permission categories.
//
// # Usage Example
//
// Read the history of a profile:
//
//	entries, err := store.Entries(ctx, profileID)
//
// Search the stream:
//
//	events, err := store.Events(ctx, audit.EventFilter{
//		Since:       &since,
//		ActionTypes: []audit.ActionType{audit.ActionProfileUpdated},
//		Limit:       100,
//	})
//
// # Retention
//
// Events older than the retention window are uploaded to S3 as NDJSON by
// the Archiver and then purged. Profile entries are never purged.
// Export: JSON, CSV, NDJSON formats for external analysis.
package audit
