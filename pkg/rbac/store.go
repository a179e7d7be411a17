package rbac

import (
	"context"

	"github.com/platinummonkey/wrench/pkg/audit"
)

// AuditRecord is the audit trail written together with a profile mutation.
// Entry is appended to the profile history, Event to the global stream.
type AuditRecord struct {
	Entry *audit.Entry
	Event *audit.Event
}

// Store persists profiles and custom roles. Every mutation is atomic with
// its audit record: either the row change, the entry and the event are all
// durable or none of them is.
//
// Profile writes are compare-and-swap on Version. The store sets Version on
// the value it is given: 1 on create, expectedVersion+1 on update. A lost
// race fails with *ConflictError.
type Store interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]*Profile, error)
	CreateProfile(ctx context.Context, p *Profile, rec AuditRecord) error
	UpdateProfile(ctx context.Context, p *Profile, expectedVersion int64, rec AuditRecord) error
	DeleteProfile(ctx context.Context, id string, expectedVersion int64, rec AuditRecord) error

	// SetUsersCounts overwrites users_count for the listed profiles. It does
	// not bump Version, so it never conflicts with an editor.
	SetUsersCounts(ctx context.Context, counts map[string]int) error

	GetCustomRole(ctx context.Context, id string) (*CustomRole, error)
	ListCustomRoles(ctx context.Context) ([]*CustomRole, error)
	CreateCustomRole(ctx context.Context, cr *CustomRole, event *audit.Event) error
	UpdateCustomRole(ctx context.Context, cr *CustomRole, expectedVersion int64, event *audit.Event) error
	DeleteCustomRole(ctx context.Context, id string, event *audit.Event) error

	// CustomRoleGeneration increases on every custom role mutation
	CustomRoleGeneration(ctx context.Context) (int64, error)
}
