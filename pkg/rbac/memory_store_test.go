package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wrench/pkg/audit"
)

func profileRecord(id string, action audit.ActionType) AuditRecord {
	return AuditRecord{
		Entry: &audit.Entry{ProfileID: id, ChangedBy: testActor, ChangedAt: fixedNow, Action: action},
		Event: &audit.Event{ActionType: action, PerformedBy: testActor, TargetID: id, CreatedAt: fixedNow},
	}
}

func TestMemoryStore_ProfileLifecycle(t *testing.T) {
	ctx := context.Background()
	auditStore := audit.NewMemoryStore()
	store := NewMemoryStore(auditStore)

	p := &Profile{ID: "p1", Name: "Mechanic", Roles: []string{"dashboard.view"}}
	require.NoError(t, store.CreateProfile(ctx, p, profileRecord("p1", audit.ActionProfileCreated)))
	assert.Equal(t, int64(1), p.Version)

	err := store.CreateProfile(ctx, &Profile{ID: "p1"}, profileRecord("p1", audit.ActionProfileCreated))
	assert.ErrorIs(t, err, ErrConflict)

	// callers never alias stored state
	got, err := store.GetProfile(ctx, "p1")
	require.NoError(t, err)
	got.Roles[0] = "changed"
	again, err := store.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "dashboard.view", again.Roles[0])

	next := again.Clone()
	next.Name = "Senior mechanic"
	require.NoError(t, store.UpdateProfile(ctx, next, 1, profileRecord("p1", audit.ActionProfileUpdated)))
	assert.Equal(t, int64(2), next.Version)

	var conflict *ConflictError
	err = store.UpdateProfile(ctx, next, 1, profileRecord("p1", audit.ActionProfileUpdated))
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(2), conflict.Actual)

	require.NoError(t, store.SetUsersCounts(ctx, map[string]int{"p1": 4, "unknown": 2}))
	counted, err := store.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, counted.UsersCount)
	assert.Equal(t, int64(2), counted.Version)

	assert.ErrorIs(t, store.DeleteProfile(ctx, "p1", 1, profileRecord("p1", audit.ActionProfileDeleted)), ErrConflict)
	require.NoError(t, store.DeleteProfile(ctx, "p1", 2, profileRecord("p1", audit.ActionProfileDeleted)))
	assert.ErrorIs(t, store.DeleteProfile(ctx, "p1", 2, profileRecord("p1", audit.ActionProfileDeleted)), ErrNotFound)

	entries, err := auditStore.Entries(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{entries[0].Sequence, entries[1].Sequence, entries[2].Sequence})
}

func TestMemoryStore_FailedAuditWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(audit.NewMemoryStore())

	rec := AuditRecord{Event: &audit.Event{ActionType: "bogus"}}
	assert.Error(t, store.CreateProfile(ctx, &Profile{ID: "p1", Name: "x"}, rec))

	_, err := store.GetProfile(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(audit.NewMemoryStore())

	for _, p := range []*Profile{{ID: "3", Name: "B"}, {ID: "2", Name: "A"}, {ID: "1", Name: "B"}} {
		require.NoError(t, store.CreateProfile(ctx, p, profileRecord(p.ID, audit.ActionProfileCreated)))
	}

	profiles, err := store.ListProfiles(ctx)
	require.NoError(t, err)
	ids := []string{profiles[0].ID, profiles[1].ID, profiles[2].ID}
	assert.Equal(t, []string{"2", "1", "3"}, ids)
}

func TestMemoryStore_CustomRoleGeneration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(audit.NewMemoryStore())
	event := func(action audit.ActionType) *audit.Event {
		return &audit.Event{ActionType: action, TargetID: "cr1", CreatedAt: fixedNow}
	}

	gen, err := store.CustomRoleGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	cr := &CustomRole{ID: "cr1", Name: "Front desk"}
	require.NoError(t, store.CreateCustomRole(ctx, cr, event(audit.ActionRoleCreated)))
	require.NoError(t, store.UpdateCustomRole(ctx, cr.Clone(), 1, event(audit.ActionRoleUpdated)))
	assert.ErrorIs(t, store.UpdateCustomRole(ctx, cr.Clone(), 1, event(audit.ActionRoleUpdated)), ErrConflict)
	require.NoError(t, store.DeleteCustomRole(ctx, "cr1", event(audit.ActionRoleDeleted)))
	assert.ErrorIs(t, store.DeleteCustomRole(ctx, "cr1", event(audit.ActionRoleDeleted)), ErrNotFound)

	gen, err = store.CustomRoleGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), gen)
}

func TestMemoryStore_UpdateKeepsUsersCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(audit.NewMemoryStore())

	p := &Profile{ID: "p1", Name: "Mechanic", Roles: []string{"dashboard.view"}}
	require.NoError(t, store.CreateProfile(ctx, p, profileRecord("p1", audit.ActionProfileCreated)))

	stale, err := store.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, store.SetUsersCounts(ctx, map[string]int{"p1": 3}))

	stale.Name = "Senior mechanic"
	require.NoError(t, store.UpdateProfile(ctx, stale, 1, profileRecord("p1", audit.ActionProfileUpdated)))
	assert.Equal(t, 3, stale.UsersCount)

	got, err := store.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Senior mechanic", got.Name)
	assert.Equal(t, 3, got.UsersCount)
}
