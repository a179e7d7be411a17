package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wrench/pkg/audit"
	"github.com/platinummonkey/wrench/pkg/directory"
)

const testActor = "ana@shop.test"

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testDraft(name string, roles ...string) ProfileDraft {
	return ProfileDraft{
		Name:  name,
		Type:  ProfileInternal,
		Roles: roles,
		ModulePermissions: map[Module]Tier{
			ModuleDashboard: TierTotal,
			ModuleHR:        TierViewOnly,
		},
		SidebarPermissions: map[ItemKey]PermissionFlags{
			"dashboard":    {View: true},
			"hr.employees": {View: true, Edit: true},
		},
	}
}

type testEnv struct {
	engine *Engine
	store  *MemoryStore
	audit  *audit.MemoryStore
	dir    *directory.MemoryDirectory
}

func newTestEnv(t *testing.T, opts ...EngineOption) *testEnv {
	t.Helper()

	auditStore := audit.NewMemoryStore()
	store := NewMemoryStore(auditStore)
	dir := directory.NewMemoryDirectory()
	opts = append([]EngineOption{WithClock(func() time.Time { return fixedNow })}, opts...)

	return &testEnv{
		engine: NewEngine(DefaultCatalog(), store, dir, opts...),
		store:  store,
		audit:  auditStore,
		dir:    dir,
	}
}

func (e *testEnv) createProfile(t *testing.T, draft ProfileDraft) *Profile {
	t.Helper()
	p, err := e.engine.CreateProfile(context.Background(), draft, testActor)
	require.NoError(t, err)
	return p
}

func (e *testEnv) createCustomRole(t *testing.T, name string, systemRoleIDs ...string) *CustomRole {
	t.Helper()
	cr, err := e.engine.CreateCustomRole(context.Background(), CustomRoleInput{
		Name:          name,
		SystemRoleIDs: systemRoleIDs,
	}, testActor)
	require.NoError(t, err)
	return cr
}

func (e *testEnv) addUsers(t *testing.T, profileID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		e.dir.Put(directory.User{ID: id, Name: "user " + id})
		_, err := e.engine.AssignUser(context.Background(), id, profileID, testActor)
		require.NoError(t, err)
	}
}
