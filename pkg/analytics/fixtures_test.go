package analytics

import (
	"time"

	"github.com/platinummonkey/wrench/pkg/audit"
	"github.com/platinummonkey/wrench/pkg/directory"
	"github.com/platinummonkey/wrench/pkg/rbac"
)

var reportNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func profile(id, name string, users int, roles ...string) *rbac.Profile {
	return &rbac.Profile{
		ID:     id,
		Name:   name,
		Type:   rbac.ProfileInternal,
		Status: rbac.StatusActive,
		Roles:  roles,
		ModulePermissions: map[rbac.Module]rbac.Tier{
			rbac.ModuleDashboard: rbac.TierTotal,
			rbac.ModuleReports:   rbac.TierViewOnly,
		},
		SidebarPermissions: map[rbac.ItemKey]rbac.PermissionFlags{},
		UsersCount:         users,
		Version:            1,
	}
}

func event(action audit.ActionType, at time.Time) *audit.Event {
	return &audit.Event{
		ID:          at.Format(time.RFC3339Nano) + string(action),
		ActionType:  action,
		PerformedBy: "ana@shop.test",
		TargetID:    "p1",
		CreatedAt:   at,
	}
}

// shopSnapshot is a small shop: a manager profile, a mechanic profile and
// a front desk profile built from a custom role
func shopSnapshot() *Snapshot {
	manager := profile("p-manager", "Manager", 2,
		"dashboard.view", "dashboard.view_financials", "reports.view", "reports.view_analytics")
	mechanic := profile("p-mechanic", "Mechanic", 12, "dashboard.view", "diagnostics.view", "diagnostics.run")
	frontDesk := profile("p-front", "Front desk", 5)
	frontDesk.CustomRoleIDs = []string{"cr-desk"}

	return &Snapshot{
		Profiles: []*rbac.Profile{manager, mechanic, frontDesk},
		CustomRoles: []*rbac.CustomRole{{
			ID:            "cr-desk",
			Name:          "Desk",
			SystemRoleIDs: []string{"registrations.view_customers", "dashboard.view"},
			Status:        rbac.StatusActive,
			Version:       1,
		}},
		Catalog: rbac.DefaultCatalog(),
		Users:   &directory.Counts{Total: 20, WithProfile: 19, ByProfile: map[string]int{"p-manager": 2, "p-mechanic": 12, "p-front": 5}},
		Now:     reportNow,
	}
}

func findUsage(list []PermissionUsage, id string) (PermissionUsage, bool) {
	for _, u := range list {
		if u.ID == id {
			return u, true
		}
	}
	return PermissionUsage{}, false
}

func findProfile(list []ProfileAnalysis, id string) (ProfileAnalysis, bool) {
	for _, p := range list {
		if p.ProfileID == id {
			return p, true
		}
	}
	return ProfileAnalysis{}, false
}

func recommendationKinds(recs []Recommendation) []string {
	kinds := make([]string, 0, len(recs))
	for _, r := range recs {
		kinds = append(kinds, r.Kind)
	}
	return kinds
}
