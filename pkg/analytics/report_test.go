package analytics

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wrench/pkg/audit"
	"github.com/platinummonkey/wrench/pkg/rbac"
)

func TestGenerate_ShopReport(t *testing.T) {
	report, err := Generate(shopSnapshot(), ReportFilter{}, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, reportNow, report.GeneratedAt)

	t.Run("usage", func(t *testing.T) {
		assert.Equal(t, 20, report.Usage.TotalUsers)
		assert.Equal(t, 19, report.Usage.UsersWithProfile)
		assert.InDelta(t, 0.95, report.Usage.Coverage, 1e-9)

		require.Len(t, report.Usage.Ranking, 3)
		assert.Equal(t, ProfileUsage{Rank: 1, ProfileID: "p-mechanic", Name: "Mechanic", UsersCount: 12}, report.Usage.Ranking[0])
		assert.Equal(t, "p-front", report.Usage.Ranking[1].ProfileID)
		assert.Equal(t, "p-manager", report.Usage.Ranking[2].ProfileID)
	})

	t.Run("profiles", func(t *testing.T) {
		require.Len(t, report.Profiles, 3)

		manager, ok := findProfile(report.Profiles, "p-manager")
		require.True(t, ok)
		assert.Equal(t, Complexity{Score: 8, Band: BandSimple}, manager.Complexity)
		assert.Equal(t, 4, manager.EffectiveRoleCount)
		assert.Equal(t, []rbac.Module{rbac.ModuleDashboard, rbac.ModuleReports}, manager.AccessibleModules)

		front, ok := findProfile(report.Profiles, "p-front")
		require.True(t, ok)
		assert.Equal(t, 5.0, front.Complexity.Score)
		assert.Equal(t, 2, front.EffectiveRoleCount)
	})

	t.Run("permissions", func(t *testing.T) {
		assert.Len(t, report.Permissions.Used, 7)
		assert.Len(t, report.Permissions.Unused, rbac.DefaultCatalog().Len()-7)

		view, ok := findUsage(report.Permissions.Used, "dashboard.view")
		require.True(t, ok)
		assert.Equal(t, 19, view.Reach)
		assert.Equal(t, []string{"p-front", "p-manager", "p-mechanic"}, view.Profiles)

		customers, ok := findUsage(report.Permissions.Used, "registrations.view_customers")
		require.True(t, ok)
		assert.Equal(t, 5, customers.Reach, "roles granted through a custom role count")

		var rare []string
		for _, u := range report.Permissions.RarelyUsed {
			rare = append(rare, u.ID)
		}
		assert.Equal(t, []string{"dashboard.view_financials", "reports.view", "reports.view_analytics"}, rare)
	})

	t.Run("heatmap", func(t *testing.T) {
		require.Len(t, report.Heatmap, len(rbac.Modules()))
		dashboard := report.Heatmap[0]
		assert.Equal(t, rbac.ModuleDashboard, dashboard.Module)
		assert.Equal(t, "Dashboard", dashboard.DisplayName)
		assert.Equal(t, []HeatmapCell{
			{PermissionID: "dashboard.view", Name: "View dashboard", Reach: 19, Level: HeatMedium},
			{PermissionID: "dashboard.view_financials", Name: "View financial KPIs", Reach: 2, Level: HeatLow},
		}, dashboard.Cells)
	})

	t.Run("recommendations", func(t *testing.T) {
		assert.Equal(t, []string{
			RecommendRemoveUnused,
			RecommendReviewRarelyUsed,
			RecommendAssignUsers,
		}, recommendationKinds(report.Recommendations))
		assert.Equal(t, "1 user has no profile and cannot access anything.", report.Recommendations[2].Message)
	})

	assert.Empty(t, report.Warnings)
	assert.Empty(t, report.SkippedRecords)
	assert.Zero(t, report.EventsScanned)
}

func TestGenerate_BlockedModuleIsNotAccessible(t *testing.T) {
	snap := shopSnapshot()
	snap.Profiles[0].ModulePermissions = map[rbac.Module]rbac.Tier{
		rbac.ModuleDashboard: rbac.TierBlocked,
		rbac.ModuleHR:        rbac.TierTotal,
		rbac.ModuleReports:   rbac.TierViewOnly,
	}

	report, err := Generate(snap, ReportFilter{ProfileID: "p-manager"}, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, report.Profiles, 1)
	assert.Equal(t, []rbac.Module{rbac.ModuleHR, rbac.ModuleReports}, report.Profiles[0].AccessibleModules)
	assert.NotContains(t, report.Profiles[0].AccessibleModules, rbac.ModuleDashboard)
}

func TestGenerate_RemovingARoleMakesItUnused(t *testing.T) {
	snap := &Snapshot{
		Profiles: []*rbac.Profile{
			profile("p-a", "Workshop", 12, "dashboard.view", "reports.export"),
			profile("p-b", "Office", 3, "dashboard.view"),
		},
		Catalog: rbac.DefaultCatalog(),
		Now:     reportNow,
	}

	before, err := Generate(snap, ReportFilter{}, DefaultOptions())
	require.NoError(t, err)
	used, ok := findUsage(before.Permissions.Used, "reports.export")
	require.True(t, ok)
	assert.Equal(t, 12, used.Reach)

	snap.Profiles[0].Roles = []string{"dashboard.view"}

	after, err := Generate(snap, ReportFilter{}, DefaultOptions())
	require.NoError(t, err)
	_, ok = findUsage(after.Permissions.Used, "reports.export")
	assert.False(t, ok)
	unused, ok := findUsage(after.Permissions.Unused, "reports.export")
	require.True(t, ok)
	assert.Zero(t, unused.Reach)
	assert.Empty(t, unused.Profiles)

	// Totals fall back to users_count without directory counts
	assert.Equal(t, 15, after.Usage.TotalUsers)
	assert.Equal(t, 1.0, after.Usage.Coverage)
}

func TestGenerate_UsedAndUnusedPartitionTheCatalog(t *testing.T) {
	catalog := rbac.DefaultCatalog()
	all := catalog.IDs()

	snapshots := map[string]*Snapshot{
		"shop":  shopSnapshot(),
		"empty": {Catalog: catalog, Now: reportNow},
		"everything": {
			Profiles: []*rbac.Profile{profile("p-all", "All", 1, all...)},
			Catalog:  catalog,
			Now:      reportNow,
		},
		"zero users": {
			Profiles: []*rbac.Profile{profile("p-z", "Nobody", 0, "hr.view_employees")},
			Catalog:  catalog,
			Now:      reportNow,
		},
	}

	for name, snap := range snapshots {
		t.Run(name, func(t *testing.T) {
			report, err := Generate(snap, ReportFilter{}, DefaultOptions())
			require.NoError(t, err)

			seen := map[string]int{}
			var ids []string
			for _, u := range report.Permissions.Used {
				seen[u.ID]++
				ids = append(ids, u.ID)
			}
			for _, u := range report.Permissions.Unused {
				seen[u.ID]++
				ids = append(ids, u.ID)
			}
			for id, n := range seen {
				assert.Equal(t, 1, n, "%s appears in both lists", id)
			}
			sort.Strings(ids)
			assert.Equal(t, all, ids)

			for _, u := range report.Permissions.RarelyUsed {
				_, ok := findUsage(report.Permissions.Used, u.ID)
				assert.True(t, ok, "rarely used %s must be used", u.ID)
			}
		})
	}
}

func TestGenerate_ZeroUserHolderIsUsedButRare(t *testing.T) {
	snap := &Snapshot{
		Profiles: []*rbac.Profile{profile("p-z", "Nobody", 0, "hr.view_employees")},
		Catalog:  rbac.DefaultCatalog(),
		Now:      reportNow,
	}

	report, err := Generate(snap, ReportFilter{}, DefaultOptions())
	require.NoError(t, err)

	_, ok := findUsage(report.Permissions.Used, "hr.view_employees")
	assert.True(t, ok)
	_, ok = findUsage(report.Permissions.RarelyUsed, "hr.view_employees")
	assert.True(t, ok)
	assert.Contains(t, recommendationKinds(report.Recommendations), RecommendRetireProfile)
}

func TestGenerate_Filters(t *testing.T) {
	t.Run("profile", func(t *testing.T) {
		report, err := Generate(shopSnapshot(), ReportFilter{ProfileID: "p-front"}, DefaultOptions())
		require.NoError(t, err)

		require.Len(t, report.Profiles, 1)
		assert.Equal(t, "p-front", report.Profiles[0].ProfileID)
		require.Len(t, report.Usage.Ranking, 1)
		assert.Equal(t, 20, report.Usage.TotalUsers)

		// reach stays global
		view, ok := findUsage(report.Permissions.Used, "dashboard.view")
		require.True(t, ok)
		assert.Equal(t, 19, view.Reach)
	})

	t.Run("roles", func(t *testing.T) {
		report, err := Generate(shopSnapshot(), ReportFilter{Roles: []string{"diagnostics.run", "hr.view_employees"}}, DefaultOptions())
		require.NoError(t, err)

		require.Len(t, report.Profiles, 1)
		assert.Equal(t, "p-mechanic", report.Profiles[0].ProfileID)

		require.Len(t, report.Permissions.Used, 1)
		assert.Equal(t, "diagnostics.run", report.Permissions.Used[0].ID)
		require.Len(t, report.Permissions.Unused, 1)
		assert.Equal(t, "hr.view_employees", report.Permissions.Unused[0].ID)

		require.Len(t, report.Heatmap, 2)
		assert.Equal(t, rbac.ModuleHR, report.Heatmap[0].Module)
		assert.Equal(t, rbac.ModuleDiagnostics, report.Heatmap[1].Module)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := Generate(shopSnapshot(), ReportFilter{Roles: []string{"dashboard.view", "garage.open_doors"}}, DefaultOptions())
		require.Error(t, err)
		assert.True(t, errors.Is(err, rbac.ErrDanglingReference))
		assert.Contains(t, err.Error(), "garage.open_doors")
	})

	t.Run("missing profile", func(t *testing.T) {
		_, err := Generate(shopSnapshot(), ReportFilter{ProfileID: "p-ghost"}, DefaultOptions())
		require.Error(t, err)
		assert.True(t, errors.Is(err, rbac.ErrNotFound))
	})

	t.Run("profile outside role scope", func(t *testing.T) {
		report, err := Generate(shopSnapshot(), ReportFilter{ProfileID: "p-front", Roles: []string{"diagnostics.run"}}, DefaultOptions())
		require.NoError(t, err)
		assert.Empty(t, report.Profiles)
	})
}

func TestGenerate_DanglingReferences(t *testing.T) {
	snap := shopSnapshot()
	broken := profile("p-broken", "Broken", 4, "dashboard.view", "legacy.inventory")
	broken.CustomRoleIDs = []string{"cr-deleted"}
	snap.Profiles = append(snap.Profiles, broken)
	snap.CustomRoles[0].SystemRoleIDs = append(snap.CustomRoles[0].SystemRoleIDs, "legacy.billing")

	report, err := Generate(snap, ReportFilter{}, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, report.Warnings, 3)
	assert.Equal(t, Warning{
		ProfileID:   "p-broken",
		ProfileName: "Broken",
		Kind:        rbac.KindCustomRole,
		ID:          "cr-deleted",
		Message:     "custom role cr-deleted no longer exists",
	}, report.Warnings[1])
	assert.Equal(t, "system role legacy.inventory is not in the catalog", report.Warnings[2].Message)
	assert.Equal(t, "system role legacy.billing granted through custom role cr-desk is not in the catalog", report.Warnings[0].Message)

	// Dangling ids never count as used
	for _, u := range report.Permissions.Used {
		assert.NotContains(t, u.ID, "legacy.")
	}
	broke, ok := findProfile(report.Profiles, "p-broken")
	require.True(t, ok)
	assert.Equal(t, 1, broke.EffectiveRoleCount)

	kinds := recommendationKinds(report.Recommendations)
	assert.Contains(t, kinds, RecommendFixDangling)
}

func TestGenerate_SkipsMalformedRecords(t *testing.T) {
	snap := shopSnapshot()
	odd := profile("p-odd", "Odd", 1, "dashboard.view")
	odd.ModulePermissions = map[rbac.Module]rbac.Tier{
		rbac.ModuleDashboard: rbac.TierTotal,
		"garage":             rbac.TierTotal,
		rbac.ModuleHR:        "full",
	}
	snap.Profiles = append(snap.Profiles, nil, odd)
	snap.CustomRoles = append(snap.CustomRoles, nil)
	snap.Events = []*audit.Event{
		nil,
		event("bogus", reportNow.Add(-time.Hour)),
		event(audit.ActionProfileUpdated, reportNow.Add(-time.Hour)),
	}

	report, err := Generate(snap, ReportFilter{}, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"profile":           1,
		"custom_role":       1,
		"module_permission": 2,
		"event":             2,
	}, report.SkippedRecords)
	assert.Equal(t, 3, report.EventsScanned)

	p, ok := findProfile(report.Profiles, "p-odd")
	require.True(t, ok)
	assert.Equal(t, []rbac.Module{rbac.ModuleDashboard}, p.AccessibleModules)

	// the snapshot itself is left alone
	assert.Len(t, odd.ModulePermissions, 3)
}

func TestGenerate_HighComplexity(t *testing.T) {
	snap := shopSnapshot()
	big := profile("p-big", "Everything", 1, rbac.DefaultCatalog().IDs()...)
	big.CustomRoleIDs = []string{"cr-desk"}
	snap.Profiles = append(snap.Profiles, big)

	report, err := Generate(snap, ReportFilter{ProfileID: "p-big"}, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, report.Profiles, 1)
	assert.Equal(t, BandHigh, report.Profiles[0].Complexity.Band)
	assert.Contains(t, recommendationKinds(report.Recommendations), RecommendSplitProfile)
}

func TestGenerate_RequiresCatalog(t *testing.T) {
	_, err := Generate(nil, ReportFilter{}, DefaultOptions())
	assert.Error(t, err)

	_, err = Generate(&Snapshot{}, ReportFilter{}, DefaultOptions())
	assert.Error(t, err)
}
