package analytics

import (
	"sort"

	"github.com/platinummonkey/wrench/pkg/directory"
	"github.com/platinummonkey/wrench/pkg/rbac"
)

// resolvedProfile pairs a profile with its effective set
type resolvedProfile struct {
	profile *rbac.Profile
	set     *rbac.EffectivePermissionSet
}

// UsageStats reports how much of the directory is covered by profiles
type UsageStats struct {
	TotalUsers       int            `json:"total_users"`
	UsersWithProfile int            `json:"users_with_profile"`
	Coverage         float64        `json:"coverage"`
	Ranking          []ProfileUsage `json:"ranking"`
}

// ProfileUsage is one row of the usage ranking
type ProfileUsage struct {
	Rank       int    `json:"rank"`
	ProfileID  string `json:"profile_id"`
	Name       string `json:"name"`
	UsersCount int    `json:"users_count"`
}

// rankProfiles orders by users_count descending, ties by name then id
func rankProfiles(profiles []resolvedProfile) []resolvedProfile {
	out := append([]resolvedProfile(nil), profiles...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].profile, out[j].profile
		if a.UsersCount != b.UsersCount {
			return a.UsersCount > b.UsersCount
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return out
}

// computeUsage takes totals from the directory and ranks the given
// profiles. Without directory counts the totals fall back to the sum of
// users_count, which is exact because a user holds at most one profile.
func computeUsage(users *directory.Counts, all, ranked []resolvedProfile) UsageStats {
	stats := UsageStats{Ranking: make([]ProfileUsage, 0, len(ranked))}

	if users != nil {
		stats.TotalUsers = users.Total
		stats.UsersWithProfile = users.WithProfile
	} else {
		for _, rp := range all {
			stats.UsersWithProfile += rp.profile.UsersCount
		}
		stats.TotalUsers = stats.UsersWithProfile
	}
	stats.Coverage = ratio(stats.UsersWithProfile, stats.TotalUsers)

	for i, rp := range ranked {
		stats.Ranking = append(stats.Ranking, ProfileUsage{
			Rank:       i + 1,
			ProfileID:  rp.profile.ID,
			Name:       rp.profile.Name,
			UsersCount: rp.profile.UsersCount,
		})
	}
	return stats
}

// PermissionUsage is the reach of one system role
type PermissionUsage struct {
	ID       string      `json:"id"`
	Module   rbac.Module `json:"module"`
	Name     string      `json:"name"`
	Reach    int         `json:"reach"`
	Profiles []string    `json:"profiles"`
}

// PermissionReport splits the catalog into used and unused permissions.
// Used and Unused partition the (filtered) catalog; RarelyUsed is the
// subset of Used whose reach is under the threshold.
type PermissionReport struct {
	Used       []PermissionUsage `json:"used"`
	Unused     []PermissionUsage `json:"unused"`
	RarelyUsed []PermissionUsage `json:"rarely_used"`
}

// reachIndex sums users_count per granted system role and records which
// profiles grant it. Dangling ids never enter the index because the
// resolver drops them from SystemRoleIDs.
type reachIndex struct {
	reach   map[string]int
	holders map[string][]string
}

func buildReachIndex(profiles []resolvedProfile) reachIndex {
	idx := reachIndex{
		reach:   make(map[string]int),
		holders: make(map[string][]string),
	}
	for _, rp := range profiles {
		for _, id := range rp.set.SystemRoleIDs {
			idx.reach[id] += rp.profile.UsersCount
			idx.holders[id] = append(idx.holders[id], rp.profile.ID)
		}
	}
	for id := range idx.holders {
		sort.Strings(idx.holders[id])
	}
	return idx
}

func computePermissions(catalog *rbac.Catalog, idx reachIndex, scope map[string]bool, rarelyUsedThreshold int) PermissionReport {
	report := PermissionReport{
		Used:       []PermissionUsage{},
		Unused:     []PermissionUsage{},
		RarelyUsed: []PermissionUsage{},
	}

	for _, role := range catalog.All() {
		if scope != nil && !scope[role.ID] {
			continue
		}
		usage := PermissionUsage{
			ID:       role.ID,
			Module:   role.Module,
			Name:     role.Name,
			Reach:    idx.reach[role.ID],
			Profiles: append([]string{}, idx.holders[role.ID]...),
		}
		if len(usage.Profiles) == 0 {
			report.Unused = append(report.Unused, usage)
			continue
		}
		report.Used = append(report.Used, usage)
		if usage.Reach < rarelyUsedThreshold {
			report.RarelyUsed = append(report.RarelyUsed, usage)
		}
	}
	return report
}

// HeatLevel buckets the reach of a permission
type HeatLevel string

const (
	HeatNone   HeatLevel = "none"
	HeatLow    HeatLevel = "low"
	HeatMedium HeatLevel = "medium"
	HeatHigh   HeatLevel = "high"
)

// HeatLevelFor buckets reach: 0 none, 1-10 low, 11-20 medium, above high
func HeatLevelFor(reach int) HeatLevel {
	switch {
	case reach <= 0:
		return HeatNone
	case reach <= 10:
		return HeatLow
	case reach <= 20:
		return HeatMedium
	default:
		return HeatHigh
	}
}

// HeatmapCell is one permission of a heatmap row
type HeatmapCell struct {
	PermissionID string    `json:"permission_id"`
	Name         string    `json:"name"`
	Reach        int       `json:"reach"`
	Level        HeatLevel `json:"level"`
}

// HeatmapRow holds the permissions of one module in catalog order
type HeatmapRow struct {
	Module      rbac.Module   `json:"module"`
	DisplayName string        `json:"display_name"`
	Cells       []HeatmapCell `json:"cells"`
}

func computeHeatmap(catalog *rbac.Catalog, idx reachIndex, scope map[string]bool) []HeatmapRow {
	rows := []HeatmapRow{}
	for _, info := range rbac.Modules() {
		row := HeatmapRow{Module: info.ID, DisplayName: info.DisplayName, Cells: []HeatmapCell{}}
		for _, role := range catalog.ByModule(info.ID) {
			if scope != nil && !scope[role.ID] {
				continue
			}
			reach := idx.reach[role.ID]
			row.Cells = append(row.Cells, HeatmapCell{
				PermissionID: role.ID,
				Name:         role.Name,
				Reach:        reach,
				Level:        HeatLevelFor(reach),
			})
		}
		if len(row.Cells) > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}
