package analytics

import (
	"fmt"
	"time"

	"github.com/platinummonkey/wrench/pkg/audit"
	"github.com/platinummonkey/wrench/pkg/directory"
	"github.com/platinummonkey/wrench/pkg/rbac"
)

// Skipped record kinds
const (
	skippedProfile          = "profile"
	skippedModulePermission = "module_permission"
	skippedCustomRole       = "custom_role"
	skippedEvent            = "event"
)

// ReportFilter scopes a report. ProfileID narrows the profile sections to
// one profile. Roles narrows the permission sections to those system roles
// and the profile sections to profiles granting at least one of them.
type ReportFilter struct {
	ProfileID string   `json:"profile_id,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// Snapshot is everything a report is computed from
type Snapshot struct {
	Profiles    []*rbac.Profile
	CustomRoles []*rbac.CustomRole
	Catalog     *rbac.Catalog
	Users       *directory.Counts
	Events      []*audit.Event
	Now         time.Time

	// Degraded lists the inputs that could not be loaded
	Degraded []string
}

// ProfileAnalysis is the per-profile section of a report
type ProfileAnalysis struct {
	ProfileID          string           `json:"profile_id"`
	Name               string           `json:"name"`
	Type               rbac.ProfileType `json:"type"`
	Status             rbac.RoleStatus  `json:"status"`
	UsersCount         int              `json:"users_count"`
	Complexity         Complexity       `json:"complexity"`
	EffectiveRoleCount int              `json:"effective_role_count"`
	AccessibleModules  []rbac.Module    `json:"accessible_modules"`
	Dangling           []rbac.Reference `json:"dangling,omitempty"`
}

// Warning reports a reference that no longer resolves
type Warning struct {
	ProfileID   string `json:"profile_id"`
	ProfileName string `json:"profile_name"`
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Via         string `json:"via,omitempty"`
	Message     string `json:"message"`
}

// Report is the full governance report
type Report struct {
	GeneratedAt     time.Time         `json:"generated_at"`
	Filter          ReportFilter      `json:"filter"`
	Usage           UsageStats        `json:"usage"`
	Profiles        []ProfileAnalysis `json:"profiles"`
	Permissions     PermissionReport  `json:"permissions"`
	Heatmap         []HeatmapRow      `json:"heatmap"`
	Trends          Trends            `json:"trends"`
	Warnings        []Warning         `json:"warnings"`
	Recommendations []Recommendation  `json:"recommendations"`
	EventsScanned   int               `json:"events_scanned"`
	SkippedRecords  map[string]int    `json:"skipped_records"`
	Degraded        []string          `json:"degraded,omitempty"`
}

// Options tune report generation
type Options struct {
	Scorer              Scorer
	RarelyUsedThreshold int
}

// DefaultOptions uses the default scorer and a rarely used threshold of 3
func DefaultOptions() Options {
	return Options{Scorer: DefaultScorer(), RarelyUsedThreshold: 3}
}

// sanitizeProfile drops module entries with an unknown module or tier.
// Such modules read as blocked. The input is never modified.
func sanitizeProfile(p *rbac.Profile, skipped map[string]int) *rbac.Profile {
	bad := 0
	for m, t := range p.ModulePermissions {
		if !m.Valid() || !t.Valid() {
			bad++
		}
	}
	if bad == 0 {
		return p
	}
	skipped[skippedModulePermission] += bad

	clean := p.Clone()
	for m, t := range clean.ModulePermissions {
		if !m.Valid() || !t.Valid() {
			delete(clean.ModulePermissions, m)
		}
	}
	return clean
}

func roleScope(catalog *rbac.Catalog, roles []string) (map[string]bool, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	scope := make(map[string]bool, len(roles))
	var unknown []string
	for _, id := range roles {
		if scope[id] {
			continue
		}
		if !catalog.Contains(id) {
			unknown = append(unknown, id)
			continue
		}
		scope[id] = true
	}
	if len(unknown) > 0 {
		return nil, &rbac.DanglingReferenceError{Kind: rbac.KindSystemRole, IDs: unknown}
	}
	return scope, nil
}

func grantsAny(set *rbac.EffectivePermissionSet, scope map[string]bool) bool {
	for _, id := range set.SystemRoleIDs {
		if scope[id] {
			return true
		}
	}
	return false
}

// Generate computes a report from snap. It fails only on a bad filter;
// malformed records are skipped and counted.
func Generate(snap *Snapshot, filter ReportFilter, opts Options) (*Report, error) {
	if snap == nil || snap.Catalog == nil {
		return nil, fmt.Errorf("snapshot with a catalog is required")
	}
	if opts.Scorer == nil {
		opts.Scorer = DefaultScorer()
	}

	skipped := map[string]int{}

	scope, err := roleScope(snap.Catalog, filter.Roles)
	if err != nil {
		return nil, err
	}

	customRoles := make([]*rbac.CustomRole, 0, len(snap.CustomRoles))
	for _, cr := range snap.CustomRoles {
		if cr == nil {
			skipped[skippedCustomRole]++
			continue
		}
		customRoles = append(customRoles, cr)
	}
	index := rbac.CustomRoleIndex(customRoles)

	all := make([]resolvedProfile, 0, len(snap.Profiles))
	for _, p := range snap.Profiles {
		if p == nil {
			skipped[skippedProfile]++
			continue
		}
		p = sanitizeProfile(p, skipped)
		all = append(all, resolvedProfile{profile: p, set: rbac.Resolve(p, snap.Catalog, index)})
	}

	var scoped []resolvedProfile
	found := filter.ProfileID == ""
	for _, rp := range all {
		if filter.ProfileID != "" {
			if rp.profile.ID != filter.ProfileID {
				continue
			}
			found = true
		}
		if scope != nil && !grantsAny(rp.set, scope) {
			continue
		}
		scoped = append(scoped, rp)
	}
	if !found {
		return nil, &rbac.NotFoundError{Kind: rbac.KindProfile, ID: filter.ProfileID}
	}
	ranked := rankProfiles(scoped)

	idx := buildReachIndex(all)
	report := &Report{
		GeneratedAt:    snap.Now,
		Filter:         filter,
		Usage:          computeUsage(snap.Users, all, ranked),
		Profiles:       make([]ProfileAnalysis, 0, len(ranked)),
		Permissions:    computePermissions(snap.Catalog, idx, scope, opts.RarelyUsedThreshold),
		Heatmap:        computeHeatmap(snap.Catalog, idx, scope),
		Trends:         computeTrends(snap.Events, snap.Now, skipped),
		Warnings:       []Warning{},
		EventsScanned:  len(snap.Events),
		SkippedRecords: skipped,
		Degraded:       snap.Degraded,
	}

	for _, rp := range ranked {
		p, set := rp.profile, rp.set
		modules := set.AccessibleModules()
		if modules == nil {
			modules = []rbac.Module{}
		}
		report.Profiles = append(report.Profiles, ProfileAnalysis{
			ProfileID:          p.ID,
			Name:               p.Name,
			Type:               p.Type,
			Status:             p.Status,
			UsersCount:         p.UsersCount,
			Complexity:         opts.Scorer.Score(p),
			EffectiveRoleCount: len(set.SystemRoleIDs),
			AccessibleModules:  modules,
			Dangling:           set.Dangling,
		})
		for _, ref := range set.Dangling {
			report.Warnings = append(report.Warnings, Warning{
				ProfileID:   p.ID,
				ProfileName: p.Name,
				Kind:        ref.Kind,
				ID:          ref.ID,
				Via:         ref.Via,
				Message:     danglingMessage(ref),
			})
		}
	}

	report.Recommendations = generateRecommendations(report)
	return report, nil
}

func danglingMessage(ref rbac.Reference) string {
	switch {
	case ref.Kind == rbac.KindCustomRole:
		return fmt.Sprintf("custom role %s no longer exists", ref.ID)
	case ref.Via != "":
		return fmt.Sprintf("system role %s granted through custom role %s is not in the catalog", ref.ID, ref.Via)
	default:
		return fmt.Sprintf("system role %s is not in the catalog", ref.ID)
	}
}
