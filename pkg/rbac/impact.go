package rbac

import (
	"sort"

	"github.com/platinummonkey/wrench/pkg/directory"
)

// ModuleChange is a tier transition of one module
type ModuleChange struct {
	Module Module `json:"module"`
	From   Tier   `json:"from,omitempty"`
	To     Tier   `json:"to,omitempty"`
}

// Impact is the pre-commit diff of a profile change
type Impact struct {
	ProfileID           string           `json:"profile_id"`
	AddedRoles          []string         `json:"added_roles"`
	RemovedRoles        []string         `json:"removed_roles"`
	AddedCustomRoles    []string         `json:"added_custom_roles"`
	RemovedCustomRoles  []string         `json:"removed_custom_roles"`
	ModuleChanges       []ModuleChange   `json:"module_changes"`
	SidebarChangedItems []ItemKey        `json:"sidebar_changed_items"`
	AffectedUsers       []directory.User `json:"affected_users"`
	Material            bool             `json:"material"`
}

// AffectedUsersCount is the number of users holding the original profile
func (i *Impact) AffectedUsersCount() int {
	return len(i.AffectedUsers)
}

// RolesChanged reports whether direct or custom role membership changed
func (i *Impact) RolesChanged() bool {
	return len(i.AddedRoles)+len(i.RemovedRoles)+len(i.AddedCustomRoles)+len(i.RemovedCustomRoles) > 0
}

// PermissionsChanged reports whether module tiers or sidebar rows changed
func (i *Impact) PermissionsChanged() bool {
	return len(i.ModuleChanges)+len(i.SidebarChangedItems) > 0
}

// AnalyzeImpact diffs draft against original. users is the directory
// listing for the original profile; only users whose profile id matches the
// original are counted. Nothing is mutated.
func AnalyzeImpact(original, draft *Profile, users []directory.User) *Impact {
	impact := &Impact{ProfileID: original.ID}

	impact.AddedRoles, impact.RemovedRoles = diffSets(original.Roles, draft.Roles)
	impact.AddedCustomRoles, impact.RemovedCustomRoles = diffSets(original.CustomRoleIDs, draft.CustomRoleIDs)
	impact.ModuleChanges = diffModules(original.ModulePermissions, draft.ModulePermissions)
	impact.SidebarChangedItems = diffSidebar(original.SidebarPermissions, draft.SidebarPermissions)

	impact.AffectedUsers = make([]directory.User, 0, len(users))
	for _, u := range users {
		if u.ProfileID == original.ID {
			impact.AffectedUsers = append(impact.AffectedUsers, u)
		}
	}

	impact.Material = impact.RolesChanged() || impact.PermissionsChanged()
	return impact
}

// diffSets returns next−prev and prev−next, each sorted and unique. The two
// results never share an element.
func diffSets(prev, next []string) (added, removed []string) {
	prevSet := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		prevSet[id] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, id := range next {
		nextSet[id] = struct{}{}
	}

	added = []string{}
	removed = []string{}
	for id := range nextSet {
		if _, ok := prevSet[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range prevSet {
		if _, ok := nextSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func diffModules(prev, next map[Module]Tier) []ModuleChange {
	changes := []ModuleChange{}
	for _, info := range moduleInfos {
		from, to := prev[info.ID], next[info.ID]
		if from != to {
			changes = append(changes, ModuleChange{Module: info.ID, From: from, To: to})
		}
	}
	return changes
}

func diffSidebar(prev, next map[ItemKey]PermissionFlags) []ItemKey {
	keys := make(map[ItemKey]struct{})
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range next {
		keys[k] = struct{}{}
	}

	changed := []ItemKey{}
	for k := range keys {
		if prev[k] != next[k] {
			changed = append(changed, k)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	return changed
}
