package rbac

import (
	"sort"
)

// Reference is an id that did not resolve and was skipped
type Reference struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	// Via is the custom role that carried a system role reference
	Via string `json:"via,omitempty"`
}

// EffectivePermissionSet is the fully resolved access a profile grants
type EffectivePermissionSet struct {
	ProfileID      string                      `json:"profile_id"`
	ProfileVersion int64                       `json:"profile_version"`
	SystemRoleIDs  []string                    `json:"system_role_ids"`
	ModuleAccess   map[Module]Tier             `json:"module_access"`
	SidebarAccess  map[ItemKey]PermissionFlags `json:"sidebar_access"`
	Dangling       []Reference                 `json:"dangling,omitempty"`
}

// Has reports whether the set grants the system role
func (s *EffectivePermissionSet) Has(systemRoleID string) bool {
	i := sort.SearchStrings(s.SystemRoleIDs, systemRoleID)
	return i < len(s.SystemRoleIDs) && s.SystemRoleIDs[i] == systemRoleID
}

// TierFor returns the tier of a module. A module the profile does not
// mention is treated as blocked.
func (s *EffectivePermissionSet) TierFor(m Module) Tier {
	if t, ok := s.ModuleAccess[m]; ok && t.Valid() {
		return t
	}
	return TierBlocked
}

// AccessibleModules returns the modules whose tier is not blocked, in
// display order.
func (s *EffectivePermissionSet) AccessibleModules() []Module {
	var out []Module
	for _, info := range moduleInfos {
		if s.TierFor(info.ID) != TierBlocked {
			out = append(out, info.ID)
		}
	}
	return out
}

// Allows answers a single sidebar check. The module tier wins over the item
// flags: blocked denies everything and view_only allows only viewing.
func (s *EffectivePermissionSet) Allows(item ItemKey, action Action) bool {
	m, ok := item.Module()
	if !ok {
		return false
	}
	switch s.TierFor(m) {
	case TierBlocked:
		return false
	case TierViewOnly:
		if action != ActionView {
			return false
		}
	}
	flags, ok := s.SidebarAccess[item]
	if !ok {
		return false
	}
	return flags.Has(action)
}

// HasDangling reports whether resolution skipped any reference
func (s *EffectivePermissionSet) HasDangling() bool {
	return len(s.Dangling) > 0
}

// Resolve computes the effective permission set of a profile:
//
//	system roles = profile.roles ∪ ⋃ customRole.system_role_ids
//	module access / sidebar access = the profile's own maps
//
// Custom roles are flat unions. A custom role id that no longer resolves,
// or a system role id missing from the catalog, contributes nothing and is
// reported in Dangling. Resolve never fails and never mutates its inputs.
func Resolve(p *Profile, catalog *Catalog, customRoles map[string]*CustomRole) *EffectivePermissionSet {
	set := &EffectivePermissionSet{
		ProfileID:      p.ID,
		ProfileVersion: p.Version,
		ModuleAccess:   make(map[Module]Tier, len(p.ModulePermissions)),
		SidebarAccess:  make(map[ItemKey]PermissionFlags, len(p.SidebarPermissions)),
	}

	granted := make(map[string]struct{})
	dangling := make(map[Reference]struct{})

	addRole := func(id, via string) {
		if !catalog.Contains(id) {
			dangling[Reference{Kind: KindSystemRole, ID: id, Via: via}] = struct{}{}
			return
		}
		granted[id] = struct{}{}
	}

	for _, id := range p.Roles {
		addRole(id, "")
	}

	for _, crID := range p.CustomRoleIDs {
		cr, ok := customRoles[crID]
		if !ok || cr == nil {
			dangling[Reference{Kind: KindCustomRole, ID: crID}] = struct{}{}
			continue
		}
		for _, id := range cr.SystemRoleIDs {
			addRole(id, crID)
		}
	}

	set.SystemRoleIDs = make([]string, 0, len(granted))
	for id := range granted {
		set.SystemRoleIDs = append(set.SystemRoleIDs, id)
	}
	sort.Strings(set.SystemRoleIDs)

	for ref := range dangling {
		set.Dangling = append(set.Dangling, ref)
	}
	sort.Slice(set.Dangling, func(i, j int) bool {
		a, b := set.Dangling[i], set.Dangling[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Via < b.Via
	})

	for m, t := range p.ModulePermissions {
		set.ModuleAccess[m] = t
	}
	for k, f := range p.SidebarPermissions {
		set.SidebarAccess[k] = f
	}

	return set
}

// CustomRoleIndex indexes custom roles by id
func CustomRoleIndex(roles []*CustomRole) map[string]*CustomRole {
	idx := make(map[string]*CustomRole, len(roles))
	for _, cr := range roles {
		if cr == nil {
			continue
		}
		idx[cr.ID] = cr
	}
	return idx
}
