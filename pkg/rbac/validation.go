package rbac

import (
	"sort"
	"strings"
)

// ValidateSidebar checks the view dependency of every sidebar row and that
// each key is a known sidebar item.
func ValidateSidebar(sidebar map[ItemKey]PermissionFlags) error {
	verr := &ValidationError{}
	validateSidebar(verr, sidebar)
	return verr.orNil()
}

func validateSidebar(verr *ValidationError, sidebar map[ItemKey]PermissionFlags) {
	keys := make([]string, 0, len(sidebar))
	for k := range sidebar {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := ItemKey(k)
		if _, ok := key.Module(); !ok {
			verr.add("sidebar_permissions."+k, "unknown sidebar item")
			continue
		}
		if !sidebar[key].Consistent() {
			verr.add("sidebar_permissions."+k, "view is required when edit, create, delete, export or approve is granted")
		}
	}
}

func validateModules(verr *ValidationError, modules map[Module]Tier) {
	keys := make([]string, 0, len(modules))
	for m := range modules {
		keys = append(keys, string(m))
	}
	sort.Strings(keys)

	for _, k := range keys {
		m := Module(k)
		if !m.Valid() {
			verr.add("module_permissions."+k, "unknown module")
			continue
		}
		if !modules[m].Valid() {
			verr.add("module_permissions."+k, "invalid tier %q", modules[m])
		}
	}
}

// ValidateDraft checks a profile draft against the catalog and the current
// custom roles. previous is the stored profile being edited, or nil when the
// draft creates a new profile; custom roles already attached to previous may
// stay attached after being deactivated, newly attached ones must be active.
//
// Structural problems are reported first as a ValidationError. Only a
// structurally valid draft is checked for references, which fail with a
// DanglingReferenceError.
func ValidateDraft(draft ProfileDraft, catalog *Catalog, customRoles map[string]*CustomRole, previous *Profile) error {
	verr := &ValidationError{}

	if strings.TrimSpace(draft.Name) == "" {
		verr.add("name", "is required")
	}
	if !draft.Type.Valid() {
		verr.add("type", "must be internal, external or system")
	}
	validateModules(verr, draft.ModulePermissions)
	validateSidebar(verr, draft.SidebarPermissions)

	attached := make(map[string]bool)
	if previous != nil {
		for _, id := range previous.CustomRoleIDs {
			attached[id] = true
		}
	}
	for _, id := range draft.CustomRoleIDs {
		cr, ok := customRoles[id]
		if ok && cr.Status != StatusActive && !attached[id] {
			verr.add("custom_role_ids", "custom role %s is inactive and cannot be attached", id)
		}
	}

	if err := verr.orNil(); err != nil {
		return err
	}

	var missingRoles []string
	for _, id := range dedupe(draft.Roles) {
		if !catalog.Contains(id) {
			missingRoles = append(missingRoles, id)
		}
	}
	if len(missingRoles) > 0 {
		return &DanglingReferenceError{Kind: KindSystemRole, IDs: missingRoles}
	}

	var missingCustom []string
	for _, id := range dedupe(draft.CustomRoleIDs) {
		if _, ok := customRoles[id]; !ok {
			missingCustom = append(missingCustom, id)
		}
	}
	if len(missingCustom) > 0 {
		return &DanglingReferenceError{Kind: KindCustomRole, IDs: missingCustom}
	}

	return nil
}

// ValidateCustomRole checks a custom role definition against the catalog
func ValidateCustomRole(in CustomRoleInput, catalog *Catalog) error {
	verr := &ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		verr.add("name", "is required")
	}
	if in.Status != "" && !in.Status.Valid() {
		verr.add("status", "must be active or inactive")
	}
	if err := verr.orNil(); err != nil {
		return err
	}

	var missing []string
	for _, id := range dedupe(in.SystemRoleIDs) {
		if !catalog.Contains(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &DanglingReferenceError{Kind: KindSystemRole, IDs: missing}
	}
	return nil
}
