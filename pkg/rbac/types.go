package rbac

import (
	"sort"
	"time"
)

// Module is a top-level area of the shop application
type Module string

const (
	ModuleDashboard      Module = "dashboard"
	ModuleRegistrations  Module = "registrations"
	ModuleHR             Module = "hr"
	ModuleDiagnostics    Module = "diagnostics"
	ModuleActionPlans    Module = "action_plans"
	ModuleReports        Module = "reports"
	ModuleNotifications  Module = "notifications"
	ModuleAdministration Module = "administration"
)

// ModuleInfo describes a module for display
type ModuleInfo struct {
	ID          Module `json:"id"`
	DisplayName string `json:"display_name"`
}

var moduleInfos = []ModuleInfo{
	{ID: ModuleDashboard, DisplayName: "Dashboard"},
	{ID: ModuleRegistrations, DisplayName: "Registrations"},
	{ID: ModuleHR, DisplayName: "Human Resources"},
	{ID: ModuleDiagnostics, DisplayName: "Diagnostics"},
	{ID: ModuleActionPlans, DisplayName: "Action Plans"},
	{ID: ModuleReports, DisplayName: "Reports"},
	{ID: ModuleNotifications, DisplayName: "Notifications"},
	{ID: ModuleAdministration, DisplayName: "Administration"},
}

// Modules returns every known module in display order
func Modules() []ModuleInfo {
	out := make([]ModuleInfo, len(moduleInfos))
	copy(out, moduleInfos)
	return out
}

// Valid reports whether m is a known module
func (m Module) Valid() bool {
	for _, info := range moduleInfos {
		if info.ID == m {
			return true
		}
	}
	return false
}

// Tier is the whole-module access level of a profile
type Tier string

const (
	TierTotal    Tier = "total"
	TierViewOnly Tier = "view_only"
	TierBlocked  Tier = "blocked"
)

// Valid reports whether t is one of the three tiers
func (t Tier) Valid() bool {
	switch t {
	case TierTotal, TierViewOnly, TierBlocked:
		return true
	}
	return false
}

// ItemKey identifies a sidebar entry
type ItemKey string

// sidebarItems maps every sidebar entry to the module that owns it
var sidebarItems = map[ItemKey]Module{
	"dashboard":                   ModuleDashboard,
	"dashboard.kpis":              ModuleDashboard,
	"registrations.customers":     ModuleRegistrations,
	"registrations.vehicles":      ModuleRegistrations,
	"registrations.suppliers":     ModuleRegistrations,
	"hr.employees":                ModuleHR,
	"hr.job_roles":                ModuleHR,
	"diagnostics.questionnaires":  ModuleDiagnostics,
	"diagnostics.results":         ModuleDiagnostics,
	"action_plans.plans":          ModuleActionPlans,
	"action_plans.tasks":          ModuleActionPlans,
	"reports.exports":             ModuleReports,
	"reports.analytics":           ModuleReports,
	"notifications.inbox":         ModuleNotifications,
	"administration.profiles":     ModuleAdministration,
	"administration.custom_roles": ModuleAdministration,
	"administration.users":        ModuleAdministration,
}

// SidebarItems returns all known sidebar item keys, sorted
func SidebarItems() []ItemKey {
	keys := make([]ItemKey, 0, len(sidebarItems))
	for k := range sidebarItems {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Module returns the module owning the sidebar item and whether the key is known
func (k ItemKey) Module() (Module, bool) {
	m, ok := sidebarItems[k]
	return m, ok
}

// Action is one of the per-item sidebar operations
type Action string

const (
	ActionView    Action = "view"
	ActionEdit    Action = "edit"
	ActionCreate  Action = "create"
	ActionDelete  Action = "delete"
	ActionExport  Action = "export"
	ActionApprove Action = "approve"
)

// PermissionFlags is the CRUD-style permission row of one sidebar item.
// Any of Edit/Create/Delete/Export/Approve requires View.
type PermissionFlags struct {
	View    bool `json:"view"`
	Edit    bool `json:"edit"`
	Create  bool `json:"create"`
	Delete  bool `json:"delete"`
	Export  bool `json:"export"`
	Approve bool `json:"approve"`
}

// Has reports whether the flag for the given action is set
func (f PermissionFlags) Has(action Action) bool {
	switch action {
	case ActionView:
		return f.View
	case ActionEdit:
		return f.Edit
	case ActionCreate:
		return f.Create
	case ActionDelete:
		return f.Delete
	case ActionExport:
		return f.Export
	case ActionApprove:
		return f.Approve
	}
	return false
}

// RequiresView reports whether any flag that depends on View is set
func (f PermissionFlags) RequiresView() bool {
	return f.Edit || f.Create || f.Delete || f.Export || f.Approve
}

// Consistent reports whether the view dependency holds
func (f PermissionFlags) Consistent() bool {
	return !f.RequiresView() || f.View
}

// SystemRole is an atomic, catalog-defined permission scoped to one module
type SystemRole struct {
	ID          string   `json:"id" yaml:"id"`
	Module      Module   `json:"module" yaml:"module"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Tags        []string `json:"tags,omitempty" yaml:"tags"`
}

// RoleStatus is the lifecycle state of a custom role or profile
type RoleStatus string

const (
	StatusActive   RoleStatus = "active"
	StatusInactive RoleStatus = "inactive"
)

// Valid reports whether s is a known status
func (s RoleStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// CustomRole is an administrator-defined flat bundle of system roles
type CustomRole struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	SystemRoleIDs []string   `json:"system_role_ids"`
	Status        RoleStatus `json:"status"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CreatedBy     string     `json:"created_by,omitempty"`
}

// ProfileType classifies who a profile is meant for
type ProfileType string

const (
	ProfileInternal ProfileType = "internal"
	ProfileExternal ProfileType = "external"
	ProfileSystem   ProfileType = "system"
)

// Valid reports whether t is a known profile type
func (t ProfileType) Valid() bool {
	switch t {
	case ProfileInternal, ProfileExternal, ProfileSystem:
		return true
	}
	return false
}

// Profile is the assignable authorization unit
type Profile struct {
	ID                 string                      `json:"id"`
	Name               string                      `json:"name"`
	Description        string                      `json:"description,omitempty"`
	Type               ProfileType                 `json:"type"`
	Status             RoleStatus                  `json:"status"`
	Roles              []string                    `json:"roles"`
	CustomRoleIDs      []string                    `json:"custom_role_ids"`
	JobRoles           []string                    `json:"job_roles"`
	ModulePermissions  map[Module]Tier             `json:"module_permissions"`
	SidebarPermissions map[ItemKey]PermissionFlags `json:"sidebar_permissions"`
	UsersCount         int                         `json:"users_count"`
	Version            int64                       `json:"version"`
	CreatedAt          time.Time                   `json:"created_at"`
	UpdatedAt          time.Time                   `json:"updated_at"`
}

// Clone returns a deep copy so callers can never alias stored state
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = append([]string(nil), p.Roles...)
	c.CustomRoleIDs = append([]string(nil), p.CustomRoleIDs...)
	c.JobRoles = append([]string(nil), p.JobRoles...)
	if p.ModulePermissions != nil {
		c.ModulePermissions = make(map[Module]Tier, len(p.ModulePermissions))
		for k, v := range p.ModulePermissions {
			c.ModulePermissions[k] = v
		}
	}
	if p.SidebarPermissions != nil {
		c.SidebarPermissions = make(map[ItemKey]PermissionFlags, len(p.SidebarPermissions))
		for k, v := range p.SidebarPermissions {
			c.SidebarPermissions[k] = v
		}
	}
	return &c
}

// Clone returns a deep copy of the custom role
func (cr *CustomRole) Clone() *CustomRole {
	if cr == nil {
		return nil
	}
	c := *cr
	c.SystemRoleIDs = append([]string(nil), cr.SystemRoleIDs...)
	return &c
}

// ProfileDraft carries the editable part of a profile
type ProfileDraft struct {
	Name               string                      `json:"name"`
	Description        string                      `json:"description,omitempty"`
	Type               ProfileType                 `json:"type"`
	Roles              []string                    `json:"roles"`
	CustomRoleIDs      []string                    `json:"custom_role_ids"`
	JobRoles           []string                    `json:"job_roles"`
	ModulePermissions  map[Module]Tier             `json:"module_permissions"`
	SidebarPermissions map[ItemKey]PermissionFlags `json:"sidebar_permissions"`
}

// ApplyTo returns a copy of base with the draft applied. Identity,
// status, user count and version are carried over from base.
func (d ProfileDraft) ApplyTo(base *Profile) *Profile {
	next := base.Clone()
	next.Name = d.Name
	next.Description = d.Description
	next.Type = d.Type
	next.Roles = dedupe(d.Roles)
	next.CustomRoleIDs = dedupe(d.CustomRoleIDs)
	next.JobRoles = dedupe(d.JobRoles)
	next.ModulePermissions = make(map[Module]Tier, len(d.ModulePermissions))
	for k, v := range d.ModulePermissions {
		next.ModulePermissions[k] = v
	}
	next.SidebarPermissions = make(map[ItemKey]PermissionFlags, len(d.SidebarPermissions))
	for k, v := range d.SidebarPermissions {
		next.SidebarPermissions[k] = v
	}
	return next
}

// DraftFrom builds a draft carrying the editable fields of p
func DraftFrom(p *Profile) ProfileDraft {
	c := p.Clone()
	return ProfileDraft{
		Name:               c.Name,
		Description:        c.Description,
		Type:               c.Type,
		Roles:              c.Roles,
		CustomRoleIDs:      c.CustomRoleIDs,
		JobRoles:           c.JobRoles,
		ModulePermissions:  c.ModulePermissions,
		SidebarPermissions: c.SidebarPermissions,
	}
}

// ProfileChangeRequest is the command applied atomically by UpdateProfile
type ProfileChangeRequest struct {
	ProfileID       string       `json:"profile_id"`
	ExpectedVersion int64        `json:"expected_version"`
	Draft           ProfileDraft `json:"draft"`
	Actor           string       `json:"actor"`
}

// CustomRoleInput carries the editable part of a custom role
type CustomRoleInput struct {
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	SystemRoleIDs []string   `json:"system_role_ids"`
	Status        RoleStatus `json:"status,omitempty"`
}

// dedupe removes duplicates while keeping first-seen order
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
