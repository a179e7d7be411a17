package rbac

import (
	"fmt"
	"sort"
)

// Catalog is the immutable registry of system roles
type Catalog struct {
	roles    []SystemRole
	byID     map[string]int
	byModule map[Module][]int
}

// NewCatalog builds a catalog, rejecting unknown modules and duplicate ids
func NewCatalog(roles []SystemRole) (*Catalog, error) {
	c := &Catalog{
		roles:    make([]SystemRole, 0, len(roles)),
		byID:     make(map[string]int, len(roles)),
		byModule: make(map[Module][]int),
	}

	for _, r := range roles {
		if r.ID == "" {
			return nil, fmt.Errorf("system role id is required")
		}
		if r.Name == "" {
			return nil, fmt.Errorf("system role %s: name is required", r.ID)
		}
		if !r.Module.Valid() {
			return nil, fmt.Errorf("system role %s: unknown module %q", r.ID, r.Module)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate system role id: %s", r.ID)
		}

		r.Tags = append([]string(nil), r.Tags...)
		idx := len(c.roles)
		c.roles = append(c.roles, r)
		c.byID[r.ID] = idx
		c.byModule[r.Module] = append(c.byModule[r.Module], idx)
	}

	return c, nil
}

// DefaultCatalog returns the built-in catalog
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(BuiltInSystemRoles())
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// ByID looks up a system role
func (c *Catalog) ByID(id string) (SystemRole, error) {
	idx, ok := c.byID[id]
	if !ok {
		return SystemRole{}, &NotFoundError{Kind: KindSystemRole, ID: id}
	}
	return copyRole(c.roles[idx]), nil
}

// Contains reports whether id is in the catalog
func (c *Catalog) Contains(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// ByModule returns the system roles of one module in catalog order
func (c *Catalog) ByModule(m Module) []SystemRole {
	idxs := c.byModule[m]
	out := make([]SystemRole, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, copyRole(c.roles[idx]))
	}
	return out
}

// All returns every system role in catalog order
func (c *Catalog) All() []SystemRole {
	out := make([]SystemRole, 0, len(c.roles))
	for _, r := range c.roles {
		out = append(out, copyRole(r))
	}
	return out
}

// IDs returns the sorted set of catalog ids
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.roles))
	for _, r := range c.roles {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of system roles
func (c *Catalog) Len() int {
	return len(c.roles)
}

func copyRole(r SystemRole) SystemRole {
	r.Tags = append([]string(nil), r.Tags...)
	return r
}

// BuiltInSystemRoles returns the system roles shipped with the application
func BuiltInSystemRoles() []SystemRole {
	return []SystemRole{
		// Dashboard
		{ID: "dashboard.view", Module: ModuleDashboard, Name: "View dashboard", Description: "See the shop overview", Tags: []string{"read"}},
		{ID: "dashboard.view_financials", Module: ModuleDashboard, Name: "View financial KPIs", Description: "See revenue and margin widgets", Tags: []string{"read", "sensitive"}},

		// Registrations
		{ID: "registrations.view_customers", Module: ModuleRegistrations, Name: "View customers", Description: "List and open customer records", Tags: []string{"read"}},
		{ID: "registrations.edit_customers", Module: ModuleRegistrations, Name: "Edit customers", Description: "Create and update customer records", Tags: []string{"write"}},
		{ID: "registrations.delete_customers", Module: ModuleRegistrations, Name: "Delete customers", Description: "Remove customer records", Tags: []string{"write", "destructive"}},
		{ID: "registrations.view_vehicles", Module: ModuleRegistrations, Name: "View vehicles", Description: "List and open vehicle records", Tags: []string{"read"}},
		{ID: "registrations.edit_vehicles", Module: ModuleRegistrations, Name: "Edit vehicles", Description: "Create and update vehicle records", Tags: []string{"write"}},
		{ID: "registrations.manage_suppliers", Module: ModuleRegistrations, Name: "Manage suppliers", Description: "Maintain the supplier list", Tags: []string{"write"}},

		// HR
		{ID: "hr.view_employees", Module: ModuleHR, Name: "View employees", Description: "List staff and their job roles", Tags: []string{"read"}},
		{ID: "hr.edit_employees", Module: ModuleHR, Name: "Edit employees", Description: "Hire, update and offboard staff", Tags: []string{"write", "sensitive"}},
		{ID: "hr.manage_job_roles", Module: ModuleHR, Name: "Manage job roles", Description: "Maintain job role tags", Tags: []string{"write"}},

		// Diagnostics
		{ID: "diagnostics.view", Module: ModuleDiagnostics, Name: "View diagnostics", Description: "Open diagnostic questionnaires and scores", Tags: []string{"read"}},
		{ID: "diagnostics.run", Module: ModuleDiagnostics, Name: "Run diagnostics", Description: "Fill in and submit questionnaires", Tags: []string{"write"}},
		{ID: "diagnostics.manage_templates", Module: ModuleDiagnostics, Name: "Manage questionnaire templates", Description: "Edit questionnaire structure", Tags: []string{"write"}},

		// Action plans
		{ID: "action_plans.view", Module: ModuleActionPlans, Name: "View action plans", Description: "Open generated action plans", Tags: []string{"read"}},
		{ID: "action_plans.generate", Module: ModuleActionPlans, Name: "Generate action plans", Description: "Request a new generated plan", Tags: []string{"write"}},
		{ID: "action_plans.approve", Module: ModuleActionPlans, Name: "Approve action plans", Description: "Approve plans for execution", Tags: []string{"approve"}},
		{ID: "action_plans.assign_tasks", Module: ModuleActionPlans, Name: "Assign tasks", Description: "Assign plan tasks to staff", Tags: []string{"write"}},

		// Reports
		{ID: "reports.view", Module: ModuleReports, Name: "View reports", Description: "Open rendered reports", Tags: []string{"read"}},
		{ID: "reports.export", Module: ModuleReports, Name: "Export reports", Description: "Download reports as PDF or CSV", Tags: []string{"export"}},
		{ID: "reports.view_analytics", Module: ModuleReports, Name: "View permission analytics", Description: "Open the access governance reports", Tags: []string{"read", "sensitive"}},

		// Notifications
		{ID: "notifications.view", Module: ModuleNotifications, Name: "View notifications", Description: "Read the notification inbox", Tags: []string{"read"}},
		{ID: "notifications.broadcast", Module: ModuleNotifications, Name: "Broadcast notifications", Description: "Send notifications to all staff", Tags: []string{"write"}},

		// Administration
		{ID: "administration.view_profiles", Module: ModuleAdministration, Name: "View profiles", Description: "Open access profiles", Tags: []string{"read"}},
		{ID: "administration.manage_profiles", Module: ModuleAdministration, Name: "Manage profiles", Description: "Create and change access profiles", Tags: []string{"write", "sensitive"}},
		{ID: "administration.manage_custom_roles", Module: ModuleAdministration, Name: "Manage custom roles", Description: "Create and change custom role bundles", Tags: []string{"write", "sensitive"}},
		{ID: "administration.assign_users", Module: ModuleAdministration, Name: "Assign users", Description: "Move users between profiles", Tags: []string{"write", "sensitive"}},
		{ID: "administration.view_audit", Module: ModuleAdministration, Name: "View audit trail", Description: "Read profile history and the change log", Tags: []string{"read", "sensitive"}},
	}
}
