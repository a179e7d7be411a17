package rbac

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/wrench/pkg/httputil"
	"github.com/platinummonkey/wrench/pkg/observability"
)

// Handlers provides HTTP handlers for the permission engine
type Handlers struct {
	engine  *Engine
	checker *PermissionChecker
	guard   *PermissionMiddleware
}

// NewHandlers creates new RBAC handlers. With a nil guard the routes are
// not permission checked.
func NewHandlers(engine *Engine, guard *PermissionMiddleware) *Handlers {
	return &Handlers{
		engine:  engine,
		checker: NewPermissionChecker(engine),
		guard:   guard,
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	g := h.guard

	// Catalog
	router.Handle("/rbac/catalog", g.guard("administration.profiles", ActionView, h.GetCatalog)).Methods("GET")

	// Profiles
	router.Handle("/rbac/profiles", g.guard("administration.profiles", ActionView, h.ListProfiles)).Methods("GET")
	router.Handle("/rbac/profiles", g.guard("administration.profiles", ActionCreate, h.CreateProfile)).Methods("POST")
	router.Handle("/rbac/profiles/{id}", g.guard("administration.profiles", ActionView, h.GetProfile)).Methods("GET")
	router.Handle("/rbac/profiles/{id}", g.guard("administration.profiles", ActionEdit, h.UpdateProfile)).Methods("PUT")
	router.Handle("/rbac/profiles/{id}", g.guard("administration.profiles", ActionDelete, h.DeleteProfile)).Methods("DELETE")
	router.Handle("/rbac/profiles/{id}/status", g.guard("administration.profiles", ActionEdit, h.SetProfileStatus)).Methods("PUT")
	router.Handle("/rbac/profiles/{id}/effective", g.guard("administration.profiles", ActionView, h.GetEffective)).Methods("GET")
	router.Handle("/rbac/profiles/{id}/impact", g.guard("administration.profiles", ActionView, h.AnalyzeImpact)).Methods("POST")

	// Custom roles
	router.Handle("/rbac/custom-roles", g.guard("administration.custom_roles", ActionView, h.ListCustomRoles)).Methods("GET")
	router.Handle("/rbac/custom-roles", g.guard("administration.custom_roles", ActionCreate, h.CreateCustomRole)).Methods("POST")
	router.Handle("/rbac/custom-roles/{id}", g.guard("administration.custom_roles", ActionView, h.GetCustomRole)).Methods("GET")
	router.Handle("/rbac/custom-roles/{id}", g.guard("administration.custom_roles", ActionEdit, h.UpdateCustomRole)).Methods("PUT")
	router.Handle("/rbac/custom-roles/{id}", g.guard("administration.custom_roles", ActionDelete, h.DeleteCustomRole)).Methods("DELETE")

	// Users
	router.Handle("/rbac/users/{id}/profile", g.guard("administration.users", ActionEdit, h.AssignUser)).Methods("PUT")

	// Permission checking
	router.HandleFunc("/rbac/check", h.CheckPermission).Methods("POST")
}

// WriteDomainError maps engine errors onto HTTP statuses: validation and
// dangling references are 400, missing entities 404, lost races 409.
// Anything else is logged and answered with a bare 500.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		details := make(map[string]string, len(verr.Problems))
		for _, p := range verr.Problems {
			if prev, ok := details[p.Field]; ok {
				details[p.Field] = prev + "; " + p.Reason
				continue
			}
			details[p.Field] = p.Reason
		}
		httputil.WriteDetailedError(w, http.StatusBadRequest, verr.Error(), details)
	case errors.Is(err, ErrDanglingReference):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteInternalError(w, err)
	}
}

// GetCatalog returns the system roles, modules and sidebar items
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"system_roles":  h.engine.ListCatalog(),
		"modules":       Modules(),
		"sidebar_items": SidebarItems(),
	})
}

// ListProfiles lists all profiles
func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.engine.ListProfiles(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

// CreateProfile creates a new profile from a draft
func (h *Handlers) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var draft ProfileDraft
	if !httputil.ParseJSONOrError(w, r, &draft) {
		return
	}

	p, err := h.engine.CreateProfile(r.Context(), draft, "")
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, p)
}

// GetProfile returns one profile
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	p, err := h.engine.GetProfile(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

// updateProfileRequest is the body of PUT /rbac/profiles/{id}
type updateProfileRequest struct {
	ExpectedVersion int64        `json:"expected_version"`
	Draft           ProfileDraft `json:"draft"`
}

// UpdateProfile validates and commits a profile change
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req updateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	p, impact, err := h.engine.UpdateProfile(r.Context(), ProfileChangeRequest{
		ProfileID:       id,
		ExpectedVersion: req.ExpectedVersion,
		Draft:           req.Draft,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"profile": p,
		"impact":  impact,
	})
}

// DeleteProfile deletes an unassigned profile. expected_version is required.
func (h *Handlers) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	version, ok := parseExpectedVersion(w, r)
	if !ok {
		return
	}

	if err := h.engine.DeleteProfile(r.Context(), id, version, ""); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SetProfileStatus retires or reactivates a profile
func (h *Handlers) SetProfileStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		ExpectedVersion int64      `json:"expected_version"`
		Status          RoleStatus `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	p, err := h.engine.SetProfileStatus(r.Context(), id, req.ExpectedVersion, req.Status, "")
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

// GetEffective returns the resolved permission set of a profile
func (h *Handlers) GetEffective(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	set, err := h.engine.ResolveEffective(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"effective":          set,
		"accessible_modules": set.AccessibleModules(),
	})
}

// AnalyzeImpact previews the effect of a draft without saving it
func (h *Handlers) AnalyzeImpact(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var draft ProfileDraft
	if !httputil.ParseJSONOrError(w, r, &draft) {
		return
	}

	impact, err := h.engine.AnalyzeImpact(r.Context(), id, draft)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, impact)
}

// ListCustomRoles lists all custom roles
func (h *Handlers) ListCustomRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.engine.ListCustomRoles(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"custom_roles": roles,
		"count":        len(roles),
	})
}

// CreateCustomRole creates a new custom role
func (h *Handlers) CreateCustomRole(w http.ResponseWriter, r *http.Request) {
	var in CustomRoleInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	cr, err := h.engine.CreateCustomRole(r.Context(), in, "")
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, cr)
}

// GetCustomRole returns one custom role
func (h *Handlers) GetCustomRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	cr, err := h.engine.GetCustomRole(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, cr)
}

// UpdateCustomRole replaces a custom role definition
func (h *Handlers) UpdateCustomRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		ExpectedVersion int64 `json:"expected_version"`
		CustomRoleInput
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	cr, err := h.engine.UpdateCustomRole(r.Context(), id, req.ExpectedVersion, req.CustomRoleInput, "")
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, cr)
}

// DeleteCustomRole deletes a custom role
func (h *Handlers) DeleteCustomRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.engine.DeleteCustomRole(r.Context(), id, ""); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AssignUser sets or clears the profile of a user
func (h *Handlers) AssignUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		ProfileID string `json:"profile_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.engine.AssignUser(r.Context(), id, req.ProfileID, "")
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// CheckPermission answers a single access question
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var check PermissionCheck
	if !httputil.ParseJSONOrError(w, r, &check) {
		return
	}
	if check.UserID == "" || check.Item == "" || check.Action == "" {
		httputil.WriteBadRequest(w, "user_id, item and action are required")
		return
	}

	result, err := h.checker.CheckPermission(r.Context(), check)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func parseExpectedVersion(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("expected_version")
	if raw == "" {
		httputil.WriteBadRequest(w, "expected_version is required")
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		httputil.WriteBadRequest(w, "invalid expected_version "+strconv.Quote(raw))
		return 0, false
	}
	return v, true
}
