// Package rbac is the permission engine of the shop application.
//
// # Model
//
// A Profile is what a user holds. It combines:
//
//   - direct system roles, atomic permissions taken from the Catalog
//   - custom roles, flat administrator-defined bundles of system roles
//   - one access Tier per Module (total, view_only or blocked)
//   - a PermissionFlags row per sidebar item (view, edit, create, delete,
//     export, approve; anything but view requires view)
//
// Resolve turns a profile into an EffectivePermissionSet. Custom roles
// contribute the union of their system roles. References that no longer
// resolve are skipped and reported in Dangling instead of failing:
//
//	set := rbac.Resolve(profile, rbac.DefaultCatalog(), rbac.CustomRoleIndex(roles))
//	if set.Allows("hr.employees", rbac.ActionEdit) {
//		// ...
//	}
//
// # Writes
//
// Engine.UpdateProfile takes a ProfileChangeRequest carrying the version
// the caller read. The draft is validated, diffed against the stored
// profile by AnalyzeImpact and committed together with one audit entry and
// one RBAC log event. A concurrent commit makes the slower writer fail with
// ConflictError and nothing is written.
//
//	updated, impact, err := engine.UpdateProfile(ctx, rbac.ProfileChangeRequest{
//		ProfileID:       p.ID,
//		ExpectedVersion: p.Version,
//		Draft:           draft,
//		Actor:           "ana@shop.test",
//	})
//	if errors.Is(err, rbac.ErrConflict) {
//		// reload and retry
//	}
//
// # Storage
//
// MemoryStore and SQLStore implement Store. The SQL schema is created by
// RunMigrations; audit tables belong to package audit. Effective sets may
// be cached in EffectiveCache, keyed by profile version and the custom role
// generation so stale entries are never served.
//
// # HTTP
//
// Handlers exposes the engine under /rbac. WriteDomainError maps the typed
// errors of this package onto status codes.
package rbac
