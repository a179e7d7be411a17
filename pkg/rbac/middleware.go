package rbac

import (
	"net/http"

	"github.com/platinummonkey/wrench/pkg/contextkeys"
	"github.com/platinummonkey/wrench/pkg/httputil"
	"github.com/platinummonkey/wrench/pkg/observability"
)

// PermissionMiddleware guards routes with sidebar permission checks. The
// acting identity set by httputil.ActorMiddleware is the directory user id.
type PermissionMiddleware struct {
	checker Checker
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker) *PermissionMiddleware {
	return &PermissionMiddleware{
		checker: checker,
	}
}

// RequirePermission creates middleware that requires action on a sidebar item
func (pm *PermissionMiddleware) RequirePermission(item ItemKey, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := contextkeys.GetActor(r.Context())
			if actor == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			result, err := pm.checker.CheckPermission(r.Context(), PermissionCheck{
				UserID: actor,
				Item:   item,
				Action: action,
			})
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("permission check failed")
				httputil.WriteInternalError(w, err)
				return
			}

			if !result.Allowed {
				httputil.WriteForbidden(w, result.Reason)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSystemRole creates middleware that requires a system role
func (pm *PermissionMiddleware) RequireSystemRole(systemRoleID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := contextkeys.GetActor(r.Context())
			if actor == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			ok, err := pm.checker.HasSystemRole(r.Context(), actor, systemRoleID)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("system role check failed")
				httputil.WriteInternalError(w, err)
				return
			}
			if !ok {
				httputil.WriteForbidden(w, "missing system role "+systemRoleID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// guard wraps h with RequirePermission when pm is set
func (pm *PermissionMiddleware) guard(item ItemKey, action Action, h http.HandlerFunc) http.Handler {
	if pm == nil {
		return h
	}
	return pm.RequirePermission(item, action)(h)
}
