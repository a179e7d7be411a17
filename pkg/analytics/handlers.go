package analytics

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/wrench/pkg/httputil"
	"github.com/platinummonkey/wrench/pkg/rbac"
)

// Handlers serves governance reports over HTTP
type Handlers struct {
	reports ReportGenerator
	guard   *rbac.PermissionMiddleware
}

// NewHandlers creates new analytics handlers. With a nil guard the routes
// are not permission checked.
func NewHandlers(reports ReportGenerator, guard *rbac.PermissionMiddleware) *Handlers {
	return &Handlers{reports: reports, guard: guard}
}

// RegisterRoutes registers the report routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	var report http.Handler = http.HandlerFunc(h.GetReport)
	if h.guard != nil {
		report = h.guard.RequirePermission("reports.analytics", rbac.ActionView)(report)
	}
	router.Handle("/rbac/reports", report).Methods("GET")
}

// GetReport handles GET /rbac/reports?profile_id=&role=
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.GenerateReport(r.Context(), ParseReportFilter(r))
	if err != nil {
		rbac.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, report)
}
