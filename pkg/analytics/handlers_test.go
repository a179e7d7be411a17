package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wrench/pkg/httputil"
	"github.com/platinummonkey/wrench/pkg/rbac"
)

type denyChecker struct{}

func (denyChecker) CheckPermission(ctx context.Context, check rbac.PermissionCheck) (*rbac.PermissionCheckResult, error) {
	return &rbac.PermissionCheckResult{Allowed: check.UserID == "owner", Reason: "module reports is blocked"}, nil
}

func (denyChecker) HasSystemRole(ctx context.Context, userID, systemRoleID string) (bool, error) {
	return false, nil
}

func TestHandlers_GetReport(t *testing.T) {
	reports := &stubReports{report: &Report{
		GeneratedAt:    reportNow,
		Usage:          UsageStats{TotalUsers: 3, UsersWithProfile: 3, Coverage: 1},
		SkippedRecords: map[string]int{},
	}}

	router := mux.NewRouter()
	NewHandlers(reports, nil).RegisterRoutes(router)

	req := httptest.NewRequest("GET", "/rbac/reports?profile_id=p1&role=dashboard.view,reports.view", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ReportFilter{ProfileID: "p1", Roles: []string{"dashboard.view", "reports.view"}}, reports.filter)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	usage := body["usage"].(map[string]interface{})
	assert.Equal(t, float64(3), usage["total_users"])
}

func TestHandlers_GetReportErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing profile", &rbac.NotFoundError{Kind: rbac.KindProfile, ID: "p9"}, http.StatusNotFound},
		{"unknown role", &rbac.DanglingReferenceError{Kind: rbac.KindSystemRole, IDs: []string{"x"}}, http.StatusBadRequest},
		{"store failure", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := mux.NewRouter()
			NewHandlers(&stubReports{err: tt.err}, nil).RegisterRoutes(router)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/rbac/reports", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestHandlers_GuardedReport(t *testing.T) {
	reports := &stubReports{report: &Report{SkippedRecords: map[string]int{}}}

	router := mux.NewRouter()
	router.Use(httputil.ActorMiddleware)
	NewHandlers(reports, rbac.NewPermissionMiddleware(denyChecker{})).RegisterRoutes(router)

	tests := []struct {
		actor string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"mechanic", http.StatusForbidden},
		{"owner", http.StatusOK},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/rbac/reports", nil)
		if tt.actor != "" {
			req.Header.Set(httputil.ActorHeader, tt.actor)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tt.want, w.Code, "actor %q", tt.actor)
	}
}
