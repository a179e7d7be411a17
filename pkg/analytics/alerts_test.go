package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wrench/pkg/rbac"
)

type stubReports struct {
	report *Report
	err    error
	filter ReportFilter
}

func (s *stubReports) GenerateReport(ctx context.Context, filter ReportFilter) (*Report, error) {
	s.filter = filter
	return s.report, s.err
}

func alertTitles(alerts []Alert) []string {
	titles := make([]string, 0, len(alerts))
	for _, a := range alerts {
		titles = append(titles, a.Title)
	}
	return titles
}

func TestAlerter_Evaluate(t *testing.T) {
	report := &Report{
		Usage: UsageStats{TotalUsers: 10, UsersWithProfile: 8, Coverage: 0.8},
		Profiles: []ProfileAnalysis{
			{ProfileID: "p1", Name: "Owner", UsersCount: 1, Complexity: Complexity{Score: 80, Band: BandHigh}},
			{ProfileID: "p2", Name: "Mechanic", UsersCount: 7, Complexity: Complexity{Score: 6, Band: BandSimple}},
		},
		Permissions: PermissionReport{
			Unused: []PermissionUsage{{ID: "hr.manage_job_roles"}, {ID: "notifications.broadcast"}},
		},
		Warnings: []Warning{{
			ProfileID: "p2",
			Kind:      rbac.KindCustomRole,
			ID:        "cr-gone",
			Message:   "custom role cr-gone no longer exists",
		}},
		SkippedRecords: map[string]int{"event": 2, "profile": 1},
		Degraded:       []string{"event scan failed: context deadline exceeded"},
	}

	alerter := NewAlerter(nil, DefaultAlertThresholds(), nil)
	alerts := alerter.Evaluate(report)

	assert.Equal(t, []string{
		"High complexity profile",
		"Dangling reference",
		"Unused permissions",
		"Users without a profile",
		"Degraded report",
		"Malformed records skipped",
	}, alertTitles(alerts))

	assert.Equal(t, SeverityCritical, alerts[1].Severity)
	assert.Equal(t, "2 permissions are granted by no profile", alerts[2].Message)
	assert.Equal(t, []string{"hr.manage_job_roles", "notifications.broadcast"}, alerts[2].Details["permissions"])
	assert.Equal(t, "2 of 10 users have no profile", alerts[3].Message)
	assert.Equal(t, "3 records were skipped", alerts[5].Message)
}

func TestAlerter_EvaluateHealthyReport(t *testing.T) {
	report := &Report{
		Usage: UsageStats{TotalUsers: 10, UsersWithProfile: 10, Coverage: 1},
		Profiles: []ProfileAnalysis{
			{ProfileID: "p1", Name: "Shop", UsersCount: 10, Complexity: Complexity{Score: 20, Band: BandSimple}},
		},
		SkippedRecords: map[string]int{},
	}

	alerter := NewAlerter(nil, AlertThresholds{MinCoverage: 0.9, MaxUnused: 5}, nil)
	assert.Empty(t, alerter.Evaluate(report))

	// an empty directory is not a coverage problem
	empty := &Report{SkippedRecords: map[string]int{}}
	assert.Empty(t, alerter.Evaluate(empty))
}

func TestAlerter_CheckAllAlerts(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	reports := &stubReports{report: &Report{
		Usage:          UsageStats{TotalUsers: 4, UsersWithProfile: 4, Coverage: 1},
		Warnings:       []Warning{{ProfileID: "p1", Kind: rbac.KindSystemRole, ID: "legacy", Message: "system role legacy is not in the catalog"}},
		SkippedRecords: map[string]int{},
	}}

	alerter := NewAlerter(reports, DefaultAlertThresholds(), logger)
	alerts, err := alerter.CheckAllAlerts(context.Background())
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	assert.Equal(t, ReportFilter{}, reports.filter)

	var errorEntry *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorEntry = e
		}
	}
	require.NotNil(t, errorEntry)
	assert.Equal(t, "Dangling reference: system role legacy is not in the catalog", errorEntry.Message)
	assert.Equal(t, "legacy", errorEntry.Data["id"])
	assert.Equal(t, "integrity", errorEntry.Data["type"])

	assert.Equal(t, "Governance alert checks completed", hook.LastEntry().Message)
	assert.Equal(t, 1, hook.LastEntry().Data["alerts"])
}

func TestAlerter_CheckAllAlertsReportFailure(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	alerter := NewAlerter(&stubReports{err: errors.New("database is down")}, DefaultAlertThresholds(), logger)

	_, err := alerter.CheckAllAlerts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is down")
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestAlerter_SendAlertLevels(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	alerter := NewAlerter(nil, DefaultAlertThresholds(), logger)

	tests := map[string]logrus.Level{
		SeverityCritical: logrus.ErrorLevel,
		SeverityWarning:  logrus.WarnLevel,
		SeverityInfo:     logrus.InfoLevel,
	}
	for severity, level := range tests {
		hook.Reset()
		alerter.SendAlert(Alert{Type: "usage", Severity: severity, Title: "t", Message: "m"})
		require.Len(t, hook.AllEntries(), 1)
		assert.Equal(t, level, hook.LastEntry().Level, severity)
		assert.Equal(t, "t: m", hook.LastEntry().Message)
	}
}
