package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Alert represents an alert notification
type Alert struct {
	Type        string // "complexity", "integrity", "usage", "coverage", "report"
	Severity    string // "critical", "warning", "info"
	Title       string
	Message     string
	Details     map[string]interface{}
	TriggeredAt time.Time
}

// AlertThresholds decide when a report raises an alert
type AlertThresholds struct {
	// MinCoverage is the lowest acceptable share of users holding a profile
	MinCoverage float64
	// MaxUnused is the number of unused catalog permissions tolerated
	MaxUnused int
}

// DefaultAlertThresholds alerts below 90% coverage and on any unused permission
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{MinCoverage: 0.9, MaxUnused: 0}
}

// ReportGenerator produces governance reports
type ReportGenerator interface {
	GenerateReport(ctx context.Context, filter ReportFilter) (*Report, error)
}

// Alerter checks governance reports against thresholds
type Alerter struct {
	reports    ReportGenerator
	thresholds AlertThresholds
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewAlerter creates a new Alerter instance
func NewAlerter(reports ReportGenerator, thresholds AlertThresholds, log logrus.FieldLogger) *Alerter {
	if log == nil {
		log = logrus.New()
	}
	return &Alerter{
		reports:    reports,
		thresholds: thresholds,
		log:        log,
		now:        time.Now,
	}
}

// Evaluate derives the alerts of one report
func (a *Alerter) Evaluate(report *Report) []Alert {
	now := a.now()
	var alerts []Alert

	for _, p := range report.Profiles {
		if p.Complexity.Band != BandHigh {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     "complexity",
			Severity: SeverityWarning,
			Title:    "High complexity profile",
			Message:  fmt.Sprintf("profile %s scores %.1f", p.Name, p.Complexity.Score),
			Details: map[string]interface{}{
				"profile_id": p.ProfileID,
				"score":      p.Complexity.Score,
				"users":      p.UsersCount,
			},
			TriggeredAt: now,
		})
	}

	for _, w := range report.Warnings {
		alerts = append(alerts, Alert{
			Type:     "integrity",
			Severity: SeverityCritical,
			Title:    "Dangling reference",
			Message:  w.Message,
			Details: map[string]interface{}{
				"profile_id": w.ProfileID,
				"kind":       w.Kind,
				"id":         w.ID,
			},
			TriggeredAt: now,
		})
	}

	if n := len(report.Permissions.Unused); n > a.thresholds.MaxUnused {
		ids := make([]string, 0, n)
		for _, u := range report.Permissions.Unused {
			ids = append(ids, u.ID)
		}
		alerts = append(alerts, Alert{
			Type:        "usage",
			Severity:    SeverityInfo,
			Title:       "Unused permissions",
			Message:     pluralize(n, "permission is", "permissions are") + " granted by no profile",
			Details:     map[string]interface{}{"permissions": ids},
			TriggeredAt: now,
		})
	}

	usage := report.Usage
	if usage.TotalUsers > 0 && usage.Coverage < a.thresholds.MinCoverage {
		alerts = append(alerts, Alert{
			Type:     "coverage",
			Severity: SeverityWarning,
			Title:    "Users without a profile",
			Message: fmt.Sprintf("%d of %d users have no profile",
				usage.TotalUsers-usage.UsersWithProfile, usage.TotalUsers),
			Details: map[string]interface{}{
				"coverage":  usage.Coverage,
				"threshold": a.thresholds.MinCoverage,
			},
			TriggeredAt: now,
		})
	}

	for _, reason := range report.Degraded {
		alerts = append(alerts, Alert{
			Type:        "report",
			Severity:    SeverityWarning,
			Title:       "Degraded report",
			Message:     reason,
			TriggeredAt: now,
		})
	}

	skipped := 0
	for _, n := range report.SkippedRecords {
		skipped += n
	}
	if skipped > 0 {
		details := make(map[string]interface{}, len(report.SkippedRecords))
		for k, v := range report.SkippedRecords {
			details[k] = v
		}
		alerts = append(alerts, Alert{
			Type:        "report",
			Severity:    SeverityWarning,
			Title:       "Malformed records skipped",
			Message:     pluralize(skipped, "record was", "records were") + " skipped",
			Details:     details,
			TriggeredAt: now,
		})
	}

	return alerts
}

// CheckAllAlerts generates an unfiltered report and logs every alert
func (a *Alerter) CheckAllAlerts(ctx context.Context) ([]Alert, error) {
	a.log.Info("Running governance alert checks")

	report, err := a.reports.GenerateReport(ctx, ReportFilter{})
	if err != nil {
		a.log.WithError(err).Error("Failed to generate report")
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}

	alerts := a.Evaluate(report)
	if len(alerts) == 0 {
		a.log.Info("No governance alerts")
	}
	for _, alert := range alerts {
		a.SendAlert(alert)
	}

	a.log.WithField("alerts", len(alerts)).Info("Governance alert checks completed")
	return alerts, nil
}

// SendAlert logs alert at a level matching its severity
func (a *Alerter) SendAlert(alert Alert) {
	entry := a.log.WithFields(logrus.Fields{
		"type":     alert.Type,
		"severity": alert.Severity,
	})
	for k, v := range alert.Details {
		entry = entry.WithField(k, v)
	}

	msg := alert.Title + ": " + alert.Message
	switch alert.Severity {
	case SeverityCritical:
		entry.Error(msg)
	case SeverityWarning:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}
