// Package analytics computes access governance reports over the profiles,
// custom roles and change log of the permission engine.
//
// A report covers profile usage and directory coverage, per-profile
// complexity and accessible modules, permission reach with the unused and
// rarely used system roles, a per-module heatmap, 30 day and 6 month change
// trends, dangling reference warnings and recommendations.
//
// Reports are recomputed from a fresh Snapshot on every request:
//
//	svc := analytics.NewService(engine, auditStore, analytics.DefaultConfig(),
//		analytics.WithMetrics(metrics),
//	)
//	report, err := svc.GenerateReport(ctx, analytics.ReportFilter{Roles: []string{"dashboard.view"}})
//
// Generate is the pure core and can be fed a hand-built Snapshot.
// Records it cannot interpret are skipped and counted in
// Report.SkippedRecords instead of failing the report.
//
// The Alerter turns a report into logged alerts and is driven on a cron
// schedule by the wrench-auditor binary.
package analytics
