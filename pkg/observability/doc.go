// Package observability carries the ambient plumbing shared by the wrench
// binaries: a JSON slog logger with field helpers, Prometheus metrics for
// the permission engine and analytics, OTLP tracing setup, health checks
// and graceful shutdown.
//
// A typical server wires it as:
//
//	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// A nil *Metrics is accepted everywhere and records nothing, which keeps
// tests free of registry setup.
package observability
