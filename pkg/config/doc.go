// Package config loads wrench configuration from WRENCH_* environment
// variables with defaults, then validates it.
//
// Server settings:
//
//	WRENCH_HOST="0.0.0.0"
//	WRENCH_PORT="8080"
//	WRENCH_HEALTH_PORT="9090"
//
// Storage settings (empty URL runs on in-memory stores):
//
//	WRENCH_DATABASE_URL="postgres://localhost/wrench?sslmode=disable"
//	WRENCH_DATABASE_MAX_OPEN_CONNS="20"
//
// Effective permission cache:
//
//	WRENCH_CACHE_ENABLED="true"
//	WRENCH_CACHE_L1_SIZE="1024"
//	WRENCH_CACHE_TTL="5m"
//	WRENCH_REDIS_URL="redis://localhost:6379/0"
//
// Analytics:
//
//	WRENCH_ANALYTICS_EVENT_LIMIT="1000"
//	WRENCH_ANALYTICS_SCAN_TIMEOUT="5s"
//	WRENCH_ANALYTICS_ROLE_WEIGHT="2"
//	WRENCH_ANALYTICS_CUSTOM_ROLE_WEIGHT="5"
//
// Audit archive and auditor schedules (cron syntax or descriptors):
//
//	WRENCH_ARCHIVE_ENABLED="true"
//	WRENCH_ARCHIVE_S3_BUCKET="wrench-audit"
//	WRENCH_ARCHIVE_RETENTION_DAYS="365"
//	WRENCH_ARCHIVE_SCHEDULE="@daily"
//	WRENCH_AUDITOR_SCHEDULE="@hourly"
//
// Observability:
//
//	WRENCH_LOG_LEVEL="info"
//	WRENCH_OTEL_ENABLED="true"
//	WRENCH_OTEL_ENDPOINT="otel-collector:4317"
package config
