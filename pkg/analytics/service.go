package analytics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/wrench/pkg/audit"
	"github.com/platinummonkey/wrench/pkg/directory"
	"github.com/platinummonkey/wrench/pkg/observability"
	"github.com/platinummonkey/wrench/pkg/rbac"
)

var tracer = otel.Tracer("github.com/platinummonkey/wrench/pkg/analytics")

// Config tunes the report service
type Config struct {
	// EventLimit caps the events scanned per report, newest first
	EventLimit int
	// ScanTimeout bounds the event scan
	ScanTimeout time.Duration

	Scorer              Scorer
	RarelyUsedThreshold int
}

// DefaultConfig returns the default service configuration
func DefaultConfig() Config {
	return Config{
		EventLimit:          1000,
		ScanTimeout:         5 * time.Second,
		Scorer:              DefaultScorer(),
		RarelyUsedThreshold: 3,
	}
}

// Service loads a snapshot from the engine's stores and the audit log and
// generates reports from it. Reports are recomputed on every call.
type Service struct {
	engine  *rbac.Engine
	events  audit.Reader
	config  Config
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithMetrics records report duration, events scanned and skipped records
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new analytics service
func NewService(engine *rbac.Engine, events audit.Reader, config Config, opts ...Option) *Service {
	defaults := DefaultConfig()
	if config.EventLimit <= 0 {
		config.EventLimit = defaults.EventLimit
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = defaults.ScanTimeout
	}
	if config.Scorer == nil {
		config.Scorer = defaults.Scorer
	}
	if config.RarelyUsedThreshold <= 0 {
		config.RarelyUsedThreshold = defaults.RarelyUsedThreshold
	}

	s := &Service{
		engine: engine,
		events: events,
		config: config,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadSnapshot fetches profiles, custom roles, user totals and recent events
// concurrently. Failing to read profiles, custom roles or users fails the
// load. A failed or timed out event scan only degrades the snapshot.
func (s *Service) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Catalog: s.engine.Catalog(), Now: s.now().UTC()}

	var (
		profiles    []*rbac.Profile
		customRoles []*rbac.CustomRole
		users       *directory.Counts
		events      []*audit.Event
		eventsErr   error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if profiles, err = s.engine.Store().ListProfiles(gctx); err != nil {
			return fmt.Errorf("failed to load profiles: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		if customRoles, err = s.engine.Store().ListCustomRoles(gctx); err != nil {
			return fmt.Errorf("failed to load custom roles: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		if users, err = s.engine.Directory().CountUsers(gctx); err != nil {
			return fmt.Errorf("failed to count users: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		scanCtx, cancel := context.WithTimeout(gctx, s.config.ScanTimeout)
		defer cancel()
		events, eventsErr = s.events.Events(scanCtx, audit.EventFilter{Limit: s.config.EventLimit})
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.Profiles = profiles
	snap.CustomRoles = customRoles
	snap.Users = users

	if eventsErr != nil {
		s.logger.WithError(eventsErr).Warn("event scan failed, trends will be empty")
		snap.Degraded = append(snap.Degraded, "event scan failed: "+eventsErr.Error())
		events = nil
	}
	if len(events) > s.config.EventLimit {
		events = events[:s.config.EventLimit]
	}
	snap.Events = events

	return snap, nil
}

// GenerateReport loads a fresh snapshot and computes the report for filter
func (s *Service) GenerateReport(ctx context.Context, filter ReportFilter) (report *Report, err error) {
	ctx, span := tracer.Start(ctx, "analytics.generate_report")
	span.SetAttributes(
		attribute.String("filter.profile_id", filter.ProfileID),
		attribute.Int("filter.roles", len(filter.Roles)),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	report, err = Generate(snap, filter, Options{
		Scorer:              s.config.Scorer,
		RarelyUsedThreshold: s.config.RarelyUsedThreshold,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReport(time.Since(start), report.EventsScanned, report.SkippedRecords)
	span.SetAttributes(attribute.Int("report.events_scanned", report.EventsScanned))

	s.logger.WithFields(map[string]interface{}{
		"profile_id":      filter.ProfileID,
		"roles":           filter.Roles,
		"profiles":        len(report.Profiles),
		"events_scanned":  report.EventsScanned,
		"skipped_records": report.SkippedRecords,
		"duration_ms":     time.Since(start).Milliseconds(),
	}).Debug("report generated")

	return report, nil
}
