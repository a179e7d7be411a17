package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wrench/pkg/audit"
	"github.com/platinummonkey/wrench/pkg/directory"
	"github.com/platinummonkey/wrench/pkg/observability"
	"github.com/platinummonkey/wrench/pkg/rbac"
)

const actor = "ana@shop.test"

type serviceEnv struct {
	engine *rbac.Engine
	audit  *audit.MemoryStore
	dir    *directory.MemoryDirectory
}

func newServiceEnv(t *testing.T, dir directory.Directory) *serviceEnv {
	t.Helper()

	auditStore := audit.NewMemoryStore()
	mem := directory.NewMemoryDirectory()
	if dir == nil {
		dir = mem
	}
	engine := rbac.NewEngine(rbac.DefaultCatalog(), rbac.NewMemoryStore(auditStore), dir,
		rbac.WithClock(func() time.Time { return reportNow }),
	)
	return &serviceEnv{engine: engine, audit: auditStore, dir: mem}
}

// seed creates a custom role, two profiles and four users, one unassigned
func (e *serviceEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	cr, err := e.engine.CreateCustomRole(ctx, rbac.CustomRoleInput{
		Name:          "Desk",
		SystemRoleIDs: []string{"registrations.view_customers"},
	}, actor)
	require.NoError(t, err)

	drafts := []rbac.ProfileDraft{
		{
			Name:              "Mechanic",
			Type:              rbac.ProfileInternal,
			Roles:             []string{"dashboard.view", "diagnostics.run"},
			ModulePermissions: map[rbac.Module]rbac.Tier{rbac.ModuleDashboard: rbac.TierTotal, rbac.ModuleDiagnostics: rbac.TierTotal},
		},
		{
			Name:              "Front desk",
			Type:              rbac.ProfileInternal,
			CustomRoleIDs:     []string{cr.ID},
			ModulePermissions: map[rbac.Module]rbac.Tier{rbac.ModuleRegistrations: rbac.TierViewOnly},
		},
	}
	var ids []string
	for _, d := range drafts {
		p, err := e.engine.CreateProfile(ctx, d, actor)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	for i, u := range []string{"u1", "u2", "u3", "u4"} {
		e.dir.Put(directory.User{ID: u, Name: "user " + u})
		if i < 3 {
			_, err := e.engine.AssignUser(ctx, u, ids[i%2], actor)
			require.NoError(t, err)
		}
	}
}

func TestService_GenerateReport(t *testing.T) {
	env := newServiceEnv(t, nil)
	env.seed(t)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc := NewService(env.engine, env.audit, DefaultConfig(),
		WithMetrics(metrics),
		WithClock(func() time.Time { return reportNow }),
	)

	report, err := svc.GenerateReport(context.Background(), ReportFilter{})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Usage.TotalUsers)
	assert.Equal(t, 3, report.Usage.UsersWithProfile)
	require.Len(t, report.Usage.Ranking, 2)
	assert.Equal(t, "Mechanic", report.Usage.Ranking[0].Name)
	assert.Equal(t, 2, report.Usage.Ranking[0].UsersCount)

	customers, ok := findUsage(report.Permissions.Used, "registrations.view_customers")
	require.True(t, ok)
	assert.Equal(t, 1, customers.Reach)

	events, err := env.audit.Events(context.Background(), audit.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, len(events), report.EventsScanned)
	assert.Equal(t, len(events), report.Trends.Daily.Buckets[DailyBuckets-1].Total)
	assert.Empty(t, report.Degraded)

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.ReportDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.ReportEventsScanned))
}

func TestService_EventLimit(t *testing.T) {
	env := newServiceEnv(t, nil)
	env.seed(t)

	svc := NewService(env.engine, env.audit, Config{EventLimit: 2}, WithClock(func() time.Time { return reportNow }))

	report, err := svc.GenerateReport(context.Background(), ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.EventsScanned)
}

type blockingReader struct {
	audit.Reader
}

func (blockingReader) Events(ctx context.Context, filter audit.EventFilter) ([]*audit.Event, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type overfullReader struct {
	audit.Reader
	events []*audit.Event
}

func (r overfullReader) Events(ctx context.Context, filter audit.EventFilter) ([]*audit.Event, error) {
	return r.events, nil
}

func TestService_EventScanDegrades(t *testing.T) {
	env := newServiceEnv(t, nil)
	env.seed(t)

	svc := NewService(env.engine, blockingReader{}, Config{ScanTimeout: 20 * time.Millisecond},
		WithClock(func() time.Time { return reportNow }),
	)

	report, err := svc.GenerateReport(context.Background(), ReportFilter{})
	require.NoError(t, err)

	require.Len(t, report.Degraded, 1)
	assert.Contains(t, report.Degraded[0], "event scan failed")
	assert.Zero(t, report.EventsScanned)
	assert.Zero(t, report.Trends.Daily.Buckets[DailyBuckets-1].Total)
	assert.Equal(t, 4, report.Usage.TotalUsers, "the rest of the report is still computed")
}

func TestService_TruncatesToEventLimit(t *testing.T) {
	env := newServiceEnv(t, nil)

	events := make([]*audit.Event, 5)
	for i := range events {
		events[i] = event(audit.ActionProfileUpdated, reportNow.Add(-time.Duration(i)*time.Minute))
	}
	svc := NewService(env.engine, overfullReader{events: events}, Config{EventLimit: 3})

	snap, err := svc.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Events, 3)
}

type failingDirectory struct {
	*directory.MemoryDirectory
}

func (failingDirectory) CountUsers(ctx context.Context) (*directory.Counts, error) {
	return nil, errors.New("directory unavailable")
}

func TestService_LoadFailures(t *testing.T) {
	env := newServiceEnv(t, failingDirectory{directory.NewMemoryDirectory()})
	svc := NewService(env.engine, env.audit, DefaultConfig())

	_, err := svc.GenerateReport(context.Background(), ReportFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to count users")
	assert.Contains(t, err.Error(), "directory unavailable")
}

func TestService_FilterErrors(t *testing.T) {
	env := newServiceEnv(t, nil)
	env.seed(t)
	svc := NewService(env.engine, env.audit, DefaultConfig())

	_, err := svc.GenerateReport(context.Background(), ReportFilter{ProfileID: "nope"})
	assert.True(t, errors.Is(err, rbac.ErrNotFound))

	_, err = svc.GenerateReport(context.Background(), ReportFilter{Roles: []string{"nope"}})
	assert.True(t, errors.Is(err, rbac.ErrDanglingReference))
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(nil, nil, Config{})
	assert.Equal(t, DefaultConfig().EventLimit, svc.config.EventLimit)
	assert.Equal(t, DefaultConfig().ScanTimeout, svc.config.ScanTimeout)
	assert.Equal(t, 3, svc.config.RarelyUsedThreshold)
	assert.NotNil(t, svc.config.Scorer)
}
