package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wrench/pkg/audit"
)

func TestComputeTrends_Windows(t *testing.T) {
	trends := computeTrends(nil, reportNow, map[string]int{})

	require.Len(t, trends.Daily.Buckets, DailyBuckets)
	assert.Equal(t, time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC), trends.Daily.Buckets[0].Start)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), trends.Daily.Buckets[DailyBuckets-1].Start)

	require.Len(t, trends.Monthly.Buckets, MonthlyBuckets)
	assert.Equal(t, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), trends.Monthly.Buckets[0].Start)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), trends.Monthly.Buckets[MonthlyBuckets-1].Start)

	for _, b := range trends.Daily.Buckets {
		assert.Zero(t, b.Total)
		assert.Len(t, b.ByCategory, len(audit.Categories()))
	}
	assert.Zero(t, trends.Daily.Change)
	assert.Len(t, trends.Daily.ChangeByCategory, len(audit.Categories()))
}

func TestComputeTrends_Counts(t *testing.T) {
	events := []*audit.Event{
		event(audit.ActionProfileUpdated, reportNow.Add(-time.Hour)),
		event(audit.ActionPermissionChanged, reportNow.Add(-2*time.Hour)),
		event(audit.ActionRoleCreated, reportNow.Add(-24*time.Hour)),
		event(audit.ActionProfileCreated, reportNow.AddDate(0, 0, -40)),
		event(audit.ActionRoleDeleted, reportNow.AddDate(0, -8, 0)),
		event(audit.ActionProfileDeleted, reportNow.Add(time.Hour)),
		event("bogus", reportNow.Add(-time.Minute)),
	}
	skipped := map[string]int{}

	trends := computeTrends(events, reportNow, skipped)

	assert.Equal(t, map[string]int{"event": 1}, skipped)

	today := trends.Daily.Buckets[DailyBuckets-1]
	yesterday := trends.Daily.Buckets[DailyBuckets-2]
	assert.Equal(t, 2, today.Total)
	assert.Equal(t, 1, today.ByCategory[audit.CategoryProfile])
	assert.Equal(t, 1, today.ByCategory[audit.CategoryPermission])
	assert.Equal(t, 1, yesterday.Total)
	assert.Equal(t, 1, yesterday.ByCategory[audit.CategoryRole])

	assert.Equal(t, 100.0, trends.Daily.Change)
	assert.Equal(t, -100.0, trends.Daily.ChangeByCategory[audit.CategoryRole])
	// no previous activity reads as no change
	assert.Equal(t, 0.0, trends.Daily.ChangeByCategory[audit.CategoryProfile])

	daily := 0
	for _, b := range trends.Daily.Buckets {
		daily += b.Total
	}
	assert.Equal(t, 3, daily, "events older than 30 days stay out of the daily series")

	march := trends.Monthly.Buckets[MonthlyBuckets-1]
	february := trends.Monthly.Buckets[MonthlyBuckets-2]
	assert.Equal(t, 3, march.Total)
	assert.Equal(t, 1, february.Total)
	assert.Equal(t, 1, february.ByCategory[audit.CategoryProfile])
	assert.Equal(t, 200.0, trends.Monthly.Change)

	monthly := 0
	for _, b := range trends.Monthly.Buckets {
		monthly += b.Total
	}
	assert.Equal(t, 4, monthly)
}

func TestComputeTrends_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	// 22:00 on March 14 local is 03:00 on March 15 UTC
	at := time.Date(2026, 3, 14, 22, 0, 0, 0, loc)

	trends := computeTrends([]*audit.Event{event(audit.ActionRoleUpdated, at)}, reportNow, map[string]int{})
	assert.Equal(t, 1, trends.Daily.Buckets[DailyBuckets-1].Total)
}
