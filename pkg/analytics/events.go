package analytics

import (
	"time"

	"github.com/platinummonkey/wrench/pkg/audit"
)

const (
	// DailyBuckets is the number of daily trend windows ending today
	DailyBuckets = 30
	// MonthlyBuckets is the number of monthly trend windows ending this month
	MonthlyBuckets = 6
)

// TrendBucket counts events in one window
type TrendBucket struct {
	Start      time.Time              `json:"start"`
	Total      int                    `json:"total"`
	ByCategory map[audit.Category]int `json:"by_category"`
}

// TrendSeries is a run of consecutive windows. Change compares the last
// window with the one before it.
type TrendSeries struct {
	Buckets          []TrendBucket              `json:"buckets"`
	Change           float64                    `json:"change"`
	ChangeByCategory map[audit.Category]float64 `json:"change_by_category"`
}

// Trends holds the daily and monthly activity of the RBAC log
type Trends struct {
	Daily   TrendSeries `json:"daily"`
	Monthly TrendSeries `json:"monthly"`
}

func newSeries(starts []time.Time) TrendSeries {
	s := TrendSeries{Buckets: make([]TrendBucket, len(starts))}
	for i, start := range starts {
		s.Buckets[i] = TrendBucket{Start: start, ByCategory: emptyCategoryCounts()}
	}
	return s
}

func emptyCategoryCounts() map[audit.Category]int {
	counts := make(map[audit.Category]int, len(audit.Categories()))
	for _, c := range audit.Categories() {
		counts[c] = 0
	}
	return counts
}

func (s *TrendSeries) add(i int, c audit.Category) {
	if i < 0 || i >= len(s.Buckets) {
		return
	}
	s.Buckets[i].Total++
	s.Buckets[i].ByCategory[c]++
}

func (s *TrendSeries) finish() {
	s.ChangeByCategory = make(map[audit.Category]float64, len(audit.Categories()))
	n := len(s.Buckets)
	if n < 2 {
		for _, c := range audit.Categories() {
			s.ChangeByCategory[c] = 0
		}
		return
	}
	cur, prev := s.Buckets[n-1], s.Buckets[n-2]
	s.Change = PercentChange(cur.Total, prev.Total)
	for _, c := range audit.Categories() {
		s.ChangeByCategory[c] = PercentChange(cur.ByCategory[c], prev.ByCategory[c])
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// computeTrends buckets events into DailyBuckets days and MonthlyBuckets
// months ending at now (UTC). Events outside both ranges are ignored;
// events that cannot be classified are counted in skipped.
func computeTrends(events []*audit.Event, now time.Time, skipped map[string]int) Trends {
	today := startOfDay(now)
	dayStarts := make([]time.Time, DailyBuckets)
	for i := range dayStarts {
		dayStarts[i] = today.AddDate(0, 0, i-(DailyBuckets-1))
	}

	thisMonth := startOfMonth(now)
	monthStarts := make([]time.Time, MonthlyBuckets)
	for i := range monthStarts {
		monthStarts[i] = thisMonth.AddDate(0, i-(MonthlyBuckets-1), 0)
	}

	trends := Trends{Daily: newSeries(dayStarts), Monthly: newSeries(monthStarts)}
	firstDay, firstMonth := dayStarts[0], monthStarts[0]

	for _, e := range events {
		if e == nil || !e.ActionType.Valid() {
			skipped[skippedEvent]++
			continue
		}
		if e.CreatedAt.After(now) {
			continue
		}
		c := e.ActionType.Category()

		day := startOfDay(e.CreatedAt)
		if !day.Before(firstDay) {
			trends.Daily.add(int(day.Sub(firstDay).Hours()/24), c)
		}

		month := startOfMonth(e.CreatedAt)
		if !month.Before(firstMonth) {
			i := (month.Year()-firstMonth.Year())*12 + int(month.Month()) - int(firstMonth.Month())
			trends.Monthly.add(i, c)
		}
	}

	trends.Daily.finish()
	trends.Monthly.finish()
	return trends
}
