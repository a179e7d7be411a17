package analytics

import (
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/platinummonkey/wrench/pkg/httputil"
)

// ParseReportFilter reads ?profile_id= and ?role= (repeated or comma
// separated) from the request
func ParseReportFilter(r *http.Request) ReportFilter {
	return ReportFilter{
		ProfileID: strings.TrimSpace(httputil.ParseQueryString(r, "profile_id", "")),
		Roles:     httputil.ParseQueryList(r, "role"),
	}
}

// PercentChange is (current - previous) / previous × 100, and 0 when there
// is no previous activity
func PercentChange(current, previous int) float64 {
	if previous == 0 {
		return 0
	}
	change := float64(current-previous) / float64(previous) * 100
	return math.Round(change*10) / 10
}

// ratio divides safely, returning 0 for an empty denominator
func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
