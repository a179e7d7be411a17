package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// HealthStatus is the body of the readiness endpoint
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// probe checks one dependency. A failing critical probe makes the service
// unhealthy; any other failure only degrades it.
type probe struct {
	name     string
	critical bool
	ping     func(ctx context.Context) error
	inspect  func() string
}

// HealthChecker probes the profile database and the effective-set cache
type HealthChecker struct {
	version string
	probes  []probe
}

// NewHealthChecker probes whichever of db and rdb are non-nil
func NewHealthChecker(db *sql.DB, rdb *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.probes = append(h.probes, probe{
			name:     "database",
			critical: true,
			ping:     db.PingContext,
			inspect: func() string {
				if s := db.Stats(); s.MaxOpenConnections > 0 && s.InUse >= s.MaxOpenConnections {
					return "connection pool exhausted"
				}
				return ""
			},
		})
	}
	if rdb != nil {
		h.probes = append(h.probes, probe{
			name: "redis",
			ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	return h
}

func (p probe) run(ctx context.Context) DependencyStatus {
	start := time.Now()
	err := p.ping(ctx)
	ds := DependencyStatus{Status: StatusHealthy, Latency: time.Since(start), Timestamp: start}
	switch {
	case err != nil:
		ds.Status, ds.Message = StatusUnhealthy, err.Error()
	case p.inspect != nil:
		if msg := p.inspect(); msg != "" {
			ds.Status, ds.Message = StatusDegraded, msg
		}
	}
	return ds
}

// Check runs every probe
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}
	for _, p := range h.probes {
		ds := p.run(ctx)
		status.Dependencies[p.name] = ds
		if ds.Status == StatusHealthy || status.Status == StatusUnhealthy {
			continue
		}
		if ds.Status == StatusUnhealthy && p.critical {
			status.Status = StatusUnhealthy
		} else {
			status.Status = StatusDegraded
		}
	}
	return status
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// Liveness always answers 200 while the process serves
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now()})
}

// Readiness answers 503 only when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods("GET")
	router.HandleFunc("/health/live", checker.Liveness).Methods("GET")
	router.HandleFunc("/health/ready", checker.Readiness).Methods("GET")
}
