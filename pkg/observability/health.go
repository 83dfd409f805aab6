package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const probeTimeout = 2 * time.Second

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// HealthChecker pings the service's dependencies and reports a
// combined status for the /health endpoint.
type HealthChecker struct {
	probes map[string]Probe
}

// NewHealthChecker wires probes for the two stores both services use.
// Nil pools are skipped, which keeps the checker usable in tests.
func NewHealthChecker(dbPool *pgxpool.Pool, rdb redis.UniversalClient) *HealthChecker {
	probes := make(map[string]Probe)
	if dbPool != nil {
		probes["postgres"] = dbPool.Ping
	}
	if rdb != nil {
		probes["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	return &HealthChecker{probes: probes}
}

// Report is the /health response body.
type Report struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Check runs every probe with a short per-probe timeout.
func (h *HealthChecker) Check(ctx context.Context) Report {
	report := Report{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string, len(h.probes)),
	}

	for name, probe := range h.probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := probe(probeCtx)
		cancel()

		if err != nil {
			report.Checks[name] = "unhealthy: " + err.Error()
			report.Status = "unhealthy"
			continue
		}
		report.Checks[name] = "healthy"
	}

	return report
}

// Handler serves the health report, 503 when any probe fails.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}
