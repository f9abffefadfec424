// Package telemetry provides application-level observability for tickhole.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<THK_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds.  It is NOT served by
// the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Issue lifecycle counters
//   - Audit write and authorization denial counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/issues/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as issue IDs.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tickhole/tickhole/internal/safego"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/issues/:id),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Issue lifecycle metrics.
//
// IssuesCreatedTotal is a plain Counter incremented once per issue successfully
// created.  Combined with IssuesResolvedTotal it gives a crude backlog trend:
//
//   - Backlog growth rate: rate(issues_created_total[1d]) - rate(issues_resolved_total[1d])
var (
	IssuesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "issues_created_total",
			Help: "Total number of issues successfully created.",
		},
	)

	IssuesResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "issues_resolved_total",
			Help: "Total number of issues moved to a resolved or closed status.",
		},
	)
)

// Audit and authorization metrics.
//
// AuditRecordsWrittenTotal is a CounterVec with label {suspicious} ("true" when
// the record carries a non-zero suspicion score).  Because every state-changing
// handler writes exactly one audit record inside its transaction, a divergence
// between this counter and the mutation counters indicates a bug.
//
// AuthzDenialsTotal is a CounterVec with label {score} (the static suspicion
// score attached to the denial).  An alert on a sustained rise of score="3"
// denials is a cheap probe for credential stuffing against staff endpoints:
//
//   - Denial rate by score: sum by (score) (rate(authz_denials_total[15m]))
var (
	AuditRecordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_written_total",
			Help: "Total number of audit records written, split by whether the record is suspicious.",
		},
		[]string{"suspicious"},
	)

	AuthzDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_denials_total",
			Help: "Total number of authorization denials, by suspicion score.",
		},
		[]string{"score"},
	)
)

// NotificationsSentTotal is a plain Counter incremented once per in-app
// notification row created.
var NotificationsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of in-app notifications delivered.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	safego.Go(slog.Default(), "db-stats-collector", func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	})
}
