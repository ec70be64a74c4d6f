// Package telemetry provides application-level observability for accountd.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<ACCT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds. It is NOT served by
// the Gin router, so it is never subject to the API rate limiter.
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/users/:id) rather
// than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
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

// Authentication metrics.
//
// LoginAttemptsTotal is a CounterVec with label {outcome}: "success",
// "invalid_credentials", "rate_limited", or "brute_force_blocked".
// An alert on the blocked outcomes catches credential-stuffing campaigns early:
//
//	increase(login_attempts_total{outcome="brute_force_blocked"}[15m]) > 10
var (
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Total number of login attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total number of refresh token exchanges, by outcome (success, rejected).",
		},
		[]string{"outcome"},
	)
)

// Rate limiting and brute-force metrics.
//
// RateLimitRejectionsTotal is labelled by limiter class (general, auth, login,
// password_reset, api, upload).
var (
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by the fixed-window rate limiter, by class.",
		},
		[]string{"class"},
	)

	BruteForceBlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brute_force_blocks_total",
			Help: "Total number of login attempts blocked by the brute-force guard.",
		},
	)
)

// ActivityLogWritesTotal counts fire-and-forget audit writes by result
// ("ok", "error"). A rising error rate means audit records are being lost.
var ActivityLogWritesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "activity_log_writes_total",
		Help: "Total number of activity log write attempts, by result.",
	},
	[]string{"result"},
)

// PasswordResetEmailsSentTotal is incremented once per reset email successfully
// handed to the SMTP server. A stalled counter combined with forgot-password
// traffic is a useful alert signal for SMTP delivery failures.
var PasswordResetEmailsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "password_reset_emails_sent_total",
		Help: "Total number of password reset emails successfully sent.",
	},
)

// AvatarUploadsTotal counts avatar uploads by storage backend.
var AvatarUploadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "avatar_uploads_total",
		Help: "Total number of avatar uploads, by storage backend.",
	},
	[]string{"backend"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
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
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
