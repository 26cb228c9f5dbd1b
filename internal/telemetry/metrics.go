// Package telemetry provides application-level observability for the content scheduler.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<CS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Dispatch outcomes and delivery latency, by strategy and platform
//   - Content generation requests and token usage, by model
//   - Payment webhook events, by event type and outcome
//   - Database connection pool gauge (polled every 30 s)
//
// HTTP metrics use c.FullPath() rather than the raw request URL so post and
// content identifiers never become label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
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

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)

	// RateLimitRejectionsTotal counts 429 responses by route template.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limit_rejections_total",
			Help: "Total number of requests rejected by rate limiting, by route template.",
		},
		[]string{"path"},
	)
)

// Dispatch metrics, recorded by the dispatcher for every callback invocation.
//
// DispatchOutcomesTotal carries {strategy, platform, outcome} where outcome is one of
// posted, failed, skipped. "skipped" counts guard hits (post missing, already
// handled, lost claim), which is the expected result of a duplicate firing.
//
// Example PromQL queries:
//   - Failure ratio:  sum(rate(dispatch_outcomes_total{outcome="failed"}[1h])) / sum(rate(dispatch_outcomes_total[1h]))
var (
	DispatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_outcomes_total",
			Help: "Total number of dispatch callback results, by strategy, platform, and outcome.",
		},
		[]string{"strategy", "platform", "outcome"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_seconds",
			Help:    "Latency of calls to a social platform publisher, by platform.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"platform"},
	)

	// ArmedDispatchJobs is the number of timers currently armed by the timer strategy.
	ArmedDispatchJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_armed_jobs",
			Help: "Current number of scheduled posts with an armed dispatch timer.",
		},
	)

	PollSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_poll_sweep_duration_seconds",
			Help:    "Duration of a single polling sweep over due scheduled posts.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Generation metrics, labelled by model.
var (
	GenerationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_requests_total",
			Help: "Total number of content generation requests, by model and status.",
		},
		[]string{"model", "status"},
	)

	GenerationTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_tokens_total",
			Help: "Total number of tokens consumed by content generation, by model.",
		},
		[]string{"model"},
	)
)

// PaymentWebhookEventsTotal counts inbound payment webhooks by event type and outcome
// (processed, duplicate, ignored, rejected, error).
var PaymentWebhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Total number of inbound payment webhook events, by event type and outcome.",
	},
	[]string{"event_type", "outcome"},
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when the database becomes unreachable, which happens when the
// application shuts down and closes the pool.
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
