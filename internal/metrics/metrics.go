// Package metrics provides Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics (admin/webhook surface).
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Queue depth and lease metrics.
var (
	UpdateQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_update_queue_depth",
		Help: "Number of pending telegram_update_jobs by status.",
	}, []string{"bot_id", "status"})

	RunQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_run_queue_depth",
		Help: "Number of pending cli_run_jobs by status.",
	}, []string{"bot_id", "status"})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_runs",
		Help: "Number of CLI turns currently executing across all bots.",
	})
)

// Provider/adapter metrics.
var (
	ProviderRunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_provider_run_total",
		Help: "Total adapter runs started, by provider.",
	}, []string{"provider"})

	ProviderRunFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_provider_run_failed_total",
		Help: "Total adapter runs that ended in error, by provider.",
	}, []string{"provider"})

	ProviderSwitchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_provider_switch_total",
		Help: "Total provider switches performed on a session, by new provider.",
	}, []string{"provider"})
)

// Telegram delivery metrics.
var (
	TelegramRateLimitRetry = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_telegram_rate_limit_retry_total",
		Help: "Total 429 retry-after retries performed, by Bot API method.",
	}, []string{"method"})

	TelegramSendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_telegram_send_errors_total",
		Help: "Total delivery errors from the Telegram client, by method.",
	}, []string{"method"})
)

// Worker heartbeat metrics. These metric keys are fixed and referenced by
// name (worker_heartbeat.run_worker / worker_heartbeat.update_worker) in
// the runtime_metric_counters table, written by the run and ingest workers.
var (
	WorkerHeartbeat = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_worker_heartbeat_timestamp_seconds",
		Help: "Unix timestamp of the last successful heartbeat, by worker name.",
	}, []string{"worker"})
)

const (
	// HeartbeatKeyRunWorker is the runtime_metric_counters key for the run worker's heartbeat.
	HeartbeatKeyRunWorker = "worker_heartbeat.run_worker"
	// HeartbeatKeyUpdateWorker is the runtime_metric_counters key for the ingest worker's heartbeat.
	HeartbeatKeyUpdateWorker = "worker_heartbeat.update_worker"
)
