package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts newly inserted session documents.
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lensfusion_sessions_created_total",
			Help: "Total number of session documents created",
		},
	)

	// SessionsReused counts create calls satisfied by an existing session (bumped|unchanged|concurrent).
	SessionsReused = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lensfusion_sessions_reused_total",
			Help: "Total number of create calls that reused an existing session",
		},
		[]string{"refresh"},
	)

	// SessionsTerminated counts delete outcomes (terminated|not_found|error).
	SessionsTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lensfusion_sessions_terminated_total",
			Help: "Total number of session termination attempts by result",
		},
		[]string{"result"},
	)

	// SweepDeleted counts expired sessions removed by the opportunistic sweep or the purge job.
	SweepDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lensfusion_sweep_deleted_total",
			Help: "Total number of expired sessions removed",
		},
		[]string{"source"},
	)

	// ListCacheLookups counts list cache lookups by result (hit|miss|bypass).
	ListCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lensfusion_session_list_cache_total",
			Help: "Session list cache lookups by result",
		},
		[]string{"result"},
	)

	// MonitorRevocations counts revocation callbacks fired by monitors (terminated|expired|missing|error).
	MonitorRevocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lensfusion_monitor_revocations_total",
			Help: "Total number of monitor revocations by cause",
		},
		[]string{"cause"},
	)

	// ActiveMonitors tracks live monitor subscriptions on this instance.
	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lensfusion_active_monitors",
			Help: "Number of active session monitors",
		},
	)

	// StoreLatency measures document store operations.
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lensfusion_store_latency_seconds",
			Help:    "Document store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lensfusion_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
