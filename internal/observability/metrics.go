// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Monitor metrics
	MonitorTicks          *prometheus.CounterVec
	MonitorTickDuration   prometheus.Histogram
	LeaderEventsDetected  prometheus.Counter
	CheckpointAdvances    prometheus.Counter
	EventSourceErrors     prometheus.Counter
	ActiveFollowsObserved prometheus.Gauge

	// Filter metrics
	FilterDecisions *prometheus.CounterVec
	RateLimitChecks *prometheus.CounterVec

	// Queue metrics
	QueuePublished prometheus.Counter
	QueueConsumed  prometheus.Counter
	QueueErrors    *prometheus.CounterVec

	// Execution metrics
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionAttempts  *prometheus.CounterVec
	ExecutionLatency   *prometheus.HistogramVec
	PriceImpactBps     prometheus.Histogram
	DuplicateRequests  prometheus.Counter
	InFlightExecutions prometheus.Gauge
	WorkerRestarts     prometheus.Counter

	// Reconciliation metrics
	PositionsReconciled *prometheus.CounterVec
	ReconcileErrors     prometheus.Counter

	// Ledger metrics
	ConsistencyWarnings prometheus.Counter

	// Ranking metrics
	RankingRefreshes *prometheus.CounterVec
	RankingDuration  prometheus.Histogram
	RankedTraders    prometheus.Gauge
	GatedOutTraders  *prometheus.CounterVec
	StatsComputed    prometheus.Counter

	// API metrics
	APIRequests *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulTick    prometheus.Gauge
	LastSuccessfulRefresh prometheus.Gauge
	UptimeSeconds         prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "copytrade"
	}

	return &Metrics{
		// Monitor metrics
		MonitorTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "ticks_total",
			Help:      "Total number of monitor ticks by status",
		}, []string{"status"}),
		MonitorTickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Monitor tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		LeaderEventsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "leader_events_detected_total",
			Help:      "Total number of leader OPENED events detected after a checkpoint",
		}),
		CheckpointAdvances: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "checkpoint_advances_total",
			Help:      "Total number of checkpoint advances",
		}),
		EventSourceErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "event_source_errors_total",
			Help:      "Total number of failed event source queries",
		}),
		ActiveFollowsObserved: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "active_follows",
			Help:      "Number of active follows seen by the last tick",
		}),

		// Filter metrics
		FilterDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "decisions_total",
			Help:      "Total number of filter decisions by outcome and reason",
		}, []string{"outcome", "reason"}),
		RateLimitChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "checks_total",
			Help:      "Total number of rate limit checks by result",
		}, []string{"result"}),

		// Queue metrics
		QueuePublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "published_total",
			Help:      "Total number of copy requests published",
		}),
		QueueConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "consumed_total",
			Help:      "Total number of copy requests consumed",
		}),
		QueueErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "errors_total",
			Help:      "Total number of queue errors by operation",
		}, []string{"operation"}),

		// Execution metrics
		ExecutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "executions_total",
			Help:      "Total number of finished copy executions by final status and order type",
		}, []string{"status", "order_type"}),
		ExecutionAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "attempts_total",
			Help:      "Total number of execution attempts by outcome",
		}, []string{"outcome"}),
		ExecutionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "latency_seconds",
			Help:      "Execution collaborator call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		PriceImpactBps: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "price_impact_bps",
			Help:      "Observed price impact between leader and follower execution in basis points",
			Buckets:   []float64{1, 5, 10, 25, 50, 75, 100, 150, 250, 500},
		}),
		DuplicateRequests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "duplicate_requests_total",
			Help:      "Total number of requests skipped because their request_id was already handled",
		}),
		WorkerRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "worker_restarts_total",
			Help:      "Total number of execution workers restarted after an error or panic",
		}),
		InFlightExecutions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "in_flight",
			Help:      "Number of copy requests currently being executed",
		}),

		// Reconciliation metrics
		PositionsReconciled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "positions_total",
			Help:      "Total number of reconciled positions by result",
		}, []string{"result"}),
		ReconcileErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "errors_total",
			Help:      "Total number of reconciliation errors",
		}),

		// Ledger metrics
		ConsistencyWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "consistency_warnings_total",
			Help:      "Total number of CLOSED events without matching open lots",
		}),

		// Ranking metrics
		RankingRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "refreshes_total",
			Help:      "Total number of leaderboard refreshes by status",
		}, []string{"status"}),
		RankingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "refresh_duration_seconds",
			Help:      "Leaderboard refresh duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		RankedTraders: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "ranked_traders",
			Help:      "Number of traders passing all gates in the last refresh",
		}),
		GatedOutTraders: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "gated_out_total",
			Help:      "Total number of gate failures by gate",
		}, []string{"gate"}),
		StatsComputed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "stats_computed_total",
			Help:      "Total number of trader stats recomputed",
		}),

		// API metrics
		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		}, []string{"route", "code"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of last successful monitor tick",
		}),
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of last successful stats and ranking refresh",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordMonitorTick records a monitor tick.
func RecordMonitorTick(status string, durationSeconds float64, unixNow int64) {
	DefaultMetrics.MonitorTicks.WithLabelValues(status).Inc()
	DefaultMetrics.MonitorTickDuration.Observe(durationSeconds)
	if status == "success" {
		DefaultMetrics.LastSuccessfulTick.Set(float64(unixNow))
	}
}

// RecordLeaderEvents adds n detected leader events.
func RecordLeaderEvents(n int) {
	DefaultMetrics.LeaderEventsDetected.Add(float64(n))
}

// RecordCheckpointAdvance increments the checkpoint advance counter.
func RecordCheckpointAdvance() {
	DefaultMetrics.CheckpointAdvances.Inc()
}

// RecordEventSourceError increments the event source error counter.
func RecordEventSourceError() {
	DefaultMetrics.EventSourceErrors.Inc()
}

// SetActiveFollows updates the active follows gauge.
func SetActiveFollows(n int) {
	DefaultMetrics.ActiveFollowsObserved.Set(float64(n))
}

// RecordFilterDecision records a filter outcome ("accepted" or "rejected").
func RecordFilterDecision(outcome, reason string) {
	DefaultMetrics.FilterDecisions.WithLabelValues(outcome, reason).Inc()
}

// RecordRateLimitCheck records a rate limit check result
// ("allowed", "limited" or "fail_open").
func RecordRateLimitCheck(result string) {
	DefaultMetrics.RateLimitChecks.WithLabelValues(result).Inc()
}

// RecordQueuePublished increments the queue published counter.
func RecordQueuePublished() {
	DefaultMetrics.QueuePublished.Inc()
}

// RecordQueueConsumed increments the queue consumed counter.
func RecordQueueConsumed() {
	DefaultMetrics.QueueConsumed.Inc()
}

// RecordQueueError records a queue error.
func RecordQueueError(operation string) {
	DefaultMetrics.QueueErrors.WithLabelValues(operation).Inc()
}

// RecordExecution records a finished execution.
func RecordExecution(status, orderType string) {
	DefaultMetrics.ExecutionsTotal.WithLabelValues(status, orderType).Inc()
}

// RecordExecutionAttempt records one execution attempt
// ("success", "transient", "permanent").
func RecordExecutionAttempt(outcome, mode string, seconds float64) {
	DefaultMetrics.ExecutionAttempts.WithLabelValues(outcome).Inc()
	DefaultMetrics.ExecutionLatency.WithLabelValues(mode).Observe(seconds)
}

// RecordPriceImpact observes a price impact in basis points.
func RecordPriceImpact(bps float64) {
	DefaultMetrics.PriceImpactBps.Observe(bps)
}

// RecordDuplicateRequest increments the duplicate request counter.
func RecordDuplicateRequest() {
	DefaultMetrics.DuplicateRequests.Inc()
}

// RecordWorkerRestart increments the worker restart counter.
func RecordWorkerRestart() {
	DefaultMetrics.WorkerRestarts.Inc()
}

// AddInFlight adjusts the in-flight executions gauge.
func AddInFlight(delta float64) {
	DefaultMetrics.InFlightExecutions.Add(delta)
}

// RecordReconciled records a reconciled position ("closed" or "still_open").
func RecordReconciled(result string) {
	DefaultMetrics.PositionsReconciled.WithLabelValues(result).Inc()
}

// RecordReconcileError increments the reconciliation error counter.
func RecordReconcileError() {
	DefaultMetrics.ReconcileErrors.Inc()
}

// RecordConsistencyWarnings adds n ledger consistency warnings.
func RecordConsistencyWarnings(n int) {
	DefaultMetrics.ConsistencyWarnings.Add(float64(n))
}

// RecordRankingRefresh records a leaderboard refresh.
func RecordRankingRefresh(status string, durationSeconds float64, ranked int) {
	DefaultMetrics.RankingRefreshes.WithLabelValues(status).Inc()
	DefaultMetrics.RankingDuration.Observe(durationSeconds)
	if status == "success" {
		DefaultMetrics.RankedTraders.Set(float64(ranked))
	}
}

// RecordGateFailure records one failed ranking gate.
func RecordGateFailure(gate string) {
	DefaultMetrics.GatedOutTraders.WithLabelValues(gate).Inc()
}

// RecordStatsComputed adds n recomputed trader stats.
func RecordStatsComputed(n int, unixNow int64) {
	DefaultMetrics.StatsComputed.Add(float64(n))
	DefaultMetrics.LastSuccessfulRefresh.Set(float64(unixNow))
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(route, code string) {
	DefaultMetrics.APIRequests.WithLabelValues(route, code).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
