package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaneops_deployments_total",
			Help: "Total number of deployments by trigger method and final status",
		},
		[]string{"trigger_method", "status"},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zaneops_deployment_duration_seconds",
			Help:    "Deployment duration in seconds from queued to terminal status",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"trigger_method"},
	)

	DeploymentsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zaneops_deployments_in_flight",
			Help: "Number of deployment workflows currently executing",
		},
	)

	RolledBackDeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaneops_deployments_rolled_back_total",
			Help: "Total number of deployments that were rolled back, by reason",
		},
		[]string{"reason"},
	)

	// Healthcheck metrics
	HealthcheckAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaneops_healthcheck_attempts_total",
			Help: "Total number of healthcheck probe attempts by outcome",
		},
		[]string{"outcome"},
	)

	HealthcheckGateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zaneops_healthcheck_gate_duration_seconds",
			Help:    "Time spent in the healthcheck gate before HEALTHY or UNHEALTHY",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Runtime adapter metrics
	RuntimeCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zaneops_runtime_call_duration_seconds",
			Help:    "Duration of calls to the container runtime adapter by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RuntimeCallsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaneops_runtime_calls_failed_total",
			Help: "Total number of failed runtime adapter calls by operation",
		},
		[]string{"operation"},
	)

	// Proxy control-plane metrics
	ProxyRouteOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaneops_proxy_route_ops_total",
			Help: "Total number of proxy route operations by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	ProxyCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zaneops_proxy_call_duration_seconds",
			Help:    "Duration of calls to the proxy admin API by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Webhook metrics
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaneops_webhook_events_total",
			Help: "Total number of webhook events received by provider and kind",
		},
		[]string{"provider", "kind"},
	)

	WebhookSignatureFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaneops_webhook_signature_failures_total",
			Help: "Total number of webhook requests rejected for signature mismatch",
		},
		[]string{"provider"},
	)

	PreviewEnvironmentsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zaneops_preview_environments_active",
			Help: "Number of preview environments currently un-archived",
		},
	)

	// Cancellation metrics
	CancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaneops_cancellations_total",
			Help: "Total number of deployments cancelled, by whether they had started",
		},
		[]string{"had_started"},
	)

	// Reconciler / leader-election metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zaneops_reconciliation_duration_seconds",
			Help:    "Time taken for one resumer reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zaneops_reconciliation_cycles_total",
			Help: "Total number of resumer reconciliation cycles completed",
		},
	)

	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zaneops_raft_is_leader",
			Help: "Whether this core replica holds the workflow-resumer leadership (1 = leader, 0 = follower)",
		},
	)

	// Change log metrics
	ChangesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaneops_changes_applied_total",
			Help: "Total number of pending changes applied, by field",
		},
		[]string{"field"},
	)
)

func init() {
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(DeploymentsInFlight)
	prometheus.MustRegister(RolledBackDeploymentsTotal)
	prometheus.MustRegister(HealthcheckAttemptsTotal)
	prometheus.MustRegister(HealthcheckGateDuration)
	prometheus.MustRegister(RuntimeCallDuration)
	prometheus.MustRegister(RuntimeCallsFailedTotal)
	prometheus.MustRegister(ProxyRouteOpsTotal)
	prometheus.MustRegister(ProxyCallDuration)
	prometheus.MustRegister(WebhookEventsTotal)
	prometheus.MustRegister(WebhookSignatureFailuresTotal)
	prometheus.MustRegister(PreviewEnvironmentsActive)
	prometheus.MustRegister(CancellationsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(ChangesAppliedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
