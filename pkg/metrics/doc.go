/*
Package metrics provides Prometheus metrics collection and exposition for
the deployment orchestration core.

# Key metrics

	zaneops_deployments_total{trigger_method,status}
	zaneops_deployment_duration_seconds{trigger_method}
	zaneops_deployments_in_flight
	zaneops_deployments_rolled_back_total{reason}
	zaneops_healthcheck_attempts_total{outcome}
	zaneops_healthcheck_gate_duration_seconds
	zaneops_runtime_call_duration_seconds{operation}
	zaneops_proxy_route_ops_total{method,outcome}
	zaneops_webhook_events_total{provider,kind}
	zaneops_preview_environments_active
	zaneops_cancellations_total{had_started}
	zaneops_raft_is_leader

# Usage

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	// ... run the healthcheck gate ...
	timer.ObserveDuration(metrics.HealthcheckGateDuration)

Collector samples gauges that are not naturally updated inline with a
request (preview environment count, leader status) on a 15s tick; Timer is
used inline by the Executor and the Reconciler around the operations they
time directly.
*/
package metrics
