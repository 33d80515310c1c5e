/*
Package metrics provides Prometheus metrics and health endpoints for protect-init.

All collectors are registered with the Prometheus default registry at package
init. They are only scraped when the entrypoint is started with
--metrics-addr, in which case Serve exposes:

	/metrics   Prometheus exposition
	/health    200 unless a registered component is unhealthy
	/ready     200 once database, provisioning and server are all healthy
	/live      200 while the entrypoint runs

# Metrics

	protect_init_verdicts_total{verdict}           lifecycle verdict per container start
	protect_init_step_duration_seconds{step}       provisioning step latency
	protect_init_step_failures_total{step}         provisioning steps that failed
	protect_init_db_wait_attempts_total{result}    database connection attempts
	protect_init_server_running                    1 while the server process runs
	protect_init_signals_forwarded_total{signal}   signals forwarded to the server

Timing a step:

	timer := metrics.NewTimer()
	err := step(ctx)
	timer.ObserveDurationVec(metrics.StepDuration, "install-database")

# Health Components

The provisioning flow reports ComponentDatabase after the database wait,
ComponentProvisioning after the selected branch completes, and the supervisor
reports ComponentServer while the server process is alive. The container's
own HEALTHCHECK should still use the healthcheck subcommand, which probes the
server ports directly.
*/
package metrics
