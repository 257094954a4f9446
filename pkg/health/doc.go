/*
Package health provides the probe mechanisms used by the Deployment
Executor's healthcheck gate: HTTP, TCP, and command (exec) checks.

# Architecture

	┌──────────────────────────────────────────────┐
	│                Checker Interface              │
	│  • Check(ctx) Result                          │
	│  • Type() CheckType                           │
	└────────┬───────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────┐
	    ▼           ▼          ▼
	┌────────┐  ┌──────┐  ┌────────┐
	│  HTTP  │  │ TCP  │  │  Exec  │
	└────────┘  └──────┘  └────────┘

# Gate flow

After SWARM_SERVICE_CREATED the executor:

 1. Waits for the new slot's container to report running.
 2. Applies no start-period grace; probing starts as soon as it runs.
 3. Every healthcheck.IntervalSeconds, runs the configured Checker against
    http://<slot alias>:<first forwarded port><path> (HTTP) or runs the
    configured command (Exec), up to healthcheck.TimeoutSeconds total
    counted from the start of step 1.
 4. On success: HEALTHY, proceed to SERVICE_EXPOSED_TO_HTTP.
 5. On deadline exceeded: UNHEALTHY, skip SERVICE_EXPOSED_TO_HTTP, roll back.

Status tracking implements hysteresis via Config.Retries — a single
transient failure does not flip Healthy to false, preventing promotion
flapping on a momentarily slow probe.

# Checkers

HTTPChecker performs a GET (or configured method) against a URL and
classifies 2xx (by default) as healthy; TCPChecker only verifies a
listener accepts a connection; ExecChecker runs a command inside the
target task's container and inspects the exit code, mirroring what the
runtime's exec_healthcheck operation exposes.

# See also

  - pkg/executor — drives the gate and interprets Result/Status
  - pkg/runtimeadapter — supplies TasksList/exec_healthcheck backing
    HTTPChecker/ExecChecker targets
*/
package health
