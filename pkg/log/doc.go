/*
Package log provides structured logging for the deployment core using
zerolog.

It wraps zerolog with component-specific child loggers (WithComponent,
WithServiceID, WithDeploymentID, WithWorkflowID, WithProjectID) so every
log line emitted while executing a deployment workflow carries enough
context to correlate it back to the service and deployment it belongs to,
without callers needing to thread a logger through every function
signature by hand.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithDeploymentID(deployment.ID)
	logger.Info().Str("step", string(types.StepSwarmServiceCreated)).Msg("runtime service created")

JSONOutput controls whether output is newline-delimited JSON (production)
or a colorized console writer (local development).
*/
package log
