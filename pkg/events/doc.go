/*
Package events provides an in-memory, non-blocking pub/sub broker for
deployment and webhook lifecycle events.

The Broker decouples the Executor, Webhook Router, and Cancellation
Coordinator from whatever observes them — a log tailer, an SSE handler
backing a web UI, or a test harness asserting on step transitions. A
subscriber with a full buffer silently drops new events rather than
blocking the publisher; deployment progress is therefore best-effort for
observers and never on the critical path of the workflow itself.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:    events.EventDeploymentHealthy,
		Message: "deployment " + deployment.Hash + " is healthy",
		Metadata: map[string]string{"service_id": service.ID},
	})

	for ev := range sub {
		// forward to SSE stream, log, etc.
	}
*/
package events
