// Package cancel implements the Cancellation Coordinator (§4.7): flagging
// queued deployments, signalling ones already running, and enforcing
// queue-cleanup policy ahead of a new deploy request.
package cancel

import (
	"context"
	"sync"

	"github.com/cuemby/zaneops/pkg/events"
	"github.com/cuemby/zaneops/pkg/log"
	"github.com/cuemby/zaneops/pkg/metrics"
	"github.com/cuemby/zaneops/pkg/storage"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// Coordinator tracks which in-flight deployments have been asked to
// cancel. The executor observes a flag at its next suspension point —
// there is no hard preemption, only cooperative acknowledgement.
type Coordinator struct {
	store  storage.Store
	broker *events.Broker

	mu      sync.RWMutex
	flagged map[string]string // deploymentID -> reason
}

func New(store storage.Store, broker *events.Broker) *Coordinator {
	return &Coordinator{store: store, broker: broker, flagged: make(map[string]string)}
}

// IsCancelled satisfies pkg/executor.CancellationChecker. A deployment
// found CANCELLED in storage also counts — a flag from a previous process
// lifetime that was persisted before this one started.
func (c *Coordinator) IsCancelled(ctx context.Context, deploymentID string) (bool, error) {
	c.mu.RLock()
	_, flagged := c.flagged[deploymentID]
	c.mu.RUnlock()
	if flagged {
		return true, nil
	}
	d, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return false, err
	}
	return d.Status == types.StatusCancelled, nil
}

// FlagDeploymentsForCancellation selects serviceID's queue-cancellable
// deployments (§4.7) and, for each, either cancels it outright (never
// started) or marks it flagged for the running executor to observe.
// includeRunning=false restricts the selection to deployments that have
// not progressed beyond QUEUED.
func (c *Coordinator) FlagDeploymentsForCancellation(ctx context.Context, serviceID string, includeRunning bool) ([]*types.Deployment, error) {
	candidates, err := c.store.ListCancellableDeployments(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	var affected []*types.Deployment
	for _, d := range candidates {
		if !includeRunning && d.Status.IsRunningNotQueued() {
			continue
		}
		if d.StartedAt == nil {
			if err := c.markCancelled(ctx, d, "Cancelled due to superseding deployment"); err != nil {
				return nil, err
			}
		} else {
			c.flag(d.ID, "Cancelled due to superseding deployment")
		}
		affected = append(affected, d)
	}
	return affected, nil
}

// Cancel implements the cancel(deployment, reason) operation: a direct
// flip for not-yet-started deployments, a signal for running ones.
func (c *Coordinator) Cancel(ctx context.Context, deploymentID, reason string) error {
	d, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d.Status.IsTerminal() {
		return zerr.Conflict("deployment %s is already terminal (%s)", d.ID, d.Status)
	}
	c.mu.RLock()
	_, alreadyFlagged := c.flagged[d.ID]
	c.mu.RUnlock()
	if alreadyFlagged {
		return zerr.Conflict("deployment %s is already cancelling", d.ID)
	}

	if d.StartedAt == nil {
		return c.markCancelled(ctx, d, reason)
	}
	c.flag(d.ID, reason)
	metrics.CancellationsTotal.WithLabelValues("true").Inc()
	log.WithDeploymentID(d.ID).Info().Msg("cancellation signalled to running workflow: " + reason)
	return nil
}

// CleanupQueue drives a deploy request's cleanup_queue flag: it is exactly
// FlagDeploymentsForCancellation with includeRunning taken from the
// caller's cancelRunningDeployments choice.
func (c *Coordinator) CleanupQueue(ctx context.Context, serviceID string, cancelRunningDeployments bool) ([]*types.Deployment, error) {
	return c.FlagDeploymentsForCancellation(ctx, serviceID, cancelRunningDeployments)
}

func (c *Coordinator) markCancelled(ctx context.Context, d *types.Deployment, reason string) error {
	d.Status = types.StatusCancelled
	d.StatusReason = reason
	if err := c.store.UpdateDeployment(ctx, d); err != nil {
		return zerr.Runtime(err, "mark deployment %s cancelled", d.ID)
	}
	c.unflag(d.ID)
	metrics.CancellationsTotal.WithLabelValues("false").Inc()
	c.broker.Publish(&events.Event{
		Type:    events.EventDeploymentCancelled,
		Message: reason,
		Metadata: map[string]string{
			"deployment_id": d.ID,
			"service_id":    d.ServiceID,
		},
	})
	return nil
}

func (c *Coordinator) flag(deploymentID, reason string) {
	c.mu.Lock()
	c.flagged[deploymentID] = reason
	c.mu.Unlock()
}

func (c *Coordinator) unflag(deploymentID string) {
	c.mu.Lock()
	delete(c.flagged, deploymentID)
	c.mu.Unlock()
}

// Acknowledge clears a flag once the executor has actually stopped the
// workflow at a suspension point, so a later redeploy reusing the same
// deployment ID (e.g. after a resume) doesn't see a stale cancellation.
func (c *Coordinator) Acknowledge(deploymentID string) {
	c.unflag(deploymentID)
}
