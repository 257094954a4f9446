// Package executor implements the Deployment Executor (§4.4): the
// workflow that carries a planned Deployment from QUEUED through to
// HEALTHY (or FAILED/CANCELLED), realizing it as a container, gating
// promotion on a healthcheck, and retiring the previous production slot.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/zaneops/pkg/events"
	"github.com/cuemby/zaneops/pkg/gitclient"
	"github.com/cuemby/zaneops/pkg/log"
	"github.com/cuemby/zaneops/pkg/metrics"
	"github.com/cuemby/zaneops/pkg/proxycp"
	"github.com/cuemby/zaneops/pkg/runtimeadapter"
	"github.com/cuemby/zaneops/pkg/storage"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// CancellationChecker is satisfied by pkg/cancel's Coordinator; kept as a
// narrow interface here to avoid an import cycle between the two
// packages (the coordinator itself has no need to know about the
// executor's internals).
type CancellationChecker interface {
	IsCancelled(ctx context.Context, deploymentID string) (bool, error)
}

// Builder produces a runnable image for a git-source service. Exec's own
// pkg/gitclient resolves the source; image construction (Dockerfile,
// nixpacks, railpack, or the precomputed static-dir Caddyfile) is out of
// this package's scope and plugged in via this interface so the executor
// never has to know which builder kind ran.
type Builder interface {
	Build(ctx context.Context, svc *types.Service, workDir string) (imageRef string, err error)
}

// Executor carries deployments through their step sequence.
type Executor struct {
	store     storage.Store
	runtime   runtimeadapter.Adapter
	proxy     *proxycp.Client
	git       *gitclient.Client
	builder   Builder
	broker    *events.Broker
	cancel    CancellationChecker
	stopGrace time.Duration
}

func New(store storage.Store, runtime runtimeadapter.Adapter, proxy *proxycp.Client, git *gitclient.Client, builder Builder, broker *events.Broker, cancel CancellationChecker) *Executor {
	return &Executor{
		store: store, runtime: runtime, proxy: proxy, git: git, builder: builder,
		broker: broker, cancel: cancel, stopGrace: 10 * time.Second,
	}
}

// Run carries deploymentID through its full workflow. It is idempotent
// from any StepMarker recorded on the Deployment — a resumed workflow
// (after a crash, picked up by pkg/reconciler) re-enters at d.Step and
// does not redo completed, side-effecting steps.
func (e *Executor) Run(ctx context.Context, deploymentID string) error {
	d, err := e.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	logger := log.WithDeploymentID(d.ID).With().Str("service_id", d.ServiceID).Logger()
	timer := metrics.NewTimer()
	metrics.DeploymentsInFlight.Inc()
	defer metrics.DeploymentsInFlight.Dec()

	e.setStatus(ctx, d, types.StatusPreparing, "")
	svc := &d.ServiceSnapshot

	steps := imageSourceSteps
	if svc.Kind == types.ServiceKindGit {
		steps = gitSourceSteps
	}

	var runErr error
	var containerID string
	for _, step := range steps {
		if stepOrder(step.marker).precedesOrEquals(d.Step) {
			continue
		}
		if cancelled, _ := e.checkCancelled(ctx, d); cancelled {
			e.setStatus(ctx, d, types.StatusCancelled, "cancelled before step "+string(step.marker))
			e.compensate(ctx, d, containerID)
			timer.ObserveDurationVec(metrics.DeploymentDuration, string(d.TriggerMethod))
			return nil
		}

		logger.Info(fmt.Sprintf("entering step %s", step.marker))
		result, err := step.run(ctx, e, d)
		if err != nil {
			runErr = err
			break
		}
		if result.containerID != "" {
			containerID = result.containerID
		}
		d.Step = step.marker
		if err := e.store.UpdateDeployment(ctx, d); err != nil {
			runErr = zerr.Runtime(err, "persist step %s", step.marker)
			break
		}
		e.publish(events.EventDeploymentStep, d, string(step.marker))
	}

	if runErr != nil {
		metrics.RolledBackDeploymentsTotal.WithLabelValues(string(zerr.KindOf(runErr))).Inc()
		e.setStatus(ctx, d, types.StatusFailed, runErr.Error())
		e.compensate(ctx, d, containerID)
		e.publish(events.EventDeploymentFailed, d, runErr.Error())
		timer.ObserveDurationVec(metrics.DeploymentDuration, string(d.TriggerMethod))
		metrics.DeploymentsTotal.WithLabelValues(string(d.TriggerMethod), "failed").Inc()
		return runErr
	}

	d.Step = types.StepFinished
	e.setStatus(ctx, d, types.StatusHealthy, "")
	e.publish(events.EventDeploymentHealthy, d, "")
	timer.ObserveDurationVec(metrics.DeploymentDuration, string(d.TriggerMethod))
	metrics.DeploymentsTotal.WithLabelValues(string(d.TriggerMethod), "healthy").Inc()
	return nil
}

func (e *Executor) publish(typ events.EventType, d *types.Deployment, message string) {
	e.broker.Publish(&events.Event{
		Type:    typ,
		Message: message,
		Metadata: map[string]string{
			"deployment_id": d.ID,
			"service_id":    d.ServiceID,
			"slot":          string(d.Slot),
		},
	})
}

func (e *Executor) checkCancelled(ctx context.Context, d *types.Deployment) (bool, error) {
	if e.cancel == nil {
		return false, nil
	}
	return e.cancel.IsCancelled(ctx, d.ID)
}

func (e *Executor) setStatus(ctx context.Context, d *types.Deployment, status types.DeploymentStatus, reason string) {
	d.Status = status
	d.StatusReason = reason
	now := time.Now()
	if status == types.StatusPreparing && d.StartedAt == nil {
		d.StartedAt = &now
	}
	if status.IsTerminal() {
		d.FinishedAt = &now
	}
	_ = e.store.UpdateDeployment(ctx, d)
}

// compensate tears down whatever partial resources this attempt created:
// the container (if any) and its deployment-scoped proxy route. The
// previous production slot is never touched by compensation — a failed
// challenger must never take production down with it.
func (e *Executor) compensate(ctx context.Context, d *types.Deployment, containerID string) {
	if containerID != "" {
		_ = e.runtime.StopContainer(ctx, containerID, e.stopGrace)
		_ = e.runtime.RemoveContainer(ctx, containerID)
	}
	for _, u := range d.URLs {
		_ = e.proxy.RemoveRoute(ctx, u.RouteID)
	}
}

// precedesOrEquals supports resuming a workflow at d.Step: steps whose
// marker sorts at or before the deployment's last recorded step have
// already run and are skipped.
func (m stepOrder) precedesOrEquals(current types.StepMarker) bool {
	return stepRank[types.StepMarker(m)] <= stepRank[current]
}

type stepOrder types.StepMarker

var stepRank = func() map[types.StepMarker]int {
	order := []types.StepMarker{
		types.StepInitialized,
		types.StepCloningRepository,
		types.StepRepositoryCloned,
		types.StepBuildingImage,
		types.StepImageBuilt,
		types.StepVolumesCreated,
		types.StepConfigsCreated,
		types.StepPreviousDeploymentScaledDown,
		types.StepSwarmServiceCreated,
		types.StepDeploymentExposedToHTTP,
		types.StepServiceExposedToHTTP,
		types.StepFinished,
	}
	m := make(map[types.StepMarker]int, len(order))
	for i, s := range order {
		m[s] = i
	}
	return m
}()
