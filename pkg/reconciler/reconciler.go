// Package reconciler provides workflow-durability resumption: a ticker
// loop that finds deployments left mid-workflow by a crashed process and
// re-enters them at their last recorded step, plus the Raft-backed leader
// election that ensures only one core replica does so at a time.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/zaneops/pkg/log"
	"github.com/cuemby/zaneops/pkg/metrics"
	"github.com/cuemby/zaneops/pkg/storage"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/rs/zerolog"
)

// Resumer re-enters a deployment's workflow at its last recorded step;
// satisfied by pkg/executor.Executor.Run.
type Resumer interface {
	Run(ctx context.Context, deploymentID string) error
}

// nonTerminalStatuses are the statuses a crashed process can leave a
// deployment in — anything not yet HEALTHY/FAILED/CANCELLED/etc.
var nonTerminalStatuses = map[types.DeploymentStatus]bool{
	types.StatusQueued:     true,
	types.StatusPreparing:  true,
	types.StatusBuilding:   true,
	types.StatusStarting:   true,
	types.StatusRestarting: true,
}

// staleAfter bounds how long a deployment may sit in a non-terminal
// status before the resumer assumes its workflow died and re-enters it;
// shorter than that, it may simply be a slow but live step.
const staleAfter = 2 * time.Minute

// Reconciler is the ticker-driven resumer loop.
type Reconciler struct {
	store   storage.Store
	leader  *LeaderElector
	resumer Resumer
	logger  zerolog.Logger
	mu      sync.RWMutex
	stopCh  chan struct{}
}

func New(store storage.Store, leader *LeaderElector, resumer Resumer) *Reconciler {
	return &Reconciler{
		store:   store,
		leader:  leader,
		resumer: resumer,
		logger:  log.WithComponent("reconciler"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("workflow resumer started")

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("workflow resumer stopped")
			return
		}
	}
}

// reconcile scans every project's services for orphaned deployments and
// resumes them. Only the Raft leader does this — a follower would race
// the leader's resume attempt against the same deployment row.
func (r *Reconciler) reconcile() error {
	if r.leader != nil && !r.leader.IsLeader() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	ctx := context.Background()
	projects, err := r.store.ListProjects(ctx)
	if err != nil {
		return err
	}

	for _, p := range projects {
		envs, err := r.store.ListEnvironmentsByProject(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, e := range envs {
			services, err := r.store.ListServicesByEnvironment(ctx, e.ID)
			if err != nil {
				return err
			}
			for _, svc := range services {
				if err := r.resumeOrphaned(ctx, svc.ID); err != nil {
					r.logger.Error().Err(err).Str("service_id", svc.ID).Msg("resume orphaned deployment")
				}
			}
		}
	}
	return nil
}

func (r *Reconciler) resumeOrphaned(ctx context.Context, serviceID string) error {
	deployments, err := r.store.ListDeploymentsByService(ctx, serviceID)
	if err != nil {
		return err
	}
	for _, d := range deployments {
		if !nonTerminalStatuses[d.Status] {
			continue
		}
		if d.StartedAt != nil && time.Since(*d.StartedAt) < staleAfter {
			continue // plausibly still actively running
		}
		r.logger.Info().Str("deployment_id", d.ID).Str("step", string(d.Step)).Msg("resuming orphaned deployment")
		if err := r.resumer.Run(ctx, d.ID); err != nil {
			return err
		}
	}
	return nil
}
