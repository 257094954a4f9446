// Package planner implements the Deployment Planner (§4.3): turning a
// service's pending Change Log entries into a new, queued Deployment
// ready for the executor, without doing any of the executor's actual
// runtime work.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/zaneops/pkg/changelog"
	"github.com/cuemby/zaneops/pkg/differ"
	"github.com/cuemby/zaneops/pkg/storage"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// Planner prepares Deployments. It does not run them — that is the
// executor's job, started by the caller once PrepareNewDeployment returns.
type Planner struct {
	store storage.Store
	log   *changelog.Log
}

func New(store storage.Store, log *changelog.Log) *Planner {
	return &Planner{store: store, log: log}
}

// Options customizes a single PrepareNewDeployment call.
type Options struct {
	Trigger          types.TriggerMethod
	IgnoreBuildCache bool
	// RedeployOf, if set, skips the Change Log entirely and reuses the
	// referenced deployment's snapshot verbatim — a manual "redeploy".
	RedeployOf string
}

// PrepareNewDeployment is the spec's 8-step sequence:
//  1. Load the current Service and its latest production Deployment (if any).
//  2. Apply every pending Change Log entry onto an in-memory copy of the Service.
//  3. Diff the resulting snapshot against the previous production snapshot.
//  4. Bail out with zerr.Conflict if nothing changed and this isn't a forced redeploy.
//  5. Resolve the slot: the opposite color of the current production deployment, BLUE if none exists yet.
//  6. Compute the deployment hash from the final snapshot, used for idempotent resource naming.
//  7. Persist the new Deployment row (status QUEUED, step INITIALIZED) inside a single transaction with marking the consumed changes applied.
//  8. Return the committed Deployment. No on-commit hook is registered; the caller hands the deployment to the executor after this returns.
func (p *Planner) PrepareNewDeployment(ctx context.Context, serviceID string, opts Options) (*types.Deployment, error) {
	svc, err := p.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	prevProd, err := p.store.GetLatestProductionDeployment(ctx, serviceID)
	if err != nil {
		return nil, zerr.Runtime(err, "load latest production deployment for %s", serviceID)
	}

	var snapshot types.Service
	var appliedChanges []*types.DeploymentChange
	var prevSnapshot *types.Service
	if prevProd != nil {
		s := prevProd.ServiceSnapshot
		prevSnapshot = &s
	}

	if opts.RedeployOf != "" {
		source, err := p.store.GetDeployment(ctx, opts.RedeployOf)
		if err != nil {
			return nil, err
		}
		snapshot = source.ServiceSnapshot
	} else {
		snapshot = *svc
		appliedChanges, err = p.log.ApplyPendingChanges(ctx, &snapshot)
		if err != nil {
			return nil, err
		}

		diff := differ.Compare(prevSnapshot, &snapshot)
		if diff.IsEmpty() && !opts.IgnoreBuildCache {
			return nil, zerr.Conflict("service %s has no pending changes to deploy", serviceID)
		}
	}

	slot := types.SlotBlue
	if prevProd != nil {
		slot = prevProd.Slot.Opposite()
	}

	hash, err := deploymentHash(&snapshot, slot)
	if err != nil {
		return nil, zerr.Runtime(err, "compute deployment hash")
	}

	deployment := &types.Deployment{
		ID:               uuid.NewString(),
		ServiceID:        serviceID,
		Hash:             hash,
		WorkflowID:       uuid.NewString(),
		Slot:             slot,
		Status:           types.StatusQueued,
		Step:             types.StepInitialized,
		ServiceSnapshot:  snapshot,
		TriggerMethod:    opts.Trigger,
		IsRedeployOf:     opts.RedeployOf,
		IgnoreBuildCache: opts.IgnoreBuildCache,
		QueuedAt:         time.Now(),
	}

	err = p.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateDeployment(ctx, deployment); err != nil {
			return zerr.Runtime(err, "create deployment")
		}
		if len(appliedChanges) > 0 {
			ids := make([]string, len(appliedChanges))
			for i, c := range appliedChanges {
				ids[i] = c.ID
			}
			if err := tx.MarkChangesApplied(ctx, ids, deployment.ID); err != nil {
				return zerr.Runtime(err, "mark changes applied")
			}
		}
		if err := tx.UpdateService(ctx, &snapshot); err != nil {
			return zerr.Runtime(err, "persist applied service config")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return deployment, nil
}

// deploymentHash is content-addressed on the final snapshot plus slot, so
// re-planning the exact same config twice into the same slot (a crash
// retry before the deployment committed) produces the same identity the
// executor's resource naming relies on for idempotency.
func deploymentHash(svc *types.Service, slot types.Slot) (string, error) {
	b, err := json.Marshal(svc)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(b)
	h.Write([]byte(slot))
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
