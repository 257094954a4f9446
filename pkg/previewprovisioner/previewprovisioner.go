// Package previewprovisioner is the one concrete webhook.PreviewProvisioner:
// it clones the source service's deployable config into the new preview
// Environment so a fork/branch preview has something to deploy, and tears
// that clone down when the preview environment is removed. It does not
// attach template-defined sidecars — the template system those come from
// is out of this module's scope (spec.md Non-goals exclude a full
// template engine) — so Instantiate only ever produces the one service
// the pull request is actually previewing.
package previewprovisioner

import (
	"context"

	"github.com/google/uuid"

	"github.com/cuemby/zaneops/pkg/storage"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

type Provisioner struct {
	store storage.Store
}

func New(store storage.Store) *Provisioner {
	return &Provisioner{store: store}
}

// Instantiate clones source's deployable configuration into env as a new
// Service row, pointed at the PR's head branch/commit so the first
// deployment the planner prepares for it builds the fork's changes
// rather than the source service's current config.
func (p *Provisioner) Instantiate(ctx context.Context, env *types.Environment, source *types.Service) error {
	if env.Preview == nil {
		return zerr.Validation("preview environment %s has no preview metadata", env.ID)
	}

	clone := *source
	clone.ID = uuid.NewString()
	clone.EnvironmentID = env.ID
	clone.UnprefixedID = clone.ID
	clone.NetworkAlias = "zn-" + source.Slug + "-" + clone.ID[:8]
	clone.DeployTokenHash = ""
	clone.AutoDeploy = false

	if source.Kind == types.ServiceKindGit {
		clone.GitSource.RepositoryURL = env.Preview.HeadRepositoryURL
		clone.GitSource.Branch = env.Preview.BranchName
		clone.GitSource.CommitSHA = env.Preview.CommitSHA
	}

	if err := p.store.CreateService(ctx, &clone); err != nil {
		return zerr.Runtime(err, "clone source service %s into preview environment %s", source.ID, env.ID)
	}
	return nil
}

// Teardown removes every service the preview environment owns. The
// Environment row itself is deleted by the caller once Teardown returns.
func (p *Provisioner) Teardown(ctx context.Context, env *types.Environment) error {
	services, err := p.store.ListServicesByEnvironment(ctx, env.ID)
	if err != nil {
		return zerr.Runtime(err, "list services for preview environment %s", env.ID)
	}
	for _, svc := range services {
		if err := p.store.DeleteService(ctx, svc.ID); err != nil {
			return zerr.Runtime(err, "delete preview service %s", svc.ID)
		}
	}
	return nil
}
