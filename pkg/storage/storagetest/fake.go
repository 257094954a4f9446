// Package storagetest provides an in-memory storage.Store for unit tests
// that need real persistence semantics (create/get/list, SetCurrentProduction
// as a CAS) without a Postgres instance.
package storagetest

import (
	"context"
	"sync"

	"github.com/cuemby/zaneops/pkg/storage"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// Fake is a minimal, goroutine-safe, map-backed storage.Store.
type Fake struct {
	mu sync.Mutex

	projects     map[string]*types.Project
	environments map[string]*types.Environment
	services     map[string]*types.Service
	changes      map[string]*types.DeploymentChange
	deployments  map[string]*types.Deployment
	gitApps      map[string]*types.GitApp
}

func NewFake() *Fake {
	return &Fake{
		projects:     make(map[string]*types.Project),
		environments: make(map[string]*types.Environment),
		services:     make(map[string]*types.Service),
		changes:      make(map[string]*types.DeploymentChange),
		deployments:  make(map[string]*types.Deployment),
		gitApps:      make(map[string]*types.GitApp),
	}
}

var _ storage.Store = (*Fake)(nil)

func (f *Fake) CreateProject(_ context.Context, p *types.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = p
	return nil
}

func (f *Fake) GetProject(_ context.Context, id string) (*types.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, zerr.NotFound("project %s not found", id)
	}
	return p, nil
}

func (f *Fake) ListProjects(_ context.Context) ([]*types.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *Fake) CreateEnvironment(_ context.Context, e *types.Environment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.environments[e.ID] = e
	return nil
}

func (f *Fake) GetEnvironment(_ context.Context, id string) (*types.Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.environments[id]
	if !ok {
		return nil, zerr.NotFound("environment %s not found", id)
	}
	return e, nil
}

func (f *Fake) ListEnvironmentsByProject(_ context.Context, projectID string) ([]*types.Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Environment
	for _, e := range f.environments {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *Fake) ListActivePreviewEnvironments(_ context.Context) ([]*types.Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Environment
	for _, e := range f.environments {
		if e.Preview != nil && !e.Archived {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *Fake) UpdateEnvironment(_ context.Context, e *types.Environment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.environments[e.ID] = e
	return nil
}

func (f *Fake) ArchiveEnvironment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.environments[id]
	if !ok {
		return zerr.NotFound("environment %s not found", id)
	}
	e.Archived = true
	return nil
}

func (f *Fake) CreateService(_ context.Context, s *types.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[s.ID] = s
	return nil
}

func (f *Fake) GetService(_ context.Context, id string) (*types.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[id]
	if !ok {
		return nil, zerr.NotFound("service %s not found", id)
	}
	return s, nil
}

func (f *Fake) GetServiceBySlug(_ context.Context, projectID, environmentID, slug string) (*types.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.services {
		if s.ProjectID == projectID && s.EnvironmentID == environmentID && s.Slug == slug {
			return s, nil
		}
	}
	return nil, zerr.NotFound("service %s not found", slug)
}

func (f *Fake) GetServiceByDeployToken(_ context.Context, tokenHash string) (*types.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.services {
		if s.DeployTokenHash == tokenHash {
			return s, nil
		}
	}
	return nil, zerr.NotFound("no service for that deploy token")
}

func (f *Fake) ListServicesByEnvironment(_ context.Context, environmentID string) ([]*types.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Service
	for _, s := range f.services {
		if s.EnvironmentID == environmentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Fake) FindAutoDeployServices(_ context.Context, gitAppID, repositoryURL, branch string) ([]*types.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Service
	for _, s := range f.services {
		if s.Kind != types.ServiceKindGit {
			continue
		}
		gs := s.GitSource
		if gs.GitAppID == gitAppID && gs.RepositoryURL == repositoryURL && gs.Branch == branch {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Fake) UpdateService(_ context.Context, s *types.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[s.ID] = s
	return nil
}

func (f *Fake) DeleteService(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.services, id)
	return nil
}

func (f *Fake) CreatePendingChange(_ context.Context, c *types.DeploymentChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes[c.ID] = c
	return nil
}

func (f *Fake) ListPendingChanges(_ context.Context, serviceID string) ([]*types.DeploymentChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.DeploymentChange
	for _, c := range f.changes {
		if c.ServiceID == serviceID && !c.Applied {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Fake) GetPendingChange(_ context.Context, id string) (*types.DeploymentChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.changes[id]
	if !ok {
		return nil, zerr.NotFound("change %s not found", id)
	}
	return c, nil
}

func (f *Fake) DeletePendingChange(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.changes, id)
	return nil
}

func (f *Fake) MarkChangesApplied(_ context.Context, changeIDs []string, deploymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range changeIDs {
		if c, ok := f.changes[id]; ok {
			c.Applied = true
			c.DeploymentID = deploymentID
		}
	}
	return nil
}

func (f *Fake) CreateDeployment(_ context.Context, d *types.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[d.ID] = d
	return nil
}

func (f *Fake) GetDeployment(_ context.Context, id string) (*types.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deployments[id]
	if !ok {
		return nil, zerr.NotFound("deployment %s not found", id)
	}
	return d, nil
}

func (f *Fake) GetDeploymentByWorkflowID(_ context.Context, workflowID string) (*types.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deployments {
		if d.WorkflowID == workflowID {
			return d, nil
		}
	}
	return nil, zerr.NotFound("deployment with workflow %s not found", workflowID)
}

func (f *Fake) ListDeploymentsByService(_ context.Context, serviceID string) ([]*types.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Deployment
	for _, d := range f.deployments {
		if d.ServiceID == serviceID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *Fake) ListCancellableDeployments(_ context.Context, serviceID string) ([]*types.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Deployment
	for _, d := range f.deployments {
		if d.ServiceID == serviceID && d.Status.IsQueueCancellable() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *Fake) GetLatestProductionDeployment(_ context.Context, serviceID string) (*types.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deployments {
		if d.ServiceID == serviceID && d.IsCurrentProduction {
			return d, nil
		}
	}
	return nil, nil
}

func (f *Fake) UpdateDeployment(_ context.Context, d *types.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[d.ID] = d
	return nil
}

func (f *Fake) SetCurrentProduction(_ context.Context, serviceID, deploymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deployments {
		if d.ServiceID == serviceID {
			d.IsCurrentProduction = d.ID == deploymentID
		}
	}
	return nil
}

func (f *Fake) CreateGitApp(_ context.Context, a *types.GitApp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gitApps[a.ID] = a
	return nil
}

func (f *Fake) GetGitApp(_ context.Context, id string) (*types.GitApp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.gitApps[id]
	if !ok {
		return nil, zerr.NotFound("git app %s not found", id)
	}
	return a, nil
}

func (f *Fake) FindGitAppByWebhookRecipient(_ context.Context, provider, repositoryURL string) (*types.GitApp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.gitApps {
		if a.Provider == provider {
			return a, nil
		}
	}
	return nil, zerr.NotFound("git app for %s/%s not found", provider, repositoryURL)
}

// WithTx runs fn against f itself wrapped in a fakeTx — there is no real
// rollback, which is acceptable for unit tests that only assert on the
// happy path or on returned errors, never on rollback isolation. Hooks
// registered via OnCommit run after fn returns nil, and never otherwise.
func (f *Fake) WithTx(_ context.Context, fn func(tx storage.Tx) error) error {
	tx := &fakeTx{Fake: f}
	if err := fn(tx); err != nil {
		return err
	}
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

func (f *Fake) Close() error { return nil }

type fakeTx struct {
	*Fake
	hooks []func()
}

func (t *fakeTx) OnCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}
