// Package storage defines the relational persistence interface for the
// deployment orchestration core and a Postgres-backed implementation.
package storage

import (
	"context"

	"github.com/cuemby/zaneops/pkg/types"
)

// Store is the transactional relational store holding every entity in the
// data model. Implementations must support on-commit hooks so a workflow
// is only scheduled for work that actually survived the transaction.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *types.Project) error
	GetProject(ctx context.Context, id string) (*types.Project, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)

	// Environments
	CreateEnvironment(ctx context.Context, e *types.Environment) error
	GetEnvironment(ctx context.Context, id string) (*types.Environment, error)
	ListEnvironmentsByProject(ctx context.Context, projectID string) ([]*types.Environment, error)
	ListActivePreviewEnvironments(ctx context.Context) ([]*types.Environment, error)
	UpdateEnvironment(ctx context.Context, e *types.Environment) error
	ArchiveEnvironment(ctx context.Context, id string) error

	// Services
	CreateService(ctx context.Context, s *types.Service) error
	GetService(ctx context.Context, id string) (*types.Service, error)
	GetServiceBySlug(ctx context.Context, projectID, environmentID, slug string) (*types.Service, error)
	// GetServiceByDeployToken resolves the service whose deploy token
	// hashes to tokenHash — the lookup behind PUT /webhook/deploy/<token>.
	GetServiceByDeployToken(ctx context.Context, tokenHash string) (*types.Service, error)
	ListServicesByEnvironment(ctx context.Context, environmentID string) ([]*types.Service, error)
	FindAutoDeployServices(ctx context.Context, gitAppID, repositoryURL, branch string) ([]*types.Service, error)
	UpdateService(ctx context.Context, s *types.Service) error
	DeleteService(ctx context.Context, id string) error

	// DeploymentChanges — the Change Log
	CreatePendingChange(ctx context.Context, c *types.DeploymentChange) error
	ListPendingChanges(ctx context.Context, serviceID string) ([]*types.DeploymentChange, error)
	GetPendingChange(ctx context.Context, id string) (*types.DeploymentChange, error)
	DeletePendingChange(ctx context.Context, id string) error
	MarkChangesApplied(ctx context.Context, changeIDs []string, deploymentID string) error

	// Deployments
	CreateDeployment(ctx context.Context, d *types.Deployment) error
	GetDeployment(ctx context.Context, id string) (*types.Deployment, error)
	GetDeploymentByWorkflowID(ctx context.Context, workflowID string) (*types.Deployment, error)
	ListDeploymentsByService(ctx context.Context, serviceID string) ([]*types.Deployment, error)
	ListCancellableDeployments(ctx context.Context, serviceID string) ([]*types.Deployment, error)
	GetLatestProductionDeployment(ctx context.Context, serviceID string) (*types.Deployment, error)
	UpdateDeployment(ctx context.Context, d *types.Deployment) error
	// SetCurrentProduction performs the compare-and-set promotion: flips
	// is_current_production off on whatever deployment currently holds it
	// for serviceID, then on for deploymentID, atomically.
	SetCurrentProduction(ctx context.Context, serviceID, deploymentID string) error

	// GitApps
	CreateGitApp(ctx context.Context, a *types.GitApp) error
	GetGitApp(ctx context.Context, id string) (*types.GitApp, error)
	FindGitAppByWebhookRecipient(ctx context.Context, provider, repositoryURL string) (*types.GitApp, error)

	// WithTx runs fn inside a transaction; fn receives a Tx exposing the
	// same operations plus OnCommit. Hooks registered via OnCommit run
	// only after the underlying transaction has committed successfully,
	// never for a rolled-back attempt.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is a Store bound to an in-flight transaction, plus the ability to
// register post-commit side effects (scheduling a workflow, publishing an
// event) that must not fire if the transaction rolls back.
type Tx interface {
	Store
	OnCommit(fn func())
}
