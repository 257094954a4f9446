package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/lib/pq"

	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// PostgresStore is the Store implementation backing the deployment core.
// Entities with fields the spec requires to be indexed (service+status,
// service+queued_at, url domain+base_path) get real SQL columns; the rest
// of each entity is round-tripped as a jsonb "doc" column, mirroring how
// the teacher round-trips whole structs through its storage layer, but on
// a relational engine with transactions per spec.md §6.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to Postgres and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS environments (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	is_preview BOOLEAN NOT NULL DEFAULT false,
	archived BOOLEAN NOT NULL DEFAULT false,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS services (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	environment_id TEXT NOT NULL REFERENCES environments(id),
	slug TEXT NOT NULL,
	deploy_token_hash TEXT NOT NULL UNIQUE,
	doc JSONB NOT NULL,
	UNIQUE(project_id, environment_id, slug)
);
CREATE TABLE IF NOT EXISTS deployment_changes (
	id TEXT PRIMARY KEY,
	service_id TEXT NOT NULL REFERENCES services(id),
	applied BOOLEAN NOT NULL DEFAULT false,
	deployment_id TEXT,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS deployments (
	id TEXT PRIMARY KEY,
	service_id TEXT NOT NULL REFERENCES services(id),
	status TEXT NOT NULL,
	workflow_id TEXT NOT NULL UNIQUE,
	is_current_production BOOLEAN NOT NULL DEFAULT false,
	queued_at TIMESTAMPTZ NOT NULL,
	doc JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deployments_service_status ON deployments(service_id, status);
CREATE INDEX IF NOT EXISTS idx_deployments_service_queued ON deployments(service_id, queued_at DESC);
CREATE TABLE IF NOT EXISTS git_apps (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS service_urls (
	service_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	base_path TEXT NOT NULL,
	PRIMARY KEY (domain, base_path)
);
`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *types.Project) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx).ExecContext(ctx,
		`INSERT INTO projects (id, slug, doc) VALUES ($1, $2, $3)`, p.ID, p.Slug, doc)
	return err
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*types.Project, error) {
	var doc []byte
	err := s.exec(ctx).QueryRowContext(ctx, `SELECT doc FROM projects WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, zerr.NotFound("project %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var p types.Project
	return &p, json.Unmarshal(doc, &p)
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `SELECT doc FROM projects`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Project
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p types.Project
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// --- Environments ---

func (s *PostgresStore) CreateEnvironment(ctx context.Context, e *types.Environment) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx).ExecContext(ctx,
		`INSERT INTO environments (id, project_id, is_preview, archived, doc) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.ProjectID, e.IsPreview, e.Archived, doc)
	return err
}

func (s *PostgresStore) GetEnvironment(ctx context.Context, id string) (*types.Environment, error) {
	var doc []byte
	err := s.exec(ctx).QueryRowContext(ctx, `SELECT doc FROM environments WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, zerr.NotFound("environment %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var e types.Environment
	return &e, json.Unmarshal(doc, &e)
}

func (s *PostgresStore) ListEnvironmentsByProject(ctx context.Context, projectID string) ([]*types.Environment, error) {
	return s.queryEnvironments(ctx, `SELECT doc FROM environments WHERE project_id = $1`, projectID)
}

func (s *PostgresStore) ListActivePreviewEnvironments(ctx context.Context) ([]*types.Environment, error) {
	return s.queryEnvironments(ctx, `SELECT doc FROM environments WHERE is_preview = true AND archived = false`)
}

func (s *PostgresStore) queryEnvironments(ctx context.Context, query string, args ...interface{}) ([]*types.Environment, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Environment
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var e types.Environment
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateEnvironment(ctx context.Context, e *types.Environment) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx).ExecContext(ctx,
		`UPDATE environments SET is_preview=$2, archived=$3, doc=$4 WHERE id=$1`,
		e.ID, e.IsPreview, e.Archived, doc)
	return err
}

func (s *PostgresStore) ArchiveEnvironment(ctx context.Context, id string) error {
	_, err := s.exec(ctx).ExecContext(ctx, `UPDATE environments SET archived = true WHERE id = $1`, id)
	return err
}

// --- Services ---

func (s *PostgresStore) CreateService(ctx context.Context, svc *types.Service) error {
	doc, err := json.Marshal(svc)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx).ExecContext(ctx,
		`INSERT INTO services (id, project_id, environment_id, slug, deploy_token_hash, doc) VALUES ($1, $2, $3, $4, $5, $6)`,
		svc.ID, svc.ProjectID, svc.EnvironmentID, svc.Slug, svc.DeployTokenHash, doc)
	return err
}

func (s *PostgresStore) GetService(ctx context.Context, id string) (*types.Service, error) {
	var doc []byte
	err := s.exec(ctx).QueryRowContext(ctx, `SELECT doc FROM services WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, zerr.NotFound("service %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var svc types.Service
	return &svc, json.Unmarshal(doc, &svc)
}

func (s *PostgresStore) GetServiceBySlug(ctx context.Context, projectID, environmentID, slug string) (*types.Service, error) {
	var doc []byte
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT doc FROM services WHERE project_id=$1 AND environment_id=$2 AND slug=$3`,
		projectID, environmentID, slug).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, zerr.NotFound("service %s/%s not found", environmentID, slug)
	}
	if err != nil {
		return nil, err
	}
	var svc types.Service
	return &svc, json.Unmarshal(doc, &svc)
}

func (s *PostgresStore) GetServiceByDeployToken(ctx context.Context, tokenHash string) (*types.Service, error) {
	var doc []byte
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT doc FROM services WHERE deploy_token_hash=$1`, tokenHash).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, zerr.NotFound("no service for that deploy token")
	}
	if err != nil {
		return nil, err
	}
	var svc types.Service
	return &svc, json.Unmarshal(doc, &svc)
}

func (s *PostgresStore) ListServicesByEnvironment(ctx context.Context, environmentID string) ([]*types.Service, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `SELECT doc FROM services WHERE environment_id = $1`, environmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Service
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var svc types.Service
		if err := json.Unmarshal(doc, &svc); err != nil {
			return nil, err
		}
		out = append(out, &svc)
	}
	return out, rows.Err()
}

// FindAutoDeployServices scans services in the project for the push
// webhook route: type=git, matching git_app, repository_url, branch and
// auto_deploy=true. The doc column holds everything; with a relatively
// small number of git-backed services per installation a jsonb scan is
// simpler than projecting every nested field into its own column, and
// mirrors the teacher's "load then filter in Go" list operations.
func (s *PostgresStore) FindAutoDeployServices(ctx context.Context, gitAppID, repositoryURL, branch string) ([]*types.Service, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT doc FROM services WHERE doc->>'kind' = 'git'
		   AND doc->'git_source'->>'repository_url' = $1
		   AND doc->'git_source'->>'branch' = $2
		   AND doc->'git_source'->>'git_app_id' = $3
		   AND (doc->>'auto_deploy')::boolean = true`,
		repositoryURL, branch, gitAppID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Service
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var svc types.Service
		if err := json.Unmarshal(doc, &svc); err != nil {
			return nil, err
		}
		out = append(out, &svc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateService(ctx context.Context, svc *types.Service) error {
	doc, err := json.Marshal(svc)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx).ExecContext(ctx,
		`UPDATE services SET doc=$2, deploy_token_hash=$3 WHERE id=$1`, svc.ID, doc, svc.DeployTokenHash)
	return err
}

func (s *PostgresStore) DeleteService(ctx context.Context, id string) error {
	_, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id)
	return err
}

// --- DeploymentChanges ---

func (s *PostgresStore) CreatePendingChange(ctx context.Context, c *types.DeploymentChange) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx).ExecContext(ctx,
		`INSERT INTO deployment_changes (id, service_id, applied, doc) VALUES ($1, $2, $3, $4)`,
		c.ID, c.ServiceID, c.Applied, doc)
	return err
}

func (s *PostgresStore) ListPendingChanges(ctx context.Context, serviceID string) ([]*types.DeploymentChange, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT doc FROM deployment_changes WHERE service_id = $1 AND applied = false`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.DeploymentChange
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var c types.DeploymentChange
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPendingChange(ctx context.Context, id string) (*types.DeploymentChange, error) {
	var doc []byte
	err := s.exec(ctx).QueryRowContext(ctx, `SELECT doc FROM deployment_changes WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, zerr.NotFound("change %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var c types.DeploymentChange
	return &c, json.Unmarshal(doc, &c)
}

func (s *PostgresStore) DeletePendingChange(ctx context.Context, id string) error {
	_, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM deployment_changes WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) MarkChangesApplied(ctx context.Context, changeIDs []string, deploymentID string) error {
	for _, id := range changeIDs {
		_, err := s.exec(ctx).ExecContext(ctx,
			`UPDATE deployment_changes SET applied = true, deployment_id = $2,
			   doc = jsonb_set(jsonb_set(doc, '{applied}', 'true'), '{deployment_id}', to_jsonb($2::text))
			 WHERE id = $1`,
			id, deploymentID)
		if err != nil {
			return err
		}
	}
	return nil
}

// --- Deployments ---

func (s *PostgresStore) CreateDeployment(ctx context.Context, d *types.Deployment) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx).ExecContext(ctx,
		`INSERT INTO deployments (id, service_id, status, workflow_id, is_current_production, queued_at, doc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.ServiceID, d.Status, d.WorkflowID, d.IsCurrentProduction, d.QueuedAt, doc)
	return err
}

func (s *PostgresStore) GetDeployment(ctx context.Context, id string) (*types.Deployment, error) {
	var doc []byte
	err := s.exec(ctx).QueryRowContext(ctx, `SELECT doc FROM deployments WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, zerr.NotFound("deployment %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var d types.Deployment
	return &d, json.Unmarshal(doc, &d)
}

func (s *PostgresStore) GetDeploymentByWorkflowID(ctx context.Context, workflowID string) (*types.Deployment, error) {
	var doc []byte
	err := s.exec(ctx).QueryRowContext(ctx, `SELECT doc FROM deployments WHERE workflow_id = $1`, workflowID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, zerr.NotFound("deployment with workflow %s not found", workflowID)
	}
	if err != nil {
		return nil, err
	}
	var d types.Deployment
	return &d, json.Unmarshal(doc, &d)
}

func (s *PostgresStore) ListDeploymentsByService(ctx context.Context, serviceID string) ([]*types.Deployment, error) {
	return s.queryDeployments(ctx,
		`SELECT doc FROM deployments WHERE service_id = $1 ORDER BY queued_at DESC`, serviceID)
}

func (s *PostgresStore) ListCancellableDeployments(ctx context.Context, serviceID string) ([]*types.Deployment, error) {
	return s.queryDeployments(ctx,
		`SELECT doc FROM deployments WHERE service_id = $1
		   AND status IN ('QUEUED','PREPARING','BUILDING','STARTING','RESTARTING')
		 ORDER BY queued_at ASC`, serviceID)
}

func (s *PostgresStore) GetLatestProductionDeployment(ctx context.Context, serviceID string) (*types.Deployment, error) {
	var doc []byte
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT doc FROM deployments WHERE service_id = $1 AND is_current_production = true LIMIT 1`,
		serviceID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var d types.Deployment
	return &d, json.Unmarshal(doc, &d)
}

func (s *PostgresStore) queryDeployments(ctx context.Context, query string, args ...interface{}) ([]*types.Deployment, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Deployment
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var d types.Deployment
		if err := json.Unmarshal(doc, &d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateDeployment(ctx context.Context, d *types.Deployment) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx).ExecContext(ctx,
		`UPDATE deployments SET status=$2, is_current_production=$3, doc=$4 WHERE id=$1`,
		d.ID, d.Status, d.IsCurrentProduction, doc)
	return err
}

// SetCurrentProduction is the compare-and-set promotion pointer described
// in §5: within the caller's transaction, unset any existing production
// deployment for the service, then set the new one. Running both
// statements inside one DB transaction is what makes this a true CAS
// under concurrent promoting workflows — the loser's UPDATE either sees
// the winner's row already flipped back (if ordered after) or has its own
// effect immediately overwritten (if ordered before), and the transaction
// serialization in Postgres's default READ COMMITTED plus per-row locking
// on UPDATE prevents both from observing a stale "no current production"
// row at once.
func (s *PostgresStore) SetCurrentProduction(ctx context.Context, serviceID, deploymentID string) error {
	ex := s.exec(ctx)
	if _, err := ex.ExecContext(ctx,
		`UPDATE deployments SET is_current_production = false,
		   doc = jsonb_set(doc, '{is_current_production}', 'false')
		 WHERE service_id = $1 AND is_current_production = true`, serviceID); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx,
		`UPDATE deployments SET is_current_production = true,
		   doc = jsonb_set(doc, '{is_current_production}', 'true')
		 WHERE id = $1`, deploymentID)
	return err
}

// --- GitApps ---

func (s *PostgresStore) CreateGitApp(ctx context.Context, a *types.GitApp) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx).ExecContext(ctx,
		`INSERT INTO git_apps (id, provider, doc) VALUES ($1, $2, $3)`, a.ID, a.Provider, doc)
	return err
}

func (s *PostgresStore) GetGitApp(ctx context.Context, id string) (*types.GitApp, error) {
	var doc []byte
	err := s.exec(ctx).QueryRowContext(ctx, `SELECT doc FROM git_apps WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, zerr.NotFound("git app %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var a types.GitApp
	return &a, json.Unmarshal(doc, &a)
}

func (s *PostgresStore) FindGitAppByWebhookRecipient(ctx context.Context, provider, repositoryURL string) (*types.GitApp, error) {
	// A given installation can service many repositories; without a
	// dedicated link table this degrades to scanning apps of the
	// provider, matched in pkg/webhook against the event payload.
	rows, err := s.exec(ctx).QueryContext(ctx, `SELECT doc FROM git_apps WHERE provider = $1`, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var first *types.GitApp
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var a types.GitApp
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, err
		}
		if first == nil {
			first = &a
		}
	}
	if first == nil {
		return nil, zerr.NotFound("no git app registered for provider %s", provider)
	}
	return first, rows.Err()
}

// --- Transactions ---

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type txKey struct{}

func (s *PostgresStore) exec(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// postgresTx wraps the same *PostgresStore methods bound to a live
// *sql.Tx (stashed in context) plus a commit-hook list, per storage.Tx.
type postgresTx struct {
	*PostgresStore
	ctx   context.Context
	mu    sync.Mutex
	hooks []func()
}

func (t *postgresTx) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// WithTx opens a *sql.Tx, runs fn against a Tx bound to it, commits on
// success and runs every registered OnCommit hook only after the commit
// has actually succeeded — a side effect scheduled inside a transaction
// that later rolls back is never issued.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, sqlTx)
	tx := &postgresTx{PostgresStore: s, ctx: txCtx}

	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	tx.mu.Lock()
	hooks := tx.hooks
	tx.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}
	return nil
}
