/*
Package storage provides the relational persistence layer for the
deployment orchestration core: Projects, Environments, Services, the
DeploymentChange log, Deployments, and GitApps.

# Architecture

PostgresStore backs the Store interface with Postgres, reached through
database/sql and lib/pq:

	┌───────────────────── POSTGRES STORE ──────────────────────┐
	│                                                             │
	│  ┌─────────────────────────────────────────────┐          │
	│  │              PostgresStore                    │          │
	│  │  - database/sql + lib/pq driver               │          │
	│  │  - one table per top-level entity             │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │                 Tables                        │          │
	│  │  projects             (id, slug, doc)         │          │
	│  │  environments         (id, project_id, doc)   │          │
	│  │  services             (id, env_id, slug, doc) │          │
	│  │  deployment_changes   (id, service_id, doc)   │          │
	│  │  deployments          (id, service_id, doc)   │          │
	│  │  git_apps             (id, provider, doc)     │          │
	│  └───────────────────────────────────────────────┘          │
	└─────────────────────────────────────────────────────────────┘

Each table carries real SQL columns for the fields the spec requires
indexed — (service_id, status), (service_id, queued_at DESC), and the
unique (domain, base_path) pair on service_urls — with the rest of the
entity round-tripped through a jsonb "doc" column. This keeps query
surface small and close to how the teacher's Store round-trips whole
structs, while giving Postgres real transactions and indexes in place
of BoltDB's single-writer B+tree.

# Transactions and commit hooks

WithTx opens one *sql.Tx, stashes it in a derived context, and hands the
caller a Tx — a Store bound to that transaction plus OnCommit. Every
PostgresStore method resolves its executor (*sql.DB or the in-flight
*sql.Tx) from the context, so the same method set works inside or
outside a transaction. Hooks registered with OnCommit only fire after
the wrapping transaction actually commits; a rolled-back attempt (a
validation failure partway through applying a Change Log batch, say)
never triggers the workflow scheduling or event publication a hook was
registered for.

# Promotion as compare-and-set

SetCurrentProduction clears is_current_production on whatever
deployment currently holds it for a service, then sets it on the new
one, both statements against the same executor so a caller running
inside WithTx gets one atomic promotion.
*/
package storage
