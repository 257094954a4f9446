/*
Package reconciler provides workflow-durability resumption for the
deployment orchestration core, plus the Raft-backed leader election that
keeps it single-writer across replicas.

# Architecture

A Deployment's workflow is single-logical-thread and resumable: each step
it completes is persisted as the deployment's StepMarker before the next
step runs. If the process executing it crashes, the deployment is left
sitting in a non-terminal status (QUEUED, PREPARING, BUILDING, STARTING,
RESTARTING) with no live goroutine driving it forward.

The Reconciler runs a 10-second ticker loop that scans every service for
deployments in one of those statuses whose started_at is older than
staleAfter or not yet set, and re-enters each one via Resumer.Run — which is
pkg/executor.Executor.Run, already idempotent from any recorded step.

	┌──────────────────────────────────────────────┐
	│              Resumer Loop (10s)               │
	└───────────────────┬────────────────────────────┘
	                     │
	           are we the Raft leader?
	                     │ yes
	                     ▼
	     for every service: list deployments
	                     │
	        non-terminal AND stale? ──no──▶ skip
	                     │ yes
	                     ▼
	        executor.Run(ctx, deployment.ID)
	   (re-enters at deployment.step, no redo)

# Leader election

Two workflows for the same service may legitimately run concurrently
(§5), but two replicas each resuming the *same* orphaned deployment would
double-execute its remaining steps. LeaderElector runs a single-purpose
Raft group — no application state in its FSM, since durable state lives
in Postgres — purely to elect one replica as resumer. Followers no-op on
every reconciliation tick; only the leader acts.
*/
package reconciler
