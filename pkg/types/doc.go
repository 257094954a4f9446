/*
Package types defines the core domain entities shared by every package
in this module: projects, environments, services, deployments, and the
supporting configuration (builders, volumes, healthchecks, git sources)
a deployment is assembled from.

# Architecture

The types package is the foundation of the data model. It defines:

  - Project/Environment topology (a Project owns an overlay network and
    a set of Environments; Environments group the Services deployed
    into them)
  - Service specifications: image-backed or git-backed, their builder
    configuration, ports, URLs, env vars, volumes, configs, and
    healthcheck
  - Deployment execution state and the blue/green Slot it runs in
  - DeploymentChange, the pending-mutation log a deployment realizes
  - Preview environment metadata for fork-PR deployments
  - GitApp, the stored credential for GitHub/GitLab API access

All types are designed to be:
  - JSON-serializable for storage
  - Immutable-preferred (a DeploymentChange produces a new Service
    snapshot rather than mutating the live one mid-deployment)
  - Self-documenting (clear field names and doc comments)
  - Validated via enum-typed constants (ServiceKind, BuilderKind,
    HealthcheckKind, DeploymentStatus, ChangeType, ...)

# Core Types

Topology:
  - Project: logical grouping owning a shared overlay network
  - Environment: namespace within a Project ("production" is implicit)
  - PreviewMetadata: fork-PR metadata attached to a preview Environment

Service Configuration:
  - Service: the configured workload (image or git source)
  - ServiceKind: image-backed or git-backed
  - Builder / BuilderKind: Dockerfile, static directory, Nixpacks, or Railpack
  - GitSource: repository, branch, and commit for a git-kind service
  - Volume, Config: persistent mounts and file-backed config blobs
  - Port, URL: exposed ports and their public routes
  - EnvVariable: plain or encrypted-at-rest environment values
  - Healthcheck / HealthcheckKind: the readiness probe the executor
    gates promotion on

Deployment Execution:
  - Deployment: an attempt to realize a Service at a point in time
  - DeploymentStatus: queued through healthy/failed/cancelled
  - StepMarker: the last completed executor workflow step, used to
    resume after a crash
  - Slot: the blue/green color a deployment's containers run in
  - DeploymentChange / ChangeField / ChangeType: the pending mutation
    log a deployment applies, in ApplyOrderRank order
  - TriggerMethod: who or what initiated a Deployment

Credentials:
  - GitApp: encrypted GitHub/GitLab App or OAuth credentials

# Integration Points

This package integrates with:

  - pkg/storage: persists all types to Postgres
  - pkg/planner: applies pending DeploymentChanges to freeze a Deployment snapshot
  - pkg/executor: realizes a Deployment's steps against a Service
  - pkg/runtimeadapter: converts Service/Deployment into ContainerSpec
  - pkg/security: encrypts GitApp credentials and Secret=true env values
  - pkg/health: performs healthchecks per Healthcheck configuration
  - pkg/proxycp: routes traffic per URL/Port and the deployment's Slot
  - pkg/webhook: maps inbound Git events onto GitApp/Service/Deployment

# Validation

Key validation rules:

Services:
  - Slug must be unique within an Environment
  - GitSource is required when Kind is ServiceKindGit; Builder is
    required when Kind is ServiceKindImage is not set
  - Healthcheck, when set, must name a valid HealthcheckKind

Deployments:
  - Must reference an existing ServiceID
  - Step must only advance forward per the executor's step ordering
  - Status transitions must respect IsTerminal/IsRunningNotQueued

GitApp:
  - Provider must be "github" or "gitlab"
  - RefreshTokenEnc must be non-empty ciphertext, never plaintext

# Thread Safety

Types in this package are plain data structures with no internal
synchronization. Mutations (e.g. applying a DeploymentChange to a
Service) must go through pkg/storage, which serializes writes.

# See Also

  - pkg/storage for the persistence layer
  - pkg/planner for how pending DeploymentChanges become a Deployment
  - pkg/executor for how a Deployment's steps are run
*/
package types
