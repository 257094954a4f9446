// Package types defines the core domain entities of the deployment
// orchestration core: projects, environments, services, change logs,
// deployments and their supporting value objects.
package types

import "time"

// Project is a logical grouping that owns a shared overlay network and a
// set of Environments.
type Project struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`

	// NetworkName is the computed overlay network identity: net-<slug>-<ts>.
	NetworkName string `json:"network_name"`
}

// Environment is a namespace within a Project. "production" is implicit
// and non-deletable; preview environments carry PreviewMetadata.
type Environment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	IsPreview bool      `json:"is_preview"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`

	Preview *PreviewMetadata `json:"preview,omitempty"`
}

// PreviewSourceTrigger identifies what Git event produced a preview
// environment.
type PreviewSourceTrigger string

const (
	PreviewTriggerPush        PreviewSourceTrigger = "PUSH"
	PreviewTriggerPullRequest PreviewSourceTrigger = "PULL_REQUEST"
)

// PreviewDeployState tracks the fork-PR approval gate.
type PreviewDeployState string

const (
	PreviewStatePending  PreviewDeployState = "PENDING"
	PreviewStateApproved PreviewDeployState = "APPROVED"
	PreviewStateDeclined PreviewDeployState = "DECLINED"
)

// PreviewMetadata is associated with a preview Environment.
type PreviewMetadata struct {
	SourceTrigger     PreviewSourceTrigger `json:"source_trigger"`
	PRNumber          int                  `json:"pr_number"`
	BranchName        string               `json:"branch_name"`
	HeadRepositoryURL string               `json:"head_repository_url"`
	BaseRepositoryURL string               `json:"base_repository_url"`
	CommitSHA         string               `json:"commit_sha"`
	DeployState       PreviewDeployState   `json:"deploy_state"`
	TemplateRef       string               `json:"template_ref"`
	OwningServiceSlug string               `json:"owning_service_slug"`
}

// ServiceKind distinguishes image-backed services from git-backed ones.
type ServiceKind string

const (
	ServiceKindImage ServiceKind = "image"
	ServiceKindGit   ServiceKind = "git"
)

// BuilderKind is the tagged variant of the image builder.
type BuilderKind string

const (
	BuilderDockerfile BuilderKind = "DOCKERFILE"
	BuilderStaticDir  BuilderKind = "STATIC_DIR"
	BuilderNixpacks   BuilderKind = "NIXPACKS"
	BuilderRailpack   BuilderKind = "RAILPACK"
)

// Builder is the tagged-variant builder configuration. Options is kept as
// a raw map since each kind has its own schema; CaddyfileFragment is
// precomputed by the Change Log for STATIC_DIR so the executor never
// re-derives it, and is left empty for every other kind.
type Builder struct {
	Kind              BuilderKind            `json:"kind"`
	Options           map[string]interface{} `json:"options,omitempty"`
	CaddyfileFragment string                 `json:"caddyfile_fragment,omitempty"`
}

// GitSource is the configured source for a git-kind service.
type GitSource struct {
	RepositoryURL string  `json:"repository_url"`
	Branch        string  `json:"branch"`
	CommitSHA     string  `json:"commit_sha"`
	GitAppID      string  `json:"git_app_id,omitempty"`
	GitApp        *GitApp `json:"git_app,omitempty"` // resolved snapshot, embedded by Change Log
	Builder       Builder `json:"builder"`
}

// Volume is a named persistent data mount.
type Volume struct {
	ID            string `json:"id"`
	Slug          string `json:"slug"`
	ContainerPath string `json:"container_path"`
	Mode          string `json:"mode"` // "READ_ONLY" | "READ_WRITE"
	HostPath      string `json:"host_path,omitempty"`
	CreatedAt     int64  `json:"ts"` // unix seconds, used in the runtime identity string
}

// Config is a small text blob mounted as a file.
type Config struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	MountPath string `json:"mount_path"`
	Contents  string `json:"contents"`
}

// Port is a container port exposed by the service.
type Port struct {
	ID        string `json:"id"`
	Public    int    `json:"public,omitempty"`
	Forwarded int    `json:"forwarded"`
}

// URL is a public route.
type URL struct {
	ID             string `json:"id"`
	Domain         string `json:"domain"`
	BasePath       string `json:"base_path"`
	StripPrefix    bool   `json:"strip_prefix"`
	AssociatedPort int    `json:"associated_port"`
}

// EnvVariable is a single environment variable; Value may be encrypted at
// rest by pkg/security when Secret is true.
type EnvVariable struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Value  string `json:"value"`
	Secret bool   `json:"secret"`
}

// HealthcheckKind is the probe mechanism.
type HealthcheckKind string

const (
	HealthcheckHTTP    HealthcheckKind = "HTTP"
	HealthcheckCommand HealthcheckKind = "COMMAND"
)

// Healthcheck is the application-defined readiness probe.
type Healthcheck struct {
	Kind            HealthcheckKind `json:"kind"`
	Path            string          `json:"path,omitempty"`
	Command         string          `json:"command,omitempty"`
	TimeoutSeconds  int             `json:"timeout_seconds"`  // default 30
	IntervalSeconds int             `json:"interval_seconds"` // default 30
}

// DefaultHealthcheck mirrors the spec's default timeout/interval.
func DefaultHealthcheck() Healthcheck {
	return Healthcheck{
		Kind:            HealthcheckHTTP,
		TimeoutSeconds:  30,
		IntervalSeconds: 30,
	}
}

// ResourceLimits bounds CPU/memory for the service's runtime containers.
type ResourceLimits struct {
	CPUs     string `json:"cpus,omitempty"` // e.g. "0.50"
	MemoryMB int    `json:"memory_mb,omitempty"`
}

// Service is the configured workload.
type Service struct {
	ID            string      `json:"id"`
	ProjectID     string      `json:"project_id"`
	EnvironmentID string      `json:"environment_id"`
	Slug          string      `json:"slug"` // unique within (project, environment)
	Kind          ServiceKind `json:"kind"`

	Image     string    `json:"image,omitempty"` // current applied config for kind=image
	GitSource GitSource `json:"git_source,omitempty"`

	Command        string         `json:"command,omitempty"`
	Healthcheck    *Healthcheck   `json:"healthcheck,omitempty"`
	ResourceLimits ResourceLimits `json:"resource_limits,omitempty"`

	Volumes      []Volume      `json:"volumes"`
	Configs      []Config      `json:"configs"`
	Ports        []Port        `json:"ports"`
	URLs         []URL         `json:"urls"`
	EnvVariables []EnvVariable `json:"env_variables"`

	NetworkAlias string `json:"network_alias"` // zn-<slug>-<unprefixed_id>, stable across deployments
	// DeployTokenHash is the SHA-256 digest of the bearer token shown to
	// the user once at generation time; the plaintext is never persisted.
	// Deterministic (unlike bcrypt) so PUT /webhook/deploy/<token> can
	// resolve the owning service with an indexed lookup instead of a
	// table scan.
	DeployTokenHash string `json:"deploy_token_hash"`
	AutoDeploy      bool   `json:"auto_deploy"`
	WatchPaths   string `json:"watch_paths,omitempty"` // glob filter

	UnprefixedID string    `json:"unprefixed_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChangeField enumerates the mutable facets of a Service.
type ChangeField string

const (
	ChangeFieldSource         ChangeField = "SOURCE"
	ChangeFieldGitSource      ChangeField = "GIT_SOURCE"
	ChangeFieldBuilder        ChangeField = "BUILDER"
	ChangeFieldCommand        ChangeField = "COMMAND"
	ChangeFieldHealthcheck    ChangeField = "HEALTHCHECK"
	ChangeFieldResourceLimits ChangeField = "RESOURCE_LIMITS"
	ChangeFieldVolumes        ChangeField = "VOLUMES"
	ChangeFieldConfigs        ChangeField = "CONFIGS"
	ChangeFieldURLs           ChangeField = "URLS"
	ChangeFieldPorts          ChangeField = "PORTS"
	ChangeFieldEnvVariables   ChangeField = "ENV_VARIABLES"
)

// ChangeType is the mutation kind applied to a field or collection item.
type ChangeType string

const (
	ChangeTypeAdd    ChangeType = "ADD"
	ChangeTypeUpdate ChangeType = "UPDATE"
	ChangeTypeDelete ChangeType = "DELETE"
)

// applyOrder fixes the deterministic apply sequence: DELETE before UPDATE
// before ADD for collection fields, scalar SOURCE/GIT_SOURCE/BUILDER last.
var applyOrder = map[ChangeType]int{
	ChangeTypeDelete: 0,
	ChangeTypeUpdate: 1,
	ChangeTypeAdd:    2,
}

// ApplyOrderRank returns the relative ordering rank for a change, used by
// pkg/changelog to sort pending changes before application.
func (c ChangeType) ApplyOrderRank() int { return applyOrder[c] }

// IsScalarSourceField reports whether a field is applied last (after all
// collection mutations) because it replaces the source identity wholesale.
func (f ChangeField) IsScalarSourceField() bool {
	switch f {
	case ChangeFieldSource, ChangeFieldGitSource, ChangeFieldBuilder:
		return true
	default:
		return false
	}
}

// DeploymentChange is a pending mutation against a Service.
type DeploymentChange struct {
	ID        string      `json:"id"`
	ServiceID string      `json:"service_id"`
	Field     ChangeField `json:"field"`
	Type      ChangeType  `json:"type"`

	OldValue interface{} `json:"old_value,omitempty"`
	NewValue interface{} `json:"new_value,omitempty"`
	ItemID   string      `json:"item_id,omitempty"` // for collection updates/deletes

	Applied      bool      `json:"applied"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Slot is one of the two interchangeable blue/green deployment colors.
type Slot string

const (
	SlotBlue  Slot = "BLUE"
	SlotGreen Slot = "GREEN"
)

// Opposite returns the alternating slot color.
func (s Slot) Opposite() Slot {
	if s == SlotBlue {
		return SlotGreen
	}
	return SlotBlue
}

// Alias returns the per-deployment proxy-targeting alias, e.g.
// "blue.zaneops.internal".
func (s Slot) Alias() string {
	switch s {
	case SlotBlue:
		return "blue.zaneops.internal"
	case SlotGreen:
		return "green.zaneops.internal"
	default:
		return ""
	}
}

// DeploymentStatus is the executor's workflow state.
type DeploymentStatus string

const (
	StatusQueued     DeploymentStatus = "QUEUED"
	StatusPreparing  DeploymentStatus = "PREPARING"
	StatusBuilding   DeploymentStatus = "BUILDING"
	StatusStarting   DeploymentStatus = "STARTING"
	StatusRestarting DeploymentStatus = "RESTARTING"
	StatusHealthy    DeploymentStatus = "HEALTHY"
	StatusUnhealthy  DeploymentStatus = "UNHEALTHY"
	StatusFailed     DeploymentStatus = "FAILED"
	StatusCancelled  DeploymentStatus = "CANCELLED"
	StatusRemoved    DeploymentStatus = "REMOVED"
	StatusSleeping   DeploymentStatus = "SLEEPING"
)

// IsQueueCancellable reports whether a deployment in this status is subject
// to flag_deployments_for_cancellation (§4.7): queued-or-running, not yet
// terminal.
func (s DeploymentStatus) IsQueueCancellable() bool {
	switch s {
	case StatusQueued, StatusPreparing, StatusBuilding, StatusStarting, StatusRestarting:
		return true
	default:
		return false
	}
}

// IsRunningNotQueued reports statuses beyond plain queueing, i.e.
// PREPARING or later, used by include_running=false filtering.
func (s DeploymentStatus) IsRunningNotQueued() bool {
	return s == StatusPreparing || s == StatusBuilding || s == StatusStarting || s == StatusRestarting
}

// IsTerminal reports whether no further transitions are expected.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case StatusHealthy, StatusUnhealthy, StatusFailed, StatusCancelled, StatusRemoved:
		return true
	default:
		return false
	}
}

// TriggerMethod records who/what initiated a Deployment.
type TriggerMethod string

const (
	TriggerManual TriggerMethod = "MANUAL"
	TriggerAPI    TriggerMethod = "API"
	TriggerAuto   TriggerMethod = "AUTO"
)

// StepMarker is the last completed step of the executor workflow, used to
// drive compensation on cancel/fail. Image-source and git-source variants
// share the tail from VolumesCreated onward.
type StepMarker string

const (
	StepInitialized                  StepMarker = "INITIALIZED"
	StepCloningRepository            StepMarker = "CLONING_REPOSITORY"
	StepRepositoryCloned             StepMarker = "REPOSITORY_CLONED"
	StepBuildingImage                StepMarker = "BUILDING_IMAGE"
	StepImageBuilt                   StepMarker = "IMAGE_BUILT"
	StepVolumesCreated               StepMarker = "VOLUMES_CREATED"
	StepConfigsCreated               StepMarker = "CONFIGS_CREATED"
	StepPreviousDeploymentScaledDown StepMarker = "PREVIOUS_DEPLOYMENT_SCALED_DOWN"
	StepSwarmServiceCreated          StepMarker = "SWARM_SERVICE_CREATED"
	StepDeploymentExposedToHTTP      StepMarker = "DEPLOYMENT_EXPOSED_TO_HTTP"
	StepServiceExposedToHTTP         StepMarker = "SERVICE_EXPOSED_TO_HTTP"
	StepFinished                     StepMarker = "FINISHED"
)

// Deployment is an attempt to realize a Service at a point in time.
type Deployment struct {
	ID         string `json:"id"`
	ServiceID  string `json:"service_id"`
	Hash       string `json:"hash"`
	WorkflowID string `json:"workflow_id"`

	Slot   Slot             `json:"slot"`
	Status DeploymentStatus `json:"status"`
	Step   StepMarker       `json:"step"`

	IsCurrentProduction bool `json:"is_current_production"`

	// ServiceSnapshot is the complete frozen config used by the executor,
	// captured after pending changes were applied.
	ServiceSnapshot Service `json:"service_snapshot"`

	CommitSHA        string `json:"commit_sha,omitempty"`
	CommitMessage    string `json:"commit_message,omitempty"`
	CommitAuthorName string `json:"commit_author_name,omitempty"`

	TriggerMethod    TriggerMethod `json:"trigger_method"`
	IsRedeployOf     string        `json:"is_redeploy_of,omitempty"`
	IgnoreBuildCache bool          `json:"ignore_build_cache"`

	QueuedAt   time.Time  `json:"queued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	StatusReason string `json:"status_reason,omitempty"`

	URLs []DeploymentURL `json:"urls"`
}

// DeploymentURL is an ephemeral per-deployment route for a given port,
// used to address the non-promoted slot during health checking.
type DeploymentURL struct {
	ID             string `json:"id"`
	DeploymentID   string `json:"deployment_id"`
	AssociatedPort int    `json:"associated_port"`
	RouteID        string `json:"route_id"` // deployment:<hash>:<port>
}

// GitApp holds credentials to authenticate against GitHub/GitLab.
type GitApp struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "github" | "gitlab"
	WebhookSecret string `json:"-"`        // HMAC secret (github) / token (gitlab); never serialized
	// InstallationTokenEnc / RefreshTokenEnc are encrypted at rest by pkg/security.
	InstallationTokenEnc []byte `json:"installation_token_enc,omitempty"`
	RefreshTokenEnc      []byte `json:"refresh_token_enc,omitempty"`
}

// ErrKind classifies error handling per the error-handling design.
type ErrKind string

const (
	ErrKindValidation         ErrKind = "ValidationError"
	ErrKindConflict           ErrKind = "Conflict"
	ErrKindNotFound           ErrKind = "NotFound"
	ErrKindRuntime            ErrKind = "RuntimeError"
	ErrKindProxy              ErrKind = "ProxyError"
	ErrKindBuilder            ErrKind = "BuilderError"
	ErrKindHealthcheckTimeout ErrKind = "HealthcheckTimeout"
)
