// Package webhook implements the Webhook Router (§4.6): GitHub/GitLab
// signature verification, push-triggered auto-deploy dispatch, and the
// pull/merge-request preview-environment lifecycle including the
// fork-approval gate.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cuemby/zaneops/pkg/events"
	"github.com/cuemby/zaneops/pkg/gitclient"
	"github.com/cuemby/zaneops/pkg/log"
	"github.com/cuemby/zaneops/pkg/metrics"
	"github.com/cuemby/zaneops/pkg/planner"
	"github.com/cuemby/zaneops/pkg/storage"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// Provider identifies which Git host sent an event.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// Dispatcher hands a planned deployment off to the workflow tier. In
// production this runs e.Run(ctx, deploymentID) on its own goroutine;
// kept as an interface so the router never imports pkg/executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, deploymentID string)
}

// PreviewProvisioner creates and tears down the resources a preview
// environment needs beyond the Environment row itself — the source
// service clone and any template-attached sidecars. The template system
// those sidecars come from is out of this module's scope (spec.md
// Non-goals exclude a full template engine); callers inject whatever
// provisioner their deployment implements.
type PreviewProvisioner interface {
	Instantiate(ctx context.Context, env *types.Environment, sourceService *types.Service) error
	Teardown(ctx context.Context, env *types.Environment) error
}

// Router verifies, parses, and dispatches inbound Git host webhooks.
type Router struct {
	store       storage.Store
	git         *gitclient.Client
	planner     *planner.Planner
	dispatcher  Dispatcher
	provisioner PreviewProvisioner
	broker      *events.Broker
}

func New(store storage.Store, git *gitclient.Client, p *planner.Planner, dispatcher Dispatcher, provisioner PreviewProvisioner, broker *events.Broker) *Router {
	return &Router{store: store, git: git, planner: p, dispatcher: dispatcher, provisioner: provisioner, broker: broker}
}

// VerifySignature checks an inbound webhook's authenticity against app's
// stored secret: HMAC-SHA256 of the raw body for GitHub (X-Hub-Signature-256
// is "sha256=<hex>"), constant-time token equality for GitLab
// (X-Gitlab-Token is the raw secret).
func VerifySignature(provider Provider, app *types.GitApp, body []byte, header string) error {
	switch provider {
	case ProviderGitHub:
		const prefix = "sha256="
		if !strings.HasPrefix(header, prefix) {
			return zerr.Validation("malformed X-Hub-Signature-256 header")
		}
		sig, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
		if err != nil {
			return zerr.Validation("malformed signature hex: %v", err)
		}
		mac := hmac.New(sha256.New, []byte(app.WebhookSecret))
		mac.Write(body)
		expected := mac.Sum(nil)
		if !hmac.Equal(sig, expected) {
			return zerr.Validation("signature mismatch")
		}
		return nil
	case ProviderGitLab:
		if subtle.ConstantTimeCompare([]byte(header), []byte(app.WebhookSecret)) != 1 {
			return zerr.Validation("token mismatch")
		}
		return nil
	default:
		return zerr.Validation("unknown provider %q", provider)
	}
}

// PushEvent is the subset of a GitHub/GitLab push payload the router
// needs; field names follow GitHub's shape, the GitLab adapter upstream
// of this package maps its own payload onto the same struct.
type PushEvent struct {
	Ref        string `json:"ref"`
	Repository struct {
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	HeadCommit *struct {
		ID       string   `json:"id"`
		Message  string   `json:"message"`
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
		Author   struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"head_commit"`
}

// HandlePush implements the push dispatch algorithm (§4.6).
func (r *Router) HandlePush(ctx context.Context, gitAppID string, payload []byte) ([]*types.Deployment, error) {
	var evt PushEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, zerr.Validation("malformed push payload: %v", err)
	}
	r.broker.Publish(&events.Event{Type: events.EventWebhookReceived, Message: "push"})
	metrics.WebhookEventsTotal.WithLabelValues("github", "push").Inc()

	const branchPrefix = "refs/heads/"
	if !strings.HasPrefix(evt.Ref, branchPrefix) {
		return nil, nil // tag or other non-branch ref, discarded
	}
	branch := strings.TrimPrefix(evt.Ref, branchPrefix)

	services, err := r.store.FindAutoDeployServices(ctx, gitAppID, evt.Repository.CloneURL, branch)
	if err != nil {
		return nil, err
	}

	var changedPaths []string
	var commitSHA, commitMessage, authorName string
	if evt.HeadCommit != nil {
		commitSHA = evt.HeadCommit.ID
		commitMessage = evt.HeadCommit.Message
		authorName = evt.HeadCommit.Author.Name
		changedPaths = append(changedPaths, evt.HeadCommit.Added...)
		changedPaths = append(changedPaths, evt.HeadCommit.Modified...)
		changedPaths = append(changedPaths, evt.HeadCommit.Removed...)
	}

	var deployments []*types.Deployment
	for _, svc := range services {
		if svc.WatchPaths != "" && len(changedPaths) > 0 && !matchesWatchPaths(svc.WatchPaths, changedPaths) {
			continue
		}

		sha, msg, author := commitSHA, commitMessage, authorName
		if sha == "" {
			resolved, err := r.git.ResolveHead(ctx, svc.GitSource)
			if err != nil {
				log.WithServiceID(svc.ID).Error().Err(err).Msg("resolve head on force-push webhook")
				continue
			}
			sha = resolved
		}

		d, err := r.planner.PrepareNewDeployment(ctx, svc.ID, planner.Options{Trigger: types.TriggerAuto})
		if err != nil {
			if zerr.KindOf(err) == types.ErrKindConflict {
				continue // no material change, nothing to deploy
			}
			return deployments, err
		}
		d.CommitSHA = sha
		d.CommitMessage = msg
		d.CommitAuthorName = author
		if err := r.store.UpdateDeployment(ctx, d); err != nil {
			return deployments, err
		}
		r.dispatcher.Dispatch(ctx, d.ID)
		deployments = append(deployments, d)
	}
	return deployments, nil
}

// matchesWatchPaths reports whether any changed path matches any glob in
// globs, a comma-separated watch_paths filter.
func matchesWatchPaths(globs string, changedPaths []string) bool {
	for _, pattern := range strings.Split(globs, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		for _, p := range changedPaths {
			if ok, _ := doublestar.Match(pattern, p); ok {
				return true
			}
		}
	}
	return false
}

// PullRequestEvent is the subset of a GitHub/GitLab PR/MR payload the
// router needs for preview-environment lifecycle dispatch.
type PullRequestEvent struct {
	Action      string `json:"action"` // opened|synchronize|edited|closed|merged
	Number      int    `json:"number"`
	PullRequest struct {
		Merged bool `json:"merged"`
		Head   struct {
			SHA  string `json:"sha"`
			Repo struct {
				CloneURL string `json:"clone_url"`
			} `json:"repo"`
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref  string `json:"ref"`
			Repo struct {
				CloneURL string `json:"clone_url"`
			} `json:"repo"`
		} `json:"base"`
	} `json:"pull_request"`
}

// SourceService resolves the service a PR/MR targets: the auto-deploy
// service tracking the PR's base repository and base branch. The
// request layer calls this before HandlePullRequest so it can answer a
// webhook for a repo/branch nothing tracks with 200 and no further work,
// without ever calling it.
func (r *Router) SourceService(ctx context.Context, gitAppID string, payload []byte) (*types.Service, error) {
	var evt PullRequestEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, zerr.Validation("malformed pull_request payload: %v", err)
	}
	services, err := r.store.FindAutoDeployServices(ctx, gitAppID, evt.PullRequest.Base.Repo.CloneURL, evt.PullRequest.Base.Ref)
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, zerr.NotFound("no service tracks %s@%s", evt.PullRequest.Base.Repo.CloneURL, evt.PullRequest.Base.Ref)
	}
	return services[0], nil
}

// isFork reports whether the PR's head repository differs from its base,
// the signal that gates automatic deployment behind review_deploy.
func isFork(evt PullRequestEvent) bool {
	return evt.PullRequest.Head.Repo.CloneURL != evt.PullRequest.Base.Repo.CloneURL
}

// HandlePullRequest implements the PR/MR lifecycle dispatch (§4.6).
func (r *Router) HandlePullRequest(ctx context.Context, sourceService *types.Service, payload []byte) error {
	var evt PullRequestEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return zerr.Validation("malformed pull_request payload: %v", err)
	}
	metrics.WebhookEventsTotal.WithLabelValues("github", "pull_request").Inc()

	envName := fmt.Sprintf("preview-pr-%d-%s", evt.Number, sourceService.Slug)

	switch evt.Action {
	case "opened":
		if existing, _ := r.findPreviewEnv(ctx, sourceService.ProjectID, evt.Number, sourceService.Slug); existing != nil {
			return nil // reopening an already-provisioned preview is a no-op
		}
		state := types.PreviewStateApproved
		if isFork(evt) {
			state = types.PreviewStatePending
		}
		env := &types.Environment{
			ProjectID: sourceService.ProjectID,
			Name:      envName,
			IsPreview: true,
			Preview: &types.PreviewMetadata{
				SourceTrigger:     types.PreviewTriggerPullRequest,
				PRNumber:          evt.Number,
				BranchName:        evt.PullRequest.Head.Ref,
				HeadRepositoryURL: evt.PullRequest.Head.Repo.CloneURL,
				BaseRepositoryURL: evt.PullRequest.Base.Repo.CloneURL,
				CommitSHA:         evt.PullRequest.Head.SHA,
				DeployState:       state,
				OwningServiceSlug: sourceService.Slug,
			},
		}
		if err := r.store.CreateEnvironment(ctx, env); err != nil {
			return err
		}
		if err := r.provisioner.Instantiate(ctx, env, sourceService); err != nil {
			return err
		}
		r.broker.Publish(&events.Event{Type: events.EventPreviewCreated, Message: envName})
		metrics.PreviewEnvironmentsActive.Inc()
		if state == types.PreviewStateApproved {
			return r.deployPreviewServices(ctx, env)
		}
		return nil

	case "synchronize", "updated":
		env, err := r.findPreviewEnv(ctx, sourceService.ProjectID, evt.Number, sourceService.Slug)
		if err != nil || env == nil {
			return err
		}
		env.Preview.CommitSHA = evt.PullRequest.Head.SHA
		if err := r.store.UpdateEnvironment(ctx, env); err != nil {
			return err
		}
		if env.Preview.DeployState == types.PreviewStateApproved {
			return r.deployPreviewServices(ctx, env)
		}
		return nil

	case "edited":
		env, err := r.findPreviewEnv(ctx, sourceService.ProjectID, evt.Number, sourceService.Slug)
		if err != nil || env == nil {
			return err
		}
		return r.store.UpdateEnvironment(ctx, env)

	case "closed":
		env, err := r.findPreviewEnv(ctx, sourceService.ProjectID, evt.Number, sourceService.Slug)
		if err != nil || env == nil {
			return err
		}
		return r.archivePreview(ctx, env)

	default:
		return nil
	}
}

// ReviewDeploy implements POST /environments/<preview>/review_deploy.
func (r *Router) ReviewDeploy(ctx context.Context, environmentID string, accept bool) error {
	env, err := r.store.GetEnvironment(ctx, environmentID)
	if err != nil {
		return err
	}
	if env.Preview == nil {
		return zerr.Validation("environment %s is not a preview environment", environmentID)
	}
	if !accept {
		return r.archivePreview(ctx, env)
	}
	env.Preview.DeployState = types.PreviewStateApproved
	if err := r.store.UpdateEnvironment(ctx, env); err != nil {
		return err
	}
	return r.deployPreviewServices(ctx, env)
}

func (r *Router) deployPreviewServices(ctx context.Context, env *types.Environment) error {
	services, err := r.store.ListServicesByEnvironment(ctx, env.ID)
	if err != nil {
		return err
	}
	for _, svc := range services {
		d, err := r.planner.PrepareNewDeployment(ctx, svc.ID, planner.Options{Trigger: types.TriggerAuto})
		if err != nil {
			if zerr.KindOf(err) == types.ErrKindConflict {
				continue
			}
			return err
		}
		r.dispatcher.Dispatch(ctx, d.ID)
	}
	return nil
}

func (r *Router) archivePreview(ctx context.Context, env *types.Environment) error {
	if err := r.provisioner.Teardown(ctx, env); err != nil {
		return err
	}
	if err := r.store.ArchiveEnvironment(ctx, env.ID); err != nil {
		return err
	}
	r.broker.Publish(&events.Event{Type: events.EventPreviewArchived, Message: env.Name})
	metrics.PreviewEnvironmentsActive.Dec()
	return nil
}

func (r *Router) findPreviewEnv(ctx context.Context, projectID string, prNumber int, serviceSlug string) (*types.Environment, error) {
	envs, err := r.store.ListEnvironmentsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, e := range envs {
		if e.Preview != nil && e.Preview.PRNumber == prNumber && e.Preview.OwningServiceSlug == serviceSlug && !e.Archived {
			return e, nil
		}
	}
	return nil, nil
}
