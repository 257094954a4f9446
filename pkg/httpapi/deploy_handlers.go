package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cuemby/zaneops/pkg/planner"
	"github.com/cuemby/zaneops/pkg/security"
	"github.com/cuemby/zaneops/pkg/types"
)

// deployTokenRequest is PUT /webhook/deploy/<token>'s optional body (§6).
type deployTokenRequest struct {
	NewImage         string `json:"new_image,omitempty"`
	CommitSHA        string `json:"commit_sha,omitempty"`
	CommitMessage    string `json:"commit_message,omitempty"`
	IgnoreBuildCache bool   `json:"ignore_build_cache,omitempty"`
	CleanupQueue     bool   `json:"cleanup_queue,omitempty"`
}

// handleDeployToken implements PUT /webhook/deploy/<deploy_token>: resolve
// the service from the token, apply the request's field overrides as
// Change Log entries, plan a new deployment, and dispatch it. 202 on
// enqueue, whatever zerr.HTTPStatus maps the failure to otherwise.
func (s *Server) handleDeployToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token, ok := pathSuffix(r.URL.Path, "/webhook/deploy/")
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "missing deploy token"})
		return
	}
	token = strings.TrimSuffix(token, "/")

	ctx := r.Context()
	svc, err := s.store.GetServiceByDeployToken(ctx, security.HashDeployToken(token))
	if err != nil {
		writeError(w, err)
		return
	}

	var req deployTokenRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed JSON body"})
			return
		}
	}

	if req.CleanupQueue {
		if _, err := s.cancel.CleanupQueue(ctx, svc.ID, true); err != nil {
			writeError(w, err)
			return
		}
	}

	if req.NewImage != "" {
		if svc.Kind != types.ServiceKindImage {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "new_image only applies to image-kind services"})
			return
		}
		if _, err := s.changelog.AddChange(ctx, svc.ID, types.ChangeFieldSource, types.ChangeTypeUpdate, "", svc.Image, req.NewImage); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.CommitSHA != "" {
		if svc.Kind != types.ServiceKindGit {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "commit_sha only applies to git-kind services"})
			return
		}
		newSource := svc.GitSource
		newSource.CommitSHA = req.CommitSHA
		if _, err := s.changelog.AddChange(ctx, svc.ID, types.ChangeFieldGitSource, types.ChangeTypeUpdate, "", svc.GitSource, newSource); err != nil {
			writeError(w, err)
			return
		}
	}

	d, err := s.planner.PrepareNewDeployment(ctx, svc.ID, planner.Options{
		Trigger:          types.TriggerAPI,
		IgnoreBuildCache: req.IgnoreBuildCache,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if req.CommitMessage != "" || req.CommitSHA != "" {
		d.CommitMessage = req.CommitMessage
		d.CommitSHA = req.CommitSHA
		if err := s.store.UpdateDeployment(ctx, d); err != nil {
			writeError(w, err)
			return
		}
	}

	s.dispatcher.Dispatch(ctx, d.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"deployment_id": d.ID})
}

// reviewDeployRequest is POST /environments/<preview>/review_deploy's body.
type reviewDeployRequest struct {
	Accept bool `json:"accept"`
}

// handleReviewDeploy implements POST /environments/<id>/review_deploy, the
// fork-approval endpoint (§4.6).
func (s *Server) handleReviewDeploy(w http.ResponseWriter, r *http.Request) {
	suffix, ok := pathSuffix(r.URL.Path, "/environments/")
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	environmentID, rest, ok := strings.Cut(suffix, "/")
	if !ok || rest != "review_deploy" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reviewDeployRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed JSON body"})
			return
		}
	}

	if err := s.webhook.ReviewDeploy(r.Context(), environmentID, req.Accept); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
