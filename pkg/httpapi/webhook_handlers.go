package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/webhook"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// handleGitHubWebhook implements POST /webhook/github: success returns 200
// with {success:true}; a bad/missing signature returns 400 (§6).
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleHostWebhook(w, r, webhook.ProviderGitHub, r.Header.Get("X-Github-Event"))
}

// handleGitLabWebhook implements POST /webhook/gitlab.
func (s *Server) handleGitLabWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleHostWebhook(w, r, webhook.ProviderGitLab, r.Header.Get("X-Gitlab-Event"))
}

func (s *Server) handleHostWebhook(w http.ResponseWriter, r *http.Request, provider webhook.Provider, eventKind string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	isPush := eventKind == "push" || eventKind == "Push Hook"
	isPR := eventKind == "pull_request" || eventKind == "Merge Request Hook"
	if !isPush && !isPR {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true}) // unhandled event kind, ack anyway
		return
	}

	repoURL, err := peekRepositoryURL(provider, isPush, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx := r.Context()
	app, err := s.store.FindGitAppByWebhookRecipient(ctx, string(provider), repoURL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no git app installed for that repository"})
		return
	}

	sigHeader := r.Header.Get("X-Hub-Signature-256")
	if provider == webhook.ProviderGitLab {
		sigHeader = r.Header.Get("X-Gitlab-Token")
	}
	if err := webhook.VerifySignature(provider, app, body, sigHeader); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	normalized := body
	if provider == webhook.ProviderGitLab {
		if normalized, err = normalizeGitLab(isPush, body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	if isPush {
		if _, err := s.webhook.HandlePush(ctx, app.ID, normalized); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	svc, err := s.webhook.SourceService(ctx, app.ID, normalized)
	if err != nil {
		if zerr.KindOf(err) == types.ErrKindNotFound {
			writeJSON(w, http.StatusOK, map[string]bool{"success": true}) // untracked repo/branch, nothing to do
			return
		}
		writeError(w, err)
		return
	}
	if err := s.webhook.HandlePullRequest(ctx, svc, normalized); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// peekRepositoryURL extracts just the repository clone URL from a push or
// pull_request payload, in whichever provider's native shape, so the
// GitApp can be resolved (and the signature verified against its secret)
// before the payload is normalized into the canonical structs.
func peekRepositoryURL(provider webhook.Provider, isPush bool, body []byte) (string, error) {
	if provider == webhook.ProviderGitHub {
		if isPush {
			var evt webhook.PushEvent
			if err := json.Unmarshal(body, &evt); err != nil {
				return "", zerr.Validation("malformed push payload: %v", err)
			}
			return evt.Repository.CloneURL, nil
		}
		var evt webhook.PullRequestEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			return "", zerr.Validation("malformed pull_request payload: %v", err)
		}
		return evt.PullRequest.Base.Repo.CloneURL, nil
	}

	var evt struct {
		Project struct {
			GitHTTPURL string `json:"git_http_url"`
		} `json:"project"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return "", zerr.Validation("malformed gitlab payload: %v", err)
	}
	return evt.Project.GitHTTPURL, nil
}

// normalizeGitLab translates a GitLab push/merge-request payload onto the
// same wire shape webhook.PushEvent / webhook.PullRequestEvent expect,
// since the Router itself only ever speaks GitHub's shape (see the
// comment on webhook.PushEvent).
func normalizeGitLab(isPush bool, body []byte) ([]byte, error) {
	if isPush {
		var gl struct {
			Ref     string `json:"ref"`
			Project struct {
				GitHTTPURL string `json:"git_http_url"`
			} `json:"project"`
			Commits []struct {
				ID       string   `json:"id"`
				Message  string   `json:"message"`
				Added    []string `json:"added"`
				Modified []string `json:"modified"`
				Removed  []string `json:"removed"`
				Author   struct {
					Name string `json:"name"`
				} `json:"author"`
			} `json:"commits"`
		}
		if err := json.Unmarshal(body, &gl); err != nil {
			return nil, zerr.Validation("malformed gitlab push payload: %v", err)
		}
		evt := webhook.PushEvent{Ref: gl.Ref}
		evt.Repository.CloneURL = gl.Project.GitHTTPURL
		if n := len(gl.Commits); n > 0 {
			last := gl.Commits[n-1] // GitLab orders commits oldest-first
			evt.HeadCommit = &struct {
				ID       string   `json:"id"`
				Message  string   `json:"message"`
				Added    []string `json:"added"`
				Modified []string `json:"modified"`
				Removed  []string `json:"removed"`
				Author   struct {
					Name string `json:"name"`
				} `json:"author"`
			}{ID: last.ID, Message: last.Message, Added: last.Added, Modified: last.Modified, Removed: last.Removed}
			evt.HeadCommit.Author.Name = last.Author.Name
		}
		return json.Marshal(evt)
	}

	var gl struct {
		Project struct {
			GitHTTPURL string `json:"git_http_url"`
		} `json:"project"`
		ObjectAttributes struct {
			IID          int    `json:"iid"`
			Action       string `json:"action"`
			SourceBranch string `json:"source_branch"`
			TargetBranch string `json:"target_branch"`
			LastCommit   struct {
				ID string `json:"id"`
			} `json:"last_commit"`
			Source struct {
				GitHTTPURL string `json:"git_http_url"`
			} `json:"source"`
			Target struct {
				GitHTTPURL string `json:"git_http_url"`
			} `json:"target"`
		} `json:"object_attributes"`
	}
	if err := json.Unmarshal(body, &gl); err != nil {
		return nil, zerr.Validation("malformed gitlab merge_request payload: %v", err)
	}

	evt := webhook.PullRequestEvent{Number: gl.ObjectAttributes.IID}
	switch gl.ObjectAttributes.Action {
	case "open", "reopen":
		evt.Action = "opened"
	case "update":
		evt.Action = "synchronize"
	case "close", "merge":
		evt.Action = "closed"
	default:
		evt.Action = gl.ObjectAttributes.Action
	}
	evt.PullRequest.Head.SHA = gl.ObjectAttributes.LastCommit.ID
	evt.PullRequest.Head.Ref = gl.ObjectAttributes.SourceBranch
	evt.PullRequest.Head.Repo.CloneURL = gl.ObjectAttributes.Source.GitHTTPURL
	evt.PullRequest.Base.Ref = gl.ObjectAttributes.TargetBranch
	evt.PullRequest.Base.Repo.CloneURL = gl.ObjectAttributes.Target.GitHTTPURL
	return json.Marshal(evt)
}
