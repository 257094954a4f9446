package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/cuemby/zaneops/pkg/types"
)

func TestVerifySignatureGitHubAcceptsValidHMAC(t *testing.T) {
	app := &types.GitApp{WebhookSecret: "s3cret"}
	body := []byte(`{"ref":"refs/heads/main"}`)
	mac := hmac.New(sha256.New, []byte(app.WebhookSecret))
	mac.Write(body)
	header := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if err := VerifySignature(ProviderGitHub, app, body, header); err != nil {
		t.Errorf("VerifySignature() error = %v, want nil", err)
	}
}

func TestVerifySignatureGitHubRejectsTamperedBody(t *testing.T) {
	app := &types.GitApp{WebhookSecret: "s3cret"}
	mac := hmac.New(sha256.New, []byte(app.WebhookSecret))
	mac.Write([]byte(`{"ref":"refs/heads/main"}`))
	header := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if err := VerifySignature(ProviderGitHub, app, []byte(`{"ref":"refs/heads/evil"}`), header); err == nil {
		t.Error("VerifySignature() error = nil, want mismatch error")
	}
}

func TestVerifySignatureGitLabChecksToken(t *testing.T) {
	app := &types.GitApp{WebhookSecret: "token123"}
	if err := VerifySignature(ProviderGitLab, app, nil, "token123"); err != nil {
		t.Errorf("VerifySignature() error = %v, want nil", err)
	}
	if err := VerifySignature(ProviderGitLab, app, nil, "wrong"); err == nil {
		t.Error("VerifySignature() error = nil, want mismatch error")
	}
}

func TestMatchesWatchPathsSingleGlob(t *testing.T) {
	if !matchesWatchPaths("routes/api/*", []string{"routes/api/handler.go"}) {
		t.Error("matchesWatchPaths() = false, want true")
	}
	if matchesWatchPaths("routes/api/*", []string{"docs/readme.md"}) {
		t.Error("matchesWatchPaths() = true, want false")
	}
}

func TestMatchesWatchPathsCommaSeparatedList(t *testing.T) {
	globs := "routes/api/*, pkg/core/**"
	if !matchesWatchPaths(globs, []string{"pkg/core/deep/file.go"}) {
		t.Error("matchesWatchPaths() = false, want true for second glob")
	}
}

func TestIsForkDetectsDifferingRepos(t *testing.T) {
	evt := PullRequestEvent{}
	evt.PullRequest.Head.Repo.CloneURL = "https://github.com/contributor/app.git"
	evt.PullRequest.Base.Repo.CloneURL = "https://github.com/owner/app.git"
	if !isFork(evt) {
		t.Error("isFork() = false, want true")
	}
	evt.PullRequest.Head.Repo.CloneURL = evt.PullRequest.Base.Repo.CloneURL
	if isFork(evt) {
		t.Error("isFork() = true, want false for same-repo branch")
	}
}
