// Package gitclient resolves and fetches a GitSource for the executor's
// git-source workflow: authenticating against GitHub/GitLab app
// installations, resolving HEAD for a branch, and cloning into the
// working directory a builder consumes.
package gitclient

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cuemby/zaneops/pkg/cache"
	"github.com/cuemby/zaneops/pkg/storage"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// TokenMinter exchanges a GitApp's encrypted refresh credentials for a
// fresh short-lived installation access token. Implemented per-provider
// (GitHub App JWT exchange, GitLab OAuth refresh) outside this package —
// neither provider's token endpoint is reachable from the retrieval pack
// without network access this module doesn't assume, so it is injected.
type TokenMinter interface {
	MintAccessToken(ctx context.Context, app *types.GitApp) (token string, err error)
}

// Client clones and inspects git sources, caching installation access
// tokens in Redis (pkg/cache) so every clone doesn't re-mint one.
type Client struct {
	store   storage.Store
	cache   *cache.Cache
	minter  TokenMinter
	workDir string
}

func New(store storage.Store, c *cache.Cache, minter TokenMinter, workDir string) *Client {
	return &Client{store: store, cache: c, minter: minter, workDir: workDir}
}

// authenticatedURL returns the repository URL with credentials embedded
// for the git CLI to use non-interactively.
func (c *Client) authenticatedURL(ctx context.Context, src types.GitSource) (string, error) {
	if src.GitAppID == "" {
		return src.RepositoryURL, nil
	}
	token, ok, err := c.cache.GetAccessToken(ctx, src.GitAppID)
	if err != nil {
		return "", zerr.Runtime(err, "read cached access token for %s", src.GitAppID)
	}
	if !ok {
		app, err := c.store.GetGitApp(ctx, src.GitAppID)
		if err != nil {
			return "", err
		}
		token, err = c.minter.MintAccessToken(ctx, app)
		if err != nil {
			return "", zerr.Runtime(err, "mint access token for git app %s", app.ID)
		}
		if err := c.cache.SetAccessToken(ctx, src.GitAppID, token); err != nil {
			return "", zerr.Runtime(err, "cache access token for %s", src.GitAppID)
		}
	}
	return injectToken(src.RepositoryURL, token)
}

func injectToken(repoURL, token string) (string, error) {
	if !strings.HasPrefix(repoURL, "https://") {
		return "", zerr.Validation("only https repository URLs support token auth, got %q", repoURL)
	}
	return "https://x-access-token:" + token + "@" + strings.TrimPrefix(repoURL, "https://"), nil
}

// ResolveHead shells out to `git ls-remote` to resolve the current commit
// SHA for src.Branch without a full clone — no library in the retrieval
// pack speaks the git smart-http wire protocol, so this is the one
// stdlib-only exception in the package (see DESIGN.md).
func (c *Client) ResolveHead(ctx context.Context, src types.GitSource) (string, error) {
	if src.CommitSHA != "" {
		return src.CommitSHA, nil
	}
	url, err := c.authenticatedURL(ctx, src)
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, "git", "ls-remote", url, "refs/heads/"+src.Branch)
	out, err := cmd.Output()
	if err != nil {
		return "", zerr.Builder(err, "git ls-remote %s", src.RepositoryURL)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", zerr.Builder(nil, "branch %s not found in %s", src.Branch, src.RepositoryURL)
	}
	return fields[0], nil
}

// Clone checks out src at its resolved commit into a deployment-scoped
// working directory and returns its path.
func (c *Client) Clone(ctx context.Context, src types.GitSource, deploymentID string) (string, error) {
	url, err := c.authenticatedURL(ctx, src)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(c.workDir, deploymentID)
	if err := os.RemoveAll(dir); err != nil {
		return "", zerr.Runtime(err, "clear stale clone directory %s", dir)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", zerr.Runtime(err, "create clone directory %s", dir)
	}

	// A shallow clone only works when we're happy with the branch tip; a
	// pinned commit_sha may be behind tip, so that case needs full history.
	cloneArgs := []string{"clone", "--branch", src.Branch}
	if src.CommitSHA == "" {
		cloneArgs = append(cloneArgs, "--depth", "1")
	}
	cloneArgs = append(cloneArgs, url, dir)
	if out, err := exec.CommandContext(ctx, "git", cloneArgs...).CombinedOutput(); err != nil {
		return "", zerr.Builder(fmt.Errorf("%w: %s", err, out), "clone %s", src.RepositoryURL)
	}

	if src.CommitSHA != "" {
		checkoutCmd := exec.CommandContext(ctx, "git", "-C", dir, "checkout", src.CommitSHA)
		if out, err := checkoutCmd.CombinedOutput(); err != nil {
			return "", zerr.Builder(fmt.Errorf("%w: %s", err, out), "checkout %s", src.CommitSHA)
		}
	}
	return dir, nil
}
