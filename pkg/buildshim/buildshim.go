// Package buildshim is the only concrete pkg/executor.Builder
// implementation this module ships: it shells out to an external image
// builder binary (nixpacks, railpack, or a Dockerfile-driving buildctl
// wrapper, selected by the service's Builder.Kind) the same way
// pkg/gitclient shells out to git — no build-backend library of any kind
// appears anywhere in the retrieval pack, and actually reimplementing a
// builder is out of this module's scope; the interface exists so the
// executor never has to know which external process builds the image.
package buildshim

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// Shim invokes one external builder binary per types.BuilderKind.
type Shim struct {
	// Commands maps a BuilderKind to the binary that builds it; callers
	// populate this from configuration at startup (e.g. "nixpacks",
	// "railpack", or an internal Dockerfile-build wrapper script).
	Commands map[types.BuilderKind]string
	Registry string // image registry/prefix new builds are tagged into
}

func New(commands map[types.BuilderKind]string, registry string) *Shim {
	return &Shim{Commands: commands, Registry: registry}
}

// Build runs the configured builder against workDir (svc's cloned
// checkout) and returns the image reference it passed to the builder as
// --tag (<registry>/<slug>:<short sha>). The builder's output is not
// parsed; it only appears in the error when the build fails.
func (s *Shim) Build(ctx context.Context, svc *types.Service, workDir string) (string, error) {
	command, ok := s.Commands[svc.GitSource.Builder.Kind]
	if !ok {
		return "", zerr.Builder(fmt.Errorf("no builder configured for kind %q", svc.GitSource.Builder.Kind), "build %s", svc.Slug)
	}

	imageRef := fmt.Sprintf("%s/%s:%s", strings.TrimSuffix(s.Registry, "/"), svc.Slug, shortSHA(svc.GitSource.CommitSHA))

	args := []string{workDir, "--tag", imageRef}
	if svc.GitSource.Builder.Kind == types.BuilderDockerfile {
		if path, ok := svc.GitSource.Builder.Options["dockerfile_path"].(string); ok && path != "" {
			args = append(args, "--file", path)
		}
	}

	cmd := exec.CommandContext(ctx, command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", zerr.Builder(fmt.Errorf("%w: %s", err, out), "build %s", svc.Slug)
	}
	return imageRef, nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	if sha == "" {
		return "latest"
	}
	return sha
}
