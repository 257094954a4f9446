// Package differ implements the Snapshot Differ (§4.2): given the
// ServiceSnapshot frozen into the last Deployment and the Service's
// current configuration (after the Change Log has applied pending
// changes), it reports exactly which facets changed so the planner can
// decide which executor steps are actually needed.
package differ

import (
	"reflect"

	"github.com/cuemby/zaneops/pkg/types"
)

// Diff is the set of facets that differ between two snapshots of the
// same Service.
type Diff struct {
	SourceChanged         bool
	BuilderChanged        bool
	CommandChanged        bool
	HealthcheckChanged    bool
	ResourceLimitsChanged bool
	VolumesChanged        bool
	ConfigsChanged        bool
	PortsChanged          bool
	URLsChanged           bool
	EnvVariablesChanged   bool
}

// RequiresRebuild reports whether the diff implies the executor must go
// through the build step again (a new image, or the same image's
// dependent runtime config changed in a way the running container can't
// absorb without a restart).
func (d Diff) RequiresRebuild() bool {
	return d.SourceChanged || d.BuilderChanged || d.CommandChanged
}

// RequiresNewContainer reports whether any facet changed that can only
// take effect via a fresh container (as opposed to, say, just a proxy
// route update).
func (d Diff) RequiresNewContainer() bool {
	return d.RequiresRebuild() || d.HealthcheckChanged || d.ResourceLimitsChanged ||
		d.VolumesChanged || d.ConfigsChanged || d.PortsChanged || d.EnvVariablesChanged
}

// IsEmpty reports whether nothing changed at all — a redeploy with no
// pending changes, triggered manually or by cache invalidation.
func (d Diff) IsEmpty() bool {
	return d == Diff{}
}

// Compare produces the Diff between a previous and current snapshot.
func Compare(prev, curr *types.Service) Diff {
	if prev == nil {
		return Diff{
			SourceChanged: true, BuilderChanged: true, CommandChanged: true,
			HealthcheckChanged: true, ResourceLimitsChanged: true,
			VolumesChanged: true, ConfigsChanged: true, PortsChanged: true,
			URLsChanged: true, EnvVariablesChanged: true,
		}
	}
	return Diff{
		SourceChanged:         prev.Kind != curr.Kind || prev.Image != curr.Image || sourceChanged(prev.GitSource, curr.GitSource),
		BuilderChanged:        !reflect.DeepEqual(prev.GitSource.Builder, curr.GitSource.Builder),
		CommandChanged:        prev.Command != curr.Command,
		HealthcheckChanged:    !reflect.DeepEqual(prev.Healthcheck, curr.Healthcheck),
		ResourceLimitsChanged: prev.ResourceLimits != curr.ResourceLimits,
		VolumesChanged:        !sameSet(prev.Volumes, curr.Volumes, func(v types.Volume) string { return v.ID }),
		ConfigsChanged:        !sameSet(prev.Configs, curr.Configs, func(c types.Config) string { return c.ID }),
		PortsChanged:          !sameSet(prev.Ports, curr.Ports, func(p types.Port) string { return p.ID }),
		URLsChanged:           !sameSet(prev.URLs, curr.URLs, func(u types.URL) string { return u.ID }),
		EnvVariablesChanged:   !sameSet(prev.EnvVariables, curr.EnvVariables, func(e types.EnvVariable) string { return e.ID }),
	}
}

func sourceChanged(a, b types.GitSource) bool {
	return a.RepositoryURL != b.RepositoryURL || a.Branch != b.Branch || a.CommitSHA != b.CommitSHA || a.GitAppID != b.GitAppID
}

// sameSet compares two collections element-wise by deep equality after
// matching by id, ignoring order — the Change Log applies deletes/adds
// that can shuffle slice position without representing a real change.
func sameSet[T any](a, b []T, idOf func(T) string) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]T, len(a))
	for _, item := range a {
		byID[idOf(item)] = item
	}
	for _, item := range b {
		prev, ok := byID[idOf(item)]
		if !ok || !reflect.DeepEqual(prev, item) {
			return false
		}
	}
	return true
}
