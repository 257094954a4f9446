// Package changelog implements the Change Log component (§4.1): recording
// pending mutations against a Service, validating them against the field
// rules, and applying a batch in the deterministic order the planner and
// executor rely on.
package changelog

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/cuemby/zaneops/pkg/storage"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// Log operates the pending-change table for a single store.
type Log struct {
	store storage.Store
}

func New(store storage.Store) *Log {
	return &Log{store: store}
}

// AddChange validates and records a new pending mutation against a
// service. A second pending change against the same (field, item_id) pair
// supersedes the first rather than stacking, mirroring "last write wins"
// editing of an un-applied draft. Before anything is written, the change
// is projected onto the service's current snapshot together with every
// other still-pending change, so a change that would leave the service
// with duplicate volume paths, duplicate (domain, base_path) URLs, an
// invalid builder config, or no image/repository source is rejected
// without touching the store.
func (l *Log) AddChange(ctx context.Context, serviceID string, field types.ChangeField, changeType types.ChangeType, itemID string, oldValue, newValue interface{}) (*types.DeploymentChange, error) {
	if err := validate(field, changeType, newValue); err != nil {
		return nil, err
	}

	svc, err := l.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, zerr.Runtime(err, "load service %s", serviceID)
	}

	pending, err := l.store.ListPendingChanges(ctx, serviceID)
	if err != nil {
		return nil, zerr.Runtime(err, "list pending changes for %s", serviceID)
	}
	kept := make([]*types.DeploymentChange, 0, len(pending))
	for _, p := range pending {
		if p.Field != field || p.ItemID != itemID {
			kept = append(kept, p)
		}
	}

	change := &types.DeploymentChange{
		ID:        uuid.NewString(),
		ServiceID: serviceID,
		Field:     field,
		Type:      changeType,
		OldValue:  oldValue,
		NewValue:  precompute(field, newValue),
		ItemID:    itemID,
	}

	if err := validateProjection(svc, append(kept, change)); err != nil {
		return nil, err
	}

	for _, p := range pending {
		if p.Field == field && p.ItemID == itemID {
			if err := l.store.DeletePendingChange(ctx, p.ID); err != nil {
				return nil, zerr.Runtime(err, "supersede pending change %s", p.ID)
			}
		}
	}
	if err := l.store.CreatePendingChange(ctx, change); err != nil {
		return nil, zerr.Runtime(err, "create pending change")
	}
	return change, nil
}

// CancelChange discards a pending, un-applied change, provided the
// resulting snapshot (every other still-pending change applied, this one
// left out) still satisfies the source and uniqueness invariants; e.g.
// cancelling the one change that supplies a service's only image or
// repository source is rejected rather than silently producing a
// sourceless service.
func (l *Log) CancelChange(ctx context.Context, changeID string) error {
	change, err := l.store.GetPendingChange(ctx, changeID)
	if err != nil {
		return err
	}
	if change.Applied {
		return zerr.Conflict("change %s has already been applied", changeID)
	}

	svc, err := l.store.GetService(ctx, change.ServiceID)
	if err != nil {
		return zerr.Runtime(err, "load service %s", change.ServiceID)
	}
	pending, err := l.store.ListPendingChanges(ctx, change.ServiceID)
	if err != nil {
		return zerr.Runtime(err, "list pending changes for %s", change.ServiceID)
	}
	remaining := make([]*types.DeploymentChange, 0, len(pending))
	for _, p := range pending {
		if p.ID != changeID {
			remaining = append(remaining, p)
		}
	}
	if err := validateProjection(svc, remaining); err != nil {
		return err
	}

	return l.store.DeletePendingChange(ctx, changeID)
}

// ApplyPendingChanges mutates a Service in place with every pending,
// un-applied change for it, in the fixed order: collection DELETE, then
// collection UPDATE, then collection ADD, then the scalar SOURCE/
// GIT_SOURCE/BUILDER fields last (so a source swap is applied against an
// already-updated set of volumes/configs/ports/urls/env vars). It returns
// the changes that were applied, for the caller to mark via
// storage.Store.MarkChangesApplied once the resulting Deployment commits.
func (l *Log) ApplyPendingChanges(ctx context.Context, svc *types.Service) ([]*types.DeploymentChange, error) {
	pending, err := l.store.ListPendingChanges(ctx, svc.ID)
	if err != nil {
		return nil, zerr.Runtime(err, "list pending changes for %s", svc.ID)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	sortForApply(pending)

	for _, c := range pending {
		if err := apply(svc, c); err != nil {
			return nil, err
		}
	}
	return pending, nil
}

func sortForApply(changes []*types.DeploymentChange) {
	// Stable insertion sort: collection changes ordered DELETE<UPDATE<ADD,
	// then every scalar source field pushed to the tail, preserving
	// relative order within each bucket.
	less := func(a, b *types.DeploymentChange) bool {
		aScalar, bScalar := a.Field.IsScalarSourceField(), b.Field.IsScalarSourceField()
		if aScalar != bScalar {
			return !aScalar
		}
		return a.Type.ApplyOrderRank() < b.Type.ApplyOrderRank()
	}
	for i := 1; i < len(changes); i++ {
		j := i
		for j > 0 && less(changes[j], changes[j-1]) {
			changes[j], changes[j-1] = changes[j-1], changes[j]
			j--
		}
	}
}

func validate(field types.ChangeField, changeType types.ChangeType, newValue interface{}) error {
	switch field {
	case types.ChangeFieldResourceLimits:
		limits, ok := newValue.(types.ResourceLimits)
		if !ok {
			return zerr.Validation("resource_limits change requires a ResourceLimits value")
		}
		if limits.CPUs != "" {
			if _, err := strconv.ParseFloat(limits.CPUs, 64); err != nil {
				return zerr.Validation("resource_limits.cpus %q is not numeric", limits.CPUs)
			}
		}
		if limits.MemoryMB < 0 {
			return zerr.Validation("resource_limits.memory_mb must be >= 0")
		}
	case types.ChangeFieldHealthcheck:
		if hc, ok := newValue.(types.Healthcheck); ok {
			if hc.Kind == types.HealthcheckHTTP && hc.Path == "" {
				return zerr.Validation("HTTP healthcheck requires a path")
			}
			if hc.Kind == types.HealthcheckCommand && hc.Command == "" {
				return zerr.Validation("COMMAND healthcheck requires a command")
			}
			if hc.TimeoutSeconds <= 0 || hc.IntervalSeconds <= 0 {
				return zerr.Validation("healthcheck timeout_seconds and interval_seconds must be positive")
			}
		}
	case types.ChangeFieldURLs:
		if u, ok := newValue.(types.URL); ok && changeType != types.ChangeTypeDelete {
			if u.Domain == "" {
				return zerr.Validation("url change requires a domain")
			}
		}
	case types.ChangeFieldPorts:
		if p, ok := newValue.(types.Port); ok && changeType != types.ChangeTypeDelete {
			if p.Forwarded <= 0 || p.Forwarded > 65535 {
				return zerr.Validation("port.forwarded %d out of range", p.Forwarded)
			}
		}
	case types.ChangeFieldBuilder:
		if b, ok := newValue.(types.Builder); ok {
			switch b.Kind {
			case types.BuilderDockerfile, types.BuilderStaticDir, types.BuilderNixpacks, types.BuilderRailpack:
			default:
				return zerr.Validation("unknown builder kind %q", b.Kind)
			}
		}
	}
	return nil
}

// precompute fills in derived fields the executor should never have to
// re-derive: a STATIC_DIR builder gets its Caddyfile fragment computed
// once, here, when AddChange records the change. NIXPACKS and RAILPACK
// builders are stored without a fragment, whatever their options say.
func precompute(field types.ChangeField, newValue interface{}) interface{} {
	if field != types.ChangeFieldBuilder {
		return newValue
	}
	b, ok := newValue.(types.Builder)
	if !ok {
		return newValue
	}
	if b.Kind == types.BuilderStaticDir {
		root, _ := b.Options["publish_directory"].(string)
		if root == "" {
			root = "/"
		}
		b.CaddyfileFragment = staticCaddyfile(root)
	}
	return b
}

func staticCaddyfile(root string) string {
	var sb strings.Builder
	sb.WriteString("root * ")
	sb.WriteString(root)
	sb.WriteString("\nfile_server\ntry_files {path} /index.html\n")
	return sb.String()
}

// apply mutates svc in place for a single change. Collection fields are
// matched by ItemID; a DELETE/UPDATE against an item that no longer
// exists is a no-op rather than an error, since the target could have
// been removed by a prior change in the same batch.
func apply(svc *types.Service, c *types.DeploymentChange) error {
	switch c.Field {
	case types.ChangeFieldSource:
		img, _ := c.NewValue.(string)
		svc.Kind = types.ServiceKindImage
		svc.Image = img
		svc.GitSource = types.GitSource{}
	case types.ChangeFieldGitSource:
		gs, ok := c.NewValue.(types.GitSource)
		if !ok {
			return zerr.Validation("git_source change carries wrong value type")
		}
		svc.Kind = types.ServiceKindGit
		svc.GitSource = gs
		svc.Image = ""
	case types.ChangeFieldBuilder:
		b, ok := c.NewValue.(types.Builder)
		if !ok {
			return zerr.Validation("builder change carries wrong value type")
		}
		svc.GitSource.Builder = b
	case types.ChangeFieldCommand:
		cmd, _ := c.NewValue.(string)
		svc.Command = cmd
	case types.ChangeFieldHealthcheck:
		hc, ok := c.NewValue.(types.Healthcheck)
		if !ok {
			return zerr.Validation("healthcheck change carries wrong value type")
		}
		svc.Healthcheck = &hc
	case types.ChangeFieldResourceLimits:
		rl, ok := c.NewValue.(types.ResourceLimits)
		if !ok {
			return zerr.Validation("resource_limits change carries wrong value type")
		}
		svc.ResourceLimits = rl
	case types.ChangeFieldVolumes:
		v, _ := c.NewValue.(types.Volume)
		svc.Volumes = applyCollection(svc.Volumes, c, v, func(x types.Volume) string { return x.ID })
	case types.ChangeFieldConfigs:
		v, _ := c.NewValue.(types.Config)
		svc.Configs = applyCollection(svc.Configs, c, v, func(x types.Config) string { return x.ID })
	case types.ChangeFieldPorts:
		v, _ := c.NewValue.(types.Port)
		svc.Ports = applyCollection(svc.Ports, c, v, func(x types.Port) string { return x.ID })
	case types.ChangeFieldURLs:
		v, _ := c.NewValue.(types.URL)
		svc.URLs = applyCollection(svc.URLs, c, v, func(x types.URL) string { return x.ID })
	case types.ChangeFieldEnvVariables:
		v, _ := c.NewValue.(types.EnvVariable)
		svc.EnvVariables = applyCollection(svc.EnvVariables, c, v, func(x types.EnvVariable) string { return x.ID })
	default:
		return zerr.Validation("unknown change field %q", c.Field)
	}
	return nil
}

// applyCollection is a small generic helper since Go 1.23's generics let
// us express ADD/UPDATE/DELETE against any of the five item collections
// without five near-identical switch arms.
func applyCollection[T any](items []T, c *types.DeploymentChange, value T, idOf func(T) string) []T {
	switch c.Type {
	case types.ChangeTypeAdd:
		return append(items, value)
	case types.ChangeTypeUpdate:
		for i, it := range items {
			if idOf(it) == c.ItemID {
				items[i] = value
				return items
			}
		}
		return items
	case types.ChangeTypeDelete:
		out := items[:0]
		for _, it := range items {
			if idOf(it) != c.ItemID {
				out = append(out, it)
			}
		}
		return out
	default:
		return items
	}
}

// ValidateNoConflict returns a zerr.Conflict if candidate's (domain,
// base_path) matches any URL in existing. validateInvariants passes only
// the projected service's own URLs, so URLs of other services are not
// checked; no Store method writes the service_urls table either.
func ValidateNoConflict(existing []types.URL, candidate types.URL) error {
	for _, u := range existing {
		if u.Domain == candidate.Domain && u.BasePath == candidate.BasePath {
			return zerr.Conflict("url %s%s is already in use", candidate.Domain, candidate.BasePath)
		}
	}
	return nil
}

// validateProjection applies changes, in apply order, onto a copy of svc
// and checks the result against the invariants §4.1 requires add_change
// and cancel_change to preserve. svc and changes are never mutated.
func validateProjection(svc *types.Service, changes []*types.DeploymentChange) error {
	snapshot := cloneService(svc)
	ordered := append([]*types.DeploymentChange(nil), changes...)
	sortForApply(ordered)
	for _, c := range ordered {
		if err := apply(snapshot, c); err != nil {
			return err
		}
	}
	return validateInvariants(snapshot)
}

func cloneService(svc *types.Service) *types.Service {
	clone := *svc
	clone.Volumes = append([]types.Volume(nil), svc.Volumes...)
	clone.Configs = append([]types.Config(nil), svc.Configs...)
	clone.Ports = append([]types.Port(nil), svc.Ports...)
	clone.URLs = append([]types.URL(nil), svc.URLs...)
	clone.EnvVariables = append([]types.EnvVariable(nil), svc.EnvVariables...)
	return &clone
}

// validateInvariants checks the cross-field rules that span multiple
// pending changes, as opposed to validate()'s single-change schema checks:
// no duplicate volume container paths, no duplicate (domain, base_path)
// URL pairs, a builder config valid for the projected Kind, and at least
// one of image or repository+builder remaining as the service's source.
func validateInvariants(svc *types.Service) error {
	seenPaths := make(map[string]bool, len(svc.Volumes))
	for _, v := range svc.Volumes {
		if seenPaths[v.ContainerPath] {
			return zerr.Conflict("duplicate volume container_path %q", v.ContainerPath)
		}
		seenPaths[v.ContainerPath] = true
	}

	for i, u := range svc.URLs {
		if err := ValidateNoConflict(svc.URLs[:i], u); err != nil {
			return err
		}
	}

	switch svc.Kind {
	case types.ServiceKindImage:
		if svc.Image == "" {
			return zerr.Conflict("service %s would be left without an image or repository source", svc.ID)
		}
	case types.ServiceKindGit:
		if svc.GitSource.RepositoryURL == "" {
			return zerr.Conflict("service %s would be left without an image or repository source", svc.ID)
		}
		switch svc.GitSource.Builder.Kind {
		case types.BuilderDockerfile, types.BuilderStaticDir, types.BuilderNixpacks, types.BuilderRailpack:
		default:
			return zerr.Conflict("service %s would be left with an invalid builder config", svc.ID)
		}
	default:
		if svc.Image == "" && svc.GitSource.RepositoryURL == "" {
			return zerr.Conflict("service %s would be left without an image or repository source", svc.ID)
		}
	}
	return nil
}
