package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/zaneops/pkg/health"
	"github.com/cuemby/zaneops/pkg/metrics"
	"github.com/cuemby/zaneops/pkg/proxycp"
	"github.com/cuemby/zaneops/pkg/runtimeadapter"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// stepResult threads the container ID created partway through the
// sequence to later steps (and to compensate on failure) without storing
// it anywhere durable until SWARM_SERVICE_CREATED actually commits.
type stepResult struct {
	containerID string
}

type step struct {
	marker types.StepMarker
	run    func(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error)
}

var imageSourceSteps = []step{
	{types.StepVolumesCreated, stepCreateVolumes},
	{types.StepConfigsCreated, stepCreateConfigs},
	{types.StepPreviousDeploymentScaledDown, stepScaleDownSlotOccupant},
	{types.StepSwarmServiceCreated, stepCreateAndStartContainer},
	{types.StepDeploymentExposedToHTTP, stepExposeDeploymentRoute},
	{types.StepServiceExposedToHTTP, stepHealthGateAndPromote},
}

var gitSourceSteps = []step{
	{types.StepCloningRepository, stepCloneRepository},
	{types.StepRepositoryCloned, stepResolveCommit},
	{types.StepBuildingImage, stepBuildImage},
	{types.StepImageBuilt, stepNoop},
	{types.StepVolumesCreated, stepCreateVolumes},
	{types.StepConfigsCreated, stepCreateConfigs},
	{types.StepPreviousDeploymentScaledDown, stepScaleDownSlotOccupant},
	{types.StepSwarmServiceCreated, stepCreateAndStartContainer},
	{types.StepDeploymentExposedToHTTP, stepExposeDeploymentRoute},
	{types.StepServiceExposedToHTTP, stepHealthGateAndPromote},
}

func stepNoop(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error) {
	return stepResult{}, nil
}

func stepCloneRepository(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error) {
	e.setStatus(ctx, d, types.StatusBuilding, "")
	svc := &d.ServiceSnapshot
	workDir, err := e.git.Clone(ctx, svc.GitSource, d.ID)
	if err != nil {
		return stepResult{}, zerr.Builder(err, "clone %s", svc.GitSource.RepositoryURL)
	}
	d.StatusReason = workDir
	return stepResult{}, nil
}

func stepResolveCommit(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error) {
	svc := &d.ServiceSnapshot
	sha, err := e.git.ResolveHead(ctx, svc.GitSource)
	if err != nil {
		return stepResult{}, zerr.Builder(err, "resolve HEAD for %s@%s", svc.GitSource.RepositoryURL, svc.GitSource.Branch)
	}
	d.CommitSHA = sha
	return stepResult{}, nil
}

func stepBuildImage(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error) {
	svc := &d.ServiceSnapshot
	workDir := d.StatusReason
	imageRef, err := e.builder.Build(ctx, svc, workDir)
	if err != nil {
		return stepResult{}, zerr.Builder(err, "build image for %s", svc.Slug)
	}
	svc.Image = imageRef
	d.StatusReason = ""
	return stepResult{}, nil
}

func stepCreateVolumes(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error) {
	svc := &d.ServiceSnapshot
	for _, v := range svc.Volumes {
		path := volumeHostPath(svc, v)
		if err := os.MkdirAll(path, 0o750); err != nil {
			return stepResult{}, zerr.Runtime(err, "create volume directory %s", path)
		}
	}
	e.setStatus(ctx, d, types.StatusStarting, "")
	return stepResult{}, nil
}

// volumeHostPath is the idempotent naming convention for host-backed
// volume storage: keyed by the service's stable UnprefixedID and the
// volume's own slug, never by deployment or slot, so the same volume
// directory is reused across every redeploy and every slot.
func volumeHostPath(svc *types.Service, v types.Volume) string {
	if v.HostPath != "" {
		return v.HostPath
	}
	return fmt.Sprintf("/var/lib/zaneops/volumes/%s/%s", svc.UnprefixedID, v.Slug)
}

func stepCreateConfigs(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error) {
	svc := &d.ServiceSnapshot
	for _, c := range svc.Configs {
		path := fmt.Sprintf("/var/lib/zaneops/configs/%s/%s", svc.UnprefixedID, c.Slug)
		if err := os.MkdirAll(path[:len(path)-len(c.Slug)-1], 0o750); err != nil {
			return stepResult{}, zerr.Runtime(err, "create config directory for %s", c.Slug)
		}
		if err := os.WriteFile(path, []byte(c.Contents), 0o640); err != nil {
			return stepResult{}, zerr.Runtime(err, "write config file %s", c.Slug)
		}
	}
	return stepResult{}, nil
}

// stepScaleDownSlotOccupant removes whatever container currently occupies
// this deployment's slot for this service before the new one is created,
// since the runtime names containers by (service, slot) and a stale
// occupant would collide with the new container's identity.
func stepScaleDownSlotOccupant(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error) {
	svc := &d.ServiceSnapshot
	name := containerName(svc, d.Slot)
	state, err := e.runtime.ContainerState(ctx, name)
	if err != nil || state == runtimeadapter.StateUnknown {
		return stepResult{}, nil // nothing occupying the slot
	}
	if err := e.runtime.StopContainer(ctx, name, e.stopGrace); err != nil {
		return stepResult{}, zerr.Runtime(err, "stop previous occupant of slot %s", d.Slot)
	}
	if err := e.runtime.RemoveContainer(ctx, name); err != nil {
		return stepResult{}, zerr.Runtime(err, "remove previous occupant of slot %s", d.Slot)
	}
	return stepResult{}, nil
}

func containerName(svc *types.Service, slot types.Slot) string {
	return fmt.Sprintf("zn-%s-%s-%s", svc.Slug, svc.UnprefixedID, slot)
}

func stepCreateAndStartContainer(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error) {
	svc := &d.ServiceSnapshot

	if err := e.runtime.PullImage(ctx, svc.Image, d.IgnoreBuildCache); err != nil {
		return stepResult{}, err
	}

	spec := runtimeadapter.ContainerSpec{
		Name:           containerName(svc, d.Slot),
		Image:          svc.Image,
		Command:        svc.Command,
		Env:            envStrings(svc.EnvVariables),
		NetworkAlias:   d.Slot.Alias(),
		ResourceLimits: svc.ResourceLimits,
	}
	containerID, err := e.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return stepResult{}, err
	}
	if err := e.runtime.StartContainer(ctx, containerID); err != nil {
		return stepResult{containerID: containerID}, zerr.Runtime(err, "start container %s", containerID)
	}
	return stepResult{containerID: containerID}, nil
}

func envStrings(vars []types.EnvVariable) []string {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		out = append(out, v.Key+"="+v.Value)
	}
	return out
}

// stepExposeDeploymentRoute registers the deployment-scoped route so the
// non-promoted slot is reachable (by deployment hash, not by the
// service's production domain) for the healthcheck gate and for preview
// inspection before promotion.
func stepExposeDeploymentRoute(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error) {
	svc := &d.ServiceSnapshot
	for _, p := range svc.Ports {
		routeID := proxycp.DeploymentRouteID(d.Hash, p.Forwarded)
		if err := e.proxy.UpsertRoute(ctx, proxycp.Route{
			ID:          routeID,
			UpstreamURL: proxycp.UpstreamURL(d.Slot, p.Forwarded),
		}); err != nil {
			return stepResult{}, err
		}
		d.URLs = append(d.URLs, types.DeploymentURL{
			DeploymentID:   d.ID,
			AssociatedPort: p.Forwarded,
			RouteID:        routeID,
		})
	}
	return stepResult{}, nil
}

// stepHealthGateAndPromote is SERVICE_EXPOSED_TO_HTTP: it runs the
// healthcheck gate against the slot's internal alias, and only on
// success does it promote the service's production route(s) to this
// slot and retire the previous slot's occupant.
func stepHealthGateAndPromote(ctx context.Context, e *Executor, d *types.Deployment) (stepResult, error) {
	svc := &d.ServiceSnapshot
	if err := gateHealth(ctx, e, d, svc); err != nil {
		return stepResult{}, err
	}

	for _, u := range svc.URLs {
		if err := e.proxy.UpsertRoute(ctx, proxycp.Route{
			ID:          proxycp.ServiceRouteID(svc.Slug, u.AssociatedPort),
			Domain:      u.Domain,
			BasePath:    u.BasePath,
			StripPrefix: u.StripPrefix,
			UpstreamURL: proxycp.UpstreamURL(d.Slot, u.AssociatedPort),
		}); err != nil {
			return stepResult{}, err
		}
	}

	prev, err := e.store.GetLatestProductionDeployment(ctx, svc.ID)
	if err != nil {
		prev = nil
	}

	if err := e.store.SetCurrentProduction(ctx, svc.ID, d.ID); err != nil {
		return stepResult{}, zerr.Runtime(err, "promote deployment %s", d.ID)
	}
	d.IsCurrentProduction = true

	if prev != nil && prev.ID != d.ID {
		name := containerName(&prev.ServiceSnapshot, prev.Slot)
		_ = e.runtime.StopContainer(ctx, name, e.stopGrace)
		_ = e.runtime.RemoveContainer(ctx, name)
		for _, u := range prev.URLs {
			_ = e.proxy.RemoveRoute(ctx, u.RouteID)
		}
	}

	return stepResult{}, nil
}

// gateHealth waits for the slot's container to report running, then
// probes every IntervalSeconds until the probe passes; both share one
// TimeoutSeconds deadline counted from the start of the gate. No
// start-period grace is applied before the first probe.
func gateHealth(ctx context.Context, e *Executor, d *types.Deployment, svc *types.Service) error {
	hc := svc.Healthcheck
	if hc == nil {
		h := types.DefaultHealthcheck()
		hc = &h
	}

	var checker health.Checker
	switch hc.Kind {
	case types.HealthcheckCommand:
		checker = health.NewExecChecker([]string{"/bin/sh", "-c", hc.Command})
	default:
		port := firstForwardedPort(svc)
		checker = health.NewHTTPChecker(fmt.Sprintf("%s://%s:%d%s", "http", d.Slot.Alias(), port, hc.Path))
	}

	deadline := time.Now().Add(time.Duration(hc.TimeoutSeconds) * time.Second)
	interval := time.Duration(hc.IntervalSeconds) * time.Second
	gateTimer := metrics.NewTimer()

	name := containerName(svc, d.Slot)
	for {
		state, _ := e.runtime.ContainerState(ctx, name)
		if state == runtimeadapter.StateRunning {
			break
		}
		if time.Now().After(deadline) {
			e.setStatus(ctx, d, types.StatusUnhealthy, "container not running")
			return zerr.HealthcheckTimeout("deployment %s: container %s not running within %ds", d.ID, name, hc.TimeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}

	for {
		if cancelled, _ := e.checkCancelled(ctx, d); cancelled {
			return zerr.HealthcheckTimeout("deployment %s cancelled during healthcheck gate", d.ID)
		}
		result := checker.Check(ctx)
		if result.Healthy {
			metrics.HealthcheckAttemptsTotal.WithLabelValues("success").Inc()
			gateTimer.ObserveDuration(metrics.HealthcheckGateDuration)
			return nil
		}
		metrics.HealthcheckAttemptsTotal.WithLabelValues("failure").Inc()
		if time.Now().After(deadline) {
			e.setStatus(ctx, d, types.StatusUnhealthy, result.Message)
			gateTimer.ObserveDuration(metrics.HealthcheckGateDuration)
			return zerr.HealthcheckTimeout("deployment %s did not become healthy within %ds: %s", d.ID, hc.TimeoutSeconds, result.Message)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func firstForwardedPort(svc *types.Service) int {
	if len(svc.Ports) == 0 {
		return 80
	}
	return svc.Ports[0].Forwarded
}
