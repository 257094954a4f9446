package changelog

import (
	"context"
	"testing"

	"github.com/cuemby/zaneops/pkg/storage/storagetest"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

func TestSortForApplyOrdersDeleteUpdateAddThenScalar(t *testing.T) {
	changes := []*types.DeploymentChange{
		{Field: types.ChangeFieldSource, Type: types.ChangeTypeUpdate},
		{Field: types.ChangeFieldVolumes, Type: types.ChangeTypeAdd},
		{Field: types.ChangeFieldVolumes, Type: types.ChangeTypeDelete},
		{Field: types.ChangeFieldPorts, Type: types.ChangeTypeUpdate},
	}
	sortForApply(changes)

	wantOrder := []types.ChangeField{
		types.ChangeFieldVolumes,
		types.ChangeFieldPorts,
		types.ChangeFieldVolumes,
		types.ChangeFieldSource,
	}
	wantTypes := []types.ChangeType{
		types.ChangeTypeDelete,
		types.ChangeTypeUpdate,
		types.ChangeTypeAdd,
		types.ChangeTypeUpdate,
	}
	for i, c := range changes {
		if c.Field != wantOrder[i] || c.Type != wantTypes[i] {
			t.Fatalf("position %d: got (%s,%s), want (%s,%s)", i, c.Field, c.Type, wantOrder[i], wantTypes[i])
		}
	}
}

func TestApplyCollectionAddUpdateDelete(t *testing.T) {
	items := []types.Volume{{ID: "v1", Slug: "data"}}
	idOf := func(v types.Volume) string { return v.ID }

	items = applyCollection(items, &types.DeploymentChange{Type: types.ChangeTypeAdd}, types.Volume{ID: "v2", Slug: "cache"}, idOf)
	if len(items) != 2 {
		t.Fatalf("after add, len = %d, want 2", len(items))
	}

	items = applyCollection(items, &types.DeploymentChange{Type: types.ChangeTypeUpdate, ItemID: "v1"}, types.Volume{ID: "v1", Slug: "renamed"}, idOf)
	if items[0].Slug != "renamed" {
		t.Fatalf("update did not apply, got %+v", items[0])
	}

	items = applyCollection(items, &types.DeploymentChange{Type: types.ChangeTypeDelete, ItemID: "v2"}, types.Volume{}, idOf)
	if len(items) != 1 || items[0].ID != "v1" {
		t.Fatalf("delete did not apply, got %+v", items)
	}
}

func TestValidateResourceLimitsRejectsNonNumericCPUs(t *testing.T) {
	err := validate(types.ChangeFieldResourceLimits, types.ChangeTypeUpdate, types.ResourceLimits{CPUs: "lots"})
	if err == nil {
		t.Fatal("expected validation error for non-numeric cpus")
	}
}

func TestValidateHealthcheckRequiresPathForHTTP(t *testing.T) {
	err := validate(types.ChangeFieldHealthcheck, types.ChangeTypeUpdate, types.Healthcheck{
		Kind: types.HealthcheckHTTP, TimeoutSeconds: 10, IntervalSeconds: 10,
	})
	if err == nil {
		t.Fatal("expected validation error for missing HTTP path")
	}
}

func TestValidateNoConflictDetectsDuplicateRoute(t *testing.T) {
	existing := []types.URL{{Domain: "app.example.com", BasePath: "/"}}
	err := ValidateNoConflict(existing, types.URL{Domain: "app.example.com", BasePath: "/"})
	if err == nil {
		t.Fatal("expected conflict error for duplicate domain+base_path")
	}
}

func TestStaticCaddyfileDefaultsRootSlash(t *testing.T) {
	out := staticCaddyfile("/")
	if out == "" {
		t.Fatal("expected non-empty caddyfile fragment")
	}
}

func imageService(id string) *types.Service {
	return &types.Service{ID: id, Kind: types.ServiceKindImage, Image: "registry.internal/app:latest"}
}

func TestAddChangeRejectsDuplicateVolumePaths(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewFake()
	svc := imageService("svc1")
	svc.Volumes = []types.Volume{{ID: "v1", ContainerPath: "/data"}}
	if err := store.CreateService(ctx, svc); err != nil {
		t.Fatal(err)
	}

	l := New(store)
	_, err := l.AddChange(ctx, "svc1", types.ChangeFieldVolumes, types.ChangeTypeAdd, "v2",
		nil, types.Volume{ID: "v2", ContainerPath: "/data"})
	if err == nil {
		t.Fatal("expected conflict for duplicate volume container_path")
	}
	if zerr.KindOf(err) != types.ErrKindConflict {
		t.Fatalf("got error kind %v, want Conflict", zerr.KindOf(err))
	}
}

func TestAddChangeRejectsDuplicateURL(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewFake()
	svc := imageService("svc1")
	svc.URLs = []types.URL{{ID: "u1", Domain: "app.example.com", BasePath: "/"}}
	if err := store.CreateService(ctx, svc); err != nil {
		t.Fatal(err)
	}

	l := New(store)
	_, err := l.AddChange(ctx, "svc1", types.ChangeFieldURLs, types.ChangeTypeAdd, "u2",
		nil, types.URL{ID: "u2", Domain: "app.example.com", BasePath: "/"})
	if err == nil {
		t.Fatal("expected conflict for duplicate (domain, base_path)")
	}
}

func TestAddChangeRejectsClearingOnlySource(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewFake()
	svc := imageService("svc1")
	if err := store.CreateService(ctx, svc); err != nil {
		t.Fatal(err)
	}

	l := New(store)
	_, err := l.AddChange(ctx, "svc1", types.ChangeFieldSource, types.ChangeTypeUpdate, "", svc.Image, "")
	if err == nil {
		t.Fatal("expected conflict for clearing the service's only image source")
	}
}

func TestCancelChangeRejectsWhenItWouldLeaveServiceSourceless(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewFake()
	svc := imageService("svc1")
	if err := store.CreateService(ctx, svc); err != nil {
		t.Fatal(err)
	}

	l := New(store)
	// Swap the service onto a git source; this pending change is now the
	// only thing keeping the service's Kind/GitSource populated, since
	// ChangeFieldSource never touched the live record.
	gitSource := types.GitSource{
		RepositoryURL: "https://example.com/repo.git",
		Branch:        "main",
		Builder:       types.Builder{Kind: types.BuilderDockerfile},
	}
	change, err := l.AddChange(ctx, "svc1", types.ChangeFieldGitSource, types.ChangeTypeUpdate, "", types.GitSource{}, gitSource)
	if err != nil {
		t.Fatalf("unexpected error setting up git source change: %v", err)
	}

	// Clear the image too, so once the git-source change is cancelled the
	// service would be left without any source at all.
	svc.Image = ""
	svc.Kind = ""

	if err := l.CancelChange(ctx, change.ID); err == nil {
		t.Fatal("expected conflict when cancelling the change leaves the service sourceless")
	}
}
