package differ

import (
	"testing"

	"github.com/cuemby/zaneops/pkg/types"
)

func TestCompareNilPrevIsFullDiff(t *testing.T) {
	d := Compare(nil, &types.Service{})
	if d.IsEmpty() {
		t.Fatal("diff against nil previous snapshot should never be empty")
	}
	if !d.RequiresRebuild() {
		t.Fatal("first deployment must require a rebuild")
	}
}

func TestCompareIdenticalSnapshotsIsEmpty(t *testing.T) {
	svc := &types.Service{
		Image:   "nginx:latest",
		Command: "nginx -g daemon off;",
		Volumes: []types.Volume{{ID: "v1", Slug: "data"}},
	}
	d := Compare(svc, svc)
	if !d.IsEmpty() {
		t.Fatalf("identical snapshots should diff empty, got %+v", d)
	}
}

func TestCompareDetectsImageChange(t *testing.T) {
	prev := &types.Service{Kind: types.ServiceKindImage, Image: "nginx:1.24"}
	curr := &types.Service{Kind: types.ServiceKindImage, Image: "nginx:1.25"}
	d := Compare(prev, curr)
	if !d.SourceChanged || !d.RequiresRebuild() {
		t.Fatalf("image change should be detected as source change, got %+v", d)
	}
}

func TestCompareVolumeReorderIsNotAChange(t *testing.T) {
	prev := &types.Service{Volumes: []types.Volume{{ID: "a"}, {ID: "b"}}}
	curr := &types.Service{Volumes: []types.Volume{{ID: "b"}, {ID: "a"}}}
	d := Compare(prev, curr)
	if d.VolumesChanged {
		t.Fatal("reordering the same set of volumes should not count as a change")
	}
}

func TestCompareDetectsEnvVariableValueChange(t *testing.T) {
	prev := &types.Service{EnvVariables: []types.EnvVariable{{ID: "e1", Key: "FOO", Value: "bar"}}}
	curr := &types.Service{EnvVariables: []types.EnvVariable{{ID: "e1", Key: "FOO", Value: "baz"}}}
	d := Compare(prev, curr)
	if !d.EnvVariablesChanged {
		t.Fatal("changed env value should be detected")
	}
	if d.RequiresRebuild() {
		t.Fatal("an env var change alone should not require a rebuild, only a new container")
	}
	if !d.RequiresNewContainer() {
		t.Fatal("an env var change should still require a new container")
	}
}
