package planner

import (
	"testing"

	"github.com/cuemby/zaneops/pkg/types"
)

func TestDeploymentHashIsDeterministic(t *testing.T) {
	svc := &types.Service{Slug: "api", Image: "nginx:latest"}
	a, err := deploymentHash(svc, types.SlotBlue)
	if err != nil {
		t.Fatalf("deploymentHash() error = %v", err)
	}
	b, err := deploymentHash(svc, types.SlotBlue)
	if err != nil {
		t.Fatalf("deploymentHash() error = %v", err)
	}
	if a != b {
		t.Fatalf("hash should be deterministic for identical snapshot+slot, got %s vs %s", a, b)
	}
}

func TestDeploymentHashDiffersBySlot(t *testing.T) {
	svc := &types.Service{Slug: "api", Image: "nginx:latest"}
	blue, _ := deploymentHash(svc, types.SlotBlue)
	green, _ := deploymentHash(svc, types.SlotGreen)
	if blue == green {
		t.Fatal("hash should differ between blue and green slots for the same snapshot")
	}
}

func TestDeploymentHashDiffersByContent(t *testing.T) {
	a, _ := deploymentHash(&types.Service{Image: "nginx:1.24"}, types.SlotBlue)
	b, _ := deploymentHash(&types.Service{Image: "nginx:1.25"}, types.SlotBlue)
	if a == b {
		t.Fatal("hash should differ when the snapshot content differs")
	}
}
