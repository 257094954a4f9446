package proxycp

import (
	"testing"

	"github.com/cuemby/zaneops/pkg/types"
)

func TestRouteIDScheme(t *testing.T) {
	if got := DeploymentRouteID("abc123", 8080); got != "deployment:abc123:8080" {
		t.Errorf("DeploymentRouteID() = %s", got)
	}
	if got := ServiceRouteID("api", 8080); got != "service:api:8080" {
		t.Errorf("ServiceRouteID() = %s", got)
	}
}

func TestUpstreamURLUsesSlotAlias(t *testing.T) {
	got := UpstreamURL(types.SlotBlue, 3000)
	want := "http://blue.zaneops.internal:3000"
	if got != want {
		t.Errorf("UpstreamURL() = %s, want %s", got, want)
	}
}
