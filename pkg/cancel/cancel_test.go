package cancel

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/zaneops/pkg/events"
	"github.com/cuemby/zaneops/pkg/storage/storagetest"
	"github.com/cuemby/zaneops/pkg/types"
)

func TestFlagDeploymentsForCancellationCancelsNotYetStarted(t *testing.T) {
	store := storagetest.NewFake()
	svc := &types.Service{ID: "svc-1"}
	_ = store.CreateService(context.Background(), svc)
	d := &types.Deployment{ID: "dep-1", ServiceID: svc.ID, Status: types.StatusQueued}
	_ = store.CreateDeployment(context.Background(), d)

	c := New(store, events.NewBroker())
	affected, err := c.FlagDeploymentsForCancellation(context.Background(), svc.ID, true)
	if err != nil {
		t.Fatalf("FlagDeploymentsForCancellation() error = %v", err)
	}
	if len(affected) != 1 {
		t.Fatalf("len(affected) = %d, want 1", len(affected))
	}
	got, _ := store.GetDeployment(context.Background(), d.ID)
	if got.Status != types.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
}

func TestFlagDeploymentsForCancellationSignalsStarted(t *testing.T) {
	store := storagetest.NewFake()
	svc := &types.Service{ID: "svc-2"}
	_ = store.CreateService(context.Background(), svc)
	started := time.Now()
	d := &types.Deployment{ID: "dep-2", ServiceID: svc.ID, Status: types.StatusBuilding, StartedAt: &started}
	_ = store.CreateDeployment(context.Background(), d)

	c := New(store, events.NewBroker())
	if _, err := c.FlagDeploymentsForCancellation(context.Background(), svc.ID, true); err != nil {
		t.Fatalf("FlagDeploymentsForCancellation() error = %v", err)
	}
	cancelled, err := c.IsCancelled(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("IsCancelled() error = %v", err)
	}
	if !cancelled {
		t.Error("IsCancelled() = false, want true for signalled deployment")
	}
	got, _ := store.GetDeployment(context.Background(), d.ID)
	if got.Status != types.StatusBuilding {
		t.Errorf("status = %s, want unchanged BUILDING (signalled, not flipped)", got.Status)
	}
}

func TestCancelRejectsTerminalDeployment(t *testing.T) {
	store := storagetest.NewFake()
	svc := &types.Service{ID: "svc-3"}
	_ = store.CreateService(context.Background(), svc)
	finished := time.Now()
	d := &types.Deployment{ID: "dep-3", ServiceID: svc.ID, Status: types.StatusHealthy, FinishedAt: &finished}
	_ = store.CreateDeployment(context.Background(), d)

	c := New(store, events.NewBroker())
	if err := c.Cancel(context.Background(), d.ID, "too late"); err == nil {
		t.Error("Cancel() on terminal deployment error = nil, want CONFLICT")
	}
}

func TestCancelRejectsDoubleCancellation(t *testing.T) {
	store := storagetest.NewFake()
	svc := &types.Service{ID: "svc-4"}
	_ = store.CreateService(context.Background(), svc)
	started := time.Now()
	d := &types.Deployment{ID: "dep-4", ServiceID: svc.ID, Status: types.StatusBuilding, StartedAt: &started}
	_ = store.CreateDeployment(context.Background(), d)

	c := New(store, events.NewBroker())
	if err := c.Cancel(context.Background(), d.ID, "first"); err != nil {
		t.Fatalf("first Cancel() error = %v", err)
	}
	if err := c.Cancel(context.Background(), d.ID, "second"); err == nil {
		t.Error("second Cancel() error = nil, want CONFLICT")
	}
}
