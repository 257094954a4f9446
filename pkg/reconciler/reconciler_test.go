package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/zaneops/pkg/storage/storagetest"
	"github.com/cuemby/zaneops/pkg/types"
)

type fakeResumer struct {
	resumed []string
}

func (f *fakeResumer) Run(_ context.Context, deploymentID string) error {
	f.resumed = append(f.resumed, deploymentID)
	return nil
}

func TestReconcileResumesStaleNonTerminalDeployment(t *testing.T) {
	store := storagetest.NewFake()
	proj := &types.Project{ID: "proj-1"}
	_ = store.CreateProject(context.Background(), proj)
	env := &types.Environment{ID: "env-1", ProjectID: proj.ID}
	_ = store.CreateEnvironment(context.Background(), env)
	svc := &types.Service{ID: "svc-1", ProjectID: proj.ID, EnvironmentID: env.ID}
	_ = store.CreateService(context.Background(), svc)

	stale := time.Now().Add(-10 * time.Minute)
	d := &types.Deployment{ID: "dep-stale", ServiceID: svc.ID, Status: types.StatusBuilding, StartedAt: &stale}
	_ = store.CreateDeployment(context.Background(), d)

	resumer := &fakeResumer{}
	r := New(store, nil, resumer)
	if err := r.reconcile(); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}
	if len(resumer.resumed) != 1 || resumer.resumed[0] != "dep-stale" {
		t.Errorf("resumed = %v, want [dep-stale]", resumer.resumed)
	}
}

func TestReconcileSkipsRecentlyStartedDeployment(t *testing.T) {
	store := storagetest.NewFake()
	proj := &types.Project{ID: "proj-2"}
	_ = store.CreateProject(context.Background(), proj)
	env := &types.Environment{ID: "env-2", ProjectID: proj.ID}
	_ = store.CreateEnvironment(context.Background(), env)
	svc := &types.Service{ID: "svc-2", ProjectID: proj.ID, EnvironmentID: env.ID}
	_ = store.CreateService(context.Background(), svc)

	recent := time.Now()
	d := &types.Deployment{ID: "dep-fresh", ServiceID: svc.ID, Status: types.StatusBuilding, StartedAt: &recent}
	_ = store.CreateDeployment(context.Background(), d)

	resumer := &fakeResumer{}
	r := New(store, nil, resumer)
	if err := r.reconcile(); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}
	if len(resumer.resumed) != 0 {
		t.Errorf("resumed = %v, want none (not yet stale)", resumer.resumed)
	}
}

func TestReconcileSkipsTerminalDeployment(t *testing.T) {
	store := storagetest.NewFake()
	proj := &types.Project{ID: "proj-3"}
	_ = store.CreateProject(context.Background(), proj)
	env := &types.Environment{ID: "env-3", ProjectID: proj.ID}
	_ = store.CreateEnvironment(context.Background(), env)
	svc := &types.Service{ID: "svc-3", ProjectID: proj.ID, EnvironmentID: env.ID}
	_ = store.CreateService(context.Background(), svc)

	stale := time.Now().Add(-10 * time.Minute)
	d := &types.Deployment{ID: "dep-done", ServiceID: svc.ID, Status: types.StatusHealthy, StartedAt: &stale}
	_ = store.CreateDeployment(context.Background(), d)

	resumer := &fakeResumer{}
	r := New(store, nil, resumer)
	if err := r.reconcile(); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}
	if len(resumer.resumed) != 0 {
		t.Errorf("resumed = %v, want none (terminal)", resumer.resumed)
	}
}
