package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/zaneops/pkg/cancel"
	"github.com/cuemby/zaneops/pkg/changelog"
	"github.com/cuemby/zaneops/pkg/events"
	"github.com/cuemby/zaneops/pkg/planner"
	"github.com/cuemby/zaneops/pkg/security"
	"github.com/cuemby/zaneops/pkg/storage/storagetest"
	"github.com/cuemby/zaneops/pkg/types"
)

type recordingDispatcher struct {
	dispatched []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, deploymentID string) {
	d.dispatched = append(d.dispatched, deploymentID)
}

func newTestServer(t *testing.T) (*Server, *recordingDispatcher) {
	t.Helper()
	store := storagetest.NewFake()
	proj := &types.Project{ID: "proj-1", Slug: "proj"}
	require.NoError(t, store.CreateProject(context.Background(), proj))
	env := &types.Environment{ID: "env-1", ProjectID: proj.ID}
	require.NoError(t, store.CreateEnvironment(context.Background(), env))

	svc := &types.Service{
		ID:              "svc-1",
		ProjectID:       proj.ID,
		EnvironmentID:   env.ID,
		Slug:            "api",
		Kind:            types.ServiceKindImage,
		Image:           "old-image:v1",
		DeployTokenHash: security.HashDeployToken("plain-token"),
	}
	require.NoError(t, store.CreateService(context.Background(), svc))

	cl := changelog.New(store)
	p := planner.New(store, cl)
	c := cancel.New(store, events.NewBroker())
	dispatcher := &recordingDispatcher{}

	return New(store, nil, p, cl, c, dispatcher, nil), dispatcher
}

func TestHandleDeployTokenEnqueuesDeployment(t *testing.T) {
	srv, dispatcher := newTestServer(t)

	body := strings.NewReader(`{"new_image":"new-image:v2"}`)
	req := httptest.NewRequest(http.MethodPut, "/webhook/deploy/plain-token", body)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, dispatcher.dispatched, 1)
}

func TestHandleDeployTokenRejectsUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/webhook/deploy/wrong-token", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDeployTokenRejectsWrongMethod(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/deploy/plain-token", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleHealthReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleReadyReflectsStorageHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
