// Package httpapi is the thin request layer (§6): a plain net/http mux in
// front of the Webhook Router and Deployment Planner, for the handful of
// endpoints the spec actually names — GitHub/GitLab webhook ingress, the
// deploy-token redeploy endpoint, preview-environment review, and the
// ambient health/ready/metrics set. Everything else (project/service
// CRUD, the dashboard) is out of scope per §1 and is not reachable here.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/zaneops/pkg/cancel"
	"github.com/cuemby/zaneops/pkg/changelog"
	"github.com/cuemby/zaneops/pkg/log"
	"github.com/cuemby/zaneops/pkg/metrics"
	"github.com/cuemby/zaneops/pkg/planner"
	"github.com/cuemby/zaneops/pkg/reconciler"
	"github.com/cuemby/zaneops/pkg/security"
	"github.com/cuemby/zaneops/pkg/storage"
	"github.com/cuemby/zaneops/pkg/webhook"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// Dispatcher hands a planned deployment to the workflow tier; satisfied
// by the same adapter wired into webhook.Router so a manual redeploy and
// an auto-deploy push enter the executor identically.
type Dispatcher interface {
	Dispatch(ctx context.Context, deploymentID string)
}

// Server wires the request layer's handlers to the domain packages.
type Server struct {
	store      storage.Store
	webhook    *webhook.Router
	planner    *planner.Planner
	changelog  *changelog.Log
	cancel     *cancel.Coordinator
	dispatcher Dispatcher
	leader     *reconciler.LeaderElector
	mux        *http.ServeMux
}

// New builds the Server and registers every route.
func New(store storage.Store, wh *webhook.Router, p *planner.Planner, cl *changelog.Log, c *cancel.Coordinator, dispatcher Dispatcher, leader *reconciler.LeaderElector) *Server {
	mux := http.NewServeMux()
	s := &Server{
		store:      store,
		webhook:    wh,
		planner:    p,
		changelog:  cl,
		cancel:     c,
		dispatcher: dispatcher,
		leader:     leader,
		mux:        mux,
	}

	mux.HandleFunc("/webhook/github", s.handleGitHubWebhook)
	mux.HandleFunc("/webhook/gitlab", s.handleGitLabWebhook)
	mux.HandleFunc("/webhook/deploy/", s.handleDeployToken)
	mux.HandleFunc("/environments/", s.handleReviewDeploy)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Start runs the HTTP server on addr, blocking until it exits.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

// GetHandler returns the mux for embedding in another server or in tests.
func (s *Server) GetHandler() http.Handler {
	return s.mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := zerr.HTTPStatus(zerr.KindOf(err))
	if status >= http.StatusInternalServerError {
		httpLog.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// pathSuffix trims prefix off r.URL.Path and rejects an empty remainder,
// the pattern every trailing-segment route (/webhook/deploy/<token>,
// /environments/<id>/review_deploy) needs.
func pathSuffix(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	suffix := strings.TrimPrefix(path, prefix)
	if suffix == "" {
		return "", false
	}
	return suffix, true
}

var httpLog = log.WithComponent("httpapi")
