package httpapi

import (
	"fmt"
	"net/http"
	"time"
)

// healthResponse is the /health liveness payload.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// readyResponse is the /ready readiness payload.
type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// handleHealth is a pure liveness check: 200 if the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
}

// handleReady checks whether this replica is ready to accept traffic: the
// storage layer answers, and — if deployed HA — the Raft leader elector
// has settled on a leader (a follower is still "ready", it just isn't the
// one running the reconciler).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if _, err := s.store.ListProjects(r.Context()); err != nil {
		checks["storage"] = fmt.Sprintf("error: %v", err)
		ready = false
		message = "storage not accessible"
	} else {
		checks["storage"] = "ok"
	}

	if s.leader != nil {
		if s.leader.IsLeader() {
			checks["raft"] = "leader"
		} else if addr := s.leader.LeaderAddr(); addr != "" {
			checks["raft"] = fmt.Sprintf("follower (leader: %s)", addr)
		} else {
			checks["raft"] = "no leader elected"
			ready = false
			if message == "" {
				message = "waiting for leader election"
			}
		}
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, readyResponse{Status: status, Timestamp: time.Now(), Checks: checks, Message: message})
}
