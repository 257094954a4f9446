package reconciler

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// noopFSM is a Raft FSM with no state of its own: this cluster's durable
// state lives in Postgres (pkg/storage), not in the Raft log. Running
// Raft at all buys leader election only, so exactly one replica resumes
// orphaned workflows at a time.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) interface{}         { return nil }
func (noopFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }
func (noopFSM) Restore(rc io.ReadCloser) error      { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}

// LeaderElector wraps a single-purpose Raft group used only to decide
// which replica is allowed to resume orphaned deployment workflows.
// Grounded on the teacher's Manager.Bootstrap — same tuning, same
// BoltDB-backed log/stable stores, minus every piece of cluster state
// the original FSM carried.
type LeaderElector struct {
	nodeID   string
	bindAddr string
	dataDir  string
	raft     *raft.Raft
}

type LeaderConfig struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

func NewLeaderElector(cfg LeaderConfig) (*LeaderElector, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create raft data dir: %w", err)
	}
	return &LeaderElector{nodeID: cfg.NodeID, bindAddr: cfg.BindAddr, dataDir: cfg.DataDir}, nil
}

// Bootstrap starts this node as a single-member Raft cluster. A
// multi-replica deployment joins additional voters via raft.AddVoter
// against whichever node is currently leader, exactly as the teacher's
// Manager.Join does.
func (l *LeaderElector) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(l.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", l.bindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(l.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("create raft transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(l.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(l.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(l.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(config, noopFSM{}, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("create raft instance: %w", err)
	}
	l.raft = r

	future := l.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}},
	})
	return future.Error()
}

// IsLeader satisfies pkg/metrics.LeaderChecker.
func (l *LeaderElector) IsLeader() bool {
	return l.raft != nil && l.raft.State() == raft.Leader
}

func (l *LeaderElector) LeaderAddr() string {
	if l.raft == nil {
		return ""
	}
	return string(l.raft.Leader())
}

func (l *LeaderElector) AddVoter(nodeID, address string) error {
	if !l.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", l.LeaderAddr())
	}
	return l.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}
