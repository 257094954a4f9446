package metrics

import (
	"context"
	"time"

	"github.com/cuemby/zaneops/pkg/storage"
)

// LeaderChecker reports whether this core replica currently holds the
// workflow-resumer leadership; satisfied by pkg/reconciler.LeaderElector.
type LeaderChecker interface {
	IsLeader() bool
}

// Collector periodically samples store-derived gauges (preview environment
// count) and leader-election state into the registered metrics.
type Collector struct {
	store  storage.Store
	leader LeaderChecker
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(store storage.Store, leader LeaderChecker) *Collector {
	return &Collector{
		store:  store,
		leader: leader,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect(ctx)

		for {
			select {
			case <-ticker.C:
				c.collect(ctx)
			case <-c.stopCh:
				ticker.Stop()
				return
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect(ctx context.Context) {
	c.collectPreviewMetrics(ctx)
	c.collectLeaderMetrics()
}

func (c *Collector) collectPreviewMetrics(ctx context.Context) {
	envs, err := c.store.ListActivePreviewEnvironments(ctx)
	if err != nil {
		return
	}
	PreviewEnvironmentsActive.Set(float64(len(envs)))
}

func (c *Collector) collectLeaderMetrics() {
	if c.leader == nil {
		return
	}
	if c.leader.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
}
