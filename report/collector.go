package report

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetpulse/fleetpulse/core"
)

// gatherTimeout bounds one multi-worker aggregation round. A worker that
// has not answered by then contributes zero rather than blocking the
// reporting schedule.
const gatherTimeout = 10 * time.Second

// Snapshot is a point-in-time aggregation of workload size metrics.
// It is produced fresh on every send and never cached across sends.
type Snapshot struct {
	WorkloadID string    `json:"id"`
	Partitions int       `json:"partitionCount"`
	Members    int       `json:"memberCount"`
	Workers    int       `json:"workerCount"`
	CapturedAt time.Time `json:"timestamp"`
}

// Collector produces metrics snapshots from the host workload, aggregating
// across workers when a sharded topology is present.
type Collector struct {
	workloadID string
	workload   core.Workload
	topology   core.Topology
	logger     core.Logger
}

// NewCollector creates a collector. topology may be nil for single-process
// deployments.
func NewCollector(workloadID string, workload core.Workload, topology core.Topology, logger core.Logger) *Collector {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Collector{
		workloadID: workloadID,
		workload:   workload,
		topology:   topology,
		logger:     logger,
	}
}

// Snapshot captures current workload counts. It fails with
// core.ErrWorkloadNotReady when the host workload has not signaled
// readiness yet; a partial or default snapshot is never returned silently.
func (c *Collector) Snapshot(ctx context.Context) (*Snapshot, error) {
	if c.workload == nil || !c.workload.Ready() {
		return nil, core.NewAgentError("collector.Snapshot", "collector", core.ErrWorkloadNotReady)
	}

	if c.topology != nil && c.topology.WorkerCount() > 1 {
		return c.gather(ctx)
	}

	counts, err := c.workload.Counts()
	if err != nil {
		return nil, core.NewAgentError("collector.Snapshot", "collector", err)
	}
	return &Snapshot{
		WorkloadID: c.workloadID,
		Partitions: counts.Partitions,
		Members:    counts.Members,
		Workers:    1,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// gather fans a read-only aggregation request out to every worker and sums
// the results. A worker that errors or times out contributes zero with a
// logged warning; the round never blocks past gatherTimeout.
func (c *Collector) gather(ctx context.Context) (*Snapshot, error) {
	workers := c.topology.WorkerCount()

	ctx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()

	var mu sync.Mutex
	total := core.Counts{}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		index := i
		g.Go(func() error {
			counts, err := c.topology.QueryWorker(gctx, index)
			if err != nil {
				c.logger.Warn("Worker did not answer aggregation request", map[string]interface{}{
					"worker": index,
					"error":  err.Error(),
				})
				return nil
			}
			mu.Lock()
			total.Partitions += counts.Partitions
			total.Members += counts.Members
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors (missing answers degrade to zero), so
	// Wait only synchronizes the fan-out.
	_ = g.Wait()

	return &Snapshot{
		WorkloadID: c.workloadID,
		Partitions: total.Partitions,
		Members:    total.Members,
		Workers:    workers,
		CapturedAt: time.Now().UTC(),
	}, nil
}
