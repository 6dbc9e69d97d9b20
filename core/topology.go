package core

import "context"

// Counts carries the size metrics one worker contributes: how many
// partitions it serves and the total members across them.
type Counts struct {
	Partitions int
	Members    int
}

// Workload is the narrow view of the host workload the collector reads in a
// single-process deployment. Ready reports whether the workload has signaled
// readiness; Counts must not be called before that.
type Workload interface {
	Ready() bool
	Counts() (Counts, error)
}

// Topology is the narrow view of a multi-worker deployment. The agent never
// manages workers itself; it only reads the topology the host workload
// exposes and queries sibling workers for their local counts.
type Topology interface {
	// WorkerCount returns the total number of cooperating workers.
	WorkerCount() int

	// LocalIndex returns this worker's assigned index and whether the
	// deployment is sharded at all. Unsharded deployments report
	// (0, false).
	LocalIndex() (index int, sharded bool)

	// QueryWorker asks the worker at the given index for its local counts.
	// Blocking; honors ctx cancellation.
	QueryWorker(ctx context.Context, index int) (Counts, error)
}
