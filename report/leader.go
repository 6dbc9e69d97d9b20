// Package report contains the adaptive reporting loop: leadership
// resolution, metrics collection across workers, and the dual-timer
// scheduler that drives stats posts and heartbeats.
package report

import "github.com/fleetpulse/fleetpulse/core"

// IsLeader determines whether this worker drives the reporting schedule.
// Only the worker with the topology-assigned lowest index reports;
// unsharded deployments are leader by definition. Followers suppress
// reporting entirely so a fleet of cooperating workers never submits the
// same logical workload twice.
func IsLeader(topo core.Topology, logger core.Logger) bool {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	if topo == nil {
		logger.Debug("No sharding context, assuming leadership", nil)
		return true
	}

	index, sharded := topo.LocalIndex()
	if !sharded {
		logger.Debug("Topology is unsharded, assuming leadership", nil)
		return true
	}

	if index == 0 {
		logger.Info("Elected reporting leader", map[string]interface{}{
			"index":   index,
			"workers": topo.WorkerCount(),
		})
		return true
	}

	logger.Info("Following, reporting suppressed", map[string]interface{}{
		"index":   index,
		"workers": topo.WorkerCount(),
	})
	return false
}
