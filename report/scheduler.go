package report

import (
	"context"
	"sync"
	"time"

	"github.com/fleetpulse/fleetpulse/core"
	"github.com/fleetpulse/fleetpulse/policy"
)

// HeartbeatInterval is the fixed heartbeat cadence, independent of the
// reporting interval.
const HeartbeatInterval = 5 * time.Minute

// Scheduler owns the lifecycle of the two reporting timers. All interval
// changes go through Rearm, which atomically cancels the previous stats
// loop before installing the new one; nothing else mutates timer state, so
// an already-armed timer can never keep running at a stale interval.
//
// States: idle -> running -> idle. Stop cancels both timers unconditionally
// and is always safe to call, including when already idle.
type Scheduler struct {
	state     *policy.State
	report    func(ctx context.Context)
	heartbeat func(ctx context.Context)
	logger    core.Logger

	mu        sync.Mutex
	running   bool
	ctx       context.Context
	statsStop chan struct{}
	hbStop    chan struct{}
	wg        sync.WaitGroup
}

// NewScheduler creates a scheduler driven by the given policy state. The
// scheduler registers itself as the state's change listener; policy changes
// re-arm the timers.
func NewScheduler(state *policy.State, report, heartbeat func(ctx context.Context), logger core.Logger) *Scheduler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &Scheduler{
		state:     state,
		report:    report,
		heartbeat: heartbeat,
		logger:    logger,
	}
	state.OnChange(s.Rearm)
	return s
}

// Start enters the running state: one immediate synchronous report, then
// the stats timer at the current policy interval, and the heartbeat timer
// when the current tier is eligible. Only the leader path calls Start,
// after the host workload has signaled readiness.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return core.ErrAlreadyStarted
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	// First report happens before any timer is armed
	s.report(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		// Stopped during the initial report
		return nil
	}
	// The initial report may already have armed the loops through a policy
	// change; never install a second one.
	if s.statsStop == nil {
		s.startStatsLocked(s.state.Interval())
	}
	if s.state.HeartbeatEnabled() {
		s.startHeartbeatLocked()
	}
	s.logger.Info("Reporting schedule started", map[string]interface{}{
		"interval":  s.state.Interval().String(),
		"heartbeat": s.state.HeartbeatEnabled(),
	})
	return nil
}

// Rearm applies a policy change to the running timers: the previous stats
// loop is cancelled before the new one is installed, and the heartbeat
// timer is started or stopped to match eligibility. No-op when idle; Start
// reads the state fresh anyway.
func (s *Scheduler) Rearm(change policy.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	s.stopStatsLocked()
	s.startStatsLocked(change.Interval)

	if change.Heartbeat {
		s.startHeartbeatLocked()
	} else {
		s.stopHeartbeatLocked()
	}

	s.logger.Info("Reporting schedule re-armed", map[string]interface{}{
		"tier":      change.Tier,
		"interval":  change.Interval.String(),
		"heartbeat": change.Heartbeat,
	})
}

// Stop cancels both timers unconditionally and waits for the timer
// goroutines to exit. In-flight sends are not interrupted; they complete or
// exhaust their retries naturally.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopStatsLocked()
	s.stopHeartbeatLocked()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
}

// Running reports whether the scheduler is in the running state
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// HeartbeatArmed reports whether the heartbeat timer is currently armed
func (s *Scheduler) HeartbeatArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hbStop != nil
}

func (s *Scheduler) startStatsLocked(interval time.Duration) {
	stop := make(chan struct{})
	s.statsStop = stop
	ctx := s.ctx

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			// Cancellation wins over a pending tick
			select {
			case <-stop:
				return
			default:
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.report(ctx)
			}
		}
	}()
}

func (s *Scheduler) stopStatsLocked() {
	if s.statsStop != nil {
		close(s.statsStop)
		s.statsStop = nil
	}
}

// startHeartbeatLocked arms the heartbeat timer with one immediate beat
// plus the fixed cadence. No-op when already armed.
func (s *Scheduler) startHeartbeatLocked() {
	if s.hbStop != nil {
		return
	}
	stop := make(chan struct{})
	s.hbStop = stop
	ctx := s.ctx

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeat(ctx)
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			default:
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.heartbeat(ctx)
			}
		}
	}()
}

func (s *Scheduler) stopHeartbeatLocked() {
	if s.hbStop != nil {
		close(s.hbStop)
		s.hbStop = nil
	}
}
