package policy

import (
	"sync"
	"time"

	"github.com/fleetpulse/fleetpulse/core"
)

// Known service tiers. TierBusiness is the top tier; only business-tier
// workloads send heartbeats.
const (
	TierFree     = "free"
	TierPro      = "pro"
	TierBusiness = "business"
)

// Change describes the policy state after a tier transition. It is handed
// to the registered listener so the scheduler can re-arm its timers.
type Change struct {
	Tier      string
	Interval  time.Duration
	Heartbeat bool
}

// Listener receives policy changes. It is invoked synchronously from Apply,
// after the new state is fully stored, so a caller awaiting a send never
// observes a stale interval once the send returns.
type Listener func(Change)

// State holds the currently known service tier and the schedule derived
// from it. It is created empty (tier unknown) and mutated only by Apply.
type State struct {
	mu        sync.Mutex
	tier      string
	interval  time.Duration
	heartbeat bool
	listener  Listener
	rules     []ExtractionRule
	logger    core.Logger
}

// NewState creates a policy state with the configured initial interval and
// an unknown tier.
func NewState(initialInterval time.Duration, logger core.Logger) *State {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &State{
		interval: initialInterval,
		rules:    DefaultRules,
		logger:   logger,
	}
}

// OnChange registers the single change listener. The scheduler owns timer
// lifecycle, so it is the only expected subscriber.
func (s *State) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Tier returns the currently stored tier name, empty until the platform
// first declares one.
func (s *State) Tier() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier
}

// Interval returns the currently permitted reporting interval
func (s *State) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// HeartbeatEnabled reports whether the current tier is heartbeat-eligible
func (s *State) HeartbeatEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeat
}

// Apply examines a response payload for tier information and synchronizes
// the stored state with it. It is idempotent: when the extracted tier
// equals the stored tier the call is a strict no-op regardless of interval
// fields present, avoiding redundant timer churn from repeated identical
// responses. Returns true when the state changed.
func (s *State) Apply(payload []byte) bool {
	info, ok := ExtractInfo(payload, s.rules)
	if !ok {
		return false
	}

	s.mu.Lock()
	if info.Tier == s.tier {
		s.mu.Unlock()
		return false
	}

	previous := s.tier
	s.tier = info.Tier
	if info.HasMinutes && info.Minutes > 0 {
		if next := time.Duration(info.Minutes) * time.Minute; next != s.interval {
			s.interval = next
		}
	}
	s.heartbeat = info.Tier == TierBusiness

	change := Change{Tier: s.tier, Interval: s.interval, Heartbeat: s.heartbeat}
	listener := s.listener
	s.mu.Unlock()

	s.logger.Info("Service tier changed", map[string]interface{}{
		"previous":  previous,
		"tier":      change.Tier,
		"interval":  change.Interval.String(),
		"heartbeat": change.Heartbeat,
	})

	if listener != nil {
		listener(change)
	}
	return true
}
