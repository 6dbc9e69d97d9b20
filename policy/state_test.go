package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyTierChange(t *testing.T) {
	state := NewState(15*time.Minute, nil)

	var changes []Change
	state.OnChange(func(c Change) { changes = append(changes, c) })

	changed := state.Apply([]byte(`{"tier":{"name":"pro","updateIntervalMinutes":30}}`))
	require.True(t, changed)

	assert.Equal(t, "pro", state.Tier())
	assert.Equal(t, 30*time.Minute, state.Interval())
	assert.False(t, state.HeartbeatEnabled())

	require.Len(t, changes, 1)
	assert.Equal(t, Change{Tier: "pro", Interval: 30 * time.Minute, Heartbeat: false}, changes[0])
}

func TestApplySameTierIsNoOp(t *testing.T) {
	state := NewState(15*time.Minute, nil)
	require.True(t, state.Apply([]byte(`{"tier":"pro","updateIntervalMinutes":30}`)))

	var fired int
	state.OnChange(func(Change) { fired++ })

	// Same tier, even with a different interval declared: strict no-op
	changed := state.Apply([]byte(`{"tier":"pro","updateIntervalMinutes":5}`))
	assert.False(t, changed)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 30*time.Minute, state.Interval())
}

func TestApplyIdempotentForIdenticalResponses(t *testing.T) {
	state := NewState(15*time.Minute, nil)

	var fired int
	state.OnChange(func(Change) { fired++ })

	payload := []byte(`{"tier":{"name":"business","updateIntervalMinutes":10}}`)
	assert.True(t, state.Apply(payload))
	assert.False(t, state.Apply(payload))
	assert.False(t, state.Apply(payload))
	assert.Equal(t, 1, fired)
}

func TestHeartbeatEligibilityFollowsTier(t *testing.T) {
	state := NewState(15*time.Minute, nil)

	state.Apply([]byte(`{"tier":"business"}`))
	assert.True(t, state.HeartbeatEnabled())

	state.Apply([]byte(`{"tier":"free"}`))
	assert.False(t, state.HeartbeatEnabled())

	state.Apply([]byte(`{"tier":"business"}`))
	assert.True(t, state.HeartbeatEnabled())
}

func TestApplyWithoutMinutesKeepsInterval(t *testing.T) {
	state := NewState(15*time.Minute, nil)
	state.Apply([]byte(`{"tier":"pro"}`))

	assert.Equal(t, "pro", state.Tier())
	assert.Equal(t, 15*time.Minute, state.Interval())
}

func TestApplyIgnoresPayloadsWithoutTier(t *testing.T) {
	state := NewState(15*time.Minute, nil)

	var fired int
	state.OnChange(func(Change) { fired++ })

	assert.False(t, state.Apply([]byte(`{"memberCount":5}`)))
	assert.False(t, state.Apply([]byte(`garbage`)))
	assert.False(t, state.Apply(nil))
	assert.Equal(t, 0, fired)
	assert.Equal(t, "", state.Tier())
}

func TestApplyInitialStateIsUnknown(t *testing.T) {
	state := NewState(time.Minute, nil)
	assert.Equal(t, "", state.Tier())
	assert.False(t, state.HeartbeatEnabled())
	assert.Equal(t, time.Minute, state.Interval())
}
