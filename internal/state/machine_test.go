package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMachineTransitions(t *testing.T) {
	m := NewMachine("VIN1", zap.NewNop())
	assert.Equal(t, StateUnknown, m.Current())
	assert.False(t, m.Can(EventPause))

	assert.True(t, m.Fire(EventObserveCharging))
	assert.Equal(t, StateCharging, m.Current())
	assert.True(t, m.Can(EventPause))

	assert.True(t, m.Fire(EventPause))
	assert.Equal(t, StatePausedByPrice, m.Current())
	assert.True(t, m.PausedByUs())

	// A paused vehicle cannot be paused again.
	assert.False(t, m.Can(EventPause))
	assert.False(t, m.Fire(EventPause))

	assert.True(t, m.Fire(EventResume))
	assert.Equal(t, StateCharging, m.Current())
	assert.False(t, m.PausedByUs())
}

func TestMachineSimulatedPause(t *testing.T) {
	m := NewMachine("VIN1", zap.NewNop())
	m.Fire(EventObserveCharging)

	assert.True(t, m.Fire(EventSimulatePause))
	assert.True(t, m.SimulatedPause())
	assert.False(t, m.PausedByUs())

	assert.True(t, m.Fire(EventResume))
	assert.Equal(t, StateCharging, m.Current())
}

func TestMachineObservedIdleDoesNotClearPause(t *testing.T) {
	m := NewMachine("VIN1", zap.NewNop())
	m.Fire(EventObserveCharging)
	m.Fire(EventPause)

	// The vehicle reads as idle because we paused it. Only a resume
	// leaves the paused state.
	assert.False(t, m.Fire(EventObserveIdle))
	assert.Equal(t, StatePausedByPrice, m.Current())
}

func TestMachineActionTimestamps(t *testing.T) {
	m := NewMachine("VIN1", zap.NewNop())
	assert.True(t, m.LastAction().IsZero())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.MarkAction(at)
	assert.Equal(t, at, m.LastAction())
}

func TestMachineTracksLastChange(t *testing.T) {
	m := NewMachine("VIN1", zap.NewNop())
	assert.True(t, m.LastChanged().IsZero())

	before := time.Now()
	m.Fire(EventObserveCharging)
	changed := m.LastChanged()
	assert.False(t, changed.Before(before))

	// A rejected event leaves the timestamp alone.
	m.Fire(EventResume)
	assert.Equal(t, changed, m.LastChanged())
}

func TestManagerReusesMachines(t *testing.T) {
	mgr := NewManager(zap.NewNop())
	a := mgr.GetOrCreate("VIN1")
	b := mgr.GetOrCreate("VIN1")
	c := mgr.GetOrCreate("VIN2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Len(t, mgr.All(), 2)
}
