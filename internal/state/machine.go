// Package state models the smart charging lifecycle of each vehicle as a
// finite state machine.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Vehicle charge control states.
const (
	StateUnknown       = "unknown"
	StateCharging      = "charging"
	StateNotCharging   = "not_charging"
	StatePausedByPrice = "paused_by_price"
	StateWouldPause    = "would_pause"
)

// Transition events.
const (
	EventObserveCharging = "observe_charging"
	EventObserveIdle     = "observe_idle"
	EventPause           = "pause"
	EventSimulatePause   = "simulate_pause"
	EventResume          = "resume"
)

// Machine tracks one vehicle's control state.
type Machine struct {
	mu          sync.RWMutex
	vin         string
	fsm         *fsm.FSM
	logger      *zap.Logger
	lastAction  time.Time
	lastChanged time.Time
}

// NewMachine creates a machine in the unknown state.
func NewMachine(vin string, logger *zap.Logger) *Machine {
	m := &Machine{
		vin:    vin,
		logger: logger,
	}
	m.fsm = fsm.NewFSM(
		StateUnknown,
		fsm.Events{
			{Name: EventObserveCharging, Src: []string{StateUnknown, StateNotCharging}, Dst: StateCharging},
			{Name: EventObserveIdle, Src: []string{StateUnknown, StateCharging}, Dst: StateNotCharging},
			{Name: EventPause, Src: []string{StateCharging}, Dst: StatePausedByPrice},
			{Name: EventSimulatePause, Src: []string{StateCharging}, Dst: StateWouldPause},
			{Name: EventResume, Src: []string{StatePausedByPrice, StateWouldPause}, Dst: StateCharging},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.lastChanged = time.Now()
				logger.Debug("control state changed",
					zap.String("vin", vin),
					zap.String("from", e.Src),
					zap.String("to", e.Dst))
			},
		},
	)
	return m
}

// Current returns the current state.
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Fire attempts a transition, returning false when the event is not valid
// from the current state.
func (m *Machine) Fire(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return false
	}
	return true
}

// Can reports whether the event is valid from the current state.
func (m *Machine) Can(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// PausedByUs reports whether this machine issued a live pause.
func (m *Machine) PausedByUs() bool {
	return m.Current() == StatePausedByPrice
}

// SimulatedPause reports whether this machine issued a dry-run pause.
func (m *Machine) SimulatedPause() bool {
	return m.Current() == StateWouldPause
}

// LastChanged returns when this machine last changed state, or the zero
// time before the first transition.
func (m *Machine) LastChanged() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChanged
}

// LastAction returns when this machine last issued a control action.
func (m *Machine) LastAction() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAction
}

// MarkAction records that a control action was just issued.
func (m *Machine) MarkAction(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAction = at
}

// Manager hands out one machine per VIN.
type Manager struct {
	mu       sync.Mutex
	machines map[string]*Machine
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		machines: make(map[string]*Machine),
		logger:   logger,
	}
}

// GetOrCreate returns the machine for a VIN, creating it on first use.
func (mgr *Manager) GetOrCreate(vin string) *Machine {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	m, ok := mgr.machines[vin]
	if !ok {
		m = NewMachine(vin, mgr.logger)
		mgr.machines[vin] = m
	}
	return m
}

// All returns a snapshot of every machine keyed by VIN.
func (mgr *Manager) All() map[string]*Machine {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	out := make(map[string]*Machine, len(mgr.machines))
	for vin, m := range mgr.machines {
		out[vin] = m
	}
	return out
}
