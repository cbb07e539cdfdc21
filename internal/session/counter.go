// Package session turns streams of charger and vehicle readings into
// completed charging session records.
package session

import (
	"time"

	"github.com/chargewatch/chargewatch/internal/models"
)

// CounterTracker tracks sessions for a charger that exposes a per-session
// energy counter. Energy is taken from counter deltas, and each delta is
// costed at the spot price in effect when it was observed.
type CounterTracker struct {
	entityID     string
	source       string
	deliveryRate float64
	now          func() time.Time

	active *counterSession
}

type counterSession struct {
	startTime    time.Time
	lastEnergyWh float64
	totalWh      float64
	peakPowerW   float64
	supplyCost   float64
	fullCost     float64
	priceSamples []float64
}

// NewCounterTracker creates a tracker for one charger. deliveryRate is the
// fixed delivery charge in cents per kWh added on top of the spot price.
func NewCounterTracker(entityID, source string, deliveryRate float64) *CounterTracker {
	return &CounterTracker{
		entityID:     entityID,
		source:       source,
		deliveryRate: deliveryRate,
		now:          time.Now,
	}
}

// Update feeds one reading. counterWh is the charger's session energy
// counter, powerW the instantaneous draw, active whether the charger is
// delivering power, and priceCents the spot price at this instant.
// It returns a completed session when charging just stopped, else nil.
func (t *CounterTracker) Update(counterWh, powerW float64, active bool, priceCents float64) *models.Session {
	if active {
		if t.active == nil {
			t.active = &counterSession{
				startTime:    t.now(),
				lastEnergyWh: counterWh,
				peakPowerW:   powerW,
			}
			return nil
		}
		s := t.active

		incremental := counterWh - s.lastEnergyWh
		if counterWh < s.lastEnergyWh {
			// Counter reset mid-session. Treat the new value as
			// energy accumulated since the reset.
			incremental = counterWh
		}
		if incremental > 0 {
			kwh := incremental / 1000
			s.supplyCost += kwh * priceCents
			s.fullCost += kwh * (priceCents + t.deliveryRate)
			if priceCents > 0 {
				s.priceSamples = append(s.priceSamples, priceCents)
			}
			s.totalWh += incremental
		}
		s.lastEnergyWh = counterWh
		if powerW > s.peakPowerW {
			s.peakPowerW = powerW
		}
		return nil
	}

	if t.active == nil {
		return nil
	}

	s := t.active
	t.active = nil

	finalWh := counterWh
	if finalWh == 0 {
		finalWh = s.totalWh
	}

	avgPrice := 0.0
	if len(s.priceSamples) > 0 {
		sum := 0.0
		for _, p := range s.priceSamples {
			sum += p
		}
		avgPrice = sum / float64(len(s.priceSamples))
	}

	supplyCost := s.supplyCost
	fullCost := s.fullCost
	if avgPrice > 0 {
		kwh := finalWh / 1000
		supplyCost = kwh * avgPrice
		fullCost = kwh * (avgPrice + t.deliveryRate)
	}

	end := t.now()
	return &models.Session{
		EntityID:        t.entityID,
		Source:          t.source,
		StartTime:       s.startTime,
		EndTime:         end,
		DurationS:       end.Sub(s.startTime).Seconds(),
		EnergyWh:        finalWh,
		PeakPowerW:      s.peakPowerW,
		AvgPriceCents:   avgPrice,
		SupplyCostCents: supplyCost,
		FullCostCents:   fullCost,
	}
}

// State returns a snapshot of the in-progress session, or nil when idle.
func (t *CounterTracker) State() *models.SessionState {
	if t.active == nil {
		return nil
	}
	s := t.active
	return &models.SessionState{
		EntityID:        t.entityID,
		Source:          t.source,
		StartTime:       s.startTime,
		EnergyWh:        s.totalWh,
		PeakPowerW:      s.peakPowerW,
		SupplyCostCents: s.supplyCost,
		FullCostCents:   s.fullCost,
	}
}

// Active reports whether a session is in progress.
func (t *CounterTracker) Active() bool {
	return t.active != nil
}
