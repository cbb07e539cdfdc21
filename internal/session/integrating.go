package session

import (
	"time"

	"github.com/chargewatch/chargewatch/internal/models"
)

// IntegratingTracker tracks sessions for chargers that only report
// instantaneous power. Energy is integrated over time with the trapezoid
// rule between consecutive readings. One tracker handles many units,
// keyed by entity ID.
type IntegratingTracker struct {
	source       string
	deliveryRate float64
	minEnergyKWh float64
	minDuration  time.Duration
	now          func() time.Time

	active map[string]*integratingSession
}

type integratingSession struct {
	vin        string
	startTime  time.Time
	lastTime   time.Time
	lastPowerW float64
	totalWh    float64
	peakPowerW float64
	supplyCost float64
	fullCost   float64
	priceSum   float64
	priceCount int
}

// NewIntegratingTracker creates a tracker. Sessions below minEnergyKWh or
// shorter than minDuration are discarded on close.
func NewIntegratingTracker(source string, deliveryRate, minEnergyKWh float64, minDuration time.Duration) *IntegratingTracker {
	return &IntegratingTracker{
		source:       source,
		deliveryRate: deliveryRate,
		minEnergyKWh: minEnergyKWh,
		minDuration:  minDuration,
		now:          time.Now,
		active:       make(map[string]*integratingSession),
	}
}

// Update feeds one reading for one unit. vin may be empty and is picked up
// whenever the source reports it mid-session. It returns a completed
// session when charging just stopped and the session clears the minimum
// thresholds, else nil.
func (t *IntegratingTracker) Update(entityID, vin string, powerW float64, active bool, priceCents float64) *models.Session {
	nowT := t.now()

	if active {
		s, ok := t.active[entityID]
		if !ok {
			t.active[entityID] = &integratingSession{
				vin:        vin,
				startTime:  nowT,
				lastTime:   nowT,
				lastPowerW: powerW,
				peakPowerW: powerW,
			}
			return nil
		}

		if vin != "" {
			s.vin = vin
		}

		elapsed := nowT.Sub(s.lastTime).Seconds()
		if elapsed > 0 {
			incWh := (s.lastPowerW + powerW) / 2 * (elapsed / 3600)
			if incWh > 0 {
				kwh := incWh / 1000
				s.supplyCost += kwh * priceCents
				s.fullCost += kwh * (priceCents + t.deliveryRate)
				if priceCents > 0 {
					s.priceSum += priceCents
					s.priceCount++
				}
				s.totalWh += incWh
			}
		}
		s.lastTime = nowT
		s.lastPowerW = powerW
		if powerW > s.peakPowerW {
			s.peakPowerW = powerW
		}
		return nil
	}

	s, ok := t.active[entityID]
	if !ok {
		return nil
	}
	delete(t.active, entityID)

	duration := nowT.Sub(s.startTime)
	if s.totalWh/1000 < t.minEnergyKWh || duration < t.minDuration {
		return nil
	}

	avgPrice := 0.0
	if s.priceCount > 0 {
		avgPrice = s.priceSum / float64(s.priceCount)
	}

	supplyCost := s.supplyCost
	fullCost := s.fullCost
	if avgPrice > 0 {
		kwh := s.totalWh / 1000
		supplyCost = kwh * avgPrice
		fullCost = kwh * (avgPrice + t.deliveryRate)
	}

	return &models.Session{
		EntityID:        entityID,
		VIN:             s.vin,
		Source:          t.source,
		StartTime:       s.startTime,
		EndTime:         nowT,
		DurationS:       duration.Seconds(),
		EnergyWh:        s.totalWh,
		PeakPowerW:      s.peakPowerW,
		AvgPriceCents:   avgPrice,
		SupplyCostCents: supplyCost,
		FullCostCents:   fullCost,
	}
}

// States returns snapshots of all in-progress sessions.
func (t *IntegratingTracker) States() []*models.SessionState {
	states := make([]*models.SessionState, 0, len(t.active))
	for id, s := range t.active {
		states = append(states, &models.SessionState{
			EntityID:        id,
			VIN:             s.vin,
			Source:          t.source,
			StartTime:       s.startTime,
			EnergyWh:        s.totalWh,
			PeakPowerW:      s.peakPowerW,
			SupplyCostCents: s.supplyCost,
			FullCostCents:   s.fullCost,
		})
	}
	return states
}
