// Package correlate pairs charger-side and vehicle-side session records
// that describe the same physical charge, yielding efficiency measurements.
package correlate

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/chargewatch/chargewatch/internal/models"
)

// Correlator holds recently completed sessions from both sides and matches
// them by start and end proximity.
type Correlator struct {
	window time.Duration
	logger *zap.Logger
	now    func() time.Time

	chargers []*models.Session
	vehicles []*models.VehicleSession
}

// NewCorrelator creates a correlator. Sessions whose start and end times
// each differ by no more than window are considered the same charge.
func NewCorrelator(window time.Duration, logger *zap.Logger) *Correlator {
	return &Correlator{
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// AddChargerSession adds a completed charger-side session to the pool.
func (c *Correlator) AddChargerSession(s *models.Session) {
	c.chargers = append(c.chargers, s)
}

// AddVehicleSession adds a completed vehicle-side session to the pool.
func (c *Correlator) AddVehicleSession(s *models.VehicleSession) {
	c.vehicles = append(c.vehicles, s)
}

// Match prunes stale pool entries, then pairs the best-aligned charger and
// vehicle session if one exists. Matched sessions leave the pool. It
// returns nil when no pair aligns, or when either side reported no energy.
// At most one pair is matched per call.
func (c *Correlator) Match() *models.EfficiencyRecord {
	c.prune()

	bestCharger, bestVehicle := -1, -1
	bestDelta := math.MaxFloat64

	for i, cs := range c.chargers {
		for j, vs := range c.vehicles {
			startDelta := absDuration(cs.StartTime.Sub(vs.StartTime))
			endDelta := absDuration(cs.EndTime.Sub(vs.EndTime))
			if startDelta > c.window || endDelta > c.window {
				continue
			}
			combined := startDelta.Seconds() + endDelta.Seconds()
			if combined < bestDelta {
				bestDelta = combined
				bestCharger, bestVehicle = i, j
			}
		}
	}

	if bestCharger < 0 {
		return nil
	}

	cs := c.chargers[bestCharger]
	vs := c.vehicles[bestVehicle]
	c.chargers = append(c.chargers[:bestCharger], c.chargers[bestCharger+1:]...)
	c.vehicles = append(c.vehicles[:bestVehicle], c.vehicles[bestVehicle+1:]...)

	chargerKWh := cs.EnergyKWh()
	vehicleKWh := vs.EnergyAddedKWh
	if chargerKWh <= 0 || vehicleKWh <= 0 {
		c.logger.Debug("matched sessions lack energy data",
			zap.String("charger", cs.EntityID),
			zap.String("vin", vs.VIN))
		return nil
	}

	efficiency := vehicleKWh / chargerKWh * 100

	return &models.EfficiencyRecord{
		ChargerID:        cs.EntityID,
		VIN:              vs.VIN,
		DisplayName:      vs.DisplayName,
		ChargerEnergyKWh: chargerKWh,
		VehicleEnergyKWh: vehicleKWh,
		EfficiencyPct:    efficiency,
		LossKWh:          chargerKWh - vehicleKWh,
		LossPct:          100 - efficiency,
		StartTime:        cs.StartTime,
	}
}

// PoolSizes returns how many sessions wait on each side.
func (c *Correlator) PoolSizes() (chargers, vehicles int) {
	return len(c.chargers), len(c.vehicles)
}

// prune drops sessions too old to ever match a future arrival.
func (c *Correlator) prune() {
	cutoff := c.now().Add(-2 * c.window)

	kept := c.chargers[:0]
	for _, s := range c.chargers {
		if s.EndTime.After(cutoff) {
			kept = append(kept, s)
		} else {
			c.logger.Debug("dropping unmatched charger session",
				zap.String("charger", s.EntityID),
				zap.Time("ended", s.EndTime))
		}
	}
	c.chargers = kept

	keptV := c.vehicles[:0]
	for _, s := range c.vehicles {
		if s.EndTime.After(cutoff) {
			keptV = append(keptV, s)
		} else {
			c.logger.Debug("dropping unmatched vehicle session",
				zap.String("vin", s.VIN),
				zap.Time("ended", s.EndTime))
		}
	}
	c.vehicles = keptV
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
