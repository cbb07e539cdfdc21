// Package smartcharge pauses and resumes vehicle charging based on where
// the current spot price sits in its recent distribution.
package smartcharge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chargewatch/chargewatch/internal/models"
	"github.com/chargewatch/chargewatch/internal/pricing"
	"github.com/chargewatch/chargewatch/internal/state"
)

// PriceStats supplies the price distribution the thresholds come from.
type PriceStats interface {
	Get(ctx context.Context, force bool) (*models.PriceStatistics, error)
}

// ChargeCommander issues charge commands to a vehicle.
type ChargeCommander interface {
	StopCharging(ctx context.Context, vin string) error
	StartCharging(ctx context.Context, vin string) error
}

// ActionSink persists control decisions.
type ActionSink interface {
	InsertAction(ctx context.Context, a *models.ActionRecord) error
}

// ActionPublisher pushes control decisions to external subscribers.
type ActionPublisher interface {
	PublishAction(a *models.ActionRecord)
}

// Config tunes the controller.
type Config struct {
	DryRun            bool
	StopPercentile    int
	ResumePercentile  int
	MinActionInterval time.Duration
}

// Controller applies price-based charge control to a fleet of vehicles.
type Controller struct {
	stats     PriceStats
	commander ChargeCommander
	sink      ActionSink
	publisher ActionPublisher
	machines  *state.Manager
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewController creates a controller. sink and publisher may be nil.
func NewController(stats PriceStats, commander ChargeCommander, sink ActionSink, publisher ActionPublisher, machines *state.Manager, cfg Config, logger *zap.Logger) *Controller {
	return &Controller{
		stats:     stats,
		commander: commander,
		sink:      sink,
		publisher: publisher,
		machines:  machines,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate runs one control decision for a vehicle at the current price.
// It returns the action taken, or nil when nothing was done.
func (c *Controller) Evaluate(ctx context.Context, vehicle *models.Vehicle, priceCents float64) (*models.ActionRecord, error) {
	m := c.machines.GetOrCreate(vehicle.VIN)

	// Observed charging status only overrides our own view when we are
	// not the reason the vehicle stopped.
	if !m.PausedByUs() && !m.SimulatedPause() {
		if vehicle.IsCharging() {
			m.Fire(state.EventObserveCharging)
		} else {
			m.Fire(state.EventObserveIdle)
		}
	}

	stats, err := c.stats.Get(ctx, false)
	if err != nil {
		if errors.Is(err, pricing.ErrInsufficientData) {
			// Too little history to trust thresholds. Leave the
			// vehicle alone.
			return nil, nil
		}
		return nil, err
	}

	stopThreshold := stats.Percentile(c.cfg.StopPercentile)
	resumeThreshold := stats.Percentile(c.cfg.ResumePercentile)

	switch m.Current() {
	case state.StateCharging:
		if priceCents > stopThreshold && c.intervalElapsed(m) {
			return c.pause(ctx, m, vehicle.VIN, priceCents, stopThreshold, stats)
		}
	case state.StatePausedByPrice, state.StateWouldPause:
		if priceCents < resumeThreshold && c.intervalElapsed(m) {
			return c.resume(ctx, m, vehicle.VIN, priceCents, resumeThreshold, stats)
		}
	}
	return nil, nil
}

func (c *Controller) intervalElapsed(m *state.Machine) bool {
	last := m.LastAction()
	return last.IsZero() || c.now().Sub(last) >= c.cfg.MinActionInterval
}

func (c *Controller) pause(ctx context.Context, m *state.Machine, vin string, price, threshold float64, stats *models.PriceStatistics) (*models.ActionRecord, error) {
	action := &models.ActionRecord{
		VIN:        vin,
		PriceCents: price,
		Threshold:  threshold,
		Percentile: pricing.PercentileOf(stats, price),
		DryRun:     c.cfg.DryRun,
		Timestamp:  c.now(),
	}

	if c.cfg.DryRun {
		action.Action = models.ActionSimulatedStop
		action.Success = true
		m.Fire(state.EventSimulatePause)
		m.MarkAction(action.Timestamp)
		c.logger.Info("would pause charging",
			zap.String("vin", vin),
			zap.Float64("price", price),
			zap.Float64("threshold", threshold))
		c.record(ctx, action)
		return action, nil
	}

	action.Action = models.ActionStop
	if err := c.commander.StopCharging(ctx, vin); err != nil {
		action.Success = false
		action.Reason = err.Error()
		c.logger.Warn("stop charging failed", zap.String("vin", vin), zap.Error(err))
		c.record(ctx, action)
		return action, nil
	}

	action.Success = true
	m.Fire(state.EventPause)
	m.MarkAction(action.Timestamp)
	c.logger.Info("paused charging on high price",
		zap.String("vin", vin),
		zap.Float64("price", price),
		zap.Float64("threshold", threshold))
	c.record(ctx, action)
	return action, nil
}

func (c *Controller) resume(ctx context.Context, m *state.Machine, vin string, price, threshold float64, stats *models.PriceStatistics) (*models.ActionRecord, error) {
	action := &models.ActionRecord{
		VIN:        vin,
		PriceCents: price,
		Threshold:  threshold,
		Percentile: pricing.PercentileOf(stats, price),
		DryRun:     c.cfg.DryRun,
		Timestamp:  c.now(),
	}

	if m.SimulatedPause() {
		action.Action = models.ActionSimulatedStart
		action.Success = true
		m.Fire(state.EventResume)
		m.MarkAction(action.Timestamp)
		c.logger.Info("would resume charging",
			zap.String("vin", vin),
			zap.Float64("price", price),
			zap.Float64("threshold", threshold))
		c.record(ctx, action)
		return action, nil
	}

	action.Action = models.ActionResume
	if err := c.commander.StartCharging(ctx, vin); err != nil {
		action.Success = false
		action.Reason = err.Error()
		c.logger.Warn("start charging failed", zap.String("vin", vin), zap.Error(err))
		c.record(ctx, action)
		return action, nil
	}

	action.Success = true
	m.Fire(state.EventResume)
	m.MarkAction(action.Timestamp)
	c.logger.Info("resumed charging on low price",
		zap.String("vin", vin),
		zap.Float64("price", price),
		zap.Float64("threshold", threshold))
	c.record(ctx, action)
	return action, nil
}

func (c *Controller) record(ctx context.Context, a *models.ActionRecord) {
	if c.sink != nil {
		if err := c.sink.InsertAction(ctx, a); err != nil {
			c.logger.Warn("action write failed", zap.String("vin", a.VIN), zap.Error(err))
		}
	}
	if c.publisher != nil {
		c.publisher.PublishAction(a)
	}
}

// Thresholds returns the active stop and resume thresholds plus the rank
// of price within the distribution. ok is false while there is not enough
// price history to compute statistics.
func (c *Controller) Thresholds(ctx context.Context, price float64) (stop, resume float64, percentile int, ok bool) {
	stats, err := c.stats.Get(ctx, false)
	if err != nil {
		return 0, 0, 0, false
	}
	return stats.Percentile(c.cfg.StopPercentile),
		stats.Percentile(c.cfg.ResumePercentile),
		pricing.PercentileOf(stats, price),
		true
}

// VehicleStatus describes one vehicle's control state for the API.
type VehicleStatus struct {
	VIN        string    `json:"vin"`
	State      string    `json:"state"`
	Since      time.Time `json:"since,omitempty"`
	LastAction time.Time `json:"last_action,omitempty"`
}

// Status returns the control state of every vehicle seen so far.
func (c *Controller) Status() []VehicleStatus {
	machines := c.machines.All()
	out := make([]VehicleStatus, 0, len(machines))
	for vin, m := range machines {
		out = append(out, VehicleStatus{
			VIN:        vin,
			State:      m.Current(),
			Since:      m.LastChanged(),
			LastAction: m.LastAction(),
		})
	}
	return out
}
