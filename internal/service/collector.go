// Package service runs the collection loop that polls every data source,
// feeds the session trackers and drives smart charging.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chargewatch/chargewatch/internal/api/comed"
	"github.com/chargewatch/chargewatch/internal/api/fleet"
	"github.com/chargewatch/chargewatch/internal/api/twc"
	"github.com/chargewatch/chargewatch/internal/config"
	"github.com/chargewatch/chargewatch/internal/correlate"
	"github.com/chargewatch/chargewatch/internal/models"
	"github.com/chargewatch/chargewatch/internal/publisher"
	"github.com/chargewatch/chargewatch/internal/repository"
	"github.com/chargewatch/chargewatch/internal/session"
	"github.com/chargewatch/chargewatch/internal/smartcharge"
	"github.com/chargewatch/chargewatch/internal/state"
	"github.com/chargewatch/chargewatch/pkg/ws"
)

// TelemetrySink is the slice of the telemetry repository the collector
// writes through. *repository.TelemetryRepo implements it.
type TelemetrySink interface {
	AppendAsync(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
	InsertPrices(ctx context.Context, samples []models.PriceSample) (int, error)
	OldestPriceTime(ctx context.Context) (time.Time, error)
	HasPricesForPeriod(ctx context.Context, start, end time.Time) (bool, error)
	AveragePriceForPeriod(ctx context.Context, start, end time.Time) (float64, error)
	PriceDaysAvailable(ctx context.Context, lookbackDays int) (int, error)
}

// Collector owns the poll loop. All tracker state is mutated only on the
// loop goroutine: poll tasks do their network I/O concurrently and return
// fold closures that the loop applies one at a time.
type Collector struct {
	cfg    *config.Config
	logger *zap.Logger

	twc   *twc.Client
	fleet *fleet.Client
	comed *comed.Client

	telemetry  TelemetrySink
	sessions   *repository.SessionRepo
	controller *smartcharge.Controller
	correlator *correlate.Correlator
	hub        *ws.Hub
	pub        *publisher.MQTT

	counterTracker *session.CounterTracker
	fleetTracker   *session.IntegratingTracker
	vehicleTracker *session.VehicleTracker

	currentPrice float64
	lastPoll     map[string]time.Time
	now          func() time.Time

	// Read-side snapshot for API handlers, rebuilt after every tick.
	mu           sync.RWMutex
	liveSessions []*models.SessionState
	vehicles     map[string]*models.Vehicle
	snapPrice    float64
}

// Deps carries the collector's collaborators. TWC, Fleet, Controller,
// Hub and Pub may be nil when the corresponding feature is disabled.
type Deps struct {
	TWC        *twc.Client
	Fleet      *fleet.Client
	Comed      *comed.Client
	Telemetry  TelemetrySink
	Sessions   *repository.SessionRepo
	Controller *smartcharge.Controller
	Hub        *ws.Hub
	Pub        *publisher.MQTT
}

func NewCollector(cfg *config.Config, deps Deps, logger *zap.Logger) *Collector {
	return &Collector{
		cfg:        cfg,
		logger:     logger,
		twc:        deps.TWC,
		fleet:      deps.Fleet,
		comed:      deps.Comed,
		telemetry:  deps.Telemetry,
		sessions:   deps.Sessions,
		controller: deps.Controller,
		correlator: correlate.NewCorrelator(cfg.CorrelationWindow, logger),
		hub:        deps.Hub,
		pub:        deps.Pub,

		counterTracker: session.NewCounterTracker(cfg.TWCID, "twc_local", cfg.DeliveryRateCents),
		fleetTracker: session.NewIntegratingTracker("fleet_twc", cfg.DeliveryRateCents,
			cfg.MinSessionEnergyKWh, cfg.MinSessionDuration),
		vehicleTracker: session.NewVehicleTracker(),

		lastPoll: make(map[string]time.Time),
		now:      time.Now,
		vehicles: make(map[string]*models.Vehicle),
	}
}

// Run drives the poll loop until the context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	c.logger.Info("collector started",
		zap.Bool("twc", c.twc != nil),
		zap.Bool("fleet", c.fleet != nil),
		zap.Bool("smart_charging", c.controller != nil))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// due reports whether a named source is ready to poll again and marks it
// polled when it is.
func (c *Collector) due(name string, interval time.Duration) bool {
	now := c.now()
	last, ok := c.lastPoll[name]
	if ok && now.Sub(last) < interval {
		return false
	}
	c.lastPoll[name] = now
	return true
}

func (c *Collector) tick(ctx context.Context) {
	type task struct {
		name string
		run  func(context.Context) func()
	}
	var tasks []task

	if c.twc != nil {
		if c.due("vitals", c.cfg.VitalsInterval) {
			tasks = append(tasks, task{"vitals", c.pollVitals})
		}
		if c.due("lifetime", c.cfg.LifetimeInterval) {
			tasks = append(tasks, task{"lifetime", c.pollLifetime})
		}
		if c.due("version", c.cfg.VersionInterval) {
			tasks = append(tasks, task{"version", c.pollVersion})
		}
		if c.due("wifi", c.cfg.WifiInterval) {
			tasks = append(tasks, task{"wifi", c.pollWifi})
		}
	}
	if c.due("price", c.cfg.PriceInterval) {
		tasks = append(tasks, task{"price", c.pollPrice})
	}
	if c.fleet != nil {
		if c.due("vehicles", c.cfg.VehicleInterval) {
			tasks = append(tasks, task{"vehicles", c.pollVehicles})
		}
		if c.cfg.EnergySiteID != "" && c.due("fleet_twc", c.cfg.FleetTWCInterval) {
			tasks = append(tasks, task{"fleet_twc", c.pollFleetTWC})
		}
		if c.due("charge_history", c.cfg.ChargeHistoryInterval) {
			tasks = append(tasks, task{"charge_history", c.pollChargeHistory})
		}
	}
	if len(tasks) == 0 {
		return
	}

	folds := make(chan func(), len(tasks))
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			if fold := t.run(ctx); fold != nil {
				folds <- fold
			}
		}(t)
	}
	wg.Wait()
	close(folds)

	for fold := range folds {
		fold()
	}

	for {
		rec := c.correlator.Match()
		if rec == nil {
			break
		}
		c.handleEfficiency(ctx, rec)
	}

	c.rebuildSnapshot()
}

func (c *Collector) pollVitals(ctx context.Context) func() {
	vitals, err := c.twc.Vitals(ctx)
	if err != nil {
		c.logger.Warn("vitals poll failed", zap.Error(err))
		return nil
	}

	c.telemetry.AppendAsync("charger_vitals",
		map[string]string{"entity_id": c.cfg.TWCID},
		map[string]any{
			"grid_v":            vitals.GridV,
			"grid_hz":           vitals.GridHz,
			"vehicle_current_a": vitals.VehicleCurrentA,
			"power_w":           vitals.PowerW(),
			"session_energy_wh": vitals.SessionEnergyWh,
			"pcba_temp_c":       vitals.PCBATempC,
			"handle_temp_c":     vitals.HandleTempC,
			"evse_state":        vitals.EVSEState,
			"contactor_closed":  vitals.ContactorClosed,
		}, c.now())

	return func() {
		s := c.counterTracker.Update(vitals.SessionEnergyWh, vitals.PowerW(),
			vitals.IsCharging(), c.currentPrice)
		if s != nil {
			c.handleChargerSession(ctx, s)
		}
		if st := c.counterTracker.State(); st != nil {
			c.writeSessionState(st)
			if c.hub != nil {
				c.hub.Broadcast(ws.TypeSessionUpdate, st)
			}
		}
	}
}

func (c *Collector) pollLifetime(ctx context.Context) func() {
	lifetime, err := c.twc.Lifetime(ctx)
	if err != nil {
		c.logger.Warn("lifetime poll failed", zap.Error(err))
		return nil
	}
	c.telemetry.AppendAsync("charger_lifetime",
		map[string]string{"entity_id": c.cfg.TWCID},
		map[string]any{
			"energy_wh":        lifetime.EnergyWh,
			"charge_starts":    lifetime.ChargeStarts,
			"contactor_cycles": lifetime.ContactorCycles,
			"charging_time_s":  lifetime.ChargingTimeS,
			"uptime_s":         lifetime.UptimeS,
		}, c.now())
	return nil
}

func (c *Collector) pollVersion(ctx context.Context) func() {
	version, err := c.twc.Version(ctx)
	if err != nil {
		c.logger.Warn("version poll failed", zap.Error(err))
		return nil
	}
	c.telemetry.AppendAsync("charger_version",
		map[string]string{
			"entity_id":     c.cfg.TWCID,
			"firmware":      version.FirmwareVersion,
			"serial_number": version.SerialNumber,
		},
		map[string]any{"part_number": version.PartNumber}, c.now())
	return nil
}

func (c *Collector) pollWifi(ctx context.Context) func() {
	wifi, err := c.twc.WifiStatus(ctx)
	if err != nil {
		c.logger.Warn("wifi poll failed", zap.Error(err))
		return nil
	}
	c.telemetry.AppendAsync("charger_wifi",
		map[string]string{"entity_id": c.cfg.TWCID, "ssid": wifi.WifiSSID},
		map[string]any{
			"rssi":            wifi.WifiRSSI,
			"signal_strength": wifi.WifiSignalStrength,
			"connected":       wifi.WifiConnected,
			"internet":        wifi.Internet,
		}, c.now())
	return nil
}

func (c *Collector) pollPrice(ctx context.Context) func() {
	samples, err := c.comed.CurrentPrices(ctx)
	if err != nil {
		c.logger.Warn("price poll failed", zap.Error(err))
		return nil
	}
	if len(samples) == 0 {
		return nil
	}

	inserted, err := c.telemetry.InsertPrices(ctx, samples)
	if err != nil {
		c.logger.Warn("price store failed", zap.Error(err))
	} else if inserted > 0 {
		c.logger.Debug("stored price samples", zap.Int("count", inserted))
	}

	latest := samples[0]
	for _, s := range samples[1:] {
		if s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}

	return func() {
		c.currentPrice = latest.PriceCents
	}
}

func (c *Collector) pollVehicles(ctx context.Context) func() {
	vehicles, err := c.fleet.Vehicles(ctx)
	if err != nil {
		c.logger.Warn("vehicle poll failed", zap.Error(err))
		return nil
	}

	for _, v := range vehicles {
		c.telemetry.AppendAsync("vehicle_state",
			map[string]string{"vin": v.VIN, "charging_state": v.ChargingState},
			map[string]any{
				"battery_level":       v.BatteryLevel,
				"battery_range_km":    v.BatteryRangeKm,
				"charger_power_kw":    v.ChargerPowerKw,
				"charge_energy_added": v.ChargeEnergyAdded,
				"connected":           v.IsConnected(),
			}, c.now())
	}

	return func() {
		c.mu.Lock()
		for _, v := range vehicles {
			c.vehicles[v.VIN] = v
		}
		c.mu.Unlock()

		for _, v := range vehicles {
			if s := c.vehicleTracker.Update(v); s != nil {
				c.handleVehicleSession(ctx, s)
			}
			if c.controller != nil {
				action, err := c.controller.Evaluate(ctx, v, c.currentPrice)
				if err != nil {
					c.logger.Warn("smart charging evaluation failed",
						zap.String("vin", v.VIN), zap.Error(err))
				} else if action != nil && c.hub != nil {
					c.hub.Broadcast(ws.TypeControllerUpdate, action)
				}
			}
		}
		if c.controller != nil {
			c.writeSmartChargingState(ctx)
		}
		if c.hub != nil {
			c.hub.Broadcast(ws.TypeVehicleUpdate, vehicles)
		}
	}
}

func (c *Collector) pollFleetTWC(ctx context.Context) func() {
	connectors, err := c.fleet.EnergySiteLiveStatus(ctx, c.cfg.EnergySiteID)
	if err != nil {
		c.logger.Warn("fleet connector poll failed", zap.Error(err))
		return nil
	}

	for _, wc := range connectors {
		c.telemetry.AppendAsync("fleet_connector",
			map[string]string{"din": wc.DIN, "vin": wc.VIN},
			map[string]any{
				"power_w":     wc.WallConnectorPowerW,
				"state":       wc.WallConnectorState,
				"fault_state": wc.WallConnectorFault,
				"unit":        wc.UnitNumber(),
			}, c.now())
	}

	return func() {
		for _, wc := range connectors {
			s := c.fleetTracker.Update(wc.DIN, wc.VIN, wc.WallConnectorPowerW,
				wc.IsCharging(), c.currentPrice)
			if s != nil {
				c.handleChargerSession(ctx, s)
			}
		}
		for _, st := range c.fleetTracker.States() {
			c.writeSessionState(st)
		}
	}
}

// pollChargeHistory imports the cloud's own charge records for each known
// vehicle, annotated with the average spot price over each session.
func (c *Collector) pollChargeHistory(ctx context.Context) func() {
	c.mu.RLock()
	vins := make([]string, 0, len(c.vehicles))
	for vin := range c.vehicles {
		vins = append(vins, vin)
	}
	c.mu.RUnlock()

	for _, vin := range vins {
		since, err := c.sessions.LatestVehicleSessionTime(ctx, vin)
		if err != nil {
			c.logger.Warn("charge history cursor failed", zap.String("vin", vin), zap.Error(err))
			continue
		}
		records, err := c.fleet.ChargeSessions(ctx, vin, since)
		if err != nil {
			c.logger.Warn("charge history fetch failed", zap.String("vin", vin), zap.Error(err))
			continue
		}
		for _, rec := range records {
			if !since.IsZero() && !rec.StartTime.After(since) {
				continue
			}
			if avg, err := c.telemetry.AveragePriceForPeriod(ctx, rec.StartTime, rec.EndTime); err == nil && avg > 0 {
				c.telemetry.AppendAsync("charge_history_cost",
					map[string]string{"vin": vin},
					map[string]any{
						"energy_kwh":      rec.EnergyAddedKWh,
						"avg_price_cents": avg,
						"supply_cost":     rec.EnergyAddedKWh * avg,
						"full_cost":       rec.EnergyAddedKWh * (avg + c.cfg.DeliveryRateCents),
					}, rec.EndTime)
			}
			if err := c.sessions.InsertVehicleSession(ctx, rec); err != nil {
				c.logger.Warn("charge history store failed", zap.String("vin", vin), zap.Error(err))
			}
		}
		if len(records) > 0 {
			c.logger.Debug("imported charge history",
				zap.String("vin", vin), zap.Int("records", len(records)))
		}
	}
	return nil
}

func (c *Collector) handleChargerSession(ctx context.Context, s *models.Session) {
	if s.Source == "twc_local" {
		if s.EnergyKWh() < c.cfg.MinSessionEnergyKWh || s.DurationS < c.cfg.MinSessionDuration.Seconds() {
			c.logger.Debug("discarding short charger session",
				zap.String("entity_id", s.EntityID),
				zap.Float64("energy_wh", s.EnergyWh),
				zap.Float64("duration_s", s.DurationS))
			return
		}
	}

	if err := c.sessions.InsertSession(ctx, s); err != nil {
		c.logger.Error("session store failed", zap.String("entity_id", s.EntityID), zap.Error(err))
	}
	c.correlator.AddChargerSession(s)

	c.logger.Info("charging session completed",
		zap.String("entity_id", s.EntityID),
		zap.String("source", s.Source),
		zap.Float64("energy_kwh", s.EnergyKWh()),
		zap.Float64("full_cost_cents", s.FullCostCents))

	if c.hub != nil {
		c.hub.Broadcast(ws.TypeSessionComplete, s)
	}
	if c.pub != nil {
		c.pub.PublishSession(s)
	}
}

func (c *Collector) handleVehicleSession(ctx context.Context, s *models.VehicleSession) {
	if err := c.sessions.InsertVehicleSession(ctx, s); err != nil {
		c.logger.Error("vehicle session store failed", zap.String("vin", s.VIN), zap.Error(err))
	}
	if s.IsHomeCharge {
		c.correlator.AddVehicleSession(s)
	}

	c.logger.Info("vehicle session completed",
		zap.String("vin", s.VIN),
		zap.Float64("energy_kwh", s.EnergyAddedKWh),
		zap.String("charger_type", s.ChargerType))

	if c.hub != nil {
		c.hub.Broadcast(ws.TypeSessionComplete, s)
	}
	if c.pub != nil {
		c.pub.PublishVehicleSession(s)
	}
}

func (c *Collector) handleEfficiency(ctx context.Context, rec *models.EfficiencyRecord) {
	if err := c.sessions.InsertEfficiency(ctx, rec); err != nil {
		c.logger.Error("efficiency store failed", zap.String("vin", rec.VIN), zap.Error(err))
	}

	c.logger.Info("charging efficiency measured",
		zap.String("charger_id", rec.ChargerID),
		zap.String("vin", rec.VIN),
		zap.Float64("efficiency_pct", rec.EfficiencyPct),
		zap.Float64("loss_kwh", rec.LossKWh))

	if c.hub != nil {
		c.hub.Broadcast(ws.TypeEfficiency, rec)
	}
	if c.pub != nil {
		c.pub.PublishEfficiency(rec)
	}
}

// writeSessionState persists a point-in-time row for an in-progress
// session so dashboards can chart it without waiting for completion.
func (c *Collector) writeSessionState(s *models.SessionState) {
	now := c.now()
	c.telemetry.AppendAsync("session_state",
		map[string]string{"entity_id": s.EntityID, "source": s.Source, "vin": s.VIN},
		map[string]any{
			"energy_wh":         s.EnergyWh,
			"peak_power_w":      s.PeakPowerW,
			"supply_cost_cents": s.SupplyCostCents,
			"full_cost_cents":   s.FullCostCents,
			"duration_s":        now.Sub(s.StartTime).Seconds(),
		}, now)
}

// writeSmartChargingState persists one row per controlled vehicle with the
// controller's view of it: state, pause flags and the active thresholds.
func (c *Collector) writeSmartChargingState(ctx context.Context) {
	statuses := c.controller.Status()
	if len(statuses) == 0 {
		return
	}

	stop, resume, percentile, ok := c.controller.Thresholds(ctx, c.currentPrice)
	for _, vs := range statuses {
		fields := map[string]any{
			"paused_by_us":    vs.State == state.StatePausedByPrice,
			"simulated_pause": vs.State == state.StateWouldPause,
			"price_cents":     c.currentPrice,
		}
		if ok {
			fields["stop_threshold"] = stop
			fields["resume_threshold"] = resume
			fields["price_percentile"] = percentile
		}
		c.telemetry.AppendAsync("smart_charging_state",
			map[string]string{"vin": vs.VIN, "state": vs.State}, fields, c.now())
	}
}

// rebuildSnapshot refreshes the read-side copies handlers serve from.
func (c *Collector) rebuildSnapshot() {
	live := c.fleetTracker.States()
	if s := c.counterTracker.State(); s != nil {
		live = append(live, s)
	}

	c.mu.Lock()
	c.liveSessions = live
	c.snapPrice = c.currentPrice
	c.mu.Unlock()
}

// LiveSessions returns in-progress sessions across all chargers.
func (c *Collector) LiveSessions() []*models.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.SessionState, len(c.liveSessions))
	copy(out, c.liveSessions)
	return out
}

// Vehicles returns the latest known state of every vehicle.
func (c *Collector) Vehicles() []*models.Vehicle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Vehicle, 0, len(c.vehicles))
	for _, v := range c.vehicles {
		out = append(out, v)
	}
	return out
}

// Vehicle returns the latest state for one VIN, or nil.
func (c *Collector) Vehicle(vin string) *models.Vehicle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vehicles[vin]
}

// CurrentPrice returns the latest observed spot price in cents per kWh.
func (c *Collector) CurrentPrice() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapPrice
}
