package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chargewatch/chargewatch/internal/models"
)

// SessionRepo stores completed charging sessions, vehicle sessions,
// efficiency records, control actions and statistics snapshots.
type SessionRepo struct {
	db *DB
}

func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// InsertSession stores a completed charger-side session.
func (r *SessionRepo) InsertSession(ctx context.Context, s *models.Session) error {
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO charging_sessions
		 (entity_id, vin, source, start_time, end_time, duration_s, energy_wh,
		  peak_power_w, avg_price_cents, supply_cost_cents, full_cost_cents)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		s.EntityID, s.VIN, s.Source, s.StartTime, s.EndTime, s.DurationS,
		s.EnergyWh, s.PeakPowerW, s.AvgPriceCents, s.SupplyCostCents, s.FullCostCents,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert charging session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first. A non-empty
// source restricts the result to one collection source.
func (r *SessionRepo) ListSessions(ctx context.Context, source string, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, entity_id, vin, source, start_time, end_time, duration_s,
		        energy_wh, peak_power_w, avg_price_cents, supply_cost_cents, full_cost_cents
		 FROM charging_sessions
		 WHERE ($1 = '' OR source = $1)
		 ORDER BY start_time DESC
		 LIMIT $2`,
		source, limit)
	if err != nil {
		return nil, fmt.Errorf("list charging sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s := &models.Session{}
		if err := rows.Scan(&s.ID, &s.EntityID, &s.VIN, &s.Source, &s.StartTime,
			&s.EndTime, &s.DurationS, &s.EnergyWh, &s.PeakPowerW,
			&s.AvgPriceCents, &s.SupplyCostCents, &s.FullCostCents); err != nil {
			return nil, fmt.Errorf("scan charging session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// InsertVehicleSession stores a completed vehicle-side session. Duplicate
// (vin, start_time) pairs are ignored so fleet history imports can be
// re-run safely.
func (r *SessionRepo) InsertVehicleSession(ctx context.Context, s *models.VehicleSession) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO vehicle_sessions
		 (vin, display_name, start_time, end_time, starting_battery, ending_battery,
		  starting_range_km, ending_range_km, energy_added_kwh, peak_power_kw,
		  avg_power_kw, charger_type, is_home_charge, latitude, longitude)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (vin, start_time) DO NOTHING`,
		s.VIN, s.DisplayName, s.StartTime, s.EndTime, s.StartingBattery, s.EndingBattery,
		s.StartingRangeKm, s.EndingRangeKm, s.EnergyAddedKWh, s.PeakPowerKw,
		s.AvgPowerKw, s.ChargerType, s.IsHomeCharge, s.Latitude, s.Longitude)
	if err != nil {
		return fmt.Errorf("insert vehicle session: %w", err)
	}
	return nil
}

// ListVehicleSessions returns recent sessions for one VIN, newest first.
func (r *SessionRepo) ListVehicleSessions(ctx context.Context, vin string, limit int) ([]*models.VehicleSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, vin, display_name, start_time, end_time, starting_battery,
		        ending_battery, starting_range_km, ending_range_km, energy_added_kwh,
		        peak_power_kw, avg_power_kw, charger_type, is_home_charge, latitude, longitude
		 FROM vehicle_sessions
		 WHERE ($1 = '' OR vin = $1)
		 ORDER BY start_time DESC
		 LIMIT $2`,
		vin, limit)
	if err != nil {
		return nil, fmt.Errorf("list vehicle sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.VehicleSession
	for rows.Next() {
		s := &models.VehicleSession{}
		if err := rows.Scan(&s.ID, &s.VIN, &s.DisplayName, &s.StartTime, &s.EndTime,
			&s.StartingBattery, &s.EndingBattery, &s.StartingRangeKm, &s.EndingRangeKm,
			&s.EnergyAddedKWh, &s.PeakPowerKw, &s.AvgPowerKw, &s.ChargerType,
			&s.IsHomeCharge, &s.Latitude, &s.Longitude); err != nil {
			return nil, fmt.Errorf("scan vehicle session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// LatestVehicleSessionTime returns the newest stored start_time for a VIN,
// used to import fleet charge history incrementally.
func (r *SessionRepo) LatestVehicleSessionTime(ctx context.Context, vin string) (time.Time, error) {
	var ts *time.Time
	err := r.db.Pool.QueryRow(ctx,
		`SELECT MAX(start_time) FROM vehicle_sessions WHERE vin = $1`, vin).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest vehicle session time: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// InsertEfficiency stores a matched charger/vehicle session pair.
func (r *SessionRepo) InsertEfficiency(ctx context.Context, rec *models.EfficiencyRecord) error {
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO efficiency_records
		 (charger_id, vin, display_name, charger_energy_kwh, vehicle_energy_kwh,
		  efficiency_pct, loss_kwh, loss_pct, start_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		rec.ChargerID, rec.VIN, rec.DisplayName, rec.ChargerEnergyKWh,
		rec.VehicleEnergyKWh, rec.EfficiencyPct, rec.LossKWh, rec.LossPct, rec.StartTime,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert efficiency record: %w", err)
	}
	return nil
}

// ListEfficiency returns recent efficiency records, newest first.
func (r *SessionRepo) ListEfficiency(ctx context.Context, limit int) ([]*models.EfficiencyRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, charger_id, vin, display_name, charger_energy_kwh,
		        vehicle_energy_kwh, efficiency_pct, loss_kwh, loss_pct, start_time
		 FROM efficiency_records ORDER BY start_time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list efficiency records: %w", err)
	}
	defer rows.Close()

	var recs []*models.EfficiencyRecord
	for rows.Next() {
		rec := &models.EfficiencyRecord{}
		if err := rows.Scan(&rec.ID, &rec.ChargerID, &rec.VIN, &rec.DisplayName,
			&rec.ChargerEnergyKWh, &rec.VehicleEnergyKWh, &rec.EfficiencyPct,
			&rec.LossKWh, &rec.LossPct, &rec.StartTime); err != nil {
			return nil, fmt.Errorf("scan efficiency record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// InsertAction stores one smart charging control decision.
func (r *SessionRepo) InsertAction(ctx context.Context, a *models.ActionRecord) error {
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO control_actions
		 (vin, action, price_cents, threshold_cents, price_percentile, dry_run, success, reason, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		a.VIN, a.Action, a.PriceCents, a.Threshold, a.Percentile,
		a.DryRun, a.Success, a.Reason, a.Timestamp,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert control action: %w", err)
	}
	return nil
}

// ListActions returns recent control actions, newest first.
func (r *SessionRepo) ListActions(ctx context.Context, vin string, limit int) ([]*models.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, vin, action, price_cents, threshold_cents, price_percentile,
		        dry_run, success, reason, ts
		 FROM control_actions
		 WHERE ($1 = '' OR vin = $1)
		 ORDER BY ts DESC LIMIT $2`,
		vin, limit)
	if err != nil {
		return nil, fmt.Errorf("list control actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.ActionRecord
	for rows.Next() {
		a := &models.ActionRecord{}
		if err := rows.Scan(&a.ID, &a.VIN, &a.Action, &a.PriceCents, &a.Threshold,
			&a.Percentile, &a.DryRun, &a.Success, &a.Reason, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan control action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// InsertStatistics stores a statistics snapshot for auditing.
func (r *SessionRepo) InsertStatistics(ctx context.Context, s *models.PriceStatistics) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO price_statistics
		 (mean, median, std_dev, min, max, p10, p25, p50, p75, p90, p95,
		  sample_count, days_covered, lookback_days, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.Mean, s.Median, s.StdDev, s.Min, s.Max, s.P10, s.P25, s.P50, s.P75,
		s.P90, s.P95, s.SampleCount, s.DaysCovered, s.LookbackDays, s.ComputedAt)
	if err != nil {
		return fmt.Errorf("insert price statistics: %w", err)
	}
	return nil
}
