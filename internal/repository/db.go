package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB wraps the pgx connection pool shared by all repositories.
type DB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDB connects to Postgres and verifies the connection.
func NewDB(ctx context.Context, databaseURL string, logger *zap.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}

const createTelemetryTable = `
CREATE TABLE IF NOT EXISTS telemetry (
	id BIGSERIAL PRIMARY KEY,
	measurement TEXT NOT NULL,
	tags JSONB NOT NULL DEFAULT '{}',
	fields JSONB NOT NULL DEFAULT '{}',
	ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_measurement_ts ON telemetry (measurement, ts DESC);
`

const createPriceSamplesTable = `
CREATE TABLE IF NOT EXISTS price_samples (
	ts TIMESTAMPTZ PRIMARY KEY,
	price_cents DOUBLE PRECISION NOT NULL
);
`

const createChargingSessionsTable = `
CREATE TABLE IF NOT EXISTS charging_sessions (
	id BIGSERIAL PRIMARY KEY,
	entity_id TEXT NOT NULL,
	vin TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	duration_s DOUBLE PRECISION NOT NULL,
	energy_wh DOUBLE PRECISION NOT NULL,
	peak_power_w DOUBLE PRECISION NOT NULL,
	avg_price_cents DOUBLE PRECISION NOT NULL DEFAULT 0,
	supply_cost_cents DOUBLE PRECISION NOT NULL DEFAULT 0,
	full_cost_cents DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_charging_sessions_entity ON charging_sessions (entity_id, start_time DESC);
CREATE INDEX IF NOT EXISTS idx_charging_sessions_source ON charging_sessions (source, start_time DESC);
`

const createVehicleSessionsTable = `
CREATE TABLE IF NOT EXISTS vehicle_sessions (
	id BIGSERIAL PRIMARY KEY,
	vin TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	starting_battery INT NOT NULL DEFAULT 0,
	ending_battery INT NOT NULL DEFAULT 0,
	starting_range_km DOUBLE PRECISION NOT NULL DEFAULT 0,
	ending_range_km DOUBLE PRECISION NOT NULL DEFAULT 0,
	energy_added_kwh DOUBLE PRECISION NOT NULL,
	peak_power_kw DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_power_kw DOUBLE PRECISION NOT NULL DEFAULT 0,
	charger_type TEXT NOT NULL DEFAULT '',
	is_home_charge BOOLEAN NOT NULL DEFAULT FALSE,
	latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	UNIQUE (vin, start_time)
);
`

const createEfficiencyRecordsTable = `
CREATE TABLE IF NOT EXISTS efficiency_records (
	id BIGSERIAL PRIMARY KEY,
	charger_id TEXT NOT NULL,
	vin TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	charger_energy_kwh DOUBLE PRECISION NOT NULL,
	vehicle_energy_kwh DOUBLE PRECISION NOT NULL,
	efficiency_pct DOUBLE PRECISION NOT NULL,
	loss_kwh DOUBLE PRECISION NOT NULL,
	loss_pct DOUBLE PRECISION NOT NULL,
	start_time TIMESTAMPTZ NOT NULL
);
`

const createControlActionsTable = `
CREATE TABLE IF NOT EXISTS control_actions (
	id BIGSERIAL PRIMARY KEY,
	vin TEXT NOT NULL,
	action TEXT NOT NULL,
	price_cents DOUBLE PRECISION NOT NULL,
	threshold_cents DOUBLE PRECISION NOT NULL,
	price_percentile INT NOT NULL DEFAULT 0,
	dry_run BOOLEAN NOT NULL,
	success BOOLEAN NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_control_actions_vin_ts ON control_actions (vin, ts DESC);
`

const createPriceStatisticsTable = `
CREATE TABLE IF NOT EXISTS price_statistics (
	id BIGSERIAL PRIMARY KEY,
	mean DOUBLE PRECISION NOT NULL,
	median DOUBLE PRECISION NOT NULL,
	std_dev DOUBLE PRECISION NOT NULL,
	min DOUBLE PRECISION NOT NULL,
	max DOUBLE PRECISION NOT NULL,
	p10 DOUBLE PRECISION NOT NULL,
	p25 DOUBLE PRECISION NOT NULL,
	p50 DOUBLE PRECISION NOT NULL,
	p75 DOUBLE PRECISION NOT NULL,
	p90 DOUBLE PRECISION NOT NULL,
	p95 DOUBLE PRECISION NOT NULL,
	sample_count INT NOT NULL,
	days_covered INT NOT NULL DEFAULT 0,
	lookback_days INT NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL
);
`

// Migrate applies the schema. Statements are idempotent so this runs on
// every startup.
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		createTelemetryTable,
		createPriceSamplesTable,
		createChargingSessionsTable,
		createVehicleSessionsTable,
		createEfficiencyRecordsTable,
		createControlActionsTable,
		createPriceStatisticsTable,
	}

	for i, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}

	db.logger.Info("database schema up to date", zap.Int("migrations", len(migrations)))
	return nil
}
