package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chargewatch/chargewatch/internal/models"
)

// TelemetryRepo stores raw measurement points and the spot price series.
type TelemetryRepo struct {
	db *DB
}

func NewTelemetryRepo(db *DB) *TelemetryRepo {
	return &TelemetryRepo{db: db}
}

// Append writes one measurement point. Tags and fields go into jsonb
// columns so new poll sources do not need schema changes.
func (r *TelemetryRepo) Append(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO telemetry (measurement, tags, fields, ts) VALUES ($1, $2, $3, $4)`,
		measurement, tags, fields, ts)
	if err != nil {
		return fmt.Errorf("insert telemetry %s: %w", measurement, err)
	}
	return nil
}

// AppendAsync writes a point on a background goroutine and logs failures
// instead of returning them. Poll loops use this so a slow database never
// blocks collection.
func (r *TelemetryRepo) AppendAsync(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.Append(ctx, measurement, tags, fields, ts); err != nil {
			r.db.logger.Warn("telemetry write failed",
				zap.String("measurement", measurement), zap.Error(err))
		}
	}()
}

// InsertPrices stores price samples, skipping timestamps already present.
// Returns how many rows were actually written.
func (r *TelemetryRepo) InsertPrices(ctx context.Context, samples []models.PriceSample) (int, error) {
	inserted := 0
	for _, s := range samples {
		tag, err := r.db.Pool.Exec(ctx,
			`INSERT INTO price_samples (ts, price_cents) VALUES ($1, $2) ON CONFLICT (ts) DO NOTHING`,
			s.Timestamp, s.PriceCents)
		if err != nil {
			return inserted, fmt.Errorf("insert price sample: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// PriceValues returns all price values observed in the last lookbackDays.
func (r *TelemetryRepo) PriceValues(ctx context.Context, lookbackDays int) ([]float64, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT price_cents FROM price_samples WHERE ts >= now() - ($1 || ' days')::interval ORDER BY ts`,
		lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("query price values: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan price value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// PriceDaysAvailable counts distinct days with at least one price sample
// within the lookback window.
func (r *TelemetryRepo) PriceDaysAvailable(ctx context.Context, lookbackDays int) (int, error) {
	var days int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT date_trunc('day', ts)) FROM price_samples
		 WHERE ts >= now() - ($1 || ' days')::interval`,
		lookbackDays).Scan(&days)
	if err != nil {
		return 0, fmt.Errorf("count price days: %w", err)
	}
	return days, nil
}

// OldestPriceTime returns the earliest stored price timestamp, or the
// zero time when no samples exist.
func (r *TelemetryRepo) OldestPriceTime(ctx context.Context) (time.Time, error) {
	var ts *time.Time
	err := r.db.Pool.QueryRow(ctx, `SELECT MIN(ts) FROM price_samples`).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("query oldest price: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// HasPricesForPeriod reports whether any samples exist between start and end.
func (r *TelemetryRepo) HasPricesForPeriod(ctx context.Context, start, end time.Time) (bool, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM price_samples WHERE ts >= $1 AND ts <= $2`,
		start, end).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count prices in period: %w", err)
	}
	return n > 0, nil
}

// AveragePriceForPeriod returns the mean price between start and end, or
// 0 when no samples fall inside the window.
func (r *TelemetryRepo) AveragePriceForPeriod(ctx context.Context, start, end time.Time) (float64, error) {
	var avg *float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT AVG(price_cents) FROM price_samples WHERE ts >= $1 AND ts <= $2`,
		start, end).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("average price for period: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}
