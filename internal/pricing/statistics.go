// Package pricing computes distribution statistics over the stored spot
// price history and places the current price within that distribution.
package pricing

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chargewatch/chargewatch/internal/models"
)

// ErrInsufficientData is returned while the price history holds fewer
// samples than the minimum needed for meaningful statistics.
var ErrInsufficientData = errors.New("not enough price samples")

// MinSamples is the sample count below which statistics are withheld.
const MinSamples = 100

// PriceQuerier provides the raw price values for a lookback window and
// how many distinct days they span.
type PriceQuerier interface {
	PriceValues(ctx context.Context, lookbackDays int) ([]float64, error)
	PriceDaysAvailable(ctx context.Context, lookbackDays int) (int, error)
}

// AuditSink receives every freshly computed statistics snapshot.
type AuditSink interface {
	InsertStatistics(ctx context.Context, s *models.PriceStatistics) error
}

// Engine caches computed statistics and refreshes them when stale.
type Engine struct {
	querier      PriceQuerier
	sink         AuditSink
	lookbackDays int
	cacheTTL     time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu     sync.RWMutex
	cached *models.PriceStatistics
}

// NewEngine creates an engine. sink may be nil to skip audit writes.
func NewEngine(querier PriceQuerier, sink AuditSink, lookbackDays int, cacheTTL time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		querier:      querier,
		sink:         sink,
		lookbackDays: lookbackDays,
		cacheTTL:     cacheTTL,
		logger:       logger,
		now:          time.Now,
	}
}

// Get returns the current statistics, recomputing when the cache is older
// than the TTL or force is set. It returns ErrInsufficientData while the
// history is too small.
func (e *Engine) Get(ctx context.Context, force bool) (*models.PriceStatistics, error) {
	e.mu.RLock()
	cached := e.cached
	e.mu.RUnlock()

	if !force && cached != nil && e.now().Sub(cached.ComputedAt) < e.cacheTTL {
		return cached, nil
	}

	values, err := e.querier.PriceValues(ctx, e.lookbackDays)
	if err != nil {
		return nil, err
	}
	if len(values) < MinSamples {
		return nil, ErrInsufficientData
	}

	days, err := e.querier.PriceDaysAvailable(ctx, e.lookbackDays)
	if err != nil {
		return nil, err
	}

	stats := compute(values, e.lookbackDays, e.now())
	stats.DaysCovered = days

	e.mu.Lock()
	e.cached = stats
	e.mu.Unlock()

	if e.sink != nil {
		if err := e.sink.InsertStatistics(ctx, stats); err != nil {
			e.logger.Warn("statistics audit write failed", zap.Error(err))
		}
	}

	e.logger.Info("price statistics refreshed",
		zap.Int("samples", stats.SampleCount),
		zap.Float64("median", stats.Median),
		zap.Float64("p90", stats.P90))

	return stats, nil
}

// CurrentPercentile places a price within the cached distribution and
// returns an approximate percentile rank.
func (e *Engine) CurrentPercentile(ctx context.Context, price float64) (int, error) {
	stats, err := e.Get(ctx, false)
	if err != nil {
		return 0, err
	}
	return PercentileOf(stats, price), nil
}

func compute(values []float64, lookbackDays int, at time.Time) *models.PriceStatistics {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	variance := 0.0
	for _, v := range sorted {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)

	var median float64
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		median = sorted[n/2]
	}

	return &models.PriceStatistics{
		Mean:         round3(mean),
		Median:       round3(median),
		StdDev:       round3(math.Sqrt(variance)),
		Min:          round3(sorted[0]),
		Max:          round3(sorted[n-1]),
		P10:          round3(percentile(sorted, 10)),
		P25:          round3(percentile(sorted, 25)),
		P50:          round3(percentile(sorted, 50)),
		P75:          round3(percentile(sorted, 75)),
		P90:          round3(percentile(sorted, 90)),
		P95:          round3(percentile(sorted, 95)),
		SampleCount:  n,
		LookbackDays: lookbackDays,
		ComputedAt:   at,
	}
}

// percentile linearly interpolates within a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// PercentileOf maps a price onto a percentile rank by interpolating
// between the stored percentile brackets. Prices above p95 report 99.
func PercentileOf(s *models.PriceStatistics, price float64) int {
	type bracket struct {
		loRank, hiRank float64
		lo, hi         float64
	}
	switch {
	case price <= s.P10:
		return 10
	case price > s.P95:
		return 99
	}

	brackets := []bracket{
		{10, 25, s.P10, s.P25},
		{25, 50, s.P25, s.P50},
		{50, 75, s.P50, s.P75},
		{75, 90, s.P75, s.P90},
		{90, 95, s.P90, s.P95},
	}
	for _, b := range brackets {
		if price <= b.hi {
			span := b.hi - b.lo
			if span <= 0 {
				return int(b.loRank)
			}
			return int(b.loRank + (price-b.lo)/span*(b.hiRank-b.loRank))
		}
	}
	return 99
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
