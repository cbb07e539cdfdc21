package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chargewatch/chargewatch/internal/models"
)

type fakeQuerier struct {
	values []float64
	calls  int
}

func (f *fakeQuerier) PriceValues(_ context.Context, _ int) ([]float64, error) {
	f.calls++
	return f.values, nil
}

func (f *fakeQuerier) PriceDaysAvailable(_ context.Context, _ int) (int, error) {
	return len(f.values) / 288, nil
}

type fakeSink struct {
	snapshots []*models.PriceStatistics
}

func (f *fakeSink) InsertStatistics(_ context.Context, s *models.PriceStatistics) error {
	f.snapshots = append(f.snapshots, s)
	return nil
}

func rangeValues(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i + 1)
	}
	return values
}

func TestComputeKnownDistribution(t *testing.T) {
	// 5, 10, 15, ..., 100
	values := make([]float64, 20)
	for i := range values {
		values[i] = float64((i + 1) * 5)
	}

	stats := compute(values, 30, time.Now())

	assert.InDelta(t, 52.5, stats.Mean, 1e-9)
	assert.InDelta(t, 52.5, stats.Median, 1e-9)
	assert.InDelta(t, 5.0, stats.Min, 1e-9)
	assert.InDelta(t, 100.0, stats.Max, 1e-9)
	assert.InDelta(t, 14.5, stats.P10, 1e-9)
	assert.InDelta(t, 90.5, stats.P90, 1e-9)
	assert.Equal(t, 20, stats.SampleCount)
}

func TestComputePercentilesMonotonic(t *testing.T) {
	// Skewed distribution with heavy repetition.
	values := []float64{2, 2, 2, 2, 3, 3, 3, 5, 5, 8, 8, 13, 21, 34, 55, 89}
	stats := compute(values, 30, time.Now())

	assert.LessOrEqual(t, stats.P10, stats.P25)
	assert.LessOrEqual(t, stats.P25, stats.Median)
	assert.LessOrEqual(t, stats.Median, stats.P75)
	assert.LessOrEqual(t, stats.P75, stats.P90)
	assert.LessOrEqual(t, stats.P90, stats.P95)
	assert.LessOrEqual(t, stats.Min, stats.P10)
	assert.LessOrEqual(t, stats.P95, stats.Max)
}

func TestComputeMedianOddCount(t *testing.T) {
	stats := compute([]float64{3, 1, 2}, 30, time.Now())
	assert.InDelta(t, 2.0, stats.Median, 1e-9)
}

func TestComputePopulationStdDev(t *testing.T) {
	// Mean 5, squared deviations 9+1+1+9, variance 5.
	stats := compute([]float64{2, 4, 6, 8}, 30, time.Now())
	assert.InDelta(t, 2.236, stats.StdDev, 1e-3)
}

func TestEngineWithholdsBelowMinimumSamples(t *testing.T) {
	q := &fakeQuerier{values: rangeValues(99)}
	e := NewEngine(q, nil, 30, 6*time.Hour, zap.NewNop())

	_, err := e.Get(context.Background(), false)
	assert.ErrorIs(t, err, ErrInsufficientData)

	q.values = rangeValues(100)
	stats, err := e.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 100, stats.SampleCount)
}

func TestEngineCachesUntilTTL(t *testing.T) {
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	q := &fakeQuerier{values: rangeValues(200)}
	sink := &fakeSink{}
	e := NewEngine(q, sink, 30, 6*time.Hour, zap.NewNop())
	e.now = func() time.Time { return clock }

	_, err := e.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, q.calls)

	clock = clock.Add(time.Hour)
	_, err = e.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, q.calls)

	clock = clock.Add(6 * time.Hour)
	_, err = e.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, q.calls)

	// Force bypasses the cache regardless of age.
	_, err = e.Get(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 3, q.calls)

	// Every recompute is audited.
	assert.Len(t, sink.snapshots, 3)
}

func TestPercentileOfBrackets(t *testing.T) {
	stats := &models.PriceStatistics{
		P10: 10, P25: 25, P50: 50, P75: 75, P90: 90, P95: 95,
	}

	assert.Equal(t, 10, PercentileOf(stats, 5))
	assert.Equal(t, 10, PercentileOf(stats, 10))
	assert.Equal(t, 17, PercentileOf(stats, 17.5))
	assert.Equal(t, 60, PercentileOf(stats, 60))
	assert.Equal(t, 90, PercentileOf(stats, 90))
	assert.Equal(t, 95, PercentileOf(stats, 95))
	assert.Equal(t, 99, PercentileOf(stats, 120))
}

func TestPercentileOfDegenerateDistribution(t *testing.T) {
	// All samples equal, every bracket collapses.
	stats := &models.PriceStatistics{
		P10: 3, P25: 3, P50: 3, P75: 3, P90: 3, P95: 3,
	}
	assert.Equal(t, 10, PercentileOf(stats, 3))
	assert.Equal(t, 99, PercentileOf(stats, 4))
}
