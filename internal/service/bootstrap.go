package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// historyChunk is the largest range the price feed serves per request.
const historyChunk = 72 * time.Hour

// BootstrapPriceHistory backfills the spot price history over the
// configured lookback window so statistics are usable from the first run.
// Periods already stored are skipped, so restarts only fetch gaps.
func (c *Collector) BootstrapPriceHistory(ctx context.Context) error {
	end := c.now()
	start := end.AddDate(0, 0, -c.cfg.PriceLookbackDays)

	oldest, err := c.telemetry.OldestPriceTime(ctx)
	if err != nil {
		return fmt.Errorf("check price history: %w", err)
	}
	if !oldest.IsZero() {
		c.logger.Info("existing price history found", zap.Time("oldest", oldest))
	}

	fetched := 0
	for cur := start; cur.Before(end); cur = cur.Add(historyChunk) {
		chunkEnd := cur.Add(historyChunk)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		has, err := c.telemetry.HasPricesForPeriod(ctx, cur, chunkEnd)
		if err != nil {
			return fmt.Errorf("check price period: %w", err)
		}
		if has {
			continue
		}

		samples, err := c.comed.PricesForRange(ctx, cur, chunkEnd)
		if err != nil {
			c.logger.Warn("price backfill chunk failed",
				zap.Time("start", cur), zap.Time("end", chunkEnd), zap.Error(err))
			continue
		}
		n, err := c.telemetry.InsertPrices(ctx, samples)
		if err != nil {
			return fmt.Errorf("store price backfill: %w", err)
		}
		fetched += n
	}

	days, err := c.telemetry.PriceDaysAvailable(ctx, c.cfg.PriceLookbackDays)
	if err != nil {
		return fmt.Errorf("count price days: %w", err)
	}

	c.logger.Info("price history ready",
		zap.Int("backfilled_samples", fetched),
		zap.Int("days_available", days),
		zap.Int("lookback_days", c.cfg.PriceLookbackDays))
	return nil
}
