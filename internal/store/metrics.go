package store

import (
	"context"
	"fmt"

	"MarketIndexer/internal/rollup"
)

// SaveMetrics persists one computed snapshot: a row per window plus the
// derived per-condition row. Implements rollup.Sink.
func (s *Store) SaveMetrics(ctx context.Context, snap *rollup.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics tx: %w", err)
	}

	for _, w := range rollup.Windows() {
		agg := snap.Windows[w]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO market_window_stats
			  (condition_id, time_window, volume, trades, open, high, low, close, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (condition_id, time_window) DO UPDATE
			SET volume      = EXCLUDED.volume,
			    trades      = EXCLUDED.trades,
			    open        = EXCLUDED.open,
			    high        = EXCLUDED.high,
			    low         = EXCLUDED.low,
			    close       = EXCLUDED.close,
			    computed_at = EXCLUDED.computed_at`,
			snap.Condition, string(w), agg.Volume, agg.Trades,
			agg.Open, agg.High, agg.Low, agg.Close, snap.ComputedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("window stats %s/%s: %w", snap.Condition, w, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO market_metrics
		  (condition_id, best_bid, best_ask, mid, spread, normalized_spread,
		   last_price, open_interest, price_momentum, volume_momentum,
		   turnover, volatility, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (condition_id) DO UPDATE
		SET best_bid          = EXCLUDED.best_bid,
		    best_ask          = EXCLUDED.best_ask,
		    mid               = EXCLUDED.mid,
		    spread            = EXCLUDED.spread,
		    normalized_spread = EXCLUDED.normalized_spread,
		    last_price        = EXCLUDED.last_price,
		    open_interest     = EXCLUDED.open_interest,
		    price_momentum    = EXCLUDED.price_momentum,
		    volume_momentum   = EXCLUDED.volume_momentum,
		    turnover          = EXCLUDED.turnover,
		    volatility        = EXCLUDED.volatility,
		    computed_at       = EXCLUDED.computed_at`,
		snap.Condition, snap.BestBid, snap.BestAsk, snap.Mid, snap.Spread,
		snap.NormalizedSpread, snap.LastPrice, snap.OpenInterest,
		snap.PriceMomentum, snap.VolumeMomentum, snap.Turnover,
		snap.Volatility, snap.ComputedAt,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("market metrics %s: %w", snap.Condition, err)
	}
	return tx.Commit()
}
