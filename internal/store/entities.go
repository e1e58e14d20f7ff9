package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
	"MarketIndexer/internal/position"
	"MarketIndexer/internal/project"
	"MarketIndexer/internal/rollup"
	"MarketIndexer/internal/state"
)

// WriteSet is everything one applied event persists: the event log row,
// the projector's entity rows, PnL rows, the touched price bucket and
// the cursor advance. Commit writes it atomically; a crash between
// events never leaves a half-applied event visible.
type WriteSet struct {
	Feed      chain.Feed
	Record    *event.Record
	Mutation  *project.Mutation
	Positions []*position.Position
	Stats     []*position.UserStats
	Buckets   []rollup.Bucket
	Cursor    chain.Cursor
}

// Commit writes one event's rows and advances the feed cursor in a
// single transaction.
func (s *Store) Commit(ctx context.Context, ws *WriteSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}

	if err := s.writeAll(ctx, tx, ws); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", ws.Record.Ref.Key(), err)
	}
	return nil
}

func (s *Store) writeAll(ctx context.Context, tx *sql.Tx, ws *WriteSet) error {
	if err := insertEventLog(ctx, tx, ws.Record); err != nil {
		return err
	}
	m := ws.Mutation
	if m != nil {
		for _, c := range m.Conditions {
			if err := upsertCondition(ctx, tx, c); err != nil {
				return err
			}
		}
		for _, t := range m.Tokens {
			if err := upsertToken(ctx, tx, t); err != nil {
				return err
			}
		}
		for _, b := range m.Balances {
			if err := upsertBalance(ctx, tx, b); err != nil {
				return err
			}
		}
		for _, o := range m.Orders {
			if err := upsertOrder(ctx, tx, o); err != nil {
				return err
			}
		}
		for _, t := range m.Trades {
			if err := insertTrade(ctx, tx, t); err != nil {
				return err
			}
		}
		for _, b := range m.Books {
			if err := upsertBook(ctx, tx, b); err != nil {
				return err
			}
		}
	}
	for _, p := range ws.Positions {
		if err := upsertPosition(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, st := range ws.Stats {
		if err := upsertUserStats(ctx, tx, st); err != nil {
			return err
		}
	}
	for i := range ws.Buckets {
		if err := upsertBucket(ctx, tx, &ws.Buckets[i]); err != nil {
			return err
		}
	}
	return advanceCursor(ctx, tx, ws.Feed, ws.Cursor)
}

func upsertCondition(ctx context.Context, tx *sql.Tx, c *state.Condition) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conditions
		  (condition_id, oracle, question_id, outcome_slot_count, status,
		   payout_numerators, prepared_block, prepared_at, resolved_block, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, 0), $10)
		ON CONFLICT (condition_id) DO UPDATE
		SET status            = EXCLUDED.status,
		    payout_numerators = EXCLUDED.payout_numerators,
		    resolved_block    = EXCLUDED.resolved_block,
		    resolved_at       = EXCLUDED.resolved_at`,
		c.ID, c.Oracle, c.QuestionID, c.OutcomeSlotCount, c.Status.String(),
		pq.Array(c.PayoutNumerators), c.PreparedBlock, c.PreparedAt,
		c.ResolvedBlock, nullTime(c.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert condition %s: %w", c.ID, err)
	}
	return nil
}

func upsertToken(ctx context.Context, tx *sql.Tx, t *state.PositionToken) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO position_tokens
		  (token_id, chain_token_id, condition_id, outcome_index,
		   total_supply, last_price, last_trade_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		ON CONFLICT (token_id) DO UPDATE
		SET chain_token_id = EXCLUDED.chain_token_id,
		    total_supply   = EXCLUDED.total_supply,
		    last_price     = EXCLUDED.last_price,
		    last_trade_at  = EXCLUDED.last_trade_at`,
		t.TokenID, t.ChainID, t.Condition, t.OutcomeIndex,
		t.TotalSupply, t.LastPrice, nullTime(t.LastTradeAt),
	)
	if err != nil {
		return fmt.Errorf("upsert token %s: %w", t.TokenID, err)
	}
	return nil
}

func upsertBalance(ctx context.Context, tx *sql.Tx, b *state.Balance) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances
		  (holder, token_id, amount, last_block, last_tx_hash, last_log_index)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (holder, token_id) DO UPDATE
		SET amount         = EXCLUDED.amount,
		    last_block     = EXCLUDED.last_block,
		    last_tx_hash   = EXCLUDED.last_tx_hash,
		    last_log_index = EXCLUDED.last_log_index`,
		b.Key.User, b.Key.TokenID, b.Amount,
		b.LastWrite.Block, b.LastWrite.TxHash, b.LastWrite.LogIndex,
	)
	if err != nil {
		return fmt.Errorf("upsert balance %s: %w", b.Key, err)
	}
	return nil
}

func upsertOrder(ctx context.Context, tx *sql.Tx, o *state.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders
		  (order_hash, maker, token_id, condition_id, side, filled,
		   remaining, last_price, status, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_hash) DO UPDATE
		SET filled       = EXCLUDED.filled,
		    remaining    = EXCLUDED.remaining,
		    last_price   = EXCLUDED.last_price,
		    status       = EXCLUDED.status,
		    last_seen_at = EXCLUDED.last_seen_at`,
		o.Hash, o.Maker, o.TokenID, o.Condition, o.Side.String(),
		o.Filled, o.Remaining, o.LastPrice, o.Status.String(),
		o.FirstSeen, o.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.Hash, err)
	}
	return nil
}

func insertTrade(ctx context.Context, tx *sql.Tx, t *state.Trade) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trades
		  (tx_hash, log_index, block_number, order_hash, condition_id,
		   token_id, maker, taker, side, shares, collateral, price, fee, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		t.TxHash, t.LogIndex, t.Block, t.OrderHash, t.Condition,
		t.TokenID, t.Maker, t.Taker, t.Side.String(),
		t.Shares, t.Collateral, t.Price, t.Fee, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s:%d: %w", t.TxHash, t.LogIndex, err)
	}
	return nil
}

func upsertBook(ctx context.Context, tx *sql.Tx, b *state.BookSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO book_snapshots
		  (condition_id, best_bid, best_ask, mid, spread, last_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (condition_id) DO UPDATE
		SET best_bid   = EXCLUDED.best_bid,
		    best_ask   = EXCLUDED.best_ask,
		    mid        = EXCLUDED.mid,
		    spread     = EXCLUDED.spread,
		    last_price = EXCLUDED.last_price,
		    updated_at = EXCLUDED.updated_at`,
		b.Condition, b.BestBid, b.BestAsk, b.Mid, b.Spread, b.LastPrice, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert book %s: %w", b.Condition, err)
	}
	return nil
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p *position.Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_positions
		  (holder, token_id, condition_id, shares_bought, shares_sold,
		   current_shares, total_cost, avg_buy_price, realized_pnl, last_trade_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (holder, token_id) DO UPDATE
		SET shares_bought  = EXCLUDED.shares_bought,
		    shares_sold    = EXCLUDED.shares_sold,
		    current_shares = EXCLUDED.current_shares,
		    total_cost     = EXCLUDED.total_cost,
		    avg_buy_price  = EXCLUDED.avg_buy_price,
		    realized_pnl   = EXCLUDED.realized_pnl,
		    last_trade_at  = EXCLUDED.last_trade_at`,
		p.Key.User, p.Key.TokenID, p.Condition, p.SharesBought, p.SharesSold,
		p.Current, p.TotalCost, p.AvgBuyPrice, p.RealizedPnL, p.LastTradeAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", p.Key.User, p.Key.TokenID, err)
	}
	return nil
}

func upsertUserStats(ctx context.Context, tx *sql.Tx, u *position.UserStats) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_stats
		  (holder, total_trades, total_volume, realized_pnl, markets_traded, last_trade_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (holder) DO UPDATE
		SET total_trades   = EXCLUDED.total_trades,
		    total_volume   = EXCLUDED.total_volume,
		    realized_pnl   = EXCLUDED.realized_pnl,
		    markets_traded = EXCLUDED.markets_traded,
		    last_trade_at  = EXCLUDED.last_trade_at`,
		u.User, u.TotalTrades, u.TotalVolume, u.RealizedPnL, u.MarketsTraded, u.LastTradeAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user stats %s: %w", u.User, err)
	}
	return nil
}

func upsertBucket(ctx context.Context, tx *sql.Tx, b *rollup.Bucket) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO price_buckets
		  (condition_id, minute, volume, trades, open, high, low, close)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (condition_id, minute) DO UPDATE
		SET volume = EXCLUDED.volume,
		    trades = EXCLUDED.trades,
		    open   = EXCLUDED.open,
		    high   = EXCLUDED.high,
		    low    = EXCLUDED.low,
		    close  = EXCLUDED.close`,
		b.Condition, b.Minute, b.Volume, b.Trades, b.Open, b.High, b.Low, b.Close,
	)
	if err != nil {
		return fmt.Errorf("upsert bucket %s@%s: %w", b.Condition, b.Minute, err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// TruncateDerived wipes all derived tables for one feed-independent
// rebuild after a reorg. The event log and cursors survive.
func (s *Store) TruncateDerived(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		TRUNCATE conditions, position_tokens, balances, orders, trades,
		         book_snapshots, user_positions, user_stats, price_buckets,
		         market_window_stats, market_metrics`)
	if err != nil {
		return fmt.Errorf("truncate derived state: %w", err)
	}
	return nil
}
