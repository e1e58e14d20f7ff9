package store

import (
	"context"
	"database/sql"
	"fmt"

	"MarketIndexer/internal/chain"
)

// LoadCursor returns the last committed cursor for a feed. The second
// return is false when the feed has never committed anything.
func (s *Store) LoadCursor(ctx context.Context, feed chain.Feed) (chain.Cursor, bool, error) {
	var c chain.Cursor
	err := s.db.QueryRowContext(ctx,
		`SELECT block_number, log_index FROM indexer_state WHERE feed = $1`,
		string(feed),
	).Scan(&c.Block, &c.TxIndex)
	if err == sql.ErrNoRows {
		return chain.Cursor{}, false, nil
	}
	if err != nil {
		return chain.Cursor{}, false, fmt.Errorf("load cursor %s: %w", feed, err)
	}
	return c, true, nil
}

// advanceCursor moves a feed cursor forward inside a transaction.
// Equal-or-behind cursors are idempotent retry no-ops; the guard in the
// WHERE clause enforces monotonicity without a read-modify-write race.
func advanceCursor(ctx context.Context, tx *sql.Tx, feed chain.Feed, c chain.Cursor) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO indexer_state (feed, block_number, log_index, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (feed) DO UPDATE
		SET block_number = EXCLUDED.block_number,
		    log_index    = EXCLUDED.log_index,
		    updated_at   = NOW()
		WHERE (indexer_state.block_number, indexer_state.log_index)
		      <= (EXCLUDED.block_number, EXCLUDED.log_index)`,
		string(feed), c.Block, c.TxIndex,
	)
	if err != nil {
		return fmt.Errorf("advance cursor %s to %s: %w", feed, c, err)
	}
	return nil
}

// ResetCursor rolls a feed cursor back. Only the reorg handler calls
// this, after orphaned rows are marked.
func (s *Store) ResetCursor(ctx context.Context, feed chain.Feed, c chain.Cursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_state (feed, block_number, log_index, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (feed) DO UPDATE
		SET block_number = EXCLUDED.block_number,
		    log_index    = EXCLUDED.log_index,
		    updated_at   = NOW()`,
		string(feed), c.Block, c.TxIndex,
	)
	if err != nil {
		return fmt.Errorf("reset cursor %s to %s: %w", feed, c, err)
	}
	return nil
}
