package store

import (
	"context"
	"database/sql"
	"fmt"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
)

// IsDuplicate is the second dedup tier behind the in-memory LRU: it
// checks whether a log was already written to the event log.
func (s *Store) IsDuplicate(ctx context.Context, txHash string, logIndex int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_log WHERE tx_hash = $1 AND log_index = $2 AND status = 'processed' LIMIT 1`,
		txHash, logIndex,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func insertEventLog(ctx context.Context, tx *sql.Tx, rec *event.Record) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO event_log
		  (feed, tx_hash, log_index, block_number, block_hash, block_time,
		   event_type, contract, payload, status, error_class, error_message,
		   retry_count, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (tx_hash, log_index) DO UPDATE
		SET status        = EXCLUDED.status,
		    error_class   = EXCLUDED.error_class,
		    error_message = EXCLUDED.error_message,
		    retry_count   = EXCLUDED.retry_count,
		    processed_at  = NOW()`,
		string(rec.Feed), rec.Ref.TxHash, rec.Ref.LogIndex,
		rec.Ref.Block.Number, rec.Ref.Block.Hash, rec.Ref.Block.Timestamp,
		rec.EventType.String(), rec.Contract, rec.EventData,
		rec.Status.String(), rec.ErrorClass, rec.ErrorMessage, rec.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("event log row %s: %w", rec.Ref.Key(), err)
	}
	return nil
}

// RecordFailure upserts an event log row outside the commit path: decode
// failures, exhausted retries and dead letters. The cursor is untouched.
func (s *Store) RecordFailure(ctx context.Context, rec *event.Record) error {
	if rec.EventData == nil {
		// The payload column is NOT NULL.
		rec.EventData = []byte("{}")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := insertEventLog(ctx, tx, rec); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MarkOrphaned flags processed rows above the reorg ancestor. Their
// derived effects are rebuilt by replay, and the rows stay for audit.
func (s *Store) MarkOrphaned(ctx context.Context, feed chain.Feed, aboveBlock int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE event_log
		SET status = 'orphaned'
		WHERE feed = $1 AND block_number > $2 AND status <> 'orphaned'`,
		string(feed), aboveBlock,
	)
	if err != nil {
		return 0, fmt.Errorf("mark orphaned %s above %d: %w", feed, aboveBlock, err)
	}
	return res.RowsAffected()
}

// ReplayFunc consumes one decoded event during a replay scan.
type ReplayFunc func(rec *event.Record, ev event.Event) error

// Replay streams processed events of one feed in canonical order,
// rebuilding state deterministically. Orphaned and failed rows are
// skipped by construction.
func (s *Store) Replay(ctx context.Context, feed chain.Feed, fn ReplayFunc) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, log_index, block_number, block_hash, block_time,
		       event_type, contract, payload, retry_count
		FROM event_log
		WHERE feed = $1 AND status = 'processed'
		ORDER BY block_number, log_index`,
		string(feed),
	)
	if err != nil {
		return fmt.Errorf("replay scan %s: %w", feed, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec      event.Record
			typeName string
		)
		rec.Feed = feed
		rec.Status = event.StatusProcessed
		if err := rows.Scan(
			&rec.Ref.TxHash, &rec.Ref.LogIndex,
			&rec.Ref.Block.Number, &rec.Ref.Block.Hash, &rec.Ref.Block.Timestamp,
			&typeName, &rec.Contract, &rec.EventData, &rec.RetryCount,
		); err != nil {
			return fmt.Errorf("replay scan %s: %w", feed, err)
		}
		rec.EventType = typeFromName(typeName)

		ev, err := event.Unmarshal(rec.EventType, rec.EventData)
		if err != nil {
			return fmt.Errorf("replay %s row %s: %w", feed, rec.Ref.Key(), err)
		}
		if err := fn(&rec, ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RequeueDeadLetters clears the error state of a feed's dead letters so
// a re-publication of the underlying logs can process them again.
func (s *Store) RequeueDeadLetters(ctx context.Context, feed chain.Feed) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE event_log
		SET status = 'pending', retry_count = 0, error_class = '', error_message = ''
		WHERE feed = $1 AND status = 'error'`,
		string(feed),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue dead letters %s: %w", feed, err)
	}
	return res.RowsAffected()
}

// ReplayAll streams processed events across every feed in global
// (block_number, log_index) order. Derived state is rebuilt from all
// contract families together, so recovery cannot replay feed by feed.
func (s *Store) ReplayAll(ctx context.Context, fn ReplayFunc) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT feed, tx_hash, log_index, block_number, block_hash, block_time,
		       event_type, contract, payload, retry_count
		FROM event_log
		WHERE status = 'processed'
		ORDER BY block_number, log_index`,
	)
	if err != nil {
		return fmt.Errorf("replay scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec      event.Record
			feedName string
			typeName string
		)
		rec.Status = event.StatusProcessed
		if err := rows.Scan(
			&feedName, &rec.Ref.TxHash, &rec.Ref.LogIndex,
			&rec.Ref.Block.Number, &rec.Ref.Block.Hash, &rec.Ref.Block.Timestamp,
			&typeName, &rec.Contract, &rec.EventData, &rec.RetryCount,
		); err != nil {
			return fmt.Errorf("replay scan: %w", err)
		}
		rec.Feed = chain.Feed(feedName)
		rec.EventType = typeFromName(typeName)

		ev, err := event.Unmarshal(rec.EventType, rec.EventData)
		if err != nil {
			return fmt.Errorf("replay row %s: %w", rec.Ref.Key(), err)
		}
		if err := fn(&rec, ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

func typeFromName(name string) event.Type {
	for t := event.TypeConditionPrepared; t <= event.TypeTokenRegistered; t++ {
		if t.String() == name {
			return t
		}
	}
	return event.TypeUnknown
}

// DeadLetters lists permanently failed events for operator review.
func (s *Store) DeadLetters(ctx context.Context, feed chain.Feed, limit int) ([]event.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, log_index, block_number, event_type, contract,
		       error_class, error_message, retry_count
		FROM event_log
		WHERE feed = $1 AND status = 'error'
		ORDER BY block_number DESC, log_index DESC
		LIMIT $2`,
		string(feed), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dead letters %s: %w", feed, err)
	}
	defer rows.Close()

	var out []event.Record
	for rows.Next() {
		var (
			rec      event.Record
			typeName string
		)
		rec.Feed = feed
		rec.Status = event.StatusError
		if err := rows.Scan(
			&rec.Ref.TxHash, &rec.Ref.LogIndex, &rec.Ref.Block.Number,
			&typeName, &rec.Contract,
			&rec.ErrorClass, &rec.ErrorMessage, &rec.RetryCount,
		); err != nil {
			return nil, err
		}
		rec.EventType = typeFromName(typeName)
		out = append(out, rec)
	}
	return out, rows.Err()
}
