package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
	"MarketIndexer/internal/normalize"
	"MarketIndexer/internal/observability"
	"MarketIndexer/internal/position"
	"MarketIndexer/internal/project"
	"MarketIndexer/internal/reorg"
	"MarketIndexer/internal/rollup"
	"MarketIndexer/internal/state"
	"MarketIndexer/internal/store"
)

// Source delivers raw logs for one feed in ascending (block, log_index)
// order, resuming from a cursor. Delivery is at-least-once.
type Source interface {
	Subscribe(ctx context.Context, feed chain.Feed, from chain.Cursor) (<-chan chain.RawLog, error)
}

// Committer is the persistence surface one feed pipeline needs.
type Committer interface {
	LoadCursor(ctx context.Context, feed chain.Feed) (chain.Cursor, bool, error)
	Commit(ctx context.Context, ws *store.WriteSet) error
	RecordFailure(ctx context.Context, rec *event.Record) error
	IsDuplicate(ctx context.Context, txHash string, logIndex int64) (bool, error)
	ReplayAll(ctx context.Context, fn store.ReplayFunc) error
}

// Rollups receives a recompute trigger after each committed trade.
type Rollups interface {
	Trigger(condition string, in rollup.Inputs)
}

// Reorger walks a detected fork and rebuilds state.
type Reorger interface {
	FindAncestor(ctx context.Context, blocks *state.BlockIndex) (int64, error)
	Recover(ctx context.Context, ancestor int64, reset func(), apply store.ReplayFunc) (int64, error)
}

// engineHooks are the cross-feed operations a single pipeline cannot do
// alone: resetting shared in-memory state and realigning every feed's
// guard after a reorg replay.
type engineHooks interface {
	resetForReplay(ancestor int64)
	syncGuards(ctx context.Context) error
}

// FeedInfo is the operator-visible snapshot of one pipeline.
type FeedInfo struct {
	Feed      chain.Feed   `json:"feed"`
	Status    string       `json:"status"`
	Cursor    chain.Cursor `json:"cursor"`
	Processed int64        `json:"processed"`
	Failed    int64        `json:"failed"`
	Retries   int64        `json:"retries"`
}

// Feed is one sequential ingestion pipeline: dedup, ordering, decode,
// project, persist, trigger rollups. All projection state is shared
// across feeds, so applying happens under the engine's apply lock.
type Feed struct {
	feed    chain.Feed
	source  Source
	store   Committer
	deduper *Deduper
	guard   *orderGuard
	norm    *normalize.Normalizer
	policy  RetryPolicy

	// Shared across feeds; every access below is under applyMu.
	applyMu   *sync.Mutex
	projector *project.Projector
	tracker   *position.Tracker
	buckets   *rollup.BucketStore
	blocks    *state.BlockIndex
	digests   *state.DigestChain

	rollups Rollups
	reorg   Reorger
	hooks   engineHooks
	metrics *observability.Metrics

	status    atomic.Int32
	resumeCh  chan struct{}
	processed atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64

	mu     sync.Mutex
	cursor chain.Cursor

	log zerolog.Logger
}

// Info returns the pipeline snapshot for the ops surface.
func (f *Feed) Info() FeedInfo {
	f.mu.Lock()
	cursor := f.cursor
	f.mu.Unlock()
	return FeedInfo{
		Feed:      f.feed,
		Status:    chain.FeedStatus(f.status.Load()).String(),
		Cursor:    cursor,
		Processed: f.processed.Load(),
		Failed:    f.failed.Load(),
		Retries:   f.retries.Load(),
	}
}

// Pause stops the pipeline before its next event.
func (f *Feed) Pause() {
	if f.status.CompareAndSwap(int32(chain.FeedRunning), int32(chain.FeedPaused)) {
		f.log.Info().Msg("feed paused")
	}
}

// Resume restarts a paused pipeline.
func (f *Feed) Resume() {
	if f.status.CompareAndSwap(int32(chain.FeedPaused), int32(chain.FeedRunning)) {
		select {
		case f.resumeCh <- struct{}{}:
		default:
		}
		f.log.Info().Msg("feed resumed")
	}
}

func (f *Feed) waitWhilePaused(ctx context.Context) error {
	for chain.FeedStatus(f.status.Load()) == chain.FeedPaused {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.resumeCh:
		}
	}
	return nil
}

// Run consumes the feed's source until the context ends or the feed
// fails terminally. A terminal failure parks the feed in ERROR and
// returns nil so sibling feeds keep running.
func (f *Feed) Run(ctx context.Context) error {
	cursor, found, err := f.store.LoadCursor(ctx, f.feed)
	if err != nil {
		return err
	}
	f.guard.reset(cursor, found)
	f.setCursor(cursor)

	logs, err := f.source.Subscribe(ctx, f.feed, cursor)
	if err != nil {
		return err
	}

	f.log.Info().Str("cursor", cursor.String()).Msg("feed started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-logs:
			if !ok {
				f.log.Info().Msg("source closed")
				return nil
			}
			if err := f.handle(ctx, &raw); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				f.status.Store(int32(chain.FeedError))
				f.metrics.FeedsPaused.Inc()
				f.log.Error().Err(err).Msg("feed stopped on terminal failure")
				return nil
			}
		}
	}
}

func (f *Feed) handle(ctx context.Context, raw *chain.RawLog) error {
	if err := f.waitWhilePaused(ctx); err != nil {
		return err
	}
	started := time.Now()

	f.applyMu.Lock()
	defer f.applyMu.Unlock()

	if err := f.blocks.Append(raw.Block); err != nil {
		if errors.Is(err, state.ErrParentMismatch) {
			if err := f.handleReorg(ctx); err != nil {
				return err
			}
			// The incoming block belongs to the new canonical chain.
			if err := f.blocks.Append(raw.Block); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	ref := event.Ref{TxHash: raw.TxHash, LogIndex: raw.LogIndex, Block: raw.Block}

	seen, err := f.deduper.Seen(ctx, ref)
	if err != nil {
		return err
	}
	if seen {
		f.metrics.Duplicates.WithLabelValues(string(f.feed), "db").Inc()
		return nil
	}
	if !f.guard.advance(raw.Cursor()) {
		f.metrics.OutOfOrder.WithLabelValues(string(f.feed)).Inc()
		f.log.Warn().Str("cursor", raw.Cursor().String()).Msg("dropping out-of-order log")
		return nil
	}

	ev, err := f.norm.Normalize(raw)
	if err != nil {
		f.recordFailure(ctx, raw, nil, err, 0)
		return nil
	}

	if err := f.project(ctx, raw, ev); err != nil {
		return err
	}

	f.metrics.EventDuration.WithLabelValues(string(f.feed)).Observe(time.Since(started).Seconds())
	return nil
}

// project applies the event with bounded retries and persists the
// resulting write set. Projection leaves state untouched on failure, so
// a retry re-applies from the same baseline.
func (f *Feed) project(ctx context.Context, raw *chain.RawLog, ev event.Event) error {
	for attempt := 1; ; attempt++ {
		mut, err := f.projector.Apply(ev)
		if err == nil {
			return f.persist(ctx, raw, ev, mut, attempt-1)
		}

		switch decision := f.policy.Classify(err, attempt); decision {
		case DecisionRetry:
			f.retries.Add(1)
			f.metrics.Retries.WithLabelValues(string(f.feed), ErrorClass(err)).Inc()
			if werr := sleepCtx(ctx, f.policy.Delay(attempt)); werr != nil {
				return werr
			}
		case DecisionDeadLetter:
			f.recordFailure(ctx, raw, ev, err, attempt-1)
			return nil
		case DecisionPauseFeed:
			f.recordFailure(ctx, raw, ev, err, attempt-1)
			return err
		}
	}
}

func (f *Feed) persist(ctx context.Context, raw *chain.RawLog, ev event.Event, mut *project.Mutation, retries int) error {
	payload, err := event.Marshal(ev)
	if err != nil {
		return err
	}

	var (
		positions []*position.Position
		stats     []*position.UserStats
		buckets   []rollup.Bucket
	)
	for _, tr := range mut.Trades {
		p, s := f.tracker.OnTrade(tr)
		positions = append(positions, p...)
		stats = append(stats, s...)
		buckets = append(buckets, f.buckets.AddTrade(tr))
	}

	rec := &event.Record{
		Feed:       f.feed,
		Ref:        ev.Ref(),
		EventType:  ev.Type(),
		Contract:   raw.Address,
		EventData:  payload,
		Status:     event.StatusProcessed,
		RetryCount: retries,
	}
	ws := &store.WriteSet{
		Feed:      f.feed,
		Record:    rec,
		Mutation:  mut,
		Positions: positions,
		Stats:     stats,
		Buckets:   buckets,
		Cursor:    raw.Cursor(),
	}

	// Commit failures are retried in place: the mutation is already
	// applied to memory, so dropping the event here would desync the
	// projection from the event log.
	commitStarted := time.Now()
	for attempt := 1; ; attempt++ {
		err := f.store.Commit(ctx, ws)
		if err == nil {
			break
		}
		f.metrics.CommitErrors.WithLabelValues(string(f.feed)).Inc()
		if attempt >= f.policy.MaxAttempts {
			return err
		}
		f.log.Warn().Err(err).Int("attempt", attempt).
			Str("ref", rec.Ref.Key()).Msg("commit failed, retrying")
		f.metrics.Retries.WithLabelValues(string(f.feed), "storage").Inc()
		if err := sleepCtx(ctx, f.policy.Delay(attempt)); err != nil {
			return err
		}
	}
	f.metrics.CommitDuration.Observe(time.Since(commitStarted).Seconds())

	f.deduper.MarkProcessed(rec.Ref)
	f.digests.Extend(raw.Block.Number, raw.LogIndex, f.projector.State().Digest())
	f.setCursor(raw.Cursor())
	f.processed.Add(1)
	f.metrics.EventsProcessed.WithLabelValues(string(f.feed), ev.Type().String()).Inc()
	f.metrics.CursorBlock.WithLabelValues(string(f.feed)).Set(float64(raw.Block.Number))

	f.triggerRollups(mut, raw.Block.Timestamp)
	return nil
}

// triggerRollups schedules a metric recompute for each condition that
// traded in this event. Inputs are copied so workers never touch live
// projection state.
func (f *Feed) triggerRollups(mut *project.Mutation, at time.Time) {
	if f.rollups == nil {
		return
	}
	seen := make(map[string]struct{}, 1)
	for _, tr := range mut.Trades {
		if _, ok := seen[tr.Condition]; ok {
			continue
		}
		seen[tr.Condition] = struct{}{}
		st := f.projector.State()
		f.rollups.Trigger(tr.Condition, rollup.Inputs{
			Book:         *st.Book(tr.Condition),
			OpenInterest: openInterest(st, tr.Condition),
			At:           at,
		})
	}
}

func openInterest(st *state.State, condition string) int64 {
	var total int64
	for _, id := range st.TokensFor(condition) {
		if tok, ok := st.Tokens[id]; ok {
			total += tok.TotalSupply
		}
	}
	return total
}

func (f *Feed) handleReorg(ctx context.Context) error {
	f.metrics.ReorgsDetected.Inc()
	tip, _ := f.blocks.Tip()

	ancestor, err := f.reorg.FindAncestor(ctx, f.blocks)
	if err != nil {
		var depthErr *reorg.DepthExceededError
		if errors.As(err, &depthErr) {
			f.log.Error().Err(err).Msg("reorg beyond recovery depth")
		}
		return err
	}
	f.metrics.ReorgDepth.Observe(float64(tip.Number - ancestor))

	replayStarted := time.Now()
	orphaned, err := f.reorg.Recover(ctx, ancestor,
		func() { f.hooks.resetForReplay(ancestor) },
		func(rec *event.Record, ev event.Event) error {
			return f.reapply(ctx, rec, ev)
		},
	)
	if err != nil {
		return err
	}
	f.metrics.OrphanedEvents.Add(float64(orphaned))
	f.metrics.ReplayDuration.Observe(time.Since(replayStarted).Seconds())

	return f.hooks.syncGuards(ctx)
}

// reapply reprojects one replayed event and re-persists its derived
// rows; the derived tables were truncated before replay started.
func (f *Feed) reapply(ctx context.Context, rec *event.Record, ev event.Event) error {
	mut, err := f.projector.Apply(ev)
	if err != nil {
		// Replay reprocesses an already-validated history.
		return err
	}

	var (
		positions []*position.Position
		stats     []*position.UserStats
		buckets   []rollup.Bucket
	)
	for _, tr := range mut.Trades {
		p, s := f.tracker.OnTrade(tr)
		positions = append(positions, p...)
		stats = append(stats, s...)
		buckets = append(buckets, f.buckets.AddTrade(tr))
	}

	ws := &store.WriteSet{
		Feed:      rec.Feed,
		Record:    rec,
		Mutation:  mut,
		Positions: positions,
		Stats:     stats,
		Buckets:   buckets,
		Cursor:    rec.Ref.Cursor(),
	}
	if err := f.store.Commit(ctx, ws); err != nil {
		return err
	}

	f.deduper.MarkProcessed(rec.Ref)
	f.digests.Extend(rec.Ref.Block.Number, rec.Ref.LogIndex, f.projector.State().Digest())
	return nil
}

func (f *Feed) recordFailure(ctx context.Context, raw *chain.RawLog, ev event.Event, cause error, retries int) {
	class := ErrorClass(cause)
	f.failed.Add(1)
	f.metrics.EventsRejected.WithLabelValues(string(f.feed), class).Inc()
	f.metrics.DeadLetters.WithLabelValues(string(f.feed), class).Inc()
	f.log.Error().Err(cause).
		Str("tx_hash", raw.TxHash).
		Int64("log_index", raw.LogIndex).
		Str("class", class).
		Msg("event dead-lettered")

	rec := &event.Record{
		Feed:         f.feed,
		Ref:          event.Ref{TxHash: raw.TxHash, LogIndex: raw.LogIndex, Block: raw.Block},
		Contract:     raw.Address,
		Status:       event.StatusError,
		ErrorClass:   class,
		ErrorMessage: cause.Error(),
		RetryCount:   retries,
	}
	if ev != nil {
		rec.EventType = ev.Type()
		if payload, err := event.Marshal(ev); err == nil {
			rec.EventData = payload
		}
	}
	if rec.EventData == nil {
		// Undecodable events keep the raw log as their audit payload so
		// the dead letter stays inspectable and requeueable.
		if payload, err := json.Marshal(raw); err == nil {
			rec.EventData = payload
		} else {
			rec.EventData = []byte("{}")
		}
	}
	if err := f.store.RecordFailure(ctx, rec); err != nil {
		f.log.Error().Err(err).Msg("failed to record dead letter")
	}
}

func (f *Feed) setCursor(c chain.Cursor) {
	f.mu.Lock()
	f.cursor = c
	f.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
