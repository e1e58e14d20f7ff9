package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
	"MarketIndexer/internal/normalize"
	"MarketIndexer/internal/observability"
	"MarketIndexer/internal/position"
	"MarketIndexer/internal/project"
	"MarketIndexer/internal/rollup"
	"MarketIndexer/internal/state"
)

// Config wires one Engine.
type Config struct {
	Feeds         []chain.Feed
	Source        Source
	Store         Committer
	Normalizer    *normalize.Normalizer
	State         *state.State
	Tracker       *position.Tracker
	Buckets       *rollup.BucketStore
	Rollups       Rollups
	Reorg         Reorger
	Metrics       *observability.Metrics
	Retry         RetryPolicy
	DedupCapacity int
	BlockDepth    int
	Logger        zerolog.Logger
}

// Engine supervises one pipeline per feed. Feeds read their sources
// concurrently but apply through a shared lock: every projection, PnL
// and rollup structure spans all contract families, and cross-feed
// interleavings must observe complete events only.
type Engine struct {
	applyMu sync.Mutex

	st        *state.State
	projector *project.Projector
	tracker   *position.Tracker
	buckets   *rollup.BucketStore
	digests   *state.DigestChain
	blocks    *state.BlockIndex

	store   Committer
	rollups Rollups
	feeds   map[chain.Feed]*Feed
	order   []chain.Feed
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewEngine(cfg Config) *Engine {
	log := cfg.Logger.With().Str("component", "engine").Logger()

	e := &Engine{
		st:        cfg.State,
		projector: project.New(cfg.State, cfg.Logger),
		tracker:   cfg.Tracker,
		buckets:   cfg.Buckets,
		digests:   state.NewDigestChain(),
		blocks:    state.NewBlockIndex(cfg.BlockDepth),
		store:     cfg.Store,
		rollups:   cfg.Rollups,
		feeds:     make(map[chain.Feed]*Feed, len(cfg.Feeds)),
		order:     cfg.Feeds,
		metrics:   cfg.Metrics,
		log:       log,
	}

	for _, name := range cfg.Feeds {
		f := &Feed{
			feed:      name,
			source:    cfg.Source,
			store:     cfg.Store,
			deduper:   NewDeduper(cfg.DedupCapacity, cfg.Store, cfg.Logger),
			guard:     newOrderGuard(chain.Cursor{}, false),
			norm:      cfg.Normalizer,
			policy:    cfg.Retry,
			applyMu:   &e.applyMu,
			projector: e.projector,
			tracker:   e.tracker,
			buckets:   e.buckets,
			blocks:    e.blocks,
			digests:   e.digests,
			rollups:   cfg.Rollups,
			reorg:     cfg.Reorg,
			hooks:     e,
			metrics:   cfg.Metrics,
			resumeCh:  make(chan struct{}, 1),
			log:       cfg.Logger.With().Str("component", "feed").Str("feed", string(name)).Logger(),
		}
		f.status.Store(int32(chain.FeedRunning))
		e.feeds[name] = f
	}

	return e
}

// Bootstrap rebuilds the in-memory projection from the persisted event
// log. It must run before feeds start: cursors resume past events that
// are already committed, so memory has to reflect them first or the
// next event fails its ordering checks.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	var (
		replayed int64
		keys     = make(map[chain.Feed][]string)
		traded   = make(map[string]time.Time)
	)
	err := e.store.ReplayAll(ctx, func(rec *event.Record, ev event.Event) error {
		mut, err := e.projector.Apply(ev)
		if err != nil {
			return fmt.Errorf("bootstrap replay %s: %w", rec.Ref.Key(), err)
		}
		for _, tr := range mut.Trades {
			e.tracker.OnTrade(tr)
			e.buckets.AddTrade(tr)
			traded[tr.Condition] = rec.Ref.Timestamp()
		}
		e.digests.Extend(rec.Ref.Block.Number, rec.Ref.LogIndex, e.projector.State().Digest())
		keys[rec.Feed] = append(keys[rec.Feed], rec.Ref.Key())
		replayed++
		return nil
	})
	if err != nil {
		return err
	}

	for name, f := range e.feeds {
		f.deduper.Warm(keys[name])
	}
	if e.rollups != nil {
		for cond, at := range traded {
			e.rollups.Trigger(cond, rollup.Inputs{
				Book:         *e.st.Book(cond),
				OpenInterest: openInterest(e.st, cond),
				At:           at,
			})
		}
	}
	if replayed > 0 {
		e.log.Info().Int64("events", replayed).Msg("state rebuilt from event log")
	}
	return nil
}

// Run starts every feed pipeline and blocks until the context ends.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range e.order {
		f := e.feeds[name]
		g.Go(func() error {
			return f.Run(ctx)
		})
	}
	e.log.Info().Int("feeds", len(e.feeds)).Msg("engine started")
	return g.Wait()
}

// Feeds returns the operator snapshot of every pipeline.
func (e *Engine) Feeds() []FeedInfo {
	out := make([]FeedInfo, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.feeds[name].Info())
	}
	return out
}

// Pause stops one feed before its next event.
func (e *Engine) Pause(feed chain.Feed) error {
	f, ok := e.feeds[feed]
	if !ok {
		return fmt.Errorf("unknown feed %q", feed)
	}
	f.Pause()
	return nil
}

// Resume restarts one paused feed.
func (e *Engine) Resume(feed chain.Feed) error {
	f, ok := e.feeds[feed]
	if !ok {
		return fmt.Errorf("unknown feed %q", feed)
	}
	f.Resume()
	return nil
}

// Digest returns the current chained state digest tip, exposed for
// replay-determinism checks across deployments.
func (e *Engine) Digest() string {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	tip := e.digests.Tip()
	return hex.EncodeToString(tip[:])
}

// resetForReplay clears all shared in-memory state ahead of a reorg
// replay. The caller holds the apply lock.
func (e *Engine) resetForReplay(ancestor int64) {
	e.st.Reset()
	e.tracker.Reset()
	e.buckets.Reset()
	e.digests.Reset()
	e.blocks.TruncateAbove(ancestor)
	for _, f := range e.feeds {
		f.deduper.Reset()
	}
	e.log.Warn().Int64("ancestor", ancestor).Msg("in-memory state reset for replay")
}

// syncGuards realigns every feed's ordering guard with the cursors the
// reorg recovery left in the store. The caller holds the apply lock.
func (e *Engine) syncGuards(ctx context.Context) error {
	for _, name := range e.order {
		f := e.feeds[name]
		cursor, found, err := e.store.LoadCursor(ctx, name)
		if err != nil {
			return err
		}
		f.guard.reset(cursor, found)
		f.setCursor(cursor)
	}
	return nil
}
