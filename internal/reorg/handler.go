package reorg

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
	"MarketIndexer/internal/state"
	"MarketIndexer/internal/store"
)

// HeaderSource answers which header the chain currently considers
// canonical at a height. Backed by the node RPC in production.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number int64) (chain.BlockHeader, error)
}

// Store is the persistence surface recovery needs.
type Store interface {
	MarkOrphaned(ctx context.Context, feed chain.Feed, aboveBlock int64) (int64, error)
	TruncateDerived(ctx context.Context) error
	ReplayAll(ctx context.Context, fn store.ReplayFunc) error
	ResetCursor(ctx context.Context, feed chain.Feed, c chain.Cursor) error
}

// DepthExceededError means the fork point is older than the retained
// header window. Recovery is impossible without operator action: the
// feed goes to ERROR and stays there.
type DepthExceededError struct {
	Tip      int64
	MaxDepth int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("reorg deeper than %d blocks below tip %d", e.MaxDepth, e.Tip)
}

// Handler walks a detected fork back to the common ancestor and rebuilds
// derived state by full replay. No in-place patching of projections.
type Handler struct {
	headers  HeaderSource
	store    Store
	feeds    []chain.Feed
	maxDepth int
	log      zerolog.Logger
}

func NewHandler(headers HeaderSource, st Store, feeds []chain.Feed, maxDepth int, log zerolog.Logger) *Handler {
	if maxDepth <= 0 {
		maxDepth = 64
	}
	return &Handler{
		headers:  headers,
		store:    st,
		feeds:    feeds,
		maxDepth: maxDepth,
		log:      log.With().Str("component", "reorg").Logger(),
	}
}

// FindAncestor walks back from the local tip comparing retained headers
// against the chain's canonical ones. Returns the highest height where
// both agree.
func (h *Handler) FindAncestor(ctx context.Context, blocks *state.BlockIndex) (int64, error) {
	tip, ok := blocks.Tip()
	if !ok {
		return 0, fmt.Errorf("no local headers to walk")
	}

	for n := tip.Number; n > tip.Number-int64(h.maxDepth); n-- {
		local, ok := blocks.Get(n)
		if !ok {
			break
		}
		canonical, err := h.headers.HeaderByNumber(ctx, n)
		if err != nil {
			return 0, fmt.Errorf("fetch canonical header %d: %w", n, err)
		}
		if local.Hash == canonical.Hash {
			return n, nil
		}
	}
	return 0, &DepthExceededError{Tip: tip.Number, MaxDepth: h.maxDepth}
}

// Recover rolls every feed back to the common ancestor and rebuilds
// derived state from the surviving event log. The caller supplies reset,
// which clears all in-memory projections, and apply, which reprojects one
// replayed event. Cursors land on the last event each feed replayed.
// Returns the number of event log rows orphaned.
func (h *Handler) Recover(ctx context.Context, ancestor int64, reset func(), apply store.ReplayFunc) (int64, error) {
	h.log.Warn().Int64("ancestor", ancestor).Msg("reorg recovery started")

	var orphaned int64
	for _, feed := range h.feeds {
		n, err := h.store.MarkOrphaned(ctx, feed, ancestor)
		if err != nil {
			return orphaned, fmt.Errorf("mark orphaned %s: %w", feed, err)
		}
		if n > 0 {
			h.log.Info().Str("feed", string(feed)).Int64("rows", n).Msg("orphaned events above ancestor")
			orphaned += n
		}
	}

	if err := h.store.TruncateDerived(ctx); err != nil {
		return orphaned, fmt.Errorf("truncate derived state: %w", err)
	}

	reset()

	cursors := make(map[chain.Feed]chain.Cursor, len(h.feeds))
	err := h.store.ReplayAll(ctx, func(rec *event.Record, ev event.Event) error {
		if err := apply(rec, ev); err != nil {
			return err
		}
		c := chain.Cursor{Block: rec.Ref.Block.Number, TxIndex: rec.Ref.LogIndex}
		if prev, ok := cursors[rec.Feed]; !ok || prev.Less(c) {
			cursors[rec.Feed] = c
		}
		return nil
	})
	if err != nil {
		return orphaned, fmt.Errorf("replay: %w", err)
	}

	for _, feed := range h.feeds {
		c, ok := cursors[feed]
		if !ok {
			c = chain.Cursor{Block: ancestor}
		}
		if err := h.store.ResetCursor(ctx, feed, c); err != nil {
			return orphaned, fmt.Errorf("reset cursor %s: %w", feed, err)
		}
	}

	h.log.Info().Int64("ancestor", ancestor).Int64("orphaned", orphaned).Msg("reorg recovery complete")
	return orphaned, nil
}
