package indexer

import (
	"MarketIndexer/internal/chain"
)

// orderGuard enforces strict (block, log_index) monotonicity per feed.
// Sources deliver in ascending order; anything at or behind the last
// accepted position is a redelivery and is routed to dedup rather than
// reprocessed.
type orderGuard struct {
	last  chain.Cursor
	begun bool
}

func newOrderGuard(resume chain.Cursor, begun bool) *orderGuard {
	return &orderGuard{last: resume, begun: begun}
}

// advance accepts a cursor if it makes forward progress. It returns
// false for replayed positions, which the caller drops after the dedup
// check confirms they were committed.
func (g *orderGuard) advance(c chain.Cursor) bool {
	if !g.begun {
		g.last = c
		g.begun = true
		return true
	}
	if g.last.Less(c) {
		g.last = c
		return true
	}
	return false
}

// reset rewinds the guard, used after reorg recovery.
func (g *orderGuard) reset(c chain.Cursor, begun bool) {
	g.last = c
	g.begun = begun
}
