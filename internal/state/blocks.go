package state

import (
	"errors"
	"fmt"

	"MarketIndexer/internal/chain"
)

// ErrParentMismatch signals that an appended block does not extend the
// current tip. The reorg handler owns recovery.
var ErrParentMismatch = errors.New("block parent hash mismatch")

// BlockIndex tracks recently seen canonical headers so reorgs can be
// detected at append time and walked back to a common ancestor. Headers
// older than the retention depth are pruned; a reorg deeper than that is
// unrecoverable here by construction.
type BlockIndex struct {
	byNumber map[int64]chain.BlockHeader
	tip      int64
	depth    int
}

// NewBlockIndex retains up to depth headers behind the tip.
func NewBlockIndex(depth int) *BlockIndex {
	if depth <= 0 {
		depth = 64
	}
	return &BlockIndex{
		byNumber: make(map[int64]chain.BlockHeader),
		depth:    depth,
	}
}

// Tip returns the highest appended header.
func (bi *BlockIndex) Tip() (chain.BlockHeader, bool) {
	h, ok := bi.byNumber[bi.tip]
	return h, ok
}

// Get returns the retained header at the given height.
func (bi *BlockIndex) Get(number int64) (chain.BlockHeader, bool) {
	h, ok := bi.byNumber[number]
	return h, ok
}

// Append records a new header. Re-appending the current tip is an
// idempotent no-op when the hash matches. A parent hash that does not
// match the retained predecessor returns ErrParentMismatch.
func (bi *BlockIndex) Append(h chain.BlockHeader) error {
	if cur, ok := bi.byNumber[h.Number]; ok {
		if cur.Hash == h.Hash {
			return nil
		}
		return fmt.Errorf("%w: block %d seen as %s, got %s", ErrParentMismatch, h.Number, cur.Hash, h.Hash)
	}
	if prev, ok := bi.byNumber[h.Number-1]; ok && prev.Hash != h.ParentHash {
		return fmt.Errorf("%w: block %d parent %s, tip %d is %s", ErrParentMismatch, h.Number, h.ParentHash, prev.Number, prev.Hash)
	}
	bi.byNumber[h.Number] = h
	if h.Number > bi.tip {
		bi.tip = h.Number
	}
	bi.prune()
	return nil
}

// TruncateAbove drops all headers strictly above the given height.
// Used after a reorg rolls the feed back to the common ancestor.
func (bi *BlockIndex) TruncateAbove(number int64) {
	for n := range bi.byNumber {
		if n > number {
			delete(bi.byNumber, n)
		}
	}
	if bi.tip > number {
		bi.tip = number
	}
}

func (bi *BlockIndex) prune() {
	floor := bi.tip - int64(bi.depth)
	for n := range bi.byNumber {
		if n < floor {
			delete(bi.byNumber, n)
		}
	}
}

// Reset drops all retained headers.
func (bi *BlockIndex) Reset() {
	bi.byNumber = make(map[int64]chain.BlockHeader)
	bi.tip = 0
}
