package state

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
)

func TestBalanceDebitFloorsAtZero(t *testing.T) {
	bt := NewBalanceTracker()
	key := BalanceKey{User: "0xaaaa", TokenID: "1"}
	w := LastWrite{Block: 10, TxHash: "0x01", LogIndex: 0}

	bt.Credit(key, 300, w)
	b, short := bt.Debit(key, 500, w)
	if short != 200 {
		t.Errorf("short = %d, want 200", short)
	}
	if b.Amount != 0 {
		t.Errorf("Amount = %d, want 0", b.Amount)
	}

	bt.Credit(key, 100, w)
	_, short = bt.Debit(key, 100, w)
	if short != 0 {
		t.Errorf("short = %d, want 0", short)
	}
}

func TestBalanceHolderCount(t *testing.T) {
	bt := NewBalanceTracker()
	w := LastWrite{Block: 1}
	bt.Credit(BalanceKey{User: "0xaaaa", TokenID: "1"}, 10, w)
	bt.Credit(BalanceKey{User: "0xbbbb", TokenID: "1"}, 20, w)
	bt.Credit(BalanceKey{User: "0xcccc", TokenID: "2"}, 30, w)
	bt.Debit(BalanceKey{User: "0xbbbb", TokenID: "1"}, 20, w)

	if got := bt.HolderCount("1"); got != 1 {
		t.Errorf("HolderCount(1) = %d, want 1", got)
	}
}

func header(number int64, hash, parent string) chain.BlockHeader {
	return chain.BlockHeader{Number: number, Hash: hash, ParentHash: parent}
}

func TestBlockIndexAppend(t *testing.T) {
	bi := NewBlockIndex(16)

	if err := bi.Append(header(100, "0xa", "0x9")); err != nil {
		t.Fatalf("Append(100) error = %v", err)
	}
	if err := bi.Append(header(101, "0xb", "0xa")); err != nil {
		t.Fatalf("Append(101) error = %v", err)
	}
	// Idempotent re-append of a known block.
	if err := bi.Append(header(101, "0xb", "0xa")); err != nil {
		t.Fatalf("re-Append(101) error = %v", err)
	}

	// Competing block at a known height.
	err := bi.Append(header(101, "0xb2", "0xa"))
	if !errors.Is(err, ErrParentMismatch) {
		t.Fatalf("Append(101') error = %v, want ErrParentMismatch", err)
	}

	// Child that does not extend the retained parent.
	err = bi.Append(header(102, "0xc", "0xZZ"))
	if !errors.Is(err, ErrParentMismatch) {
		t.Fatalf("Append(102) error = %v, want ErrParentMismatch", err)
	}
}

func TestBlockIndexTruncate(t *testing.T) {
	bi := NewBlockIndex(16)
	for i := int64(0); i < 5; i++ {
		h := header(100+i, string(rune('a'+i)), string(rune('a'+i-1)))
		if i == 0 {
			h.ParentHash = "genesis"
		}
		if err := bi.Append(h); err != nil {
			t.Fatalf("Append(%d) error = %v", 100+i, err)
		}
	}
	bi.TruncateAbove(102)
	if _, ok := bi.Get(103); ok {
		t.Error("Get(103) after truncate = present, want absent")
	}
	tip, ok := bi.Tip()
	if !ok || tip.Number != 102 {
		t.Errorf("Tip() = %v (%v), want block 102", tip.Number, ok)
	}
}

func TestOrderLifecycle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	w := LastWrite{Block: 50, TxHash: "0x01", LogIndex: 1}
	o := &Order{Hash: "0xdead", Maker: "0xaaaa", TokenID: "1", Side: event.SideSell, Status: OrderOpen}

	if err := o.ApplyFill(40, 60, 650_000, now, w); err != nil {
		t.Fatalf("ApplyFill() error = %v", err)
	}
	if o.Status != OrderPartial {
		t.Errorf("Status = %v, want PARTIAL", o.Status)
	}
	if o.Filled != 40 {
		t.Errorf("Filled = %d, want 40", o.Filled)
	}

	if err := o.ApplyFill(60, 0, 655_000, now, w); err != nil {
		t.Fatalf("ApplyFill() error = %v", err)
	}
	if o.Status != OrderFilled {
		t.Errorf("Status = %v, want FILLED", o.Status)
	}
	if o.Filled != 100 {
		t.Errorf("Filled = %d, want 100", o.Filled)
	}

	if err := o.ApplyFill(1, 0, 650_000, now, w); err == nil {
		t.Error("ApplyFill() after completion = nil, want error")
	}
	if err := o.Cancel(now, w); err == nil {
		t.Error("Cancel() after completion = nil, want error")
	}
}

func TestOrderCancelFreezesFilled(t *testing.T) {
	now := time.Unix(1700000000, 0)
	w := LastWrite{Block: 50}
	o := &Order{Hash: "0xdead", Status: OrderOpen}

	if err := o.ApplyFill(40, 60, 650_000, now, w); err != nil {
		t.Fatalf("ApplyFill() error = %v", err)
	}
	if err := o.Cancel(now, w); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if o.Status != OrderCancelled {
		t.Errorf("Status = %v, want CANCELLED", o.Status)
	}
	if o.Filled != 40 {
		t.Errorf("Filled = %d, want 40 (frozen)", o.Filled)
	}
	if err := o.ApplyFill(10, 50, 650_000, now, w); err == nil {
		t.Error("ApplyFill() after cancel = nil, want error")
	}
}

func TestRefreshBook(t *testing.T) {
	now := time.Unix(1700000000, 0)
	w := LastWrite{Block: 60}
	snap := &BookSnapshot{Condition: "c1"}

	orders := []*Order{
		{Hash: "0x1", Side: event.SideBuy, LastPrice: 600_000, Status: OrderPartial},
		{Hash: "0x2", Side: event.SideBuy, LastPrice: 620_000, Status: OrderOpen},
		{Hash: "0x3", Side: event.SideSell, LastPrice: 680_000, Status: OrderPartial},
		{Hash: "0x4", Side: event.SideSell, LastPrice: 640_000, Status: OrderFilled}, // terminal, ignored
	}
	RefreshBook(snap, orders, 650_000, now, w)

	if snap.BestBid != 620_000 {
		t.Errorf("BestBid = %d, want 620000", snap.BestBid)
	}
	if snap.BestAsk != 680_000 {
		t.Errorf("BestAsk = %d, want 680000", snap.BestAsk)
	}
	if snap.Mid != 650_000 {
		t.Errorf("Mid = %d, want 650000", snap.Mid)
	}
	if snap.Spread != 60_000 {
		t.Errorf("Spread = %d, want 60000", snap.Spread)
	}
	if snap.LastPrice != 650_000 {
		t.Errorf("LastPrice = %d, want 650000", snap.LastPrice)
	}
	// spread/mid in micro units
	if got := snap.NormalizedSpread(); got != 92_307 {
		t.Errorf("NormalizedSpread() = %d, want 92307", got)
	}
}

func TestDigestDeterminism(t *testing.T) {
	build := func() *State {
		s := NewState()
		s.AddCondition(&Condition{ID: "c1", OutcomeSlotCount: 2})
		s.AddToken(&PositionToken{TokenID: "c1:0", Condition: "c1", TotalSupply: 100})
		s.AddToken(&PositionToken{TokenID: "c1:1", Condition: "c1", TotalSupply: 100})
		s.Balances.Credit(BalanceKey{User: "0xaaaa", TokenID: "c1:0"}, 100, LastWrite{Block: 1})
		s.AddOrder(&Order{Hash: "0xdead", Condition: "c1", Filled: 40, Status: OrderPartial})
		return s
	}

	d1 := build().Digest()
	d2 := build().Digest()
	if !bytes.Equal(d1, d2) {
		t.Error("identical states produced different digests")
	}

	other := build()
	other.Balances.Credit(BalanceKey{User: "0xaaaa", TokenID: "c1:0"}, 1, LastWrite{Block: 2})
	if bytes.Equal(d1, other.Digest()) {
		t.Error("different states produced identical digests")
	}
}

func TestDigestChainExtend(t *testing.T) {
	c1 := NewDigestChain()
	c2 := NewDigestChain()

	s := NewState()
	d := s.Digest()

	h1 := c1.Extend(100, 0, d)
	h2 := c2.Extend(100, 0, d)
	if h1 != h2 {
		t.Error("identical extensions produced different chain hashes")
	}
	if c1.Tip() != h1 {
		t.Error("Tip() does not match last Extend()")
	}

	h3 := c1.Extend(100, 1, d)
	if h3 == h1 {
		t.Error("chain hash did not change after Extend()")
	}

	c1.Reset()
	if c1.Tip() != NewDigestChain().Tip() {
		t.Error("Reset() did not rewind to genesis")
	}
}
