package position

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"MarketIndexer/internal/event"
	"MarketIndexer/internal/fixed"
	"MarketIndexer/internal/state"
)

const (
	condID  = "0xc0ffee01"
	tokenID = "0xc0ffee01:0"
	alice   = "0xaaaa"
	bob     = "0xbbbb"
)

func trade(logIndex, shares, price int64, takerSide event.TradeSide) *state.Trade {
	return &state.Trade{
		TxHash:     "0xtx",
		LogIndex:   logIndex,
		Block:      100,
		Condition:  condID,
		TokenID:    tokenID,
		Maker:      bob,
		Taker:      alice,
		Side:       takerSide,
		Shares:     shares,
		Price:      price,
		Collateral: fixed.MulDiv(shares, price, fixed.Scale),
		ExecutedAt: time.Unix(1700000000+logIndex, 0).UTC(),
	}
}

func TestWeightedAverageCostBasis(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	// Buy 100 @ 0.65, then sell 40 @ 0.70.
	tr.OnTrade(trade(0, 100_000_000, 650_000, event.SideBuy))
	tr.OnTrade(trade(1, 40_000_000, 700_000, event.SideSell))

	p := tr.Get(Key{User: alice, TokenID: tokenID})
	if p == nil {
		t.Fatal("no position for taker")
	}
	if p.Current != 60_000_000 {
		t.Errorf("Current = %d, want 60000000", p.Current)
	}
	// Sells leave the average untouched.
	if p.AvgBuyPrice != 650_000 {
		t.Errorf("AvgBuyPrice = %d, want 650000", p.AvgBuyPrice)
	}
	// 40 shares * (0.70 - 0.65) = 2.0 collateral.
	if p.RealizedPnL != 2_000_000 {
		t.Errorf("RealizedPnL = %d, want 2000000", p.RealizedPnL)
	}
	if p.SharesBought != 100_000_000 || p.SharesSold != 40_000_000 {
		t.Errorf("bought/sold = %d/%d, want 100000000/40000000", p.SharesBought, p.SharesSold)
	}
}

func TestAverageRecomputedOnBuys(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	tr.OnTrade(trade(0, 100_000_000, 600_000, event.SideBuy))
	tr.OnTrade(trade(1, 100_000_000, 700_000, event.SideBuy))

	p := tr.Get(Key{User: alice, TokenID: tokenID})
	if p.AvgBuyPrice != 650_000 {
		t.Errorf("AvgBuyPrice = %d, want 650000", p.AvgBuyPrice)
	}
	if p.Current != 200_000_000 {
		t.Errorf("Current = %d, want 200000000", p.Current)
	}
}

func TestUnrealizedPnL(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.OnTrade(trade(0, 100_000_000, 650_000, event.SideBuy))

	p := tr.Get(Key{User: alice, TokenID: tokenID})
	// 100 shares marked at 0.72 against 0.65 basis.
	if got := p.UnrealizedPnL(720_000); got != 7_000_000 {
		t.Errorf("UnrealizedPnL = %d, want 7000000", got)
	}
	if got := p.UnrealizedPnL(600_000); got != -5_000_000 {
		t.Errorf("UnrealizedPnL = %d, want -5000000", got)
	}
}

func TestMakerTakesOppositeSide(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.OnTrade(trade(0, 100_000_000, 650_000, event.SideBuy))

	maker := tr.Get(Key{User: bob, TokenID: tokenID})
	if maker == nil {
		t.Fatal("no position for maker")
	}
	// Taker bought, maker sold with no tracked basis.
	if maker.SharesSold != 100_000_000 {
		t.Errorf("maker SharesSold = %d, want 100000000", maker.SharesSold)
	}
	if maker.Current != 0 {
		t.Errorf("maker Current = %d, want 0", maker.Current)
	}
	// No basis to realize against.
	if maker.RealizedPnL != 0 {
		t.Errorf("maker RealizedPnL = %d, want 0", maker.RealizedPnL)
	}
}

func TestUserStatsFold(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.OnTrade(trade(0, 100_000_000, 650_000, event.SideBuy))
	tr.OnTrade(trade(1, 40_000_000, 700_000, event.SideSell))

	s := tr.Stats(alice)
	if s == nil {
		t.Fatal("no stats for taker")
	}
	if s.TotalTrades != 2 {
		t.Errorf("TotalTrades = %d, want 2", s.TotalTrades)
	}
	wantVolume := int64(65_000_000 + 28_000_000)
	if s.TotalVolume != wantVolume {
		t.Errorf("TotalVolume = %d, want %d", s.TotalVolume, wantVolume)
	}
	if s.RealizedPnL != 2_000_000 {
		t.Errorf("RealizedPnL = %d, want 2000000", s.RealizedPnL)
	}
	if s.MarketsTraded != 1 {
		t.Errorf("MarketsTraded = %d, want 1", s.MarketsTraded)
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.OnTrade(trade(0, 100, 650_000, event.SideBuy))
	tr.Reset()
	if tr.Get(Key{User: alice, TokenID: tokenID}) != nil {
		t.Error("position survived Reset()")
	}
	if tr.Stats(alice) != nil {
		t.Error("stats survived Reset()")
	}
}
