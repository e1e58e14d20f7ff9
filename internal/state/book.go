package state

import (
	"time"

	"MarketIndexer/internal/event"
	"MarketIndexer/internal/fixed"
)

// BookSnapshot is the per-condition price picture derived from resting
// orders and the latest trade. Prices are micro collateral per share.
type BookSnapshot struct {
	Condition  string
	BestBid    int64
	BestAsk    int64
	Mid        int64
	Spread     int64
	LastPrice  int64
	UpdatedAt  time.Time
	LastWrite  LastWrite
}

// RefreshBook recomputes the snapshot for one condition from the live
// order set. Best bid is the highest buy-side resting price, best ask the
// lowest sell-side one. Orders in a terminal state contribute nothing.
func RefreshBook(snap *BookSnapshot, orders []*Order, lastPrice int64, at time.Time, w LastWrite) {
	snap.BestBid = 0
	snap.BestAsk = 0
	for _, o := range orders {
		if o.Status.Terminal() || o.LastPrice == 0 {
			continue
		}
		switch o.Side {
		case event.SideBuy:
			if o.LastPrice > snap.BestBid {
				snap.BestBid = o.LastPrice
			}
		case event.SideSell:
			if snap.BestAsk == 0 || o.LastPrice < snap.BestAsk {
				snap.BestAsk = o.LastPrice
			}
		}
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.Mid = (snap.BestBid + snap.BestAsk) / 2
		snap.Spread = snap.BestAsk - snap.BestBid
	} else {
		snap.Mid = 0
		snap.Spread = 0
	}
	if lastPrice > 0 {
		snap.LastPrice = lastPrice
	}
	snap.UpdatedAt = at
	snap.LastWrite = w
}

// NormalizedSpread returns spread/mid scaled to micro units, 0 when the
// book has no two-sided quote.
func (s *BookSnapshot) NormalizedSpread() int64 {
	if s.Mid == 0 {
		return 0
	}
	return fixed.MulDiv(s.Spread, fixed.Scale, s.Mid)
}
