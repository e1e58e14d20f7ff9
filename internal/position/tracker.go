package position

import (
	"time"

	"github.com/rs/zerolog"

	"MarketIndexer/internal/event"
	"MarketIndexer/internal/fixed"
	"MarketIndexer/internal/state"
)

// Key identifies one holder's position in one outcome token.
type Key struct {
	User    string
	TokenID string
}

// Position is the cost-basis view of a holding. AvgBuyPrice is the
// weighted average over current holdings, recomputed on every buy.
// Sells realize PnL at the average and leave the average unchanged.
type Position struct {
	Key          Key
	Condition    string
	SharesBought int64
	SharesSold   int64
	Current      int64
	TotalCost    int64 // micro collateral spent on buys, reduced pro rata on sells
	AvgBuyPrice  int64 // micro price
	RealizedPnL  int64 // micro collateral
	LastTradeAt  time.Time
}

// UnrealizedPnL marks the current holding against a reference price.
func (p *Position) UnrealizedPnL(markPrice int64) int64 {
	if p.Current == 0 {
		return 0
	}
	return fixed.MulDiv(p.Current, markPrice-p.AvgBuyPrice, fixed.Scale)
}

// UserStats is the incremental per-user trading summary.
type UserStats struct {
	User          string
	TotalTrades   int64
	TotalVolume   int64 // micro collateral across both sides
	RealizedPnL   int64
	MarketsTraded int
	LastTradeAt   time.Time
}

// Tracker folds committed trades into per-user positions and stats.
// It reads only committed projector output, so it never observes a
// partially applied event.
type Tracker struct {
	positions map[Key]*Position
	stats     map[string]*UserStats
	markets   map[string]map[string]bool // user -> condition set
	log       zerolog.Logger
}

func NewTracker(log zerolog.Logger) *Tracker {
	return &Tracker{
		positions: make(map[Key]*Position),
		stats:     make(map[string]*UserStats),
		markets:   make(map[string]map[string]bool),
		log:       log.With().Str("component", "positions").Logger(),
	}
}

// OnTrade applies one fill to both sides and returns the touched rows.
// The taker trades at the trade side; the maker takes the opposite.
func (t *Tracker) OnTrade(trade *state.Trade) ([]*Position, []*UserStats) {
	takerBuys := trade.Side == event.SideBuy

	takerPos, takerRealized := t.applyFill(trade, trade.Taker, takerBuys)
	makerPos, makerRealized := t.applyFill(trade, trade.Maker, !takerBuys)

	stats := []*UserStats{
		t.bumpStats(trade, trade.Taker, takerRealized),
		t.bumpStats(trade, trade.Maker, makerRealized),
	}
	return []*Position{takerPos, makerPos}, stats
}

func (t *Tracker) applyFill(trade *state.Trade, user string, buys bool) (*Position, int64) {
	key := Key{User: user, TokenID: trade.TokenID}
	p, ok := t.positions[key]
	if !ok {
		p = &Position{Key: key, Condition: trade.Condition}
		t.positions[key] = p
	}

	var realized int64
	if buys {
		p.AvgBuyPrice = fixed.WeightedAvg(p.Current, p.AvgBuyPrice, trade.Shares, trade.Price)
		p.SharesBought += trade.Shares
		p.Current += trade.Shares
		p.TotalCost += trade.Collateral
	} else {
		sold := trade.Shares
		if sold > p.Current {
			// Shares acquired outside the order book (transfers, splits)
			// have no recorded basis; realize only against tracked shares.
			t.log.Debug().
				Str("user", user).
				Str("token", trade.TokenID).
				Int64("sold", sold).
				Int64("held", p.Current).
				Msg("sell exceeds tracked basis")
			sold = p.Current
		}
		realized = fixed.MulDiv(sold, trade.Price-p.AvgBuyPrice, fixed.Scale)
		p.RealizedPnL += realized
		p.TotalCost -= fixed.MulDiv(sold, p.AvgBuyPrice, fixed.Scale)
		p.SharesSold += trade.Shares
		p.Current -= sold
		if p.Current == 0 {
			p.TotalCost = 0
		}
	}
	p.LastTradeAt = trade.ExecutedAt
	return p, realized
}

func (t *Tracker) bumpStats(trade *state.Trade, user string, realized int64) *UserStats {
	s, ok := t.stats[user]
	if !ok {
		s = &UserStats{User: user}
		t.stats[user] = s
	}
	seen, ok := t.markets[user]
	if !ok {
		seen = make(map[string]bool)
		t.markets[user] = seen
	}
	if !seen[trade.Condition] {
		seen[trade.Condition] = true
		s.MarketsTraded++
	}
	s.TotalTrades++
	s.TotalVolume += trade.Collateral
	s.RealizedPnL += realized
	s.LastTradeAt = trade.ExecutedAt
	return s
}

// Get returns the tracked position for a key, nil when never traded.
func (t *Tracker) Get(key Key) *Position {
	return t.positions[key]
}

// Stats returns the tracked summary for a user, nil when never traded.
func (t *Tracker) Stats(user string) *UserStats {
	return t.stats[user]
}

// Reset drops all tracked positions for a replay rebuild.
func (t *Tracker) Reset() {
	t.positions = make(map[Key]*Position)
	t.stats = make(map[string]*UserStats)
	t.markets = make(map[string]map[string]bool)
}
