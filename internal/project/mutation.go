package project

import "MarketIndexer/internal/state"

// Flag is a recorded anomaly on an otherwise applied event, e.g. a
// transfer debit that floored at zero.
type Flag struct {
	Class   string
	Message string
}

// Mutation is the row batch one applied event produces. The store writes
// every row in the same transaction as the event-log row and the cursor
// advance. Rows reference live state entities; the pipeline is
// single-writer so they are stable until the write completes.
type Mutation struct {
	Conditions []*state.Condition
	Tokens     []*state.PositionToken
	Balances   []*state.Balance
	Orders     []*state.Order
	Trades     []*state.Trade
	Books      []*state.BookSnapshot
	Flags      []Flag
}

// Empty reports whether the event changed nothing (idempotent replays).
func (m *Mutation) Empty() bool {
	return len(m.Conditions) == 0 && len(m.Tokens) == 0 && len(m.Balances) == 0 &&
		len(m.Orders) == 0 && len(m.Trades) == 0 && len(m.Books) == 0 && len(m.Flags) == 0
}

func (m *Mutation) flag(class, message string) {
	m.Flags = append(m.Flags, Flag{Class: class, Message: message})
}
