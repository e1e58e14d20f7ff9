package state

import (
	"fmt"
	"time"

	"MarketIndexer/internal/event"
)

// OrderStatus is the lifecycle state of an exchange order.
type OrderStatus uint8

const (
	OrderOpen OrderStatus = iota
	OrderPartial
	OrderFilled
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPartial:
		return "PARTIAL"
	case OrderFilled:
		return "FILLED"
	case OrderCancelled:
		return "CANCELLED"
	default:
		return "OPEN"
	}
}

// Terminal reports whether no further fills are accepted.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// Order is the maker's resting order as reconstructed from fills.
// Filled only grows; Remaining comes from the most recent fill.
type Order struct {
	Hash       string
	Maker      string
	TokenID    string
	Condition  string
	Side       event.TradeSide // maker's side
	Filled     int64           // cumulative token amount filled
	Remaining  int64
	LastPrice  int64 // micro price of the latest fill
	Status     OrderStatus
	LastWrite  LastWrite
	FirstSeen  time.Time
	LastSeenAt time.Time
}

// ApplyFill folds one fill into the order. Fills against a terminal order
// or a shrinking cumulative fill are ordering violations.
func (o *Order) ApplyFill(tokenAmount, remaining, price int64, at time.Time, w LastWrite) error {
	if o.Status == OrderCancelled {
		return fmt.Errorf("order %s: fill after cancel", o.Hash)
	}
	if o.Status == OrderFilled {
		return fmt.Errorf("order %s: fill after completion", o.Hash)
	}
	if tokenAmount <= 0 {
		return fmt.Errorf("order %s: non-positive fill amount %d", o.Hash, tokenAmount)
	}
	o.Filled += tokenAmount
	o.Remaining = remaining
	o.LastPrice = price
	o.LastSeenAt = at
	o.LastWrite = w
	if remaining == 0 {
		o.Status = OrderFilled
	} else {
		o.Status = OrderPartial
	}
	return nil
}

// Cancel moves the order to its terminal cancelled state. Cancelling a
// fully filled order is a no-op conflict surfaced to the caller.
func (o *Order) Cancel(at time.Time, w LastWrite) error {
	if o.Status == OrderFilled {
		return fmt.Errorf("order %s: cancel after completion", o.Hash)
	}
	o.Status = OrderCancelled
	o.Remaining = 0
	o.LastSeenAt = at
	o.LastWrite = w
	return nil
}

// Trade is one recorded fill. (TxHash, LogIndex) is unique.
type Trade struct {
	TxHash     string
	LogIndex   int64
	Block      int64
	OrderHash  string
	Condition  string
	TokenID    string
	Maker      string
	Taker      string
	Side       event.TradeSide // taker's side
	Shares     int64
	Collateral int64
	Price      int64 // micro collateral per share
	Fee        int64
	ExecutedAt time.Time
}
