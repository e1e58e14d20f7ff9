package rollup

import "time"

// Window is one rolling aggregation span.
type Window string

const (
	W1h  Window = "1h"
	W4h  Window = "4h"
	W12h Window = "12h"
	W24h Window = "24h"
	W7d  Window = "7d"
	W30d Window = "30d"
	WAll Window = "all"
)

// Windows returns the standard set in ascending span order.
func Windows() []Window {
	return []Window{W1h, W4h, W12h, W24h, W7d, W30d, WAll}
}

// Span returns the window length, 0 for the all-time window.
func (w Window) Span() time.Duration {
	switch w {
	case W1h:
		return time.Hour
	case W4h:
		return 4 * time.Hour
	case W12h:
		return 12 * time.Hour
	case W24h:
		return 24 * time.Hour
	case W7d:
		return 7 * 24 * time.Hour
	case W30d:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Agg is the rolled-up trade activity over one window.
type Agg struct {
	Volume int64 // micro collateral
	Trades int64
	Open   int64 // micro price at window start
	High   int64
	Low    int64
	Close  int64 // latest micro price
}
