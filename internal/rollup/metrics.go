package rollup

import (
	"math"
	"time"

	"MarketIndexer/internal/fixed"
)

// Snapshot is one computed metrics row per condition. Window aggregates
// are stored facts; the derived fields are pure functions of them and of
// the book inputs captured at trigger time, never independent sources of
// truth.
type Snapshot struct {
	Condition  string
	ComputedAt time.Time

	Windows map[Window]Agg

	BestBid   int64
	BestAsk   int64
	Mid       int64
	Spread    int64
	LastPrice int64

	OpenInterest int64 // micro collateral value of outstanding tokens

	PriceMomentum    int64 // micro price delta over 24h
	VolumeMomentum   int64 // 24h volume minus the prior 24h
	Turnover         int64 // 24h volume / open interest, micro ratio
	NormalizedSpread int64 // spread / mid, micro ratio
	Volatility       int64 // stddev of 24h minute closes, micro price
}

// PriceMomentum is the close-to-open price move of a window.
func PriceMomentum(agg Agg) int64 {
	if agg.Open == 0 {
		return 0
	}
	return agg.Close - agg.Open
}

// VolumeMomentum compares a window's volume against the preceding window
// of the same span.
func VolumeMomentum(current, previous Agg) int64 {
	return current.Volume - previous.Volume
}

// Turnover is traded volume relative to open interest, in micro units.
// Zero open interest yields zero rather than a division blowup.
func Turnover(volume, openInterest int64) int64 {
	if openInterest == 0 {
		return 0
	}
	return fixed.MulDiv(volume, fixed.Scale, openInterest)
}

// Volatility is the population standard deviation of minute close
// prices, in micro price units. Fewer than two observations yield zero.
func Volatility(closes []int64) int64 {
	n := int64(len(closes))
	if n < 2 {
		return 0
	}
	var sum int64
	for _, c := range closes {
		sum += c
	}
	mean := sum / n

	var variance float64
	for _, c := range closes {
		d := float64(c - mean)
		variance += d * d
	}
	variance /= float64(n)
	return int64(math.Sqrt(variance))
}
