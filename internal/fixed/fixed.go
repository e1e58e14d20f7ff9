package fixed

import (
	"fmt"
	"math/big"
)

// All monetary quantities are fixed-point int64 in micro units:
// share amounts and collateral (USDC) amounts use 6 decimals, and prices
// are collateral-per-share in [0, 1] scaled by 1e6.
const (
	Scale      int64 = 1_000_000
	PriceScale int64 = 1_000_000
)

var maxInt64 = big.NewInt(1<<63 - 1)

// MulDiv computes a*b/div using 128-bit intermediates to avoid overflow.
// Truncates toward zero.
func MulDiv(a, b, div int64) int64 {
	if div == 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	n.Quo(n, big.NewInt(div))
	return n.Int64()
}

// Price derives a per-share price from collateral and share amounts.
// Matches the exchange convention: price = collateral / shares.
func Price(collateral, shares int64) int64 {
	if shares == 0 {
		return PriceScale / 2
	}
	return MulDiv(collateral, PriceScale, shares)
}

// WeightedAvg computes the running weighted average
// (oldQty*oldAvg + addQty*addPrice) / (oldQty + addQty).
func WeightedAvg(oldQty, oldAvg, addQty, addPrice int64) int64 {
	total := oldQty + addQty
	if total == 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(oldQty), big.NewInt(oldAvg))
	n.Add(n, new(big.Int).Mul(big.NewInt(addQty), big.NewInt(addPrice)))
	n.Quo(n, big.NewInt(total))
	return n.Int64()
}

// FromWord converts a 256-bit unsigned word into an int64 micro amount.
// Chain values already carry 6 decimals, so no rescaling is applied.
// Values that do not fit int64 are rejected rather than silently truncated.
func FromWord(v *big.Int) (int64, error) {
	if v.Sign() < 0 {
		return 0, fmt.Errorf("negative amount word %s", v)
	}
	if v.Cmp(maxInt64) > 0 {
		return 0, fmt.Errorf("amount word %s overflows int64 micro units", v)
	}
	return v.Int64(), nil
}
