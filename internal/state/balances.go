package state

import "fmt"

// BalanceKey identifies one (holder, token) balance.
type BalanceKey struct {
	User    string
	TokenID string
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s", k.User, k.TokenID)
}

// Balance is one holder's position-token balance with its last mutation.
type Balance struct {
	Key       BalanceKey
	Amount    int64
	LastWrite LastWrite
}

// BalanceTracker maintains in-memory holder balances. Balances never go
// negative: a debit past zero floors and reports the shortfall so the
// caller can flag the event.
type BalanceTracker struct {
	balances map[BalanceKey]*Balance
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[BalanceKey]*Balance),
	}
}

// Credit adds amount to the balance, creating it if absent.
func (bt *BalanceTracker) Credit(key BalanceKey, amount int64, w LastWrite) *Balance {
	b, ok := bt.balances[key]
	if !ok {
		b = &Balance{Key: key}
		bt.balances[key] = b
	}
	b.Amount += amount
	b.LastWrite = w
	return b
}

// Debit removes up to amount from the balance, flooring at zero.
// The returned shortfall is zero when the holder had enough.
func (bt *BalanceTracker) Debit(key BalanceKey, amount int64, w LastWrite) (*Balance, int64) {
	b, ok := bt.balances[key]
	if !ok {
		b = &Balance{Key: key}
		bt.balances[key] = b
	}
	var short int64
	if b.Amount < amount {
		short = amount - b.Amount
		b.Amount = 0
	} else {
		b.Amount -= amount
	}
	b.LastWrite = w
	return b, short
}

// Get returns the current amount for a key (zero for unknown holders).
func (bt *BalanceTracker) Get(key BalanceKey) int64 {
	if b, ok := bt.balances[key]; ok {
		return b.Amount
	}
	return 0
}

// HolderCount returns the number of nonzero balances for a token.
func (bt *BalanceTracker) HolderCount(tokenID string) int {
	n := 0
	for k, b := range bt.balances {
		if k.TokenID == tokenID && b.Amount > 0 {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of all balances (for state hashing and replay
// verification).
func (bt *BalanceTracker) Snapshot() map[BalanceKey]int64 {
	snapshot := make(map[BalanceKey]int64, len(bt.balances))
	for k, b := range bt.balances {
		snapshot[k] = b.Amount
	}
	return snapshot
}

// Reset drops all balances. Used when derived state is rebuilt after a
// chain reorganization.
func (bt *BalanceTracker) Reset() {
	bt.balances = make(map[BalanceKey]*Balance)
}
