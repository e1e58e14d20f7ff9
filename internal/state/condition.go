package state

import (
	"fmt"
	"time"
)

// ConditionStatus is the resolution state of a market condition.
type ConditionStatus uint8

const (
	ConditionActive ConditionStatus = iota
	ConditionResolved
)

func (s ConditionStatus) String() string {
	if s == ConditionResolved {
		return "resolved"
	}
	return "active"
}

// Condition is one prepared market question.
type Condition struct {
	ID               string
	Oracle           string
	QuestionID       string
	OutcomeSlotCount int
	Status           ConditionStatus
	PayoutNumerators []int64 // set at resolution, nil while active
	PreparedBlock    int64
	ResolvedBlock    int64
	PreparedAt       time.Time
	ResolvedAt       time.Time
}

// Resolved reports whether a payout vector has been recorded.
func (c *Condition) Resolved() bool {
	return c.Status == ConditionResolved
}

// PositionToken is one outcome leg of a condition. TokenID is the
// internal deterministic id assigned at preparation; ChainID is the
// ERC-1155 id in decimal, learned from token registration.
type PositionToken struct {
	TokenID      string
	ChainID      string // "" until registered
	Condition    string
	OutcomeIndex int
	TotalSupply  int64
	LastPrice    int64 // micro price of the last trade, 0 until traded
	LastTradeAt  time.Time
}

// TokenIDFor derives the deterministic token id used for eagerly created
// outcome tokens.
func TokenIDFor(conditionID string, outcome int) string {
	return fmt.Sprintf("%s:%d", conditionID, outcome)
}

// LastWrite records the chain position of the most recent mutation of an
// entity, for audit and reorg attribution.
type LastWrite struct {
	Block    int64
	TxHash   string
	LogIndex int64
}
