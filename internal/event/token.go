package event

// PositionSplit mints position tokens: collateral is split into one token
// per outcome in the index sets. Supply of each touched token grows.
type PositionSplit struct {
	LogRef      Ref
	Stakeholder string
	Collateral  string
	Condition   string
	IndexSets   []int // outcome indexes receiving supply
	Amount      int64 // micro shares per outcome token
}

func (e *PositionSplit) Type() Type          { return TypePositionSplit }
func (e *PositionSplit) ConditionID() string { return e.Condition }
func (e *PositionSplit) Ref() Ref            { return e.LogRef }

// PositionsMerge burns a full set of position tokens back into collateral.
type PositionsMerge struct {
	LogRef      Ref
	Stakeholder string
	Collateral  string
	Condition   string
	IndexSets   []int
	Amount      int64
}

func (e *PositionsMerge) Type() Type          { return TypePositionsMerge }
func (e *PositionsMerge) ConditionID() string { return e.Condition }
func (e *PositionsMerge) Ref() Ref            { return e.LogRef }

// PayoutRedeemed burns the redeemer's position tokens after resolution
// in exchange for the payout. The log reports only the collateral paid
// out; the shares burned per index set are the redeemer's full holdings,
// reconciled against tracked balances by the projector.
type PayoutRedeemed struct {
	LogRef     Ref
	Redeemer   string
	Collateral string
	Condition  string
	IndexSets  []int
	Payout     int64 // micro collateral paid out
}

func (e *PayoutRedeemed) Type() Type          { return TypePayoutRedeemed }
func (e *PayoutRedeemed) ConditionID() string { return e.Condition }
func (e *PayoutRedeemed) Ref() Ref            { return e.LogRef }

// ZeroAddress is the mint/burn counterparty in transfer events.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// TokenTransfer moves position tokens between holders. From==ZeroAddress
// is a mint (no sender decrement); To==ZeroAddress is a burn.
type TokenTransfer struct {
	LogRef   Ref
	Operator string
	From     string
	To       string
	TokenID  string
	Amount   int64
}

func (e *TokenTransfer) Type() Type          { return TypeTokenTransfer }
func (e *TokenTransfer) ConditionID() string { return "" } // resolved via TokenID
func (e *TokenTransfer) Ref() Ref            { return e.LogRef }

// BatchEntry is one (token, amount) pair inside a batch transfer.
type BatchEntry struct {
	TokenID string
	Amount  int64
}

// TokenTransferBatch moves several token ids between the same pair of
// holders in one log. The projector applies entries in order; a failure on
// entry i leaves entries 0..i-1 applied and surfaces the error.
type TokenTransferBatch struct {
	LogRef   Ref
	Operator string
	From     string
	To       string
	Entries  []BatchEntry
}

func (e *TokenTransferBatch) Type() Type          { return TypeTokenTransferBatch }
func (e *TokenTransferBatch) ConditionID() string { return "" }
func (e *TokenTransferBatch) Ref() Ref            { return e.LogRef }
