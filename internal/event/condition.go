package event

// ConditionPrepared announces a new market: a condition with a fixed set
// of mutually exclusive outcomes. Identity fields are immutable.
type ConditionPrepared struct {
	LogRef           Ref
	Condition        string
	Oracle           string
	QuestionID       string
	OutcomeSlotCount int
}

func (e *ConditionPrepared) Type() Type          { return TypeConditionPrepared }
func (e *ConditionPrepared) ConditionID() string { return e.Condition }
func (e *ConditionPrepared) Ref() Ref            { return e.LogRef }

// PayoutReported is the oracle's resolution: one payout numerator per
// outcome slot. A condition resolves at most once.
type PayoutReported struct {
	LogRef           Ref
	Condition        string
	Oracle           string
	QuestionID       string
	PayoutNumerators []int64
}

func (e *PayoutReported) Type() Type          { return TypePayoutReported }
func (e *PayoutReported) ConditionID() string { return e.Condition }
func (e *PayoutReported) Ref() Ref            { return e.LogRef }
