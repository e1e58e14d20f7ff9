package event

// TradeSide is the taker's side of an order-book fill.
type TradeSide int32

const (
	SideBuy TradeSide = iota
	SideSell
)

func (s TradeSide) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// OrderFilled records one fill against a resting order. TokenAmount is the
// position-token leg, CollateralAmount the collateral leg; price is
// CollateralAmount/TokenAmount. Remaining is the order's unfilled amount
// after this fill (zero means the order is done).
type OrderFilled struct {
	LogRef           Ref
	OrderHash        string
	Maker            string
	Taker            string
	TokenID          string
	TokenAmount      int64
	CollateralAmount int64
	Remaining        int64
	Side             TradeSide
	Fee              int64
}

func (e *OrderFilled) Type() Type          { return TypeOrderFilled }
func (e *OrderFilled) ConditionID() string { return "" } // resolved via TokenID
func (e *OrderFilled) Ref() Ref            { return e.LogRef }

// OrderCancelled terminates a resting order. Fills already recorded stand.
type OrderCancelled struct {
	LogRef    Ref
	OrderHash string
}

func (e *OrderCancelled) Type() Type          { return TypeOrderCancelled }
func (e *OrderCancelled) ConditionID() string { return "" }
func (e *OrderCancelled) Ref() Ref            { return e.LogRef }

// TokenRegistered binds the two ERC-1155 token ids of a binary market to
// their condition. Transfers and fills reference tokens by these chain
// ids; until registration arrives they cannot be attributed.
type TokenRegistered struct {
	LogRef    Ref
	Token0    string // chain id of the outcome-0 token
	Token1    string // chain id of the outcome-1 token
	Condition string
}

func (e *TokenRegistered) Type() Type          { return TypeTokenRegistered }
func (e *TokenRegistered) ConditionID() string { return e.Condition }
func (e *TokenRegistered) Ref() Ref            { return e.LogRef }
