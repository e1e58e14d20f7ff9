package project

import (
	"github.com/rs/zerolog"

	"MarketIndexer/internal/event"
	"MarketIndexer/internal/fixed"
	"MarketIndexer/internal/state"
)

// Projector applies typed events to the canonical state and emits the
// row batch to persist. Apply is deterministic and idempotent per event;
// on error the state is untouched, so a retry after the missing
// dependency arrives behaves as if the first attempt never happened.
type Projector struct {
	st  *state.State
	log zerolog.Logger
}

func New(st *state.State, log zerolog.Logger) *Projector {
	return &Projector{
		st:  st,
		log: log.With().Str("component", "projector").Logger(),
	}
}

func (p *Projector) State() *state.State { return p.st }

// Apply projects one event. Errors are *OrderingError or
// *ConsistencyError; the caller classifies them for retry dispatch.
func (p *Projector) Apply(ev event.Event) (*Mutation, error) {
	m := &Mutation{}
	var err error
	switch e := ev.(type) {
	case *event.ConditionPrepared:
		err = p.conditionPrepared(m, e)
	case *event.PayoutReported:
		err = p.payoutReported(m, e)
	case *event.TokenRegistered:
		err = p.tokenRegistered(m, e)
	case *event.PositionSplit:
		err = p.supplyDelta(m, e.Condition, e.IndexSets, e.Amount)
	case *event.PositionsMerge:
		err = p.supplyDelta(m, e.Condition, e.IndexSets, -e.Amount)
	case *event.PayoutRedeemed:
		err = p.payoutRedeemed(m, e)
	case *event.TokenTransfer:
		err = p.transfer(m, e)
	case *event.TokenTransferBatch:
		err = p.transferBatch(m, e)
	case *event.OrderFilled:
		err = p.orderFilled(m, e)
	case *event.OrderCancelled:
		err = p.orderCancelled(m, e)
	default:
		err = consistencyErrf("unhandled event type %s", ev.Type())
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func writeAt(ref event.Ref) state.LastWrite {
	return state.LastWrite{Block: ref.Block.Number, TxHash: ref.TxHash, LogIndex: ref.LogIndex}
}

// conditionPrepared inserts the condition and one token per outcome
// slot. Duplicate preparation is a no-op.
func (p *Projector) conditionPrepared(m *Mutation, e *event.ConditionPrepared) error {
	ref := e.Ref()
	cond := &state.Condition{
		ID:               e.Condition,
		Oracle:           e.Oracle,
		QuestionID:       e.QuestionID,
		OutcomeSlotCount: e.OutcomeSlotCount,
		Status:           state.ConditionActive,
		PreparedBlock:    ref.Block.Number,
		PreparedAt:       ref.Timestamp(),
	}
	if !p.st.AddCondition(cond) {
		p.log.Debug().Str("condition", e.Condition).Msg("duplicate condition preparation")
		return nil
	}
	m.Conditions = append(m.Conditions, cond)
	for i := 0; i < e.OutcomeSlotCount; i++ {
		t := &state.PositionToken{
			TokenID:      state.TokenIDFor(e.Condition, i),
			Condition:    e.Condition,
			OutcomeIndex: i,
		}
		p.st.AddToken(t)
		m.Tokens = append(m.Tokens, t)
	}
	return nil
}

func (p *Projector) payoutReported(m *Mutation, e *event.PayoutReported) error {
	cond, ok := p.st.Conditions[e.Condition]
	if !ok {
		return orderingErrf("resolution for unknown condition %s", e.Condition)
	}
	if len(e.PayoutNumerators) != cond.OutcomeSlotCount {
		return consistencyErrf("condition %s has %d outcomes, payout vector has %d",
			e.Condition, cond.OutcomeSlotCount, len(e.PayoutNumerators))
	}
	if cond.Resolved() {
		if payoutsEqual(cond.PayoutNumerators, e.PayoutNumerators) {
			return nil
		}
		return consistencyErrf("condition %s re-resolved with different payouts", e.Condition)
	}
	ref := e.Ref()
	cond.Status = state.ConditionResolved
	cond.PayoutNumerators = append([]int64(nil), e.PayoutNumerators...)
	cond.ResolvedBlock = ref.Block.Number
	cond.ResolvedAt = ref.Timestamp()
	m.Conditions = append(m.Conditions, cond)
	return nil
}

func payoutsEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (p *Projector) tokenRegistered(m *Mutation, e *event.TokenRegistered) error {
	tokens := p.st.TokensFor(e.Condition)
	if len(tokens) < 2 {
		return orderingErrf("registration for unprepared condition %s", e.Condition)
	}
	for i, chainID := range []string{e.Token0, e.Token1} {
		token := p.st.Tokens[tokens[i]]
		bound, err := p.st.BindChainID(chainID, token)
		if err != nil {
			return consistencyErrf("condition %s: %v", e.Condition, err)
		}
		if bound {
			m.Tokens = append(m.Tokens, token)
		}
	}
	return nil
}

// supplyDelta adjusts total supply of the addressed outcome tokens.
// All tokens are checked before any is touched so a rejection leaves no
// partial application.
func (p *Projector) supplyDelta(m *Mutation, conditionID string, indexSets []int, delta int64) error {
	if _, ok := p.st.Conditions[conditionID]; !ok {
		return orderingErrf("supply change for unknown condition %s", conditionID)
	}
	tokens := make([]*state.PositionToken, 0, len(indexSets))
	for _, idx := range indexSets {
		t, ok := p.st.Tokens[state.TokenIDFor(conditionID, idx)]
		if !ok {
			return orderingErrf("condition %s has no outcome %d", conditionID, idx)
		}
		if t.TotalSupply+delta < 0 {
			return orderingErrf("token %s supply %d would go negative by %d", t.TokenID, t.TotalSupply, delta)
		}
		tokens = append(tokens, t)
	}
	for _, t := range tokens {
		t.TotalSupply += delta
		m.Tokens = append(m.Tokens, t)
	}
	return nil
}

// payoutRedeemed burns the redeemer's entire balance of every redeemed
// index set. The log carries only the aggregate collateral payout, which
// says nothing about losing outcomes, so burned shares come from tracked
// balances. All sets are checked before any is touched.
func (p *Projector) payoutRedeemed(m *Mutation, e *event.PayoutRedeemed) error {
	cond, ok := p.st.Conditions[e.Condition]
	if !ok {
		return orderingErrf("redemption for unknown condition %s", e.Condition)
	}
	if !cond.Resolved() {
		return orderingErrf("redemption before resolution of %s", e.Condition)
	}

	type burn struct {
		token *state.PositionToken
		held  int64
	}
	burns := make([]burn, 0, len(e.IndexSets))
	for _, idx := range e.IndexSets {
		t, ok := p.st.Tokens[state.TokenIDFor(e.Condition, idx)]
		if !ok {
			return orderingErrf("condition %s has no outcome %d", e.Condition, idx)
		}
		held := p.st.Balances.Get(state.BalanceKey{User: e.Redeemer, TokenID: t.TokenID})
		if held > t.TotalSupply {
			return consistencyErrf("token %s holder balance %d exceeds supply %d",
				t.TokenID, held, t.TotalSupply)
		}
		burns = append(burns, burn{token: t, held: held})
	}

	w := writeAt(e.Ref())
	for _, b := range burns {
		if b.held == 0 {
			continue
		}
		bal, _ := p.st.Balances.Debit(state.BalanceKey{User: e.Redeemer, TokenID: b.token.TokenID}, b.held, w)
		m.Balances = append(m.Balances, bal)
		b.token.TotalSupply -= b.held
		m.Tokens = append(m.Tokens, b.token)
	}
	return nil
}

func (p *Projector) transfer(m *Mutation, e *event.TokenTransfer) error {
	token, ok := p.st.TokenByChainID(e.TokenID)
	if !ok {
		return orderingErrf("transfer of unregistered token %s", e.TokenID)
	}
	p.applyTransferLeg(m, token, e.From, e.To, e.Amount, writeAt(e.Ref()))
	return nil
}

func (p *Projector) transferBatch(m *Mutation, e *event.TokenTransferBatch) error {
	tokens := make([]*state.PositionToken, 0, len(e.Entries))
	for _, entry := range e.Entries {
		token, ok := p.st.TokenByChainID(entry.TokenID)
		if !ok {
			return orderingErrf("batch transfer of unregistered token %s", entry.TokenID)
		}
		tokens = append(tokens, token)
	}
	w := writeAt(e.Ref())
	for i, entry := range e.Entries {
		p.applyTransferLeg(m, tokens[i], e.From, e.To, entry.Amount, w)
	}
	return nil
}

// applyTransferLeg moves balance between holders. The zero address marks
// the mint/burn side, which carries no balance of its own. A sender debit
// past zero floors and is flagged rather than rejected.
func (p *Projector) applyTransferLeg(m *Mutation, token *state.PositionToken, from, to string, amount int64, w state.LastWrite) {
	if from != event.ZeroAddress {
		b, short := p.st.Balances.Debit(state.BalanceKey{User: from, TokenID: token.TokenID}, amount, w)
		if short > 0 {
			p.log.Warn().
				Str("user", from).
				Str("token", token.TokenID).
				Int64("short", short).
				Msg("transfer debit floored at zero")
			m.flag("balance_floor", b.Key.String())
		}
		m.Balances = append(m.Balances, b)
	}
	if to != event.ZeroAddress {
		b := p.st.Balances.Credit(state.BalanceKey{User: to, TokenID: token.TokenID}, amount, w)
		m.Balances = append(m.Balances, b)
	}
}

func (p *Projector) orderFilled(m *Mutation, e *event.OrderFilled) error {
	token, ok := p.st.TokenByChainID(e.TokenID)
	if !ok {
		return orderingErrf("fill references unregistered token %s", e.TokenID)
	}
	ref := e.Ref()
	w := writeAt(ref)
	price := fixed.Price(e.CollateralAmount, e.TokenAmount)

	makerSide := event.SideSell
	if e.Side == event.SideSell {
		makerSide = event.SideBuy
	}

	order, known := p.st.Orders[e.OrderHash]
	if !known {
		order = &state.Order{
			Hash:      e.OrderHash,
			Maker:     e.Maker,
			TokenID:   token.TokenID,
			Condition: token.Condition,
			Side:      makerSide,
			Status:    state.OrderOpen,
			FirstSeen: ref.Timestamp(),
		}
	}
	if err := order.ApplyFill(e.TokenAmount, e.Remaining, price, ref.Timestamp(), w); err != nil {
		return consistencyErrf("%v", err)
	}
	if !known {
		p.st.AddOrder(order)
	}
	m.Orders = append(m.Orders, order)

	trade := &state.Trade{
		TxHash:     ref.TxHash,
		LogIndex:   ref.LogIndex,
		Block:      ref.Block.Number,
		OrderHash:  e.OrderHash,
		Condition:  token.Condition,
		TokenID:    token.TokenID,
		Maker:      e.Maker,
		Taker:      e.Taker,
		Side:       e.Side,
		Shares:     e.TokenAmount,
		Collateral: e.CollateralAmount,
		Price:      price,
		Fee:        e.Fee,
		ExecutedAt: ref.Timestamp(),
	}
	m.Trades = append(m.Trades, trade)

	token.LastPrice = price
	token.LastTradeAt = ref.Timestamp()
	m.Tokens = append(m.Tokens, token)

	book := p.st.Book(token.Condition)
	state.RefreshBook(book, p.st.OrdersFor(token.Condition), price, ref.Timestamp(), w)
	m.Books = append(m.Books, book)
	return nil
}

func (p *Projector) orderCancelled(m *Mutation, e *event.OrderCancelled) error {
	ref := e.Ref()
	w := writeAt(ref)

	order, known := p.st.Orders[e.OrderHash]
	if !known {
		// Orders live off-chain until first fill; a cancel can be the
		// only trace of one. Record the stub.
		order = &state.Order{
			Hash:       e.OrderHash,
			Status:     state.OrderCancelled,
			FirstSeen:  ref.Timestamp(),
			LastSeenAt: ref.Timestamp(),
			LastWrite:  w,
		}
		p.st.AddOrder(order)
		m.Orders = append(m.Orders, order)
		return nil
	}
	if err := order.Cancel(ref.Timestamp(), w); err != nil {
		return consistencyErrf("%v", err)
	}
	m.Orders = append(m.Orders, order)

	if order.Condition != "" {
		book := p.st.Book(order.Condition)
		state.RefreshBook(book, p.st.OrdersFor(order.Condition), 0, ref.Timestamp(), w)
		m.Books = append(m.Books, book)
	}
	return nil
}
