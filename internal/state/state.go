package state

import "fmt"

// State is the canonical in-memory projection: the single source the
// projector consults for preconditions. It is owned by one goroutine per
// the feed pipeline discipline; no internal locking.
type State struct {
	Conditions map[string]*Condition
	Tokens     map[string]*PositionToken // by token id
	Balances   *BalanceTracker
	Orders     map[string]*Order // by order hash
	Books      map[string]*BookSnapshot // by condition id

	ordersByCondition map[string][]*Order
	tokensByCondition map[string][]string
	tokensByChainID   map[string]string // chain ERC-1155 id -> internal token id
}

func NewState() *State {
	return &State{
		Conditions:        make(map[string]*Condition),
		Tokens:            make(map[string]*PositionToken),
		Balances:          NewBalanceTracker(),
		Orders:            make(map[string]*Order),
		Books:             make(map[string]*BookSnapshot),
		ordersByCondition: make(map[string][]*Order),
		tokensByCondition: make(map[string][]string),
		tokensByChainID:   make(map[string]string),
	}
}

// AddCondition registers a prepared condition. Returns false when the
// condition already exists (duplicate preparation is a no-op).
func (s *State) AddCondition(c *Condition) bool {
	if _, ok := s.Conditions[c.ID]; ok {
		return false
	}
	s.Conditions[c.ID] = c
	return true
}

// AddToken registers an outcome token. Returns false on duplicates.
func (s *State) AddToken(t *PositionToken) bool {
	if _, ok := s.Tokens[t.TokenID]; ok {
		return false
	}
	s.Tokens[t.TokenID] = t
	s.tokensByCondition[t.Condition] = append(s.tokensByCondition[t.Condition], t.TokenID)
	return true
}

// TokensFor returns the token ids of a condition in outcome order.
func (s *State) TokensFor(conditionID string) []string {
	return s.tokensByCondition[conditionID]
}

// BindChainID maps an ERC-1155 chain id onto an existing token.
// Rebinding to the same token is idempotent; rebinding elsewhere is a
// conflict reported to the caller.
func (s *State) BindChainID(chainID string, token *PositionToken) (bool, error) {
	if existing, ok := s.tokensByChainID[chainID]; ok {
		if existing == token.TokenID {
			return false, nil
		}
		return false, fmt.Errorf("chain id %s already bound to %s", chainID, existing)
	}
	s.tokensByChainID[chainID] = token.TokenID
	token.ChainID = chainID
	return true, nil
}

// TokenByChainID resolves a transfer or fill token reference. Unknown
// ids mean the registration event has not been seen yet.
func (s *State) TokenByChainID(chainID string) (*PositionToken, bool) {
	id, ok := s.tokensByChainID[chainID]
	if !ok {
		return nil, false
	}
	t, ok := s.Tokens[id]
	return t, ok
}

// AddOrder registers a newly observed order.
func (s *State) AddOrder(o *Order) {
	s.Orders[o.Hash] = o
	s.ordersByCondition[o.Condition] = append(s.ordersByCondition[o.Condition], o)
}

// OrdersFor returns all orders observed for a condition, live and
// terminal.
func (s *State) OrdersFor(conditionID string) []*Order {
	return s.ordersByCondition[conditionID]
}

// Book returns the order-book snapshot for a condition, creating an
// empty one on first use.
func (s *State) Book(conditionID string) *BookSnapshot {
	b, ok := s.Books[conditionID]
	if !ok {
		b = &BookSnapshot{Condition: conditionID}
		s.Books[conditionID] = b
	}
	return b
}

// Reset discards all projected state. Used before a replay rebuild.
func (s *State) Reset() {
	s.Conditions = make(map[string]*Condition)
	s.Tokens = make(map[string]*PositionToken)
	s.Balances.Reset()
	s.Orders = make(map[string]*Order)
	s.Books = make(map[string]*BookSnapshot)
	s.ordersByCondition = make(map[string][]*Order)
	s.tokensByCondition = make(map[string][]string)
	s.tokensByChainID = make(map[string]string)
}
