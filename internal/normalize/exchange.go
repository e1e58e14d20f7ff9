package normalize

import (
	"math/big"
	"strings"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
)

// keccak256 hashes of the exchange event signatures. CTFExchange and
// NegRiskExchange emit the same shapes.
const (
	sigOrderFilled     = "0xb3f064fe1a0bdc56bbfd238623b83938c54846b0aa13287053089c58d24c50da" // OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256,uint8,uint256)
	sigOrderCancelled  = "0x5152abf959f6564662358c2e52b702259b78bac5ee7842a0f01937e670efcc7d" // OrderCancelled(bytes32)
	sigTokenRegistered = "0xbc9a2432e8aeb48327246cddd6e872ef452812b4243c04e6bfb786a2cd8faf0d" // TokenRegistered(uint256,uint256,bytes32)
)

type exchangeDecoder struct{}

func (d *exchangeDecoder) Decode(log *chain.RawLog) (event.Event, error) {
	topic0, err := topicHash(log.Topics, 0)
	if err != nil {
		return nil, decodeWrap("topic0", err)
	}

	switch topic0 {
	case sigOrderFilled:
		return d.orderFilled(log)
	case sigOrderCancelled:
		return d.orderCancelled(log)
	case sigTokenRegistered:
		return d.tokenRegistered(log)
	default:
		return nil, decodeErrf("unrecognized exchange topic %s", topic0)
	}
}

// OrderFilled(bytes32 indexed orderHash, address indexed maker,
// address indexed taker, uint256 makerAssetId, uint256 takerAssetId,
// uint256 makerAmountFilled, uint256 takerAmountFilled,
// uint256 remaining, uint8 side, uint256 fee)
//
// Exactly one of makerAssetId/takerAssetId is zero: the zero side is the
// collateral leg, the nonzero side the position-token leg. Side 0 means
// the taker bought position tokens.
func (d *exchangeDecoder) orderFilled(log *chain.RawLog) (event.Event, error) {
	orderHash, err := topicHash(log.Topics, 1)
	if err != nil {
		return nil, decodeWrap("orderHash", err)
	}
	maker, err := topicAddress(log.Topics, 2)
	if err != nil {
		return nil, decodeWrap("maker", err)
	}
	taker, err := topicAddress(log.Topics, 3)
	if err != nil {
		return nil, decodeWrap("taker", err)
	}
	w, err := newWords(log.Data)
	if err != nil {
		return nil, decodeWrap("data", err)
	}
	makerAssetID, err := w.word(0)
	if err != nil {
		return nil, decodeWrap("makerAssetId", err)
	}
	takerAssetID, err := w.word(1)
	if err != nil {
		return nil, decodeWrap("takerAssetId", err)
	}
	makerFilled, err := w.amount(2)
	if err != nil {
		return nil, decodeWrap("makerAmountFilled", err)
	}
	takerFilled, err := w.amount(3)
	if err != nil {
		return nil, decodeWrap("takerAmountFilled", err)
	}
	remaining, err := w.amount(4)
	if err != nil {
		return nil, decodeWrap("remaining", err)
	}
	sideWord, err := w.word(5)
	if err != nil {
		return nil, decodeWrap("side", err)
	}
	fee, err := w.amount(6)
	if err != nil {
		return nil, decodeWrap("fee", err)
	}

	var side event.TradeSide
	switch sideWord.Int64() {
	case 0:
		side = event.SideBuy
	case 1:
		side = event.SideSell
	default:
		return nil, decodeErrf("invalid side %s", sideWord)
	}

	makerZero := makerAssetID.Sign() == 0
	takerZero := takerAssetID.Sign() == 0
	if makerZero == takerZero {
		return nil, decodeErrf("expected exactly one collateral leg, maker=%s taker=%s", makerAssetID, takerAssetID)
	}

	fill := &event.OrderFilled{
		LogRef:    logRef(log),
		OrderHash: orderHash,
		Maker:     maker,
		Taker:     taker,
		Remaining: remaining,
		Side:      side,
		Fee:       fee,
	}
	if makerZero {
		// Maker paid collateral, taker delivered tokens.
		fill.TokenID = takerAssetID.String()
		fill.TokenAmount = takerFilled
		fill.CollateralAmount = makerFilled
	} else {
		fill.TokenID = makerAssetID.String()
		fill.TokenAmount = makerFilled
		fill.CollateralAmount = takerFilled
	}
	if fill.TokenAmount < 0 || fill.CollateralAmount < 0 || fill.Remaining < 0 {
		return nil, decodeErrf("negative fill leg for order %s", orderHash)
	}
	return fill, nil
}

// OrderCancelled(bytes32 indexed orderHash)
func (d *exchangeDecoder) orderCancelled(log *chain.RawLog) (event.Event, error) {
	orderHash, err := topicHash(log.Topics, 1)
	if err != nil {
		return nil, decodeWrap("orderHash", err)
	}
	return &event.OrderCancelled{
		LogRef:    logRef(log),
		OrderHash: orderHash,
	}, nil
}

// TokenRegistered(uint256 indexed token0, uint256 indexed token1,
// bytes32 indexed conditionId)
func (d *exchangeDecoder) tokenRegistered(log *chain.RawLog) (event.Event, error) {
	token0, err := topicHash(log.Topics, 1)
	if err != nil {
		return nil, decodeWrap("token0", err)
	}
	token1, err := topicHash(log.Topics, 2)
	if err != nil {
		return nil, decodeWrap("token1", err)
	}
	condition, err := topicHash(log.Topics, 3)
	if err != nil {
		return nil, decodeWrap("conditionId", err)
	}
	t0, ok := new(big.Int).SetString(strings.TrimPrefix(token0, "0x"), 16)
	if !ok {
		return nil, decodeErrf("bad token0 %s", token0)
	}
	t1, ok := new(big.Int).SetString(strings.TrimPrefix(token1, "0x"), 16)
	if !ok {
		return nil, decodeErrf("bad token1 %s", token1)
	}
	if t0.Cmp(t1) == 0 {
		return nil, decodeErrf("token0 equals token1 for condition %s", condition)
	}
	return &event.TokenRegistered{
		LogRef:    logRef(log),
		Token0:    t0.String(),
		Token1:    t1.String(),
		Condition: condition,
	}, nil
}
