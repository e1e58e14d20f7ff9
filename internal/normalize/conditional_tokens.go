package normalize

import (
	"fmt"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
	"MarketIndexer/internal/fixed"
)

// keccak256 hashes of the ConditionalTokens event signatures.
const (
	sigConditionPreparation = "0xab3760c3bd2bb38b5bcf54dc79802ed67338b4cf29f3054ded67ed24661e4177" // ConditionPreparation(bytes32,address,bytes32,uint256)
	sigConditionResolution  = "0xb44d84d3289691f71497564b85d4233648d9dbae8cbdbb4329f301c3a0185894" // ConditionResolution(bytes32,address,bytes32,uint256,uint256[])
	sigPositionSplit        = "0x2e6bb91f8cbcda0c93623c54d0403a43514fabc40084ec96b6d5379a74786298" // PositionSplit(address,address,bytes32,bytes32,uint256[],uint256)
	sigPositionsMerge       = "0x6f13ca62553fcc2bcd2372180a43949c1e4cebba603901ede2f4e14f36b282ca" // PositionsMerge(address,address,bytes32,bytes32,uint256[],uint256)
	sigPayoutRedemption     = "0x2682012a4a4f1973119f1c9b90745d1bd91fa2bab387344f044cb3586864d18d" // PayoutRedemption(address,address,bytes32,bytes32,uint256[],uint256)
	sigTransferSingle       = "0xc3d58168c5ae7397731d063d5bbf3d657854427343f4c083240f7aacaa2d0f62" // TransferSingle(address,address,address,uint256,uint256)
	sigTransferBatch        = "0x4a39dc06d4c0dbc64b70af90fd698a233a518aa5d07e595d983b8c0526c8f7fb" // TransferBatch(address,address,address,uint256[],uint256[])
)

type conditionalTokensDecoder struct{}

func (d *conditionalTokensDecoder) Decode(log *chain.RawLog) (event.Event, error) {
	topic0, err := topicHash(log.Topics, 0)
	if err != nil {
		return nil, decodeWrap("topic0", err)
	}

	switch topic0 {
	case sigConditionPreparation:
		return d.conditionPrepared(log)
	case sigConditionResolution:
		return d.payoutReported(log)
	case sigPositionSplit:
		return d.supplyChange(log, true)
	case sigPositionsMerge:
		return d.supplyChange(log, false)
	case sigPayoutRedemption:
		return d.payoutRedeemed(log)
	case sigTransferSingle:
		return d.tokenTransfer(log)
	case sigTransferBatch:
		return d.tokenTransferBatch(log)
	default:
		return nil, decodeErrf("unrecognized ConditionalTokens topic %s", topic0)
	}
}

// ConditionPreparation(bytes32 indexed conditionId, address indexed oracle,
// bytes32 indexed questionId, uint256 outcomeSlotCount)
func (d *conditionalTokensDecoder) conditionPrepared(log *chain.RawLog) (event.Event, error) {
	conditionID, err := topicHash(log.Topics, 1)
	if err != nil {
		return nil, decodeWrap("conditionId", err)
	}
	oracle, err := topicAddress(log.Topics, 2)
	if err != nil {
		return nil, decodeWrap("oracle", err)
	}
	questionID, err := topicHash(log.Topics, 3)
	if err != nil {
		return nil, decodeWrap("questionId", err)
	}
	w, err := newWords(log.Data)
	if err != nil {
		return nil, decodeWrap("data", err)
	}
	slots, err := w.word(0)
	if err != nil {
		return nil, decodeWrap("outcomeSlotCount", err)
	}
	if !slots.IsInt64() || slots.Int64() < 2 || slots.Int64() > 256 {
		return nil, decodeErrf("outcomeSlotCount %s out of range", slots)
	}
	return &event.ConditionPrepared{
		LogRef:           logRef(log),
		Condition:        conditionID,
		Oracle:           oracle,
		QuestionID:       questionID,
		OutcomeSlotCount: int(slots.Int64()),
	}, nil
}

// ConditionResolution(bytes32 indexed conditionId, address indexed oracle,
// bytes32 indexed questionId, uint256 outcomeSlotCount, uint256[] payoutNumerators)
func (d *conditionalTokensDecoder) payoutReported(log *chain.RawLog) (event.Event, error) {
	conditionID, err := topicHash(log.Topics, 1)
	if err != nil {
		return nil, decodeWrap("conditionId", err)
	}
	oracle, err := topicAddress(log.Topics, 2)
	if err != nil {
		return nil, decodeWrap("oracle", err)
	}
	questionID, err := topicHash(log.Topics, 3)
	if err != nil {
		return nil, decodeWrap("questionId", err)
	}
	w, err := newWords(log.Data)
	if err != nil {
		return nil, decodeWrap("data", err)
	}
	rawNums, err := w.uintArray(1)
	if err != nil {
		return nil, decodeWrap("payoutNumerators", err)
	}
	if len(rawNums) == 0 {
		return nil, decodeErrf("empty payoutNumerators for %s", conditionID)
	}
	nums := make([]int64, 0, len(rawNums))
	for i, v := range rawNums {
		n, err := fixed.FromWord(v)
		if err != nil {
			return nil, decodeWrap(fmt.Sprintf("payoutNumerators[%d]", i), err)
		}
		nums = append(nums, n)
	}
	return &event.PayoutReported{
		LogRef:           logRef(log),
		Condition:        conditionID,
		Oracle:           oracle,
		QuestionID:       questionID,
		PayoutNumerators: nums,
	}, nil
}

// PositionSplit / PositionsMerge share a layout:
// (address indexed stakeholder, address collateralToken,
//  bytes32 indexed parentCollectionId, bytes32 indexed conditionId,
//  uint256[] partition, uint256 amount)
func (d *conditionalTokensDecoder) supplyChange(log *chain.RawLog, split bool) (event.Event, error) {
	stakeholder, err := topicAddress(log.Topics, 1)
	if err != nil {
		return nil, decodeWrap("stakeholder", err)
	}
	conditionID, err := topicHash(log.Topics, 3)
	if err != nil {
		return nil, decodeWrap("conditionId", err)
	}
	w, err := newWords(log.Data)
	if err != nil {
		return nil, decodeWrap("data", err)
	}
	collateral, err := w.word(0)
	if err != nil {
		return nil, decodeWrap("collateralToken", err)
	}
	partition, err := w.uintArray(1)
	if err != nil {
		return nil, decodeWrap("partition", err)
	}
	sets, err := indexSets(partition)
	if err != nil {
		return nil, decodeWrap("partition", err)
	}
	amount, err := w.amount(2)
	if err != nil {
		return nil, decodeWrap("amount", err)
	}

	collateralAddr := fmt.Sprintf("0x%040x", collateral)
	if split {
		return &event.PositionSplit{
			LogRef:      logRef(log),
			Stakeholder: stakeholder,
			Collateral:  collateralAddr,
			Condition:   conditionID,
			IndexSets:   sets,
			Amount:      amount,
		}, nil
	}
	return &event.PositionsMerge{
		LogRef:      logRef(log),
		Stakeholder: stakeholder,
		Collateral:  collateralAddr,
		Condition:   conditionID,
		IndexSets:   sets,
		Amount:      amount,
	}, nil
}

// PayoutRedemption(address indexed redeemer, address collateralToken,
// bytes32 indexed parentCollectionId, bytes32 indexed conditionId,
// uint256[] indexSets, uint256 payout)
func (d *conditionalTokensDecoder) payoutRedeemed(log *chain.RawLog) (event.Event, error) {
	redeemer, err := topicAddress(log.Topics, 1)
	if err != nil {
		return nil, decodeWrap("redeemer", err)
	}
	conditionID, err := topicHash(log.Topics, 3)
	if err != nil {
		return nil, decodeWrap("conditionId", err)
	}
	w, err := newWords(log.Data)
	if err != nil {
		return nil, decodeWrap("data", err)
	}
	collateral, err := w.word(0)
	if err != nil {
		return nil, decodeWrap("collateralToken", err)
	}
	rawSets, err := w.uintArray(1)
	if err != nil {
		return nil, decodeWrap("indexSets", err)
	}
	sets, err := indexSets(rawSets)
	if err != nil {
		return nil, decodeWrap("indexSets", err)
	}
	payout, err := w.amount(2)
	if err != nil {
		return nil, decodeWrap("payout", err)
	}

	return &event.PayoutRedeemed{
		LogRef:     logRef(log),
		Redeemer:   redeemer,
		Collateral: fmt.Sprintf("0x%040x", collateral),
		Condition:  conditionID,
		IndexSets:  sets,
		// The contract reports only the collateral paid out. Shares
		// burned per index set come from the redeemer's tracked balances.
		Payout: payout,
	}, nil
}

// TransferSingle(address indexed operator, address indexed from,
// address indexed to, uint256 id, uint256 value)
func (d *conditionalTokensDecoder) tokenTransfer(log *chain.RawLog) (event.Event, error) {
	operator, err := topicAddress(log.Topics, 1)
	if err != nil {
		return nil, decodeWrap("operator", err)
	}
	from, err := topicAddress(log.Topics, 2)
	if err != nil {
		return nil, decodeWrap("from", err)
	}
	to, err := topicAddress(log.Topics, 3)
	if err != nil {
		return nil, decodeWrap("to", err)
	}
	w, err := newWords(log.Data)
	if err != nil {
		return nil, decodeWrap("data", err)
	}
	id, err := w.word(0)
	if err != nil {
		return nil, decodeWrap("id", err)
	}
	amount, err := w.amount(1)
	if err != nil {
		return nil, decodeWrap("value", err)
	}
	return &event.TokenTransfer{
		LogRef:   logRef(log),
		Operator: operator,
		From:     from,
		To:       to,
		TokenID:  id.String(),
		Amount:   amount,
	}, nil
}

// TransferBatch(address indexed operator, address indexed from,
// address indexed to, uint256[] ids, uint256[] values)
func (d *conditionalTokensDecoder) tokenTransferBatch(log *chain.RawLog) (event.Event, error) {
	operator, err := topicAddress(log.Topics, 1)
	if err != nil {
		return nil, decodeWrap("operator", err)
	}
	from, err := topicAddress(log.Topics, 2)
	if err != nil {
		return nil, decodeWrap("from", err)
	}
	to, err := topicAddress(log.Topics, 3)
	if err != nil {
		return nil, decodeWrap("to", err)
	}
	w, err := newWords(log.Data)
	if err != nil {
		return nil, decodeWrap("data", err)
	}
	ids, err := w.uintArray(0)
	if err != nil {
		return nil, decodeWrap("ids", err)
	}
	values, err := w.uintArray(1)
	if err != nil {
		return nil, decodeWrap("values", err)
	}
	if len(ids) != len(values) {
		return nil, decodeErrf("batch ids/values length mismatch: %d vs %d", len(ids), len(values))
	}
	entries := make([]event.BatchEntry, 0, len(ids))
	for i := range ids {
		amount, err := fixed.FromWord(values[i])
		if err != nil {
			return nil, decodeWrap(fmt.Sprintf("values[%d]", i), err)
		}
		entries = append(entries, event.BatchEntry{TokenID: ids[i].String(), Amount: amount})
	}
	return &event.TokenTransferBatch{
		LogRef:   logRef(log),
		Operator: operator,
		From:     from,
		To:       to,
		Entries:  entries,
	}, nil
}
