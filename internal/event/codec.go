package event

import (
	"encoding/json"
	"fmt"
)

// Marshal serializes an event payload for the event log. The log row
// already carries the type discriminator, so only the payload is stored.
func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Unmarshal rebuilds a typed event from a stored log row. Replay after a
// restart or a reorg goes through here.
func Unmarshal(t Type, data []byte) (Event, error) {
	var ev Event
	switch t {
	case TypeConditionPrepared:
		ev = &ConditionPrepared{}
	case TypePayoutReported:
		ev = &PayoutReported{}
	case TypePositionSplit:
		ev = &PositionSplit{}
	case TypePositionsMerge:
		ev = &PositionsMerge{}
	case TypePayoutRedeemed:
		ev = &PayoutRedeemed{}
	case TypeTokenTransfer:
		ev = &TokenTransfer{}
	case TypeTokenTransferBatch:
		ev = &TokenTransferBatch{}
	case TypeOrderFilled:
		ev = &OrderFilled{}
	case TypeOrderCancelled:
		ev = &OrderCancelled{}
	case TypeTokenRegistered:
		ev = &TokenRegistered{}
	default:
		return nil, fmt.Errorf("unmarshal: unknown event type %d", t)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", t, err)
	}
	return ev, nil
}
