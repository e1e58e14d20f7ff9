package event

import (
	"fmt"
	"time"

	"MarketIndexer/internal/chain"
)

// Type discriminates decoded event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeConditionPrepared
	TypePayoutReported
	TypePositionSplit
	TypePositionsMerge
	TypePayoutRedeemed
	TypeTokenTransfer
	TypeTokenTransferBatch
	TypeOrderFilled
	TypeOrderCancelled
	TypeTokenRegistered
)

func (t Type) String() string {
	switch t {
	case TypeConditionPrepared:
		return "ConditionPrepared"
	case TypePayoutReported:
		return "PayoutReported"
	case TypePositionSplit:
		return "PositionSplit"
	case TypePositionsMerge:
		return "PositionsMerge"
	case TypePayoutRedeemed:
		return "PayoutRedeemed"
	case TypeTokenTransfer:
		return "TokenTransfer"
	case TypeTokenTransferBatch:
		return "TokenTransferBatch"
	case TypeOrderFilled:
		return "OrderFilled"
	case TypeOrderCancelled:
		return "OrderCancelled"
	case TypeTokenRegistered:
		return "TokenRegistered"
	default:
		return "Unknown"
	}
}

// Event is the interface all decoded payloads implement.
type Event interface {
	// Type returns the discriminator.
	Type() Type

	// ConditionID returns the market context ("" for events that only
	// reference a token id resolved later by the projector).
	ConditionID() string

	// Ref returns the originating log reference.
	Ref() Ref
}

// Ref identifies the raw log an event was decoded from.
// (TxHash, LogIndex) is the system-wide idempotency key.
type Ref struct {
	TxHash   string
	LogIndex int64
	Block    chain.BlockHeader
}

// Key returns the stable idempotency key for dedup.
func (r Ref) Key() string {
	return fmt.Sprintf("%s:%d", r.TxHash, r.LogIndex)
}

// Cursor returns the log position for checkpoint bookkeeping.
func (r Ref) Cursor() chain.Cursor {
	return chain.Cursor{Block: r.Block.Number, TxIndex: r.LogIndex}
}

// Timestamp returns the block timestamp. Projections never read wall-clock
// time; all derived state is timestamped from block inputs.
func (r Ref) Timestamp() time.Time {
	return r.Block.Timestamp
}

// Status of an event log row.
type Status int32

const (
	StatusPending Status = iota
	StatusProcessed
	StatusError
	StatusOrphaned
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessed:
		return "processed"
	case StatusError:
		return "error"
	case StatusOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Record is one durable event log row: the raw decoded payload plus
// processing bookkeeping. The log is the audit trail from which every
// derived table can be rebuilt.
type Record struct {
	Feed         chain.Feed
	Ref          Ref
	EventType    Type
	Contract     string
	EventData    []byte // raw decoded payload, audit/replay only
	Status       Status
	ErrorClass   string
	ErrorMessage string
	RetryCount   int
}
