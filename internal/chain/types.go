package chain

import (
	"fmt"
	"strings"
	"time"
)

// Feed identifies one ingestion pipeline. One feed per contract family.
type Feed string

const (
	FeedConditionalTokens Feed = "conditional_tokens"
	FeedCTFExchange       Feed = "ctf_exchange"
	FeedNegRiskExchange   Feed = "neg_risk_exchange"
)

// AllFeeds returns the standard feed set in deterministic order.
func AllFeeds() []Feed {
	return []Feed{FeedConditionalTokens, FeedCTFExchange, FeedNegRiskExchange}
}

// FeedStatus is the operator-visible state of a feed.
type FeedStatus int32

const (
	FeedRunning FeedStatus = iota
	FeedPaused
	FeedError
)

func (s FeedStatus) String() string {
	switch s {
	case FeedRunning:
		return "RUNNING"
	case FeedPaused:
		return "PAUSED"
	case FeedError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Cursor is a per-feed ingestion position: the last fully processed
// (block, log_index) pair. TxIndex is the log index within the block.
type Cursor struct {
	Block   int64
	TxIndex int64
}

// Less reports whether c is strictly before other in feed order.
func (c Cursor) Less(other Cursor) bool {
	if c.Block != other.Block {
		return c.Block < other.Block
	}
	return c.TxIndex < other.TxIndex
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d/%d", c.Block, c.TxIndex)
}

// BlockHeader carries the chain linkage needed for reorg detection.
type BlockHeader struct {
	Number     int64
	Hash       string
	ParentHash string
	Timestamp  time.Time
}

// RawLog is one undecoded contract log as delivered by a log source.
// (TxHash, LogIndex) uniquely identifies a log across the whole chain
// and is the idempotency key for the entire system.
type RawLog struct {
	Address  string   // emitting contract, lowercase hex
	Topics   []string // topic0 is the event signature
	Data     string   // hex-encoded unindexed words
	Block    BlockHeader
	TxHash   string
	LogIndex int64
}

// Cursor returns the log's position for checkpoint bookkeeping.
func (l *RawLog) Cursor() Cursor {
	return Cursor{Block: l.Block.Number, TxIndex: l.LogIndex}
}

// NormalizeAddress lowercases a hex address for registry lookups.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// ContractRegistry maps contract addresses to the feed (contract family)
// that owns them. Selection happens at normalization time.
type ContractRegistry struct {
	byAddress map[string]Feed
}

func NewContractRegistry() *ContractRegistry {
	return &ContractRegistry{byAddress: make(map[string]Feed)}
}

// Register binds a contract address to a feed. Later registrations of the
// same address overwrite earlier ones.
func (r *ContractRegistry) Register(addr string, feed Feed) {
	r.byAddress[NormalizeAddress(addr)] = feed
}

// Lookup returns the feed owning the given contract address.
func (r *ContractRegistry) Lookup(addr string) (Feed, bool) {
	feed, ok := r.byAddress[NormalizeAddress(addr)]
	return feed, ok
}
