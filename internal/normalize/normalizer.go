package normalize

import (
	"fmt"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
)

// DecodeError marks a log that could not be turned into a typed event.
// It is recorded on the event log row; the feed keeps going.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErrf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

func decodeWrap(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// familyDecoder decodes logs for one contract family.
type familyDecoder interface {
	Decode(log *chain.RawLog) (event.Event, error)
}

// Normalizer turns raw chain logs into typed domain events. The decoder
// is selected by contract address; unknown addresses and unknown topic
// signatures are decode failures, not panics.
type Normalizer struct {
	registry *chain.ContractRegistry
	decoders map[chain.Feed]familyDecoder
}

func New(registry *chain.ContractRegistry) *Normalizer {
	ct := &conditionalTokensDecoder{}
	ex := &exchangeDecoder{}
	return &Normalizer{
		registry: registry,
		decoders: map[chain.Feed]familyDecoder{
			chain.FeedConditionalTokens: ct,
			chain.FeedCTFExchange:       ex,
			chain.FeedNegRiskExchange:   ex,
		},
	}
}

// Normalize decodes one raw log into a typed event. Errors returned are
// always *DecodeError so the caller can classify them.
func (n *Normalizer) Normalize(log *chain.RawLog) (event.Event, error) {
	feed, ok := n.registry.Lookup(log.Address)
	if !ok {
		return nil, decodeErrf("unknown contract %s", log.Address)
	}
	dec, ok := n.decoders[feed]
	if !ok {
		return nil, decodeErrf("no decoder for feed %s", feed)
	}
	if len(log.Topics) == 0 {
		return nil, decodeErrf("log %s:%d has no topics", log.TxHash, log.LogIndex)
	}
	return dec.Decode(log)
}

func logRef(log *chain.RawLog) event.Ref {
	return event.Ref{
		TxHash:   log.TxHash,
		LogIndex: log.LogIndex,
		Block:    log.Block,
	}
}
