package ingestion

import (
	"context"

	"MarketIndexer/internal/chain"
)

// ChannelSource delivers raw logs from in-process channels, one per
// feed. Tests and backfill tooling push logs through the same pipeline
// path the NATS source uses.
type ChannelSource struct {
	channels map[chain.Feed]chan chain.RawLog
}

func NewChannelSource(feeds []chain.Feed, buffer int) *ChannelSource {
	if buffer <= 0 {
		buffer = 256
	}
	channels := make(map[chain.Feed]chan chain.RawLog, len(feeds))
	for _, f := range feeds {
		channels[f] = make(chan chain.RawLog, buffer)
	}
	return &ChannelSource{channels: channels}
}

// Push enqueues one log for its feed.
func (s *ChannelSource) Push(feed chain.Feed, l chain.RawLog) {
	s.channels[feed] <- l
}

// Close closes every feed channel, ending the consuming pipelines.
func (s *ChannelSource) Close() {
	for _, ch := range s.channels {
		close(ch)
	}
}

func (s *ChannelSource) Subscribe(_ context.Context, feed chain.Feed, _ chain.Cursor) (<-chan chain.RawLog, error) {
	return s.channels[feed], nil
}
