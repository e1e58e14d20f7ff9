package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"MarketIndexer/internal/chain"
)

const (
	streamName    = "MARKET_LOGS"
	subjectPrefix = "market.logs"
)

// subjectFor maps a feed to its JetStream subject. One subject per
// contract family so feeds scale independently.
func subjectFor(feed chain.Feed) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, feed)
}

// NATSSource delivers raw logs from JetStream. Durable consumers with
// explicit ack give at-least-once delivery; the pipeline's dedup tier
// absorbs redeliveries.
type NATSSource struct {
	js     jetstream.JetStream
	buffer int
	log    zerolog.Logger
}

func NewNATSSource(js jetstream.JetStream, buffer int, log zerolog.Logger) *NATSSource {
	if buffer <= 0 {
		buffer = 1024
	}
	return &NATSSource{
		js:     js,
		buffer: buffer,
		log:    log.With().Str("component", "nats_source").Logger(),
	}
}

// Subscribe opens a durable consumer for one feed's subject. Logs at or
// before the resume cursor are acked and dropped client-side.
func (s *NATSSource) Subscribe(ctx context.Context, feed chain.Feed, from chain.Cursor) (<-chan chain.RawLog, error) {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       fmt.Sprintf("indexer-%s", feed),
		FilterSubject: subjectFor(feed),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", feed, err)
	}

	out := make(chan chain.RawLog, s.buffer)
	resumed := from != (chain.Cursor{})

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw, err := ParseRawLog(msg.Data())
		if err != nil {
			// Malformed wire payloads never improve on redelivery.
			s.log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping unparseable log")
			msg.Ack()
			return
		}
		if resumed && !from.Less(raw.Cursor()) {
			msg.Ack()
			return
		}

		select {
		case out <- raw:
			msg.Ack()
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", feed, err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
		close(out)
	}()

	s.log.Info().Str("feed", string(feed)).Str("cursor", from.String()).Msg("subscribed")
	return out, nil
}

// EnsureStream creates the log stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}
	return nil
}
