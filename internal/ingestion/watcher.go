package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/observability"
)

// HeadWatcher subscribes to newHeads over the node's websocket endpoint
// and publishes canonical tip headers. The reorg handler uses the same
// endpoint to fetch canonical headers during an ancestor walk.
type HeadWatcher struct {
	url     string
	heads   chan chain.BlockHeader
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewHeadWatcher(url string, metrics *observability.Metrics, log zerolog.Logger) *HeadWatcher {
	return &HeadWatcher{
		url:     url,
		heads:   make(chan chain.BlockHeader, 64),
		metrics: metrics,
		log:     log.With().Str("component", "head_watcher").Logger(),
	}
}

// Heads returns the stream of canonical tip headers.
func (w *HeadWatcher) Heads() <-chan chain.BlockHeader {
	return w.heads
}

// Run keeps a newHeads subscription alive until the context ends,
// reconnecting with a fixed delay on any failure.
func (w *HeadWatcher) Run(ctx context.Context) error {
	defer close(w.heads)
	for {
		if err := w.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn().Err(err).Msg("head subscription dropped")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			w.log.Info().Msg("reconnecting head watcher")
		}
	}
}

type newHeadJSON struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  string `json:"timestamp"`
}

type subscriptionMsg struct {
	Params struct {
		Result newHeadJSON `json:"result"`
	} `json:"params"`
}

func (w *HeadWatcher) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := `{"jsonrpc":"2.0","id":1,"method":"eth_subscribe","params":["newHeads"]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		return fmt.Errorf("subscribe newHeads: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var m subscriptionMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			continue
		}
		if m.Params.Result.Hash == "" {
			// Subscription confirmation or unrelated response.
			continue
		}

		header, err := parseHead(m.Params.Result)
		if err != nil {
			w.log.Warn().Err(err).Msg("skipping malformed head")
			continue
		}

		w.metrics.HeadBlock.Set(float64(header.Number))
		select {
		case w.heads <- header:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseHead(j newHeadJSON) (chain.BlockHeader, error) {
	number, err := parseHexQuantity(j.Number)
	if err != nil {
		return chain.BlockHeader{}, fmt.Errorf("head number: %w", err)
	}
	ts, err := parseHexQuantity(j.Timestamp)
	if err != nil {
		return chain.BlockHeader{}, fmt.Errorf("head timestamp: %w", err)
	}
	return chain.BlockHeader{
		Number:     number,
		Hash:       j.Hash,
		ParentHash: j.ParentHash,
		Timestamp:  time.Unix(ts, 0).UTC(),
	}, nil
}

func parseHexQuantity(s string) (int64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	return strconv.ParseInt(s, 16, 64)
}
