package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"MarketIndexer/internal/chain"
)

// HeaderClient fetches canonical headers by number over the node's
// websocket RPC endpoint. Used by the reorg handler's ancestor walk.
type HeaderClient struct {
	url string
	log zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
}

func NewHeaderClient(url string, log zerolog.Logger) *HeaderClient {
	return &HeaderClient{
		url:    url,
		log:    log.With().Str("component", "header_client").Logger(),
		nextID: 1,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HeaderByNumber returns the canonical header at the given height.
func (c *HeaderClient) HeaderByNumber(ctx context.Context, number int64) (chain.BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			return chain.BlockHeader{}, fmt.Errorf("dial %s: %w", c.url, err)
		}
		c.conn = conn
	}

	id := c.nextID
	c.nextID++

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "eth_getBlockByNumber",
		Params:  []any{fmt.Sprintf("0x%x", number), false},
	}
	if err := c.conn.WriteJSON(req); err != nil {
		c.drop()
		return chain.BlockHeader{}, fmt.Errorf("request header %d: %w", number, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	for {
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.drop()
			return chain.BlockHeader{}, fmt.Errorf("read header %d: %w", number, err)
		}
		if resp.ID != id {
			// Unrelated message on a shared connection; keep reading.
			continue
		}
		if resp.Error != nil {
			return chain.BlockHeader{}, fmt.Errorf("header %d: rpc error %d: %s", number, resp.Error.Code, resp.Error.Message)
		}
		if len(resp.Result) == 0 || string(resp.Result) == "null" {
			return chain.BlockHeader{}, fmt.Errorf("header %d: no canonical block", number)
		}

		var j newHeadJSON
		if err := json.Unmarshal(resp.Result, &j); err != nil {
			return chain.BlockHeader{}, fmt.Errorf("header %d: %w", number, err)
		}
		return parseHead(j)
	}
}

// Close releases the underlying connection.
func (c *HeaderClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
}

func (c *HeaderClient) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
