package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"MarketIndexer/internal/chain"
)

// rawLogJSON is the wire format upstream log extractors publish.
// Field names use snake_case to match the producers.
type rawLogJSON struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber int64    `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	ParentHash  string   `json:"parent_hash"`
	TimestampUs int64    `json:"timestamp_us"`
	TxHash      string   `json:"tx_hash"`
	LogIndex    int64    `json:"log_index"`
}

// ParseRawLog validates and converts one wire payload into a RawLog.
func ParseRawLog(data []byte) (chain.RawLog, error) {
	var j rawLogJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return chain.RawLog{}, fmt.Errorf("parse raw log: %w", err)
	}

	if j.Address == "" {
		return chain.RawLog{}, fmt.Errorf("raw log missing address")
	}
	if len(j.Topics) == 0 {
		return chain.RawLog{}, fmt.Errorf("raw log missing topics")
	}
	if j.TxHash == "" {
		return chain.RawLog{}, fmt.Errorf("raw log missing tx_hash")
	}
	if j.BlockNumber <= 0 {
		return chain.RawLog{}, fmt.Errorf("raw log has block_number %d", j.BlockNumber)
	}
	if j.LogIndex < 0 {
		return chain.RawLog{}, fmt.Errorf("raw log has log_index %d", j.LogIndex)
	}

	return chain.RawLog{
		Address: chain.NormalizeAddress(j.Address),
		Topics:  j.Topics,
		Data:    j.Data,
		Block: chain.BlockHeader{
			Number:     j.BlockNumber,
			Hash:       j.BlockHash,
			ParentHash: j.ParentHash,
			Timestamp:  time.UnixMicro(j.TimestampUs).UTC(),
		},
		TxHash:   j.TxHash,
		LogIndex: j.LogIndex,
	}, nil
}

// EncodeRawLog serializes a RawLog to the wire format. Used by tests and
// by backfill tooling that feeds historical logs through the same path.
func EncodeRawLog(l *chain.RawLog) ([]byte, error) {
	return json.Marshal(rawLogJSON{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.Block.Number,
		BlockHash:   l.Block.Hash,
		ParentHash:  l.Block.ParentHash,
		TimestampUs: l.Block.Timestamp.UnixMicro(),
		TxHash:      l.TxHash,
		LogIndex:    l.LogIndex,
	})
}
