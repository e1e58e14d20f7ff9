package ingestion

import (
	"context"
	"testing"
	"time"

	"MarketIndexer/internal/chain"
)

func TestRawLogWireRoundTrip(t *testing.T) {
	in := chain.RawLog{
		Address: "0x4d97dcd97ec945f40cf65f87097ace5ea0476045",
		Topics:  []string{"0xab37", "0xc0ffee"},
		Data:    "0x0000",
		Block: chain.BlockHeader{
			Number:     12345,
			Hash:       "0xblock",
			ParentHash: "0xparent",
			Timestamp:  time.Unix(1700000000, 0).UTC(),
		},
		TxHash:   "0xfeed",
		LogIndex: 3,
	}

	data, err := EncodeRawLog(&in)
	if err != nil {
		t.Fatalf("EncodeRawLog: %v", err)
	}
	out, err := ParseRawLog(data)
	if err != nil {
		t.Fatalf("ParseRawLog: %v", err)
	}

	if out.Address != in.Address {
		t.Errorf("Address = %s, want %s", out.Address, in.Address)
	}
	if len(out.Topics) != 2 || out.Topics[0] != "0xab37" {
		t.Errorf("Topics = %v", out.Topics)
	}
	if out.Block != in.Block {
		t.Errorf("Block = %+v, want %+v", out.Block, in.Block)
	}
	if out.Cursor() != (chain.Cursor{Block: 12345, TxIndex: 3}) {
		t.Errorf("Cursor = %v", out.Cursor())
	}
}

func TestParseRawLogUppercaseAddress(t *testing.T) {
	in := chain.RawLog{
		Address: "0x4D97DCD97EC945F40CF65F87097ACE5EA0476045",
		Topics:  []string{"0xab37"},
		Block:   chain.BlockHeader{Number: 1},
		TxHash:  "0xfeed",
	}
	data, _ := EncodeRawLog(&in)
	out, err := ParseRawLog(data)
	if err != nil {
		t.Fatalf("ParseRawLog: %v", err)
	}
	if out.Address != "0x4d97dcd97ec945f40cf65f87097ace5ea0476045" {
		t.Errorf("Address = %s, want lowercase", out.Address)
	}
}

func TestParseRawLogRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"no address":    `{"topics":["0x1"],"tx_hash":"0xa","block_number":1}`,
		"no topics":     `{"address":"0x1","tx_hash":"0xa","block_number":1}`,
		"no tx hash":    `{"address":"0x1","topics":["0x1"],"block_number":1}`,
		"zero block":    `{"address":"0x1","topics":["0x1"],"tx_hash":"0xa"}`,
		"neg log index": `{"address":"0x1","topics":["0x1"],"tx_hash":"0xa","block_number":1,"log_index":-1}`,
	}
	for name, payload := range cases {
		if _, err := ParseRawLog([]byte(payload)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseHead(t *testing.T) {
	h, err := parseHead(newHeadJSON{
		Number:     "0x1b4",
		Hash:       "0xabc",
		ParentHash: "0xdef",
		Timestamp:  "0x6553f100",
	})
	if err != nil {
		t.Fatalf("parseHead: %v", err)
	}
	if h.Number != 436 {
		t.Errorf("Number = %d, want 436", h.Number)
	}
	if h.ParentHash != "0xdef" {
		t.Errorf("ParentHash = %s", h.ParentHash)
	}
	if h.Timestamp != time.Unix(0x6553f100, 0).UTC() {
		t.Errorf("Timestamp = %v", h.Timestamp)
	}

	if _, err := parseHead(newHeadJSON{Number: "zz"}); err == nil {
		t.Error("expected error for bad hex number")
	}
}

func TestChannelSource(t *testing.T) {
	src := NewChannelSource([]chain.Feed{chain.FeedConditionalTokens}, 4)

	ch, err := src.Subscribe(context.Background(), chain.FeedConditionalTokens, chain.Cursor{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	src.Push(chain.FeedConditionalTokens, chain.RawLog{TxHash: "0x1", LogIndex: 0})
	src.Close()

	var got []chain.RawLog
	for l := range ch {
		got = append(got, l)
	}
	if len(got) != 1 || got[0].TxHash != "0x1" {
		t.Fatalf("got %v", got)
	}
}
