package normalize

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"MarketIndexer/internal/fixed"
)

// Minimal ABI word reader for the fixed-layout events this engine consumes.
// All values are 32-byte big-endian words; dynamic arrays are
// offset-prefixed per the standard encoding. Full ABI metadata is not
// needed because the event layouts are known at compile time.

const wordSize = 32

type words struct {
	data []byte
}

func newWords(hexData string) (*words, error) {
	s := strings.TrimPrefix(hexData, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode data hex: %w", err)
	}
	if len(b)%wordSize != 0 {
		return nil, fmt.Errorf("data length %d is not word-aligned", len(b))
	}
	return &words{data: b}, nil
}

func (w *words) count() int {
	return len(w.data) / wordSize
}

func (w *words) word(i int) (*big.Int, error) {
	off := i * wordSize
	if off+wordSize > len(w.data) {
		return nil, fmt.Errorf("word %d out of range (have %d words)", i, w.count())
	}
	return new(big.Int).SetBytes(w.data[off : off+wordSize]), nil
}

// amount reads word i as an int64 micro amount with overflow checking.
func (w *words) amount(i int) (int64, error) {
	v, err := w.word(i)
	if err != nil {
		return 0, err
	}
	n, err := fixed.FromWord(v)
	if err != nil {
		return 0, fmt.Errorf("word %d: %w", i, err)
	}
	return n, nil
}

// uintArray reads a dynamic uint256[] whose offset lives at word i.
func (w *words) uintArray(i int) ([]*big.Int, error) {
	offWord, err := w.word(i)
	if err != nil {
		return nil, err
	}
	if !offWord.IsInt64() || offWord.Int64()%wordSize != 0 {
		return nil, fmt.Errorf("word %d: bad array offset %s", i, offWord)
	}
	base := int(offWord.Int64()) / wordSize
	lenWord, err := w.word(base)
	if err != nil {
		return nil, err
	}
	if !lenWord.IsInt64() || lenWord.Int64() < 0 || lenWord.Int64() > 1024 {
		return nil, fmt.Errorf("word %d: bad array length %s", base, lenWord)
	}
	n := int(lenWord.Int64())
	out := make([]*big.Int, 0, n)
	for k := 0; k < n; k++ {
		v, err := w.word(base + 1 + k)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// topicHash returns topic i verbatim as 0x-prefixed hex.
func topicHash(topics []string, i int) (string, error) {
	if i >= len(topics) {
		return "", fmt.Errorf("topic %d out of range (have %d)", i, len(topics))
	}
	t := strings.ToLower(topics[i])
	if !strings.HasPrefix(t, "0x") || len(t) != 2+2*wordSize {
		return "", fmt.Errorf("topic %d: malformed %q", i, topics[i])
	}
	return t, nil
}

// topicAddress extracts the 20-byte address padded into topic i.
func topicAddress(topics []string, i int) (string, error) {
	t, err := topicHash(topics, i)
	if err != nil {
		return "", err
	}
	return "0x" + t[len(t)-40:], nil
}

// indexSets converts decoded partition words into outcome indexes.
// Each word is a bitmask over outcome slots; bit k selects outcome k.
func indexSets(parts []*big.Int) ([]int, error) {
	seen := make(map[int]bool)
	var out []int
	for _, p := range parts {
		if p.Sign() <= 0 || p.BitLen() > 256 {
			return nil, fmt.Errorf("invalid index set %s", p)
		}
		for k := 0; k < p.BitLen(); k++ {
			if p.Bit(k) == 1 && !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out, nil
}
