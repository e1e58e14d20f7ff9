package state

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

const genesisDigestSeed = "MarketIndexer:genesis:v1"

// DigestChain computes the running state-hash chain
// hash[N] = SHA-256(prev_hash || cursor || state_digest). Identical event
// sequences produce identical chains, which is how replay determinism is
// verified after a rebuild.
type DigestChain struct {
	prevHash [32]byte
}

func NewDigestChain() *DigestChain {
	return &DigestChain{prevHash: sha256.Sum256([]byte(genesisDigestSeed))}
}

// Extend folds one applied event into the chain.
func (d *DigestChain) Extend(block, logIndex int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(d.prevHash[:])

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(block))
	binary.LittleEndian.PutUint64(buf[8:], uint64(logIndex))
	hasher.Write(buf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	d.prevHash = hash
	return hash
}

// Tip returns the current chain head.
func (d *DigestChain) Tip() [32]byte {
	return d.prevHash
}

// Reset rewinds the chain to genesis for a replay rebuild.
func (d *DigestChain) Reset() {
	d.prevHash = sha256.Sum256([]byte(genesisDigestSeed))
}

// Digest produces a deterministic digest of the projected state: token
// supplies, balances and order fill progress in sorted key order.
func (s *State) Digest() []byte {
	hasher := sha256.New()
	var buf [8]byte

	writeI64 := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		hasher.Write(buf[:])
	}

	tokenIDs := make([]string, 0, len(s.Tokens))
	for id := range s.Tokens {
		tokenIDs = append(tokenIDs, id)
	}
	sort.Strings(tokenIDs)
	for _, id := range tokenIDs {
		t := s.Tokens[id]
		hasher.Write([]byte(id))
		writeI64(t.TotalSupply)
		writeI64(t.LastPrice)
	}

	balances := s.Balances.Snapshot()
	balKeys := make([]BalanceKey, 0, len(balances))
	for k := range balances {
		balKeys = append(balKeys, k)
	}
	sort.Slice(balKeys, func(i, j int) bool {
		if balKeys[i].User != balKeys[j].User {
			return balKeys[i].User < balKeys[j].User
		}
		return balKeys[i].TokenID < balKeys[j].TokenID
	})
	for _, k := range balKeys {
		hasher.Write([]byte(k.User))
		hasher.Write([]byte(k.TokenID))
		writeI64(balances[k])
	}

	orderHashes := make([]string, 0, len(s.Orders))
	for h := range s.Orders {
		orderHashes = append(orderHashes, h)
	}
	sort.Strings(orderHashes)
	for _, h := range orderHashes {
		o := s.Orders[h]
		hasher.Write([]byte(h))
		writeI64(o.Filled)
		writeI64(int64(o.Status))
	}

	return hasher.Sum(nil)
}
