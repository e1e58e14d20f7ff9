package indexer

import (
	"container/list"
	"context"

	"github.com/rs/zerolog"

	"MarketIndexer/internal/event"
)

// DBChecker is the cold dedup tier: a lookup against the durable event
// log keyed by (tx_hash, log_index).
type DBChecker interface {
	IsDuplicate(ctx context.Context, txHash string, logIndex int64) (bool, error)
}

// Deduper implements two-tier deduplication: a hot in-memory LRU of
// recently seen keys in front of the event log. At-least-once delivery
// makes redelivery routine, not exceptional.
type Deduper struct {
	lru *keyLRU
	db  DBChecker
	log zerolog.Logger
}

func NewDeduper(capacity int, db DBChecker, log zerolog.Logger) *Deduper {
	return &Deduper{
		lru: newKeyLRU(capacity),
		db:  db,
		log: log.With().Str("component", "dedup").Logger(),
	}
}

// Seen reports whether a log reference was already processed.
func (d *Deduper) Seen(ctx context.Context, ref event.Ref) (bool, error) {
	key := ref.Key()

	if d.lru.Contains(key) {
		return true, nil
	}

	if d.db != nil {
		dup, err := d.db.IsDuplicate(ctx, ref.TxHash, ref.LogIndex)
		if err != nil {
			// A dedup lookup failure must not stall the feed: the
			// event log upsert is the durable guard anyway.
			d.log.Warn().Err(err).Str("key", key).Msg("dedup db lookup failed")
			return false, nil
		}
		if dup {
			d.lru.Add(key)
			return true, nil
		}
	}

	return false, nil
}

// MarkProcessed records a key in the hot tier after a commit.
func (d *Deduper) MarkProcessed(ref event.Ref) {
	d.lru.Add(ref.Key())
}

// Warm preloads recently committed keys so a restart does not pay the
// cold path for every redelivered event.
func (d *Deduper) Warm(keys []string) {
	for _, k := range keys {
		d.lru.Add(k)
	}
}

// Reset drops the hot tier. Called during reorg recovery before replay.
func (d *Deduper) Reset() {
	d.lru = newKeyLRU(d.lru.capacity)
}

// keyLRU is a fixed-capacity LRU of string keys.
// Not thread-safe: only touched from the owning feed pipeline.
type keyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newKeyLRU(capacity int) *keyLRU {
	if capacity <= 0 {
		capacity = 4096
	}
	return &keyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (l *keyLRU) Contains(key string) bool {
	elem, ok := l.cache[key]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

func (l *keyLRU) Add(key string) {
	if elem, ok := l.cache[key]; ok {
		l.order.MoveToFront(elem)
		return
	}
	l.cache[key] = l.order.PushFront(key)
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.cache, oldest.Value.(string))
	}
}

func (l *keyLRU) Len() int {
	return l.order.Len()
}
