package rollup

import (
	"sort"
	"sync"
	"time"

	"MarketIndexer/internal/state"
)

// Bucket is one minute of trade activity for one condition. Buckets are
// the unit of window aggregation: a window total sums the buckets inside
// it instead of scanning trade history.
type Bucket struct {
	Condition string
	Minute    time.Time // truncated to the minute, UTC
	Volume    int64
	Trades    int64
	Open      int64
	High      int64
	Low       int64
	Close     int64
}

type conditionBuckets struct {
	byMinute map[int64]*Bucket
	minutes  []int64 // sorted ascending
	all      Agg     // running all-time aggregate
}

// BucketStore keeps per-condition minute buckets. The ingestion pipeline
// writes trades, aggregation workers read windows, so access is guarded.
type BucketStore struct {
	mu         sync.RWMutex
	conditions map[string]*conditionBuckets
}

func NewBucketStore() *BucketStore {
	return &BucketStore{conditions: make(map[string]*conditionBuckets)}
}

// AddTrade folds one trade into its minute bucket and returns a copy of
// the updated bucket for persistence.
func (s *BucketStore) AddTrade(tr *state.Trade) Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.conditions[tr.Condition]
	if !ok {
		cb = &conditionBuckets{byMinute: make(map[int64]*Bucket)}
		s.conditions[tr.Condition] = cb
	}

	minute := tr.ExecutedAt.UTC().Truncate(time.Minute)
	key := minute.Unix()
	b, ok := cb.byMinute[key]
	if !ok {
		b = &Bucket{
			Condition: tr.Condition,
			Minute:    minute,
			Open:      tr.Price,
			High:      tr.Price,
			Low:       tr.Price,
		}
		cb.byMinute[key] = b
		cb.insertMinute(key)
	}
	b.Volume += tr.Collateral
	b.Trades++
	if tr.Price > b.High {
		b.High = tr.Price
	}
	if tr.Price < b.Low {
		b.Low = tr.Price
	}
	b.Close = tr.Price

	cb.all.Volume += tr.Collateral
	cb.all.Trades++
	if cb.all.Open == 0 {
		cb.all.Open = tr.Price
	}
	if tr.Price > cb.all.High {
		cb.all.High = tr.Price
	}
	if cb.all.Low == 0 || tr.Price < cb.all.Low {
		cb.all.Low = tr.Price
	}
	cb.all.Close = tr.Price

	return *b
}

func (cb *conditionBuckets) insertMinute(key int64) {
	n := len(cb.minutes)
	if n == 0 || cb.minutes[n-1] < key {
		cb.minutes = append(cb.minutes, key)
		return
	}
	i := sort.Search(n, func(i int) bool { return cb.minutes[i] >= key })
	cb.minutes = append(cb.minutes, 0)
	copy(cb.minutes[i+1:], cb.minutes[i:])
	cb.minutes[i] = key
}

// WindowAgg sums the buckets of one window ending at now.
func (s *BucketStore) WindowAgg(condition string, w Window, now time.Time) Agg {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cb, ok := s.conditions[condition]
	if !ok {
		return Agg{}
	}
	if w == WAll {
		return cb.all
	}
	return cb.aggRange(now.Add(-w.Span()).Unix(), now.Unix())
}

// aggRange sums buckets with minute keys in (from, to].
func (cb *conditionBuckets) aggRange(from, to int64) Agg {
	var agg Agg
	start := sort.Search(len(cb.minutes), func(i int) bool { return cb.minutes[i] > from })
	for i := start; i < len(cb.minutes) && cb.minutes[i] <= to; i++ {
		b := cb.byMinute[cb.minutes[i]]
		agg.Volume += b.Volume
		agg.Trades += b.Trades
		if agg.Open == 0 {
			agg.Open = b.Open
		}
		if b.High > agg.High {
			agg.High = b.High
		}
		if agg.Low == 0 || b.Low < agg.Low {
			agg.Low = b.Low
		}
		agg.Close = b.Close
	}
	return agg
}

// AggBetween sums buckets with minutes in (from, to]. Used for the
// prior-window comparison behind volume momentum.
func (s *BucketStore) AggBetween(condition string, from, to time.Time) Agg {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cb, ok := s.conditions[condition]
	if !ok {
		return Agg{}
	}
	return cb.aggRange(from.Unix(), to.Unix())
}

// Closes returns the minute close prices of one window ending at now,
// oldest first. Feeds the volatility calculation.
func (s *BucketStore) Closes(condition string, w Window, now time.Time) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cb, ok := s.conditions[condition]
	if !ok {
		return nil
	}
	from := int64(0)
	if w != WAll {
		from = now.Add(-w.Span()).Unix()
	}
	to := now.Unix()

	var closes []int64
	start := sort.Search(len(cb.minutes), func(i int) bool { return cb.minutes[i] > from })
	for i := start; i < len(cb.minutes) && cb.minutes[i] <= to; i++ {
		closes = append(closes, cb.byMinute[cb.minutes[i]].Close)
	}
	return closes
}

// Conditions returns every condition with at least one bucket.
func (s *BucketStore) Conditions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.conditions))
	for c := range s.conditions {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Reset drops all buckets for a replay rebuild.
func (s *BucketStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditions = make(map[string]*conditionBuckets)
}
