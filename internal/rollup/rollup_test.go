package rollup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"MarketIndexer/internal/event"
	"MarketIndexer/internal/observability"
	"MarketIndexer/internal/state"
)

const condID = "0xc0ffee01"

var testMetrics = observability.NewMetrics()

func tradeAt(at time.Time, shares, collateral, price int64) *state.Trade {
	return &state.Trade{
		Condition:  condID,
		TokenID:    condID + ":0",
		Side:       event.SideBuy,
		Shares:     shares,
		Collateral: collateral,
		Price:      price,
		ExecutedAt: at,
	}
}

func TestBucketOHLC(t *testing.T) {
	s := NewBucketStore()
	base := time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)

	s.AddTrade(tradeAt(base, 10, 6, 600_000))
	s.AddTrade(tradeAt(base.Add(20*time.Second), 10, 7, 700_000))
	b := s.AddTrade(tradeAt(base.Add(40*time.Second), 10, 5, 550_000))

	if !b.Minute.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Minute = %v, want truncated to 12:00:00", b.Minute)
	}
	if b.Open != 600_000 || b.High != 700_000 || b.Low != 550_000 || b.Close != 550_000 {
		t.Errorf("OHLC = %d/%d/%d/%d, want 600000/700000/550000/550000", b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume != 18 || b.Trades != 3 {
		t.Errorf("Volume/Trades = %d/%d, want 18/3", b.Volume, b.Trades)
	}
}

// Window sums over buckets must match a full scan over the trades.
func TestWindowAggMatchesFullScan(t *testing.T) {
	s := NewBucketStore()
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	type flat struct {
		at         time.Time
		collateral int64
	}
	var trades []flat
	// One trade every 10 minutes for 50 hours.
	for i := 0; i < 300; i++ {
		at := now.Add(-time.Duration(i*10) * time.Minute)
		price := int64(500_000 + (i%40)*1000)
		s.AddTrade(tradeAt(at, 1_000_000, int64(1000+i), price))
		trades = append(trades, flat{at: at, collateral: int64(1000 + i)})
	}

	for _, w := range []Window{W1h, W4h, W12h, W24h, W7d, W30d} {
		agg := s.WindowAgg(condID, w, now)
		var wantVolume, wantTrades int64
		cutoff := now.Add(-w.Span())
		for _, tr := range trades {
			minute := tr.at.Truncate(time.Minute)
			if minute.After(cutoff) && !minute.After(now) {
				wantVolume += tr.collateral
				wantTrades++
			}
		}
		if agg.Volume != wantVolume || agg.Trades != wantTrades {
			t.Errorf("%s: Volume/Trades = %d/%d, want %d/%d", w, agg.Volume, agg.Trades, wantVolume, wantTrades)
		}
	}

	all := s.WindowAgg(condID, WAll, now)
	if all.Trades != 300 {
		t.Errorf("all-time Trades = %d, want 300", all.Trades)
	}
}

func TestPriceMomentum(t *testing.T) {
	if got := PriceMomentum(Agg{Open: 600_000, Close: 650_000}); got != 50_000 {
		t.Errorf("PriceMomentum = %d, want 50000", got)
	}
	if got := PriceMomentum(Agg{}); got != 0 {
		t.Errorf("PriceMomentum(empty) = %d, want 0", got)
	}
}

func TestTurnover(t *testing.T) {
	// 50 collateral traded against 200 outstanding = 0.25.
	if got := Turnover(50_000_000, 200_000_000); got != 250_000 {
		t.Errorf("Turnover = %d, want 250000", got)
	}
	if got := Turnover(50_000_000, 0); got != 0 {
		t.Errorf("Turnover(zero OI) = %d, want 0", got)
	}
}

func TestVolatility(t *testing.T) {
	if got := Volatility([]int64{650_000}); got != 0 {
		t.Errorf("Volatility(one sample) = %d, want 0", got)
	}
	// Two closes 20000 apart: stddev = 10000.
	if got := Volatility([]int64{640_000, 660_000}); got != 10_000 {
		t.Errorf("Volatility = %d, want 10000", got)
	}
	if got := Volatility([]int64{650_000, 650_000, 650_000}); got != 0 {
		t.Errorf("Volatility(flat) = %d, want 0", got)
	}
}

type memorySink struct {
	mu    sync.Mutex
	snaps []*Snapshot
}

func (m *memorySink) SaveMetrics(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

func TestComputeSnapshot(t *testing.T) {
	s := NewBucketStore()
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	// Prior day: 100 volume. Current day: open 0.60, close 0.65, 300 volume.
	s.AddTrade(tradeAt(now.Add(-30*time.Hour), 1, 100, 580_000))
	s.AddTrade(tradeAt(now.Add(-10*time.Hour), 1, 100, 600_000))
	s.AddTrade(tradeAt(now.Add(-5*time.Minute), 1, 200, 650_000))

	sink := &memorySink{}
	a := NewAggregator(s, sink, 2, testMetrics, zerolog.Nop())
	defer a.Stop()

	in := Inputs{
		Book: state.BookSnapshot{
			Condition: condID,
			BestBid:   620_000,
			BestAsk:   680_000,
			Mid:       650_000,
			Spread:    60_000,
			LastPrice: 650_000,
		},
		OpenInterest: 1_200_000,
		At:           now,
	}
	snap := a.Compute(condID, in)

	day := snap.Windows[W24h]
	if day.Volume != 300 || day.Trades != 2 {
		t.Errorf("24h Volume/Trades = %d/%d, want 300/2", day.Volume, day.Trades)
	}
	if snap.PriceMomentum != 50_000 {
		t.Errorf("PriceMomentum = %d, want 50000", snap.PriceMomentum)
	}
	if snap.VolumeMomentum != 200 {
		t.Errorf("VolumeMomentum = %d, want 200", snap.VolumeMomentum)
	}
	// 300 volume against 1200000 outstanding = 0.00025.
	if snap.Turnover != 250 {
		t.Errorf("Turnover = %d, want 250", snap.Turnover)
	}
	if snap.NormalizedSpread != 92_307 {
		t.Errorf("NormalizedSpread = %d, want 92307", snap.NormalizedSpread)
	}
	if got := snap.Windows[WAll].Trades; got != 3 {
		t.Errorf("all-time Trades = %d, want 3", got)
	}
}

func TestTriggerProducesSnapshot(t *testing.T) {
	s := NewBucketStore()
	now := time.Now().UTC()
	s.AddTrade(tradeAt(now, 1, 100, 650_000))

	sink := &memorySink{}
	a := NewAggregator(s, sink, 2, testMetrics, zerolog.Nop())

	for i := 0; i < 5; i++ {
		a.Trigger(condID, Inputs{At: now})
	}
	a.Stop()

	if sink.count() == 0 {
		t.Fatal("no snapshot reached the sink")
	}
}
