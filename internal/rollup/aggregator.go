package rollup

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"MarketIndexer/internal/observability"
	"MarketIndexer/internal/state"
)

// Sink receives computed metric snapshots.
type Sink interface {
	SaveMetrics(ctx context.Context, snap *Snapshot) error
}

// Inputs are the book-derived values captured when a trigger fires, so
// workers never read the live projection state.
type Inputs struct {
	Book         state.BookSnapshot
	OpenInterest int64
	At           time.Time
}

type runState struct {
	pending bool
}

// Aggregator recomputes per-condition metrics off the ingestion path.
// Each condition has at most one computation in flight; triggers during
// a run coalesce into exactly one follow-up run. A cron sweep bounds
// staleness for conditions that trade rarely.
type Aggregator struct {
	buckets *BucketStore
	sink    Sink
	pool    pond.Pool
	cron    *cron.Cron

	inflight *xsync.Map[string, runState]
	latest   *xsync.Map[string, Inputs]

	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewAggregator(buckets *BucketStore, sink Sink, workers int, metrics *observability.Metrics, log zerolog.Logger) *Aggregator {
	if workers <= 0 {
		workers = 4
	}
	return &Aggregator{
		buckets:  buckets,
		sink:     sink,
		pool:     pond.NewPool(workers),
		inflight: xsync.NewMap[string, runState](),
		latest:   xsync.NewMap[string, Inputs](),
		metrics:  metrics,
		log:      log.With().Str("component", "rollup").Logger(),
	}
}

// Trigger schedules a recompute for one condition with fresh inputs.
// Safe to call from the ingestion pipeline after every committed trade.
func (a *Aggregator) Trigger(condition string, in Inputs) {
	a.latest.Store(condition, in)

	start := false
	a.inflight.Compute(condition, func(st runState, loaded bool) (runState, xsync.ComputeOp) {
		if loaded {
			st.pending = true
			return st, xsync.UpdateOp
		}
		start = true
		return runState{}, xsync.UpdateOp
	})
	if start {
		a.pool.Submit(func() { a.run(condition) })
	} else {
		a.metrics.RollupCoalesced.Inc()
	}
}

func (a *Aggregator) run(condition string) {
	for {
		a.computeOnce(condition)

		again := false
		a.inflight.Compute(condition, func(st runState, loaded bool) (runState, xsync.ComputeOp) {
			if st.pending {
				again = true
				st.pending = false
				return st, xsync.UpdateOp
			}
			return st, xsync.DeleteOp
		})
		if !again {
			return
		}
	}
}

func (a *Aggregator) computeOnce(condition string) {
	in, ok := a.latest.Load(condition)
	if !ok {
		return
	}
	started := time.Now()
	snap := a.Compute(condition, in)
	if err := a.sink.SaveMetrics(context.Background(), snap); err != nil {
		a.log.Error().Err(err).Str("condition", condition).Msg("metrics save failed")
	}
	a.metrics.RollupComputes.Inc()
	a.metrics.RollupDuration.Observe(time.Since(started).Seconds())
}

// Compute builds one snapshot from stored buckets and captured inputs.
func (a *Aggregator) Compute(condition string, in Inputs) *Snapshot {
	snap := &Snapshot{
		Condition:  condition,
		ComputedAt: in.At,
		Windows:    make(map[Window]Agg, len(Windows())),

		BestBid:   in.Book.BestBid,
		BestAsk:   in.Book.BestAsk,
		Mid:       in.Book.Mid,
		Spread:    in.Book.Spread,
		LastPrice: in.Book.LastPrice,

		OpenInterest:     in.OpenInterest,
		NormalizedSpread: in.Book.NormalizedSpread(),
	}
	for _, w := range Windows() {
		snap.Windows[w] = a.buckets.WindowAgg(condition, w, in.At)
	}

	day := snap.Windows[W24h]
	prevDay := a.buckets.AggBetween(condition, in.At.Add(-48*time.Hour), in.At.Add(-24*time.Hour))

	snap.PriceMomentum = PriceMomentum(day)
	snap.VolumeMomentum = VolumeMomentum(day, prevDay)
	snap.Turnover = Turnover(day.Volume, in.OpenInterest)
	snap.Volatility = Volatility(a.buckets.Closes(condition, W24h, in.At))
	return snap
}

// StartSweep registers a periodic recompute of every known condition.
// The schedule uses cron syntax with a seconds field.
func (a *Aggregator) StartSweep(spec string) error {
	a.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := a.cron.AddFunc(spec, a.sweep)
	if err != nil {
		return err
	}
	a.cron.Start()
	return nil
}

func (a *Aggregator) sweep() {
	now := time.Now().UTC()
	n := 0
	a.latest.Range(func(condition string, in Inputs) bool {
		// Windows keep sliding between trades.
		in.At = now
		a.Trigger(condition, in)
		n++
		return true
	})
	if n > 0 {
		a.log.Debug().Int("conditions", n).Msg("sweep scheduled")
	}
}

// Stop halts the sweep and drains in-flight computations.
func (a *Aggregator) Stop() {
	if a.cron != nil {
		ctx := a.cron.Stop()
		<-ctx.Done()
	}
	a.pool.StopAndWait()
}
