package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"MarketIndexer/internal/chain"
	"MarketIndexer/internal/event"
	"MarketIndexer/internal/normalize"
	"MarketIndexer/internal/observability"
	"MarketIndexer/internal/position"
	"MarketIndexer/internal/project"
	"MarketIndexer/internal/rollup"
	"MarketIndexer/internal/state"
	"MarketIndexer/internal/store"
)

const (
	ctAddr = "0x4d97dcd97ec945f40cf65f87097ace5ea0476045"
	trader = "0x2222222222222222222222222222222222222222"
	oracle = "0x1111111111111111111111111111111111111111"

	sigConditionPreparation = "0xab3760c3bd2bb38b5bcf54dc79802ed67338b4cf29f3054ded67ed24661e4177"
	sigPositionSplit        = "0x2e6bb91f8cbcda0c93623c54d0403a43514fabc40084ec96b6d5379a74786298"
)

// Prometheus collectors register globally, so the package shares one set.
var testMetrics = observability.NewMetrics()

type chanSource struct {
	ch chan chain.RawLog
}

func (s *chanSource) Subscribe(_ context.Context, _ chain.Feed, _ chain.Cursor) (<-chan chain.RawLog, error) {
	return s.ch, nil
}

type memStore struct {
	mu          sync.Mutex
	commits     []*store.WriteSet
	failures    []*event.Record
	cursors     map[chain.Feed]chain.Cursor
	keys        map[string]bool
	failCommits int
}

func newMemStore() *memStore {
	return &memStore{
		cursors: make(map[chain.Feed]chain.Cursor),
		keys:    make(map[string]bool),
	}
}

func (m *memStore) LoadCursor(_ context.Context, feed chain.Feed) (chain.Cursor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[feed]
	return c, ok, nil
}

func (m *memStore) Commit(_ context.Context, ws *store.WriteSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommits > 0 {
		m.failCommits--
		return fmt.Errorf("connection reset")
	}
	m.commits = append(m.commits, ws)
	m.keys[ws.Record.Ref.Key()] = true
	m.cursors[ws.Feed] = ws.Cursor
	return nil
}

func (m *memStore) RecordFailure(_ context.Context, rec *event.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, rec)
	m.keys[rec.Ref.Key()] = true
	return nil
}

func (m *memStore) IsDuplicate(_ context.Context, txHash string, logIndex int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[fmt.Sprintf("%s:%d", txHash, logIndex)], nil
}

func (m *memStore) ReplayAll(_ context.Context, fn store.ReplayFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ws := range m.commits {
		ev, err := event.Unmarshal(ws.Record.EventType, ws.Record.EventData)
		if err != nil {
			return err
		}
		if err := fn(ws.Record, ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) commitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commits)
}

type stubReorger struct{}

func (stubReorger) FindAncestor(context.Context, *state.BlockIndex) (int64, error) {
	return 0, fmt.Errorf("unexpected reorg")
}

func (stubReorger) Recover(context.Context, int64, func(), store.ReplayFunc) (int64, error) {
	return 0, fmt.Errorf("unexpected recovery")
}

func hexWord(v int64) string {
	return fmt.Sprintf("%064x", v)
}

func topicWord(frag string) string {
	frag = strings.TrimPrefix(frag, "0x")
	return "0x" + strings.Repeat("0", 64-len(frag)) + frag
}

func testRawLog(block, logIndex int64, topic0 string, topics []string, dataWords ...string) chain.RawLog {
	return chain.RawLog{
		Address: ctAddr,
		Topics:  append([]string{topic0}, topics...),
		Data:    "0x" + strings.Join(dataWords, ""),
		Block: chain.BlockHeader{
			Number:     block,
			Hash:       fmt.Sprintf("0xb%d", block),
			ParentHash: fmt.Sprintf("0xb%d", block-1),
			Timestamp:  time.Unix(1700000000+block, 0).UTC(),
		},
		TxHash:   fmt.Sprintf("0xtx%d", block),
		LogIndex: logIndex,
	}
}

func prepareLog(block int64) chain.RawLog {
	return testRawLog(block, 0, sigConditionPreparation,
		[]string{topicWord("c0ffee01"), topicWord(oracle), topicWord("badd01")},
		hexWord(2),
	)
}

func splitLog(block int64) chain.RawLog {
	return testRawLog(block, 1, sigPositionSplit,
		[]string{topicWord(trader), topicWord("00"), topicWord("c0ffee01")},
		hexWord(0xABCD), hexWord(96), hexWord(5_000_000),
		hexWord(2), hexWord(1), hexWord(2),
	)
}

func testEngine(src Source, st *state.State, ms *memStore) *Engine {
	reg := chain.NewContractRegistry()
	reg.Register(ctAddr, chain.FeedConditionalTokens)

	return NewEngine(Config{
		Feeds:         []chain.Feed{chain.FeedConditionalTokens},
		Source:        src,
		Store:         ms,
		Normalizer:    normalize.New(reg),
		State:         st,
		Tracker:       position.NewTracker(zerolog.Nop()),
		Buckets:       rollup.NewBucketStore(),
		Reorg:         stubReorger{},
		Metrics:       testMetrics,
		Retry:         RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		DedupCapacity: 128,
		BlockDepth:    64,
		Logger:        zerolog.Nop(),
	})
}

func TestFeedPipelineCommitsEvents(t *testing.T) {
	ch := make(chan chain.RawLog, 4)
	ch <- prepareLog(100)
	ch <- splitLog(101)
	close(ch)

	st := state.NewState()
	ms := newMemStore()
	eng := testEngine(&chanSource{ch: ch}, st, ms)

	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := ms.commitCount(); got != 2 {
		t.Fatalf("commits = %d, want 2", got)
	}
	cond, ok := st.Conditions[topicWord("c0ffee01")]
	if !ok {
		t.Fatal("condition was not projected")
	}
	if cond.OutcomeSlotCount != 2 {
		t.Fatalf("OutcomeSlotCount = %d, want 2", cond.OutcomeSlotCount)
	}
	for _, id := range st.TokensFor(cond.ID) {
		if got := st.Tokens[id].TotalSupply; got != 5_000_000 {
			t.Fatalf("supply of %s = %d, want 5000000", id, got)
		}
	}
	if got := ms.cursors[chain.FeedConditionalTokens]; got != (chain.Cursor{Block: 101, TxIndex: 1}) {
		t.Fatalf("cursor = %v, want {101 1}", got)
	}
	if eng.Digest() == "" {
		t.Fatal("digest chain was not extended")
	}
}

func TestFeedPipelineSkipsRedelivery(t *testing.T) {
	ch := make(chan chain.RawLog, 4)
	ch <- prepareLog(100)
	ch <- prepareLog(100)
	close(ch)

	st := state.NewState()
	ms := newMemStore()
	eng := testEngine(&chanSource{ch: ch}, st, ms)

	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ms.commitCount(); got != 1 {
		t.Fatalf("commits = %d, want 1", got)
	}
}

func TestFeedPipelineDeadLettersDecodeFailure(t *testing.T) {
	// Truncated data: ConditionPreparation with no slot count word.
	bad := testRawLog(100, 0, sigConditionPreparation,
		[]string{topicWord("c0ffee02"), topicWord(oracle), topicWord("badd02")},
	)

	ch := make(chan chain.RawLog, 4)
	ch <- bad
	ch <- prepareLog(101)
	close(ch)

	st := state.NewState()
	ms := newMemStore()
	eng := testEngine(&chanSource{ch: ch}, st, ms)

	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(ms.failures); got != 1 {
		t.Fatalf("failures = %d, want 1", got)
	}
	if got := ms.failures[0].ErrorClass; got != "decode" {
		t.Fatalf("ErrorClass = %s, want decode", got)
	}
	// Undecodable events still carry the raw log as payload.
	if len(ms.failures[0].EventData) == 0 {
		t.Fatal("dead letter has no payload")
	}
	// The feed keeps going after a dead letter.
	if got := ms.commitCount(); got != 1 {
		t.Fatalf("commits = %d, want 1", got)
	}
}

func TestFeedPipelineRetriesCommitFailure(t *testing.T) {
	// A transient storage error must not park the feed: the mutation is
	// already applied in memory, so the commit is retried in place.
	ch := make(chan chain.RawLog, 4)
	ch <- prepareLog(100)
	ch <- splitLog(101)
	close(ch)

	st := state.NewState()
	ms := newMemStore()
	ms.failCommits = 1
	eng := testEngine(&chanSource{ch: ch}, st, ms)

	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := ms.commitCount(); got != 2 {
		t.Fatalf("commits = %d, want 2", got)
	}
	if got := len(ms.failures); got != 0 {
		t.Fatalf("failures = %d, want 0", got)
	}
	if got := eng.Feeds()[0].Status; got != "RUNNING" {
		t.Fatalf("feed status = %s, want RUNNING", got)
	}
}

type recordingRollups struct {
	mu        sync.Mutex
	triggered map[string]rollup.Inputs
}

func (r *recordingRollups) Trigger(cond string, in rollup.Inputs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.triggered == nil {
		r.triggered = make(map[string]rollup.Inputs)
	}
	r.triggered[cond] = in
}

func recordCommit(ms *memStore, feed chain.Feed, ev event.Event) {
	payload, err := event.Marshal(ev)
	if err != nil {
		panic(err)
	}
	rec := &event.Record{
		Feed:      feed,
		Ref:       ev.Ref(),
		EventType: ev.Type(),
		EventData: payload,
		Status:    event.StatusProcessed,
	}
	ms.commits = append(ms.commits, &store.WriteSet{Feed: feed, Record: rec, Cursor: ev.Ref().Cursor()})
	ms.keys[ev.Ref().Key()] = true
	ms.cursors[feed] = ev.Ref().Cursor()
}

func refAt(block, logIndex int64) event.Ref {
	return event.Ref{
		TxHash:   fmt.Sprintf("0xtx%d", block),
		LogIndex: logIndex,
		Block: chain.BlockHeader{
			Number:     block,
			Hash:       fmt.Sprintf("0xb%d", block),
			ParentHash: fmt.Sprintf("0xb%d", block-1),
			Timestamp:  time.Unix(1700000000+block, 0).UTC(),
		},
	}
}

func TestEngineBootstrapSeedsRollupsFromTrades(t *testing.T) {
	// A condition that traded before the restart must be re-triggered at
	// bootstrap so the periodic sweep sees it again.
	const cond = "0xc0nd01"

	ms := newMemStore()
	recordCommit(ms, chain.FeedConditionalTokens, &event.ConditionPrepared{
		LogRef: refAt(100, 0), Condition: cond, Oracle: oracle, QuestionID: "0xq", OutcomeSlotCount: 2,
	})
	recordCommit(ms, chain.FeedCTFExchange, &event.TokenRegistered{
		LogRef: refAt(100, 1), Token0: "7001", Token1: "7002", Condition: cond,
	})
	recordCommit(ms, chain.FeedConditionalTokens, &event.PositionSplit{
		LogRef: refAt(100, 2), Stakeholder: trader, Condition: cond,
		IndexSets: []int{0, 1}, Amount: 2_000_000,
	})
	recordCommit(ms, chain.FeedCTFExchange, &event.OrderFilled{
		LogRef: refAt(101, 0), OrderHash: "0xabc", Maker: trader, Taker: oracle,
		TokenID: "7001", TokenAmount: 1_000_000, CollateralAmount: 600_000,
		Side: event.SideBuy,
	})

	rr := &recordingRollups{}
	reg := chain.NewContractRegistry()
	reg.Register(ctAddr, chain.FeedConditionalTokens)
	eng := NewEngine(Config{
		Feeds:         []chain.Feed{chain.FeedConditionalTokens, chain.FeedCTFExchange},
		Source:        &chanSource{},
		Store:         ms,
		Normalizer:    normalize.New(reg),
		State:         state.NewState(),
		Tracker:       position.NewTracker(zerolog.Nop()),
		Buckets:       rollup.NewBucketStore(),
		Rollups:       rr,
		Reorg:         stubReorger{},
		Metrics:       testMetrics,
		Retry:         RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		DedupCapacity: 128,
		BlockDepth:    64,
		Logger:        zerolog.Nop(),
	})

	if err := eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	in, ok := rr.triggered[cond]
	if !ok {
		t.Fatalf("condition %s was not re-triggered", cond)
	}
	if got, want := in.At, refAt(101, 0).Timestamp(); !got.Equal(want) {
		t.Fatalf("At = %v, want %v", got, want)
	}
	if in.OpenInterest <= 0 {
		t.Fatalf("OpenInterest = %d, want > 0", in.OpenInterest)
	}
}

func TestDeduperWarmHitsHotTier(t *testing.T) {
	// No db tier: only the warmed LRU can answer.
	d := NewDeduper(8, nil, zerolog.Nop())
	ref := event.Ref{TxHash: "0xtx100", LogIndex: 0}
	d.Warm([]string{ref.Key()})

	seen, err := d.Seen(context.Background(), ref)
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !seen {
		t.Fatal("warmed key was not seen")
	}

	seen, err = d.Seen(context.Background(), event.Ref{TxHash: "0xtx999", LogIndex: 0})
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Fatal("unknown key reported as seen")
	}
}

func TestEngineBootstrapRestoresStateAfterRestart(t *testing.T) {
	ch1 := make(chan chain.RawLog, 4)
	ch1 <- prepareLog(100)
	ch1 <- splitLog(101)
	close(ch1)

	ms := newMemStore()
	eng1 := testEngine(&chanSource{ch: ch1}, state.NewState(), ms)
	if err := eng1.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ms.commitCount(); got != 2 {
		t.Fatalf("commits = %d, want 2", got)
	}

	// Restart: fresh memory over the same store. The source redelivers
	// the last committed log and then a new split.
	ch2 := make(chan chain.RawLog, 4)
	ch2 <- splitLog(101)
	ch2 <- splitLog(102)
	close(ch2)

	st := state.NewState()
	eng2 := testEngine(&chanSource{ch: ch2}, st, ms)
	if err := eng2.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := eng2.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The redelivered log is dropped by the warmed deduper, the new
	// split projects on top of the rebuilt state instead of failing its
	// ordering checks.
	if got := len(ms.failures); got != 0 {
		t.Fatalf("failures = %d, want 0", got)
	}
	if got := ms.commitCount(); got != 3 {
		t.Fatalf("commits = %d, want 3", got)
	}
	if got := eng2.Feeds()[0].Status; got != "RUNNING" {
		t.Fatalf("feed status = %s, want RUNNING", got)
	}
	tokens := st.TokensFor(topicWord("c0ffee01"))
	if len(tokens) != 2 {
		t.Fatalf("tokens = %d, want 2", len(tokens))
	}
	for _, id := range tokens {
		if got := st.Tokens[id].TotalSupply; got != 10_000_000 {
			t.Fatalf("supply of %s = %d, want 10000000", id, got)
		}
	}
}

func TestFeedPauseTerminalOnOrderingExhaustion(t *testing.T) {
	// A fill for an unregistered token never stops being an ordering
	// failure; after retries are exhausted the feed parks in ERROR.
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	if d := policy.Classify(&project.OrderingError{Reason: "x"}, 1); d != DecisionRetry {
		t.Fatalf("attempt 1 = %v, want retry", d)
	}
	if d := policy.Classify(&project.OrderingError{Reason: "x"}, 2); d != DecisionPauseFeed {
		t.Fatalf("attempt 2 = %v, want pause", d)
	}
	if d := policy.Classify(&project.ConsistencyError{Reason: "x"}, 1); d != DecisionDeadLetter {
		t.Fatalf("consistency = %v, want dead letter", d)
	}
	if d := policy.Classify(&normalize.DecodeError{Reason: "x"}, 1); d != DecisionDeadLetter {
		t.Fatalf("decode = %v, want dead letter", d)
	}
	if d := policy.Classify(fmt.Errorf("connection refused"), 5); d != DecisionDeadLetter {
		t.Fatalf("storage exhausted = %v, want dead letter", d)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestOrderGuard(t *testing.T) {
	g := newOrderGuard(chain.Cursor{}, false)

	if !g.advance(chain.Cursor{Block: 10, TxIndex: 0}) {
		t.Fatal("first cursor must advance")
	}
	if !g.advance(chain.Cursor{Block: 10, TxIndex: 1}) {
		t.Fatal("same block, later log must advance")
	}
	if g.advance(chain.Cursor{Block: 10, TxIndex: 1}) {
		t.Fatal("equal cursor must not advance")
	}
	if g.advance(chain.Cursor{Block: 9, TxIndex: 5}) {
		t.Fatal("earlier block must not advance")
	}
	if !g.advance(chain.Cursor{Block: 11, TxIndex: 0}) {
		t.Fatal("later block must advance")
	}

	g.reset(chain.Cursor{Block: 5}, true)
	if g.advance(chain.Cursor{Block: 4}) {
		t.Fatal("cursor behind reset point must not advance")
	}
}

func TestDeduperTwoTiers(t *testing.T) {
	ms := newMemStore()
	d := NewDeduper(2, ms, zerolog.Nop())

	ref := event.Ref{TxHash: "0xaaa", LogIndex: 1}

	seen, err := d.Seen(context.Background(), ref)
	if err != nil || seen {
		t.Fatalf("Seen fresh = %v, %v", seen, err)
	}

	d.MarkProcessed(ref)
	if seen, _ := d.Seen(context.Background(), ref); !seen {
		t.Fatal("LRU tier missed a marked key")
	}

	// Evict the key from the tiny LRU; the db tier still catches it.
	ms.keys[ref.Key()] = true
	d.MarkProcessed(event.Ref{TxHash: "0xbbb", LogIndex: 2})
	d.MarkProcessed(event.Ref{TxHash: "0xccc", LogIndex: 3})
	if seen, _ := d.Seen(context.Background(), ref); !seen {
		t.Fatal("db tier missed an evicted key")
	}
}
