package stash

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentstash/stash/internal/store/memstore"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeCompressor returns a fixed fraction of the input.
type fakeCompressor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCompressor) Compress(_ context.Context, content string, targetRatio float64) (string, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	n := int(float64(len(content)) * targetRatio)
	if n < 1 {
		n = 1
	}
	return content[:n], nil
}

func (f *fakeCompressor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// slowBackend embeds with a delay, widening the scoring window.
type slowBackend struct {
	delay time.Duration
}

func (b slowBackend) Embed(_ context.Context, text string) ([]float64, error) {
	time.Sleep(b.delay)
	vec := make([]float64, 8)
	for i, r := range text {
		vec[i%8] += float64(r)
	}
	return vec, nil
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero capacity", []Option{WithCapacity(0)}},
		{"negative capacity", []Option{WithCapacity(-5)}},
		{"bad thresholds", []Option{WithPruningConfig(PruningConfig{
			Thresholds:      Thresholds{Soft: 0.9, Hard: 0.7, Emergency: 0.8},
			DefaultStrategy: StrategyAdaptive,
		})}},
		{"bad temporal", []Option{WithTemporalConfig(TemporalConfig{
			HotDuration: -time.Minute, WarmDuration: time.Minute, TargetRatio: 0.5,
		})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestAdd_RejectsMalformedContent(t *testing.T) {
	opt, err := New(WithCapacity(1000))
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	tests := []struct {
		name    string
		content string
		typ     EntryType
	}{
		{"empty content", "", TypeToolResult},
		{"whitespace content", "   \n\t", TypeToolResult},
		{"unknown type", "hello", EntryType("bogus")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := opt.Add(context.Background(), tt.content, tt.typ, Metadata{})
			if !errors.Is(err, ErrMalformedContent) {
				t.Fatalf("Add() error = %v, want ErrMalformedContent", err)
			}
		})
	}

	// A rejected add must not corrupt store state.
	if m := opt.Metrics(); m.Entries != 0 || m.TotalTokens != 0 {
		t.Fatalf("metrics after rejected adds = %+v, want empty", m)
	}
}

func TestAdd_SnapshotAndMetrics(t *testing.T) {
	clock := newFakeClock()
	opt, err := New(
		WithCapacity(10000),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	ctx := context.Background()
	entry, err := opt.Add(ctx, "func main() { fmt.Println(42) }", TypeFileRead, Metadata{
		ID:   "file-1",
		Tags: []string{"go", "main"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if entry.ID != "file-1" {
		t.Errorf("ID = %q, want file-1", entry.ID)
	}
	if entry.Tier != TierHot {
		t.Errorf("Tier = %q, want hot", entry.Tier)
	}
	if entry.State != StateRaw {
		t.Errorf("State = %q, want raw", entry.State)
	}
	if entry.Tokens <= 0 {
		t.Errorf("Tokens = %d, want positive", entry.Tokens)
	}

	if _, err := opt.Add(ctx, "tool output", TypeToolResult, Metadata{}); err != nil {
		t.Fatal(err)
	}

	m := opt.Metrics()
	if m.Entries != 2 {
		t.Errorf("Entries = %d, want 2", m.Entries)
	}
	if m.PerTier[TierHot] != 2 {
		t.Errorf("PerTier[hot] = %d, want 2", m.PerTier[TierHot])
	}
	if m.PerType[TypeFileRead] != 1 || m.PerType[TypeToolResult] != 1 {
		t.Errorf("PerType = %v", m.PerType)
	}
	if m.Utilization != float64(m.TotalTokens)/float64(m.Capacity) {
		t.Errorf("Utilization = %v inconsistent with tokens/capacity", m.Utilization)
	}
}

func TestAdd_GeneratesID(t *testing.T) {
	opt, err := New(WithCapacity(1000))
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	a, err := opt.Add(context.Background(), "first", TypeCustom, Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := opt.Add(context.Background(), "second", TypeCustom, Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Fatalf("generated ids %q, %q must be distinct and non-empty", a.ID, b.ID)
	}
}

func TestGet_TouchesAccess(t *testing.T) {
	clock := newFakeClock()
	opt, err := New(WithCapacity(1000), WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	ctx := context.Background()
	if _, err := opt.Add(ctx, "payload", TypeToolResult, Metadata{ID: "e1"}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute)
	got, err := opt.Get(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", got.AccessCount)
	}
	if !got.LastAccess.Equal(clock.Now()) {
		t.Errorf("LastAccess = %v, want %v", got.LastAccess, clock.Now())
	}

	if _, err := opt.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

// preload writes entry documents straight into a store so a fresh
// optimizer starts at a chosen utilization without auto-pruning.
func preload(t *testing.T, st Store, namespace string, tokensPerEntry, count int) {
	t.Helper()
	clock := newFakeClock()
	for i := 0; i < count; i++ {
		e := &cacheEntry{
			id:        string(rune('a'+i)) + "-entry",
			content:   strings.Repeat("x", 10),
			tokens:    tokensPerEntry,
			typ:       TypeToolResult,
			createdAt: clock.Now(),
			tier:      TierHot,
			state:     StateRaw,
		}
		data, err := marshalEntry(e)
		if err != nil {
			t.Fatal(err)
		}
		if err := st.Put(context.Background(), namespace, e.id, data); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPruningDecision_EmergencyEscalation(t *testing.T) {
	st := memstore.New()
	preload(t, st, DefaultNamespace, 115, 8) // 920 tokens total

	opt, err := New(
		WithCapacity(1000),
		WithStore(st),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	if m := opt.Metrics(); m.TotalTokens != 920 {
		t.Fatalf("reloaded TotalTokens = %d, want 920", m.TotalTokens)
	}

	d := opt.PruningDecision(context.Background(), Query{})
	if d == nil {
		t.Fatal("PruningDecision() = nil, want emergency decision")
	}
	if d.Severity != SeverityEmergency {
		t.Errorf("Severity = %q, want emergency", d.Severity)
	}
	if d.Strategy != StrategyRelevance {
		t.Errorf("Strategy = %q, want relevance (forced above hard)", d.Strategy)
	}
	if len(d.VictimIDs) == 0 {
		t.Error("VictimIDs empty, want victims to reach hard threshold")
	}
}

func TestPrune_UtilizationMonotonic(t *testing.T) {
	st := memstore.New()
	preload(t, st, DefaultNamespace, 100, 8) // 800 tokens, hard band

	opt, err := New(WithCapacity(1000), WithStore(st))
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	before := opt.Utilization()
	d := opt.PruningDecision(context.Background(), Query{})
	if d == nil {
		t.Fatal("expected a decision in the hard band")
	}

	freed, err := opt.Prune(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if freed <= 0 {
		t.Fatalf("Prune freed %d tokens, want positive", freed)
	}
	after := opt.Utilization()
	if after > before {
		t.Errorf("utilization rose from %v to %v after prune", before, after)
	}
	if soft := 0.60; after > soft {
		t.Errorf("post-prune utilization = %v, want <= soft threshold %v", after, soft)
	}
}

func TestPrune_StaleDecisionIsNoop(t *testing.T) {
	st := memstore.New()
	preload(t, st, DefaultNamespace, 100, 7) // 700 tokens, soft band

	opt, err := New(WithCapacity(1000), WithStore(st))
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	ctx := context.Background()
	d := opt.PruningDecision(ctx, Query{})
	if d == nil {
		t.Fatal("expected a decision in the soft band")
	}

	// Remove every victim out from under the decision.
	for _, id := range d.VictimIDs {
		if err := opt.Remove(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	freed, err := opt.Prune(ctx, d)
	if err != nil {
		t.Fatalf("stale prune error = %v, want nil", err)
	}
	if freed != 0 {
		t.Fatalf("stale prune freed %d tokens, want 0", freed)
	}
}

func TestPrune_NilDecision(t *testing.T) {
	opt, err := New(WithCapacity(1000))
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	freed, err := opt.Prune(context.Background(), nil)
	if err != nil || freed != 0 {
		t.Fatalf("Prune(nil) = (%d, %v), want (0, nil)", freed, err)
	}
}

func TestCompression_ColdEntryIsSummarized(t *testing.T) {
	clock := newFakeClock()
	summarizer := &fakeCompressor{}

	opt, err := New(
		WithCapacity(100000),
		WithClock(clock.Now),
		WithSummarizer(summarizer),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	ctx := context.Background()
	content := strings.Repeat("the build failed with a linker error in the cgo bridge ", 40)
	if _, err := opt.Add(ctx, content, TypeToolResult, Metadata{ID: "cold-1"}); err != nil {
		t.Fatal(err)
	}

	// Age the entry past hot+warm, then run an evaluation cycle.
	clock.Advance(2 * time.Hour)
	if _, err := opt.HandleEvent(ctx, Event{Type: EventPromptSubmit}); err != nil {
		t.Fatal(err)
	}

	got := waitForState(t, opt, "cold-1", StateSummarized)
	if got.Tier != TierCold {
		t.Errorf("Tier = %q, want cold", got.Tier)
	}
	if got.Tokens >= len(content)/4 {
		t.Errorf("compressed Tokens = %d, want below raw estimate", got.Tokens)
	}

	// Token count must track the current compressed content.
	want := (len(got.Content) + 3) / 4
	if fields := len(strings.Fields(got.Content)); fields > want {
		want = fields
	}
	if got.Tokens != want {
		t.Errorf("Tokens = %d, want %d for current content", got.Tokens, want)
	}

	// Re-evaluating an already-cold, already-compressed entry is a
	// no-op: no second compression call, no token change.
	calls := summarizer.callCount()
	if _, err := opt.HandleEvent(ctx, Event{Type: EventPromptSubmit}); err != nil {
		t.Fatal(err)
	}
	again, err := opt.Get(ctx, "cold-1")
	if err != nil {
		t.Fatal(err)
	}
	if summarizer.callCount() != calls {
		t.Error("re-evaluation dispatched a second compression")
	}
	if again.Tokens != got.Tokens || again.State != got.State {
		t.Errorf("re-evaluation changed entry: %+v vs %+v", again, got)
	}
}

func TestCompression_FailureLeavesEntryRaw(t *testing.T) {
	clock := newFakeClock()
	summarizer := &fakeCompressor{err: errors.New("backend down")}

	opt, err := New(
		WithCapacity(100000),
		WithClock(clock.Now),
		WithSummarizer(summarizer),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	ctx := context.Background()
	if _, err := opt.Add(ctx, "some long tool output that would be summarized", TypeToolResult, Metadata{ID: "fail-1"}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := opt.HandleEvent(ctx, Event{Type: EventPromptSubmit}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		return opt.Metrics().CompressionFailures >= 1
	}, "compression failure recorded")

	got, err := opt.Get(ctx, "fail-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateRaw {
		t.Errorf("State = %q, want raw after failed compression", got.State)
	}
}

func TestCompression_NumericPayloadIsQuantized(t *testing.T) {
	clock := newFakeClock()
	opt, err := New(
		WithCapacity(100000),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("0.123456 17.938271 250.00391 3.1415926\n")
	}

	ctx := context.Background()
	if _, err := opt.Add(ctx, b.String(), TypeToolResult, Metadata{ID: "vec-1"}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := opt.HandleEvent(ctx, Event{Type: EventPromptSubmit}); err != nil {
		t.Fatal(err)
	}

	got := waitForState(t, opt, "vec-1", StateQuantized)
	if len(got.Content) >= b.Len() {
		t.Errorf("quantized content length %d, want shrink from %d", len(got.Content), b.Len())
	}
}

func TestStorePersistence_Roundtrip(t *testing.T) {
	st := memstore.New()

	opt, err := New(WithCapacity(1000), WithStore(st))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := opt.Add(ctx, "persisted payload", TypeConversationTurn, Metadata{ID: "p1", Tags: []string{"keep"}}); err != nil {
		t.Fatal(err)
	}
	if err := opt.Close(); err != nil {
		t.Fatal(err)
	}

	// memstore survives Close; a second optimizer reloads from it.
	reopened, err := New(WithCapacity(1000), WithStore(st))
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "persisted payload" {
		t.Errorf("Content = %q", got.Content)
	}
	if got.Type != TypeConversationTurn {
		t.Errorf("Type = %q", got.Type)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "keep" {
		t.Errorf("Tags = %v", got.Tags)
	}
}

func TestClose_Idempotence(t *testing.T) {
	opt, err := New(WithCapacity(1000))
	if err != nil {
		t.Fatal(err)
	}

	if err := opt.Close(); err != nil {
		t.Fatal(err)
	}
	if err := opt.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close() = %v, want ErrClosed", err)
	}
	if _, err := opt.Add(context.Background(), "late", TypeCustom, Metadata{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Add after Close = %v, want ErrClosed", err)
	}
	if _, err := opt.Get(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close = %v, want ErrClosed", err)
	}
}

func TestLatencyTracking(t *testing.T) {
	opt, err := New(WithCapacity(1000))
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := opt.Add(ctx, "entry content here", TypeToolResult, Metadata{}); err != nil {
			t.Fatal(err)
		}
	}

	if s := opt.Latency(LatencyScoring); s.Count != 5 {
		t.Errorf("scoring sample count = %d, want 5", s.Count)
	}
	if samples := opt.LatencySamples(LatencyScoring); len(samples) != 5 {
		t.Errorf("LatencySamples = %d values, want 5", len(samples))
	}
}

func TestLatencyTracking_VectorSearch(t *testing.T) {
	opt, err := New(
		WithCapacity(1000),
		WithEmbeddingBackend(slowBackend{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	ctx := context.Background()
	if _, err := opt.Add(ctx, "vector indexed content", TypeFileRead, Metadata{}); err != nil {
		t.Fatal(err)
	}
	opt.PruningDecision(ctx, Query{Query: "indexed content"})

	if s := opt.Latency(LatencyVectorSearch); s.Count == 0 {
		t.Error("vector search latency count = 0, want recorded samples")
	}
}

// Reads and rescoring share live entries; this only passes cleanly
// under the race detector when scoring reads copied inputs.
func TestPruningDecision_ConcurrentWithGet(t *testing.T) {
	opt, err := New(
		WithCapacity(100000),
		WithEmbeddingBackend(slowBackend{delay: time.Millisecond}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer opt.Close()

	ctx := context.Background()
	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		entry, err := opt.Add(ctx, "shared context entry "+strconv.Itoa(i), TypeToolResult, Metadata{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, entry.ID)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, id := range ids {
				if _, err := opt.Get(ctx, id); err != nil {
					t.Error(err)
					return
				}
			}
		}
	}()

	for i := 0; i < 20; i++ {
		opt.PruningDecision(ctx, Query{Query: "what changed in the last tool call " + strconv.Itoa(i)})
	}
	close(done)
	wg.Wait()
}

// waitForState polls until the entry reaches the compression state.
func waitForState(t *testing.T, opt *Optimizer, id string, want CompressionState) Entry {
	t.Helper()
	var got Entry
	waitFor(t, func() bool {
		e, err := opt.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = e
		return e.State == want
	}, "entry "+id+" in state "+string(want))
	return got
}

// waitFor polls a condition driven by background tasks.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
