package trace

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
	"github.com/nulpointcorp/sentinel-gateway/internal/validation"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb), mr
}

func sampleTrace(id string, cost float64, at time.Time) *Trace {
	return &Trace{
		ID:          id,
		WorkspaceID: "ws-1",
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Prompt:      "what is the capital of France?",
		Response: enforce.StructuredResponse{
			Answer:       "Paris",
			Confidence:   92,
			Evidence:     []string{"encyclopedia"},
			Alternatives: []string{},
		},
		Verdict: validation.Verdict{
			Overall:   validation.StatusPass,
			RiskScore: 8,
			RiskLevel: validation.LevelLow,
		},
		LatencyMS:   412,
		InputTokens: 15,
		OutputToken: 40,
		CostUSD:     cost,
		CreatedAt:   at,
	}
}

func TestPut_AccumulatesMonthCost(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	total, err := s.Put(ctx, sampleTrace("tr-1", 0.25, now))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(total-0.25) > 1e-9 {
		t.Errorf("total = %f, want 0.25", total)
	}

	total, err = s.Put(ctx, sampleTrace("tr-2", 0.50, now))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(total-0.75) > 1e-9 {
		t.Errorf("total = %f, want 0.75", total)
	}

	got, err := s.MonthCost(ctx, "ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("MonthCost = %f, want 0.75", got)
	}
}

func TestPut_TracksSpendPerProviderAndModel(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	month := monthKey(now)

	first := sampleTrace("tr-1", 1.25, now)
	first.Provider = "openai"
	first.Model = "gpt-4o"
	if _, err := s.Put(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := sampleTrace("tr-2", 0.40, now)
	second.Provider = "anthropic"
	second.Model = "claude-sonnet-4"
	if _, err := s.Put(ctx, second); err != nil {
		t.Fatal(err)
	}

	third := sampleTrace("tr-3", 0.75, now)
	third.Provider = "openai"
	third.Model = "gpt-4o"
	if _, err := s.Put(ctx, third); err != nil {
		t.Fatal(err)
	}

	assertCost := func(key string, want float64) {
		t.Helper()
		raw, err := mr.Get(key)
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		got, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%s = %f, want %f", key, got, want)
		}
	}

	assertCost("cost:ws-1:"+month, 2.40)
	assertCost("cost:ws-1:"+month+":provider:openai", 2.00)
	assertCost("cost:ws-1:"+month+":provider:anthropic", 0.40)
	assertCost("cost:ws-1:"+month+":model:gpt-4o", 2.00)
	assertCost("cost:ws-1:"+month+":model:claude-sonnet-4", 0.40)
}

func TestMemoryPut_TracksSpendPerProviderAndModel(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	month := monthKey(now)

	for i, cost := range []float64{1.25, 0.75} {
		tr := sampleTrace(fmt.Sprintf("tr-%d", i), cost, now)
		tr.Provider = "openai"
		tr.Model = "gpt-4o"
		if _, err := s.Put(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}

	if got := s.costs["ws-1:"+month]; math.Abs(got-2.00) > 1e-9 {
		t.Errorf("month total = %f, want 2.00", got)
	}
	if got := s.costs["ws-1:"+month+":provider:openai"]; math.Abs(got-2.00) > 1e-9 {
		t.Errorf("provider spend = %f, want 2.00", got)
	}
	if got := s.costs["ws-1:"+month+":model:gpt-4o"]; math.Abs(got-2.00) > 1e-9 {
		t.Errorf("model spend = %f, want 2.00", got)
	}
}

func TestGet_RoundTripAndNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	want := sampleTrace("tr-1", 0.1, time.Now().UTC().Truncate(time.Millisecond))
	if _, err := s.Put(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "ws-1", "tr-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Response.Answer != "Paris" || got.Verdict.Overall != validation.StatusPass {
		t.Errorf("got %+v", got)
	}
	if got.OutputToken != 40 {
		t.Errorf("output tokens = %d, want 40", got.OutputToken)
	}

	if _, err := s.Get(ctx, "ws-1", "missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "ws-other", "tr-1"); err != ErrNotFound {
		t.Errorf("cross-workspace read should miss, got %v", err)
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		tr := sampleTrace(fmt.Sprintf("tr-%d", i), 0.01, base.Add(time.Duration(i)*time.Second))
		if _, err := s.Put(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, "ws-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "tr-4" || got[1].ID != "tr-3" || got[2].ID != "tr-2" {
		t.Errorf("order = %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestRecent_SkipsExpiredEntries(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.Put(ctx, sampleTrace("tr-1", 0.01, now)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, sampleTrace("tr-2", 0.01, now.Add(time.Second))); err != nil {
		t.Fatal(err)
	}

	// Simulate tr-2's body expiring while the index entry lingers.
	mr.Del("trace:ws-1:tr-2")

	got, err := s.Recent(ctx, "ws-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "tr-1" {
		t.Errorf("got %d traces, want just tr-1", len(got))
	}
}

func TestAttachEvaluation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, sampleTrace("tr-1", 0.01, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	ev := &Evaluation{Judge: "gpt-4o", Score: 0.9, Reasoning: "accurate", At: time.Now().UTC()}
	if err := s.AttachEvaluation(ctx, "ws-1", "tr-1", ev); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "ws-1", "tr-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Evaluation == nil || got.Evaluation.Judge != "gpt-4o" {
		t.Errorf("evaluation = %+v", got.Evaluation)
	}

	if err := s.AttachEvaluation(ctx, "ws-1", "missing", ev); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkBudgetAlerted_OncePerMonth(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.MarkBudgetAlerted(ctx, "ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if !first {
		t.Error("first mark should report true")
	}

	again, err := s.MarkBudgetAlerted(ctx, "ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if again {
		t.Error("second mark in the same month should report false")
	}

	other, err := s.MarkBudgetAlerted(ctx, "ws-2")
	if err != nil {
		t.Fatal(err)
	}
	if !other {
		t.Error("flag must be per workspace")
	}
}

func TestEstimateCost(t *testing.T) {
	// gpt-4o-mini: $0.15 in, $0.60 out per 1M tokens.
	got := EstimateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("cost = %f, want 0.75", got)
	}

	// Longest prefix wins: gpt-4o-mini-2024... must not price as gpt-4o.
	dated := EstimateCost("gpt-4o-mini-2024-07-18", 1_000_000, 0)
	if math.Abs(dated-0.15) > 1e-9 {
		t.Errorf("dated variant cost = %f, want 0.15", dated)
	}

	// Unknown models fall back to the default price, never zero.
	unknown := EstimateCost("brand-new-model", 1_000_000, 0)
	if unknown <= 0 {
		t.Error("unknown model should use fallback pricing")
	}

	if zero := EstimateCost("gpt-4o-mini", 0, 0); zero != 0 {
		t.Errorf("zero tokens should cost 0, got %f", zero)
	}
}
