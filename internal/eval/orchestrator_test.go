package eval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"vuln-bench/internal/dataset"
	"vuln-bench/internal/target"
)

// fakeSampler fabricates as many records as asked, tagged with the requested
// category, and remembers every call.
type fakeSampler struct {
	mu    sync.Mutex
	calls []fakeSampleCall
}

type fakeSampleCall struct {
	n      int
	filter []dataset.Category
	seed   int64
}

func (s *fakeSampler) Sample(n int, filter []dataset.Category, seed int64) []dataset.CaseRecord {
	s.mu.Lock()
	s.calls = append(s.calls, fakeSampleCall{n: n, filter: filter, seed: seed})
	s.mu.Unlock()

	category := dataset.CategoryClassic
	vulnerable := true
	if len(filter) == 1 {
		category = filter[0]
		vulnerable = category != dataset.CategorySecure
	}
	records := make([]dataset.CaseRecord, n)
	for i := range records {
		records[i] = dataset.CaseRecord{
			ID:         fmt.Sprintf("%s-%d-%d", category, seed, i),
			Category:   category,
			Vulnerable: vulnerable,
			Language:   "python",
			Payload:    "cursor.execute(q)",
		}
	}
	return records
}

// perfectInvoker answers with the ground truth and tracks concurrency.
type perfectInvoker struct {
	mu        sync.Mutex
	inFlight  int
	maxSeen   int
	calls     int
	delay     time.Duration
	afterCall func(n int)
}

func (f *perfectInvoker) Analyze(ctx context.Context, record dataset.CaseRecord, timeout time.Duration) target.Invocation {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	if f.afterCall != nil {
		f.afterCall(n)
	}
	return target.Invocation{
		Verdict: &target.Verdict{Vulnerable: record.Vulnerable, Confidence: 0.9},
		Latency: 5 * time.Millisecond,
	}
}

func newTestOrchestrator(sampler Sampler, invoker Invoker, cfg Config) *Orchestrator {
	planner := NewPlanner(PlannerConfig{}, nil)
	return NewOrchestrator(sampler, invoker, planner, cfg)
}

func TestRunFixedModeSingleRound(t *testing.T) {
	sampler := &fakeSampler{}
	invoker := &perfectInvoker{}
	orch := newTestOrchestrator(sampler, invoker, Config{
		Mode:        ModeFixed,
		TotalBudget: 30,
		Concurrency: 4,
		Seed:        7,
	})

	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Rounds != 1 {
		t.Fatalf("rounds = %d, want 1", report.Rounds)
	}
	if report.CasesExecuted != 30 {
		t.Fatalf("executed = %d, want 30", report.CasesExecuted)
	}
	if report.BudgetUsed != 30 {
		t.Fatalf("budget used = %d, want 30", report.BudgetUsed)
	}
	if len(sampler.calls) != 1 || sampler.calls[0].n != 30 || sampler.calls[0].filter != nil {
		t.Fatalf("fixed mode should draw one unfiltered batch, got %+v", sampler.calls)
	}
	if report.Metrics.RankingScore != 1.0 {
		t.Fatalf("perfect agent ranking score = %v, want 1.0", report.Metrics.RankingScore)
	}
}

func TestRunAdaptiveStopsOnStablePerformance(t *testing.T) {
	sampler := &fakeSampler{}
	invoker := &perfectInvoker{}
	orch := newTestOrchestrator(sampler, invoker, Config{
		Mode:        ModeAdaptive,
		TotalBudget: 200,
		Concurrency: 4,
		Seed:        7,
	})

	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// 200 budget over 6 categories: explore round of 18, validate round of
	// 180, then the stability check fires with budget still remaining.
	if report.Rounds != 2 {
		t.Fatalf("rounds = %d, want 2", report.Rounds)
	}
	if report.CasesExecuted != 198 {
		t.Fatalf("executed = %d, want 198", report.CasesExecuted)
	}
	if report.BudgetUsed >= report.BudgetTotal {
		t.Fatalf("stop should have fired on stability, not exhaustion: used %d of %d", report.BudgetUsed, report.BudgetTotal)
	}
	last := report.Decisions[len(report.Decisions)-1]
	if !last.Stopped {
		t.Fatalf("final decision should be the stop record, got %+v", last)
	}
	if !strings.Contains(last.Rationale, "stable") {
		t.Fatalf("expected a stability rationale, got %q", last.Rationale)
	}
}

func TestRunAdaptiveDecisionsCoverEveryRound(t *testing.T) {
	sampler := &fakeSampler{}
	invoker := &perfectInvoker{}
	orch := newTestOrchestrator(sampler, invoker, Config{
		Mode:        ModeAdaptive,
		TotalBudget: 60,
		Concurrency: 2,
		Seed:        3,
	})

	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	planned := 0
	for _, decision := range report.Decisions {
		if decision.Stopped {
			continue
		}
		planned++
		if decision.TestCount <= 0 {
			t.Fatalf("round %d planned %d tests", decision.Round, decision.TestCount)
		}
		sum := 0
		for _, count := range decision.Allocation {
			sum += count
		}
		if sum != decision.TestCount {
			t.Fatalf("round %d allocation sums to %d, test count %d", decision.Round, sum, decision.TestCount)
		}
	}
	if planned != report.Rounds {
		t.Fatalf("decision log has %d planned rounds, report says %d", planned, report.Rounds)
	}
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	sampler := &fakeSampler{}
	invoker := &perfectInvoker{delay: 10 * time.Millisecond}
	orch := newTestOrchestrator(sampler, invoker, Config{
		Mode:        ModeFixed,
		TotalBudget: 20,
		Concurrency: 3,
		Seed:        1,
	})

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if invoker.maxSeen > 3 {
		t.Fatalf("observed %d concurrent calls, limit is 3", invoker.maxSeen)
	}
}

func TestRunCancelledBeforeDispatchDiscardsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sampler := &fakeSampler{}
	invoker := &perfectInvoker{}
	orch := newTestOrchestrator(sampler, invoker, Config{
		Mode:        ModeAdaptive,
		TotalBudget: 60,
		Concurrency: 4,
		Seed:        7,
	})

	report, err := orch.Run(ctx)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if report.CasesExecuted != 0 {
		t.Fatalf("executed = %d after pre-cancel, want 0", report.CasesExecuted)
	}
	if report.CasesDiscarded == 0 {
		t.Fatal("discard counter should record the skipped batch")
	}
	if invoker.calls != 0 {
		t.Fatalf("invoker was called %d times after cancellation", invoker.calls)
	}
}

func TestRunCancelledMidRoundDiscardsLateResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sampler := &fakeSampler{}
	invoker := &perfectInvoker{}
	invoker.afterCall = func(n int) {
		if n == 5 {
			cancel()
		}
	}
	orch := newTestOrchestrator(sampler, invoker, Config{
		Mode:        ModeAdaptive,
		TotalBudget: 60,
		Concurrency: 1,
		Seed:        7,
	})

	report, err := orch.Run(ctx)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// Sequential dispatch: calls 1-4 land before the cancel, call 5 completes
	// but is dropped, and the rest of the round never runs.
	if report.CasesExecuted != 4 {
		t.Fatalf("executed = %d, want 4", report.CasesExecuted)
	}
	if report.CasesDiscarded != 14 {
		t.Fatalf("discarded = %d, want 14", report.CasesDiscarded)
	}
	if report.BudgetUsed != 18 {
		t.Fatalf("budget used = %d, want the planned 18", report.BudgetUsed)
	}
}

func TestSampleForPlanDerivesSeedsPerCategory(t *testing.T) {
	sampler := &fakeSampler{}
	orch := newTestOrchestrator(sampler, &perfectInvoker{}, Config{Seed: 42})
	plan := RoundPlan{
		Allocation: map[dataset.Category]int{
			dataset.CategoryBlind:   3,
			dataset.CategoryClassic: 3,
		},
		TestCount: 6,
	}

	batch := orch.sampleForPlan(plan, 2)
	if len(batch) != 6 {
		t.Fatalf("batch size = %d, want 6", len(batch))
	}
	if len(sampler.calls) != 2 {
		t.Fatalf("sample calls = %d, want one per category", len(sampler.calls))
	}
	if sampler.calls[0].seed == sampler.calls[1].seed {
		t.Fatal("each category draw needs its own derived seed")
	}

	replay := &fakeSampler{}
	orch2 := newTestOrchestrator(replay, &perfectInvoker{}, Config{Seed: 42})
	orch2.sampleForPlan(plan, 2)
	for i := range sampler.calls {
		if sampler.calls[i].seed != replay.calls[i].seed {
			t.Fatalf("seed derivation not reproducible at call %d", i)
		}
	}
}
