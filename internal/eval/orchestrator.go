package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"vuln-bench/internal/dataset"
	"vuln-bench/internal/target"
)

const (
	ModeFixed    = "fixed"
	ModeAdaptive = "adaptive"
)

// Invoker sends one case to the remote target. Satisfied by *target.Client.
type Invoker interface {
	Analyze(ctx context.Context, record dataset.CaseRecord, timeout time.Duration) target.Invocation
}

// Sampler draws labeled cases. Satisfied by *dataset.Repository.
type Sampler interface {
	Sample(n int, filter []dataset.Category, seed int64) []dataset.CaseRecord
}

// Config holds the orchestration knobs for one run.
type Config struct {
	Endpoint    string
	Mode        string
	TotalBudget int
	CaseTimeout time.Duration
	Concurrency int
	Seed        int64
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeAdaptive
	}
	if c.TotalBudget <= 0 {
		c.TotalBudget = 100
	}
	if c.CaseTimeout <= 0 {
		c.CaseTimeout = 30 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	return c
}

// EventFunc receives the orchestrator's audit stream: round plans, round
// results, and the stop decision, each with its triggering data.
type EventFunc func(stage, message string, data map[string]any)

// Orchestrator drives the evaluation loop. Rounds are hard barriers: a
// round's cases run concurrently under a bounded limit, and the planner only
// ever sees complete rounds.
type Orchestrator struct {
	sampler Sampler
	invoker Invoker
	planner *Planner
	cfg     Config
	logger  *slog.Logger
	onEvent EventFunc
}

func NewOrchestrator(sampler Sampler, invoker Invoker, planner *Planner, cfg Config) *Orchestrator {
	return &Orchestrator{
		sampler: sampler,
		invoker: invoker,
		planner: planner,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default().With("component", "orchestrator"),
	}
}

// SetEventFunc installs an observer for autonomous decisions. Must be called
// before Run.
func (o *Orchestrator) SetEventFunc(fn EventFunc) {
	o.onEvent = fn
}

func (o *Orchestrator) emit(stage, message string, data map[string]any) {
	if o.onEvent != nil {
		o.onEvent(stage, message, data)
	}
}

// Run executes the evaluation and returns the final report. Cancellation is
// cooperative: in-flight calls finish or time out on their own per-case
// clocks, and results arriving after cancellation are discarded. Run returns
// the report over everything accumulated before the cancellation took effect,
// along with ctx.Err.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var (
		results   []TestResult
		decisions []DecisionRecord
		discarded int
		rounds    int
	)
	state := PlannerState{Budget: Budget{Total: o.cfg.TotalBudget}}

	runRound := func(plan RoundPlan) {
		rounds++
		decisions = append(decisions, decisionFromPlan(state.Round, plan))
		o.logger.Info("round planned",
			"round", state.Round,
			"strategy", plan.Strategy,
			"tests", plan.TestCount,
			"rationale", plan.Rationale,
		)
		o.emit("round_plan", plan.Rationale, map[string]any{
			"round":     state.Round,
			"strategy":  string(plan.Strategy),
			"tests":     plan.TestCount,
			"remaining": state.Budget.Remaining(),
		})
		batch := o.sampleForPlan(plan, state.Round)
		roundResults, roundDiscarded := o.executeRound(ctx, batch)
		results = append(results, roundResults...)
		discarded += roundDiscarded
		o.emit("round_result", fmt.Sprintf("round %d complete", state.Round), map[string]any{
			"round":     state.Round,
			"executed":  len(roundResults),
			"discarded": roundDiscarded,
		})
	}

	if o.cfg.Mode == ModeFixed {
		// Fixed mode: one balanced batch of the whole budget, no adaptation.
		plan := RoundPlan{
			Strategy:  StrategyExplore,
			TestCount: o.cfg.TotalBudget,
			Rationale: fmt.Sprintf("fixed mode: single balanced batch of %d tests", o.cfg.TotalBudget),
		}
		state.Budget.Used = o.cfg.TotalBudget
		state.Round = 1
		rounds++
		decisions = append(decisions, decisionFromPlan(1, plan))
		batch := o.sampler.Sample(o.cfg.TotalBudget, nil, o.cfg.Seed)
		roundResults, roundDiscarded := o.executeRound(ctx, batch)
		results = append(results, roundResults...)
		discarded += roundDiscarded
		return o.buildReport(start, state, results, decisions, rounds, discarded), ctx.Err()
	}

	var plan RoundPlan
	state, plan = o.planner.InitialPlan(state)
	runRound(plan)

	for ctx.Err() == nil {
		nextState, next := o.planner.Decide(state, results)
		state = nextState
		if next == nil {
			stopRecord := DecisionRecord{
				Round:     state.Round,
				Stopped:   true,
				Rationale: stopRationale(state, results, o.planner),
				DecidedAt: nowRFC3339(),
			}
			decisions = append(decisions, stopRecord)
			o.logger.Info("evaluation stopped",
				"round", state.Round,
				"results", len(results),
				"budget_used", state.Budget.Used,
				"rationale", stopRecord.Rationale,
			)
			o.emit("stop", stopRecord.Rationale, map[string]any{
				"round":       state.Round,
				"results":     len(results),
				"budget_used": state.Budget.Used,
			})
			break
		}
		runRound(*next)
	}

	return o.buildReport(start, state, results, decisions, rounds, discarded), ctx.Err()
}

// sampleForPlan draws each category's share with a seed derived from the run
// seed, the round, and the category position, so a whole run replays
// identically for a fixed seed.
func (o *Orchestrator) sampleForPlan(plan RoundPlan, round int) []dataset.CaseRecord {
	categories := make([]dataset.Category, 0, len(plan.Allocation))
	for category := range plan.Allocation {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	batch := []dataset.CaseRecord{}
	for idx, category := range categories {
		count := plan.Allocation[category]
		if count <= 0 {
			continue
		}
		seed := o.cfg.Seed + int64(round)*1009 + int64(idx)*31
		batch = append(batch, o.sampler.Sample(count, []dataset.Category{category}, seed)...)
	}
	return batch
}

// executeRound dispatches one batch under the bounded worker limit and blocks
// until every case has a terminal result. The buffered channel is drained by
// this goroutine alone, so appends are single-writer. Workers that observe a
// cancelled run context after their call completes drop the result instead of
// sending it; the per-case timeout still bounds each in-flight call.
func (o *Orchestrator) executeRound(ctx context.Context, batch []dataset.CaseRecord) ([]TestResult, int) {
	resultCh := make(chan TestResult, len(batch))
	discardCh := make(chan struct{}, len(batch))

	group := errgroup.Group{}
	group.SetLimit(o.cfg.Concurrency)
	for _, record := range batch {
		record := record
		group.Go(func() error {
			if ctx.Err() != nil {
				discardCh <- struct{}{}
				return nil
			}
			// Detached from the run context so cancellation lets the call
			// finish or time out naturally instead of tearing it down.
			callCtx, cancel := context.WithTimeout(context.Background(), o.cfg.CaseTimeout)
			defer cancel()
			invocation := o.invoker.Analyze(callCtx, record, o.cfg.CaseTimeout)
			if ctx.Err() != nil {
				discardCh <- struct{}{}
				return nil
			}
			resultCh <- TestResult{
				CaseID:    record.ID,
				Case:      record,
				Verdict:   invocation.Verdict,
				Outcome:   Classify(record.Vulnerable, invocation),
				LatencyMS: invocation.Latency.Milliseconds(),
			}
			return nil
		})
	}
	_ = group.Wait()
	close(resultCh)
	close(discardCh)

	results := make([]TestResult, 0, len(batch))
	for result := range resultCh {
		results = append(results, result)
	}
	discarded := 0
	for range discardCh {
		discarded++
	}
	return results, discarded
}

func (o *Orchestrator) buildReport(start time.Time, state PlannerState, results []TestResult, decisions []DecisionRecord, rounds, discarded int) Report {
	summary := Compute(results)
	o.logger.Info("evaluation complete",
		"rounds", rounds,
		"cases", len(results),
		"discarded", discarded,
		"ranking_score", summary.RankingScore,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return Report{
		GeneratedAt:    nowRFC3339(),
		Endpoint:       o.cfg.Endpoint,
		Mode:           o.cfg.Mode,
		Seed:           o.cfg.Seed,
		Rounds:         rounds,
		BudgetTotal:    state.Budget.Total,
		BudgetUsed:     state.Budget.Used,
		CasesExecuted:  len(results),
		CasesDiscarded: discarded,
		Metrics:        summary,
		Decisions:      decisions,
		Results:        results,
	}
}

func decisionFromPlan(round int, plan RoundPlan) DecisionRecord {
	return DecisionRecord{
		Round:      round,
		Strategy:   plan.Strategy,
		Allocation: plan.Allocation,
		TestCount:  plan.TestCount,
		Rationale:  plan.Rationale,
		DecidedAt:  nowRFC3339(),
	}
}

func stopRationale(state PlannerState, results []TestResult, planner *Planner) string {
	if state.Budget.Remaining() <= 0 {
		return fmt.Sprintf("stop: budget exhausted (%d/%d planned)", state.Budget.Used, state.Budget.Total)
	}
	if len(results) >= planner.Config().MinResultsForStop {
		return fmt.Sprintf("stop: performance stable over trailing windows after %d results", len(results))
	}
	return "stop: remaining budget too small to allocate another round"
}
