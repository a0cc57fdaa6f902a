package eval

import (
	"fmt"
	"sort"
	"strings"

	"vuln-bench/internal/dataset"
)

// PlannerConfig carries the tunables of the adaptive policy. Zero values are
// replaced by defaults in NewPlanner.
type PlannerConfig struct {
	InitialExplorationBudget int
	WeakThreshold            float64
	StrongThreshold          float64
	FocusFraction            float64
	StabilityThreshold       float64
	MinResultsForStop        int
	StabilityWindow          int
	MinCategorySamples       int
}

func (c PlannerConfig) withDefaults() PlannerConfig {
	if c.InitialExplorationBudget <= 0 {
		c.InitialExplorationBudget = 20
	}
	if c.WeakThreshold <= 0 {
		c.WeakThreshold = 0.6
	}
	if c.StrongThreshold <= 0 {
		c.StrongThreshold = 0.8
	}
	if c.FocusFraction <= 0 || c.FocusFraction > 1 {
		c.FocusFraction = 0.6
	}
	if c.StabilityThreshold <= 0 {
		c.StabilityThreshold = 0.02
	}
	if c.MinResultsForStop <= 0 {
		c.MinResultsForStop = 50
	}
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = 20
	}
	if c.MinCategorySamples <= 0 {
		c.MinCategorySamples = 8
	}
	return c
}

// Planner decides what to test next. It is stateless: all mutable run state
// lives in PlannerState, threaded through Decide, so the policy is a pure
// function of (state, results).
type Planner struct {
	cfg        PlannerConfig
	categories []dataset.Category
}

// NewPlanner builds a planner over the given vulnerable categories. An empty
// category set degrades to the full fixed set rather than failing: the
// planner must never be unable to allocate.
func NewPlanner(cfg PlannerConfig, categories []dataset.Category) *Planner {
	if len(categories) == 0 {
		categories = dataset.VulnerableCategories()
	}
	ordered := append([]dataset.Category(nil), categories...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	return &Planner{cfg: cfg.withDefaults(), categories: ordered}
}

func (p *Planner) Config() PlannerConfig {
	return p.cfg
}

// InitialPlan produces the first, exploratory round: the exploration budget
// split evenly across all categories by floor division. The division
// remainder is dropped, not redistributed; total planned tests can therefore
// undershoot the budget. Budget.Used is charged the plan's full test count at
// production time.
func (p *Planner) InitialPlan(state PlannerState) (PlannerState, RoundPlan) {
	budget := minInt(p.cfg.InitialExplorationBudget, state.Budget.Remaining())
	per := budget / len(p.categories)
	allocation := map[dataset.Category]int{}
	total := 0
	for _, category := range p.categories {
		if per == 0 {
			break
		}
		allocation[category] = per
		total += per
	}
	plan := RoundPlan{
		Strategy:   StrategyExplore,
		Allocation: allocation,
		TestCount:  total,
		Rationale: fmt.Sprintf("initial exploration: %d tests split evenly across %d categories (%d each, remainder dropped)",
			budget, len(p.categories), per),
	}
	state.Budget.Used += total
	state.Round++
	return state, plan
}

// Analyze recomputes per-category F1 over the entire accumulated result set
// and classifies weak/strong categories against the configured thresholds.
func (p *Planner) Analyze(results []TestResult) PerformanceAnalysis {
	return AnalyzePerformance(results, p.cfg.WeakThreshold, p.cfg.StrongThreshold)
}

// Decide inspects cumulative results and either returns the next round's plan
// or nil to stop. Returned plans never exceed the remaining budget, and a
// plan's full test count is charged to the successor state's budget at the
// moment of production, not after execution.
func (p *Planner) Decide(state PlannerState, results []TestResult) (PlannerState, *RoundPlan) {
	remaining := state.Budget.Remaining()
	if remaining <= 0 {
		return state, nil
	}
	if len(results) >= p.cfg.MinResultsForStop && p.hasStabilized(results) {
		return state, nil
	}

	analysis := p.Analyze(results)
	var plan RoundPlan
	if len(analysis.Weak) > 0 {
		plan = p.exploitPlan(remaining, analysis.Weak)
	} else {
		plan = p.validatePlan(remaining)
	}
	if plan.TestCount <= 0 {
		// Remaining budget too small to allocate even one test per target
		// category; stop gracefully instead of spinning on empty rounds.
		return state, nil
	}
	state.Budget.Used += plan.TestCount
	state.Round++
	return state, &plan
}

// hasStabilized compares F1 over the trailing window against the window
// before it, over all accumulated results (a deliberately global signal, not
// per-category). Stability additionally requires every category seen so far
// to have at least MinCategorySamples results.
func (p *Planner) hasStabilized(results []TestResult) bool {
	window := p.cfg.StabilityWindow
	n := len(results)
	if n < window {
		return false
	}
	last := results[n-window:]
	prevStart := n - 2*window
	if prevStart < 0 {
		prevStart = 0
	}
	prev := results[prevStart : n-window]
	if len(prev) == 0 {
		return false
	}
	lastF1 := RatesFromMatrix(BuildMatrix(last)).F1
	prevF1 := RatesFromMatrix(BuildMatrix(prev)).F1
	delta := lastF1 - prevF1
	if delta < 0 {
		delta = -delta
	}
	if delta >= p.cfg.StabilityThreshold {
		return false
	}
	counts := map[dataset.Category]int{}
	for _, result := range results {
		counts[result.Case.Category]++
	}
	for _, count := range counts {
		if count < p.cfg.MinCategorySamples {
			return false
		}
	}
	return true
}

func (p *Planner) exploitPlan(remaining int, weak []dataset.Category) RoundPlan {
	focus := int(float64(remaining) * p.cfg.FocusFraction)
	perWeak := focus / len(weak)

	weakSet := map[dataset.Category]bool{}
	for _, category := range weak {
		weakSet[category] = true
	}
	others := []dataset.Category{}
	for _, category := range p.categories {
		if !weakSet[category] {
			others = append(others, category)
		}
	}
	perOther := 0
	if len(others) > 0 {
		perOther = (remaining - focus) / len(others)
	}

	allocation := map[dataset.Category]int{}
	total := 0
	for _, category := range weak {
		if perWeak == 0 {
			break
		}
		allocation[category] = perWeak
		total += perWeak
	}
	for _, category := range others {
		if perOther == 0 {
			break
		}
		allocation[category] = perOther
		total += perOther
	}

	names := make([]string, 0, len(weak))
	for _, category := range weak {
		names = append(names, string(category))
	}
	return RoundPlan{
		Strategy:   StrategyExploit,
		Allocation: allocation,
		TestCount:  total,
		Rationale: fmt.Sprintf("exploit: weak categories [%s] get %.0f%% of remaining budget %d (%d each), other categories share the rest (%d each)",
			strings.Join(names, ", "), p.cfg.FocusFraction*100, remaining, perWeak, perOther),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (p *Planner) validatePlan(remaining int) RoundPlan {
	per := remaining / len(p.categories)
	allocation := map[dataset.Category]int{}
	total := 0
	for _, category := range p.categories {
		if per == 0 {
			break
		}
		allocation[category] = per
		total += per
	}
	return RoundPlan{
		Strategy:   StrategyValidate,
		Allocation: allocation,
		TestCount:  total,
		Rationale: fmt.Sprintf("validate: no weak categories; remaining budget %d split evenly across %d categories (%d each)",
			remaining, len(p.categories), per),
	}
}
