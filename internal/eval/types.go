package eval

import (
	"time"

	"vuln-bench/internal/dataset"
	"vuln-bench/internal/target"
)

// Outcome classifies one test result against ground truth. The transport
// buckets (no_response, invalid_response) only ever hold secure-case failures;
// a failed exchange on a vulnerable case counts as a miss instead.
type Outcome string

const (
	OutcomeTruePositive    Outcome = "true_positive"
	OutcomeTrueNegative    Outcome = "true_negative"
	OutcomeFalsePositive   Outcome = "false_positive"
	OutcomeFalseNegative   Outcome = "false_negative"
	OutcomeNoResponse      Outcome = "no_response"
	OutcomeInvalidResponse Outcome = "invalid_response"
)

// TestResult is created once per dispatched case and never mutated.
type TestResult struct {
	CaseID    string             `json:"case_id"`
	Case      dataset.CaseRecord `json:"case"`
	Verdict   *target.Verdict    `json:"verdict,omitempty"`
	Outcome   Outcome            `json:"outcome"`
	LatencyMS int64              `json:"latency_ms"`
}

// ConfusionMatrix counts outcomes. Sum of all counts always equals the number
// of results it was computed over.
type ConfusionMatrix struct {
	TruePositives    int `json:"true_positives"`
	TrueNegatives    int `json:"true_negatives"`
	FalsePositives   int `json:"false_positives"`
	FalseNegatives   int `json:"false_negatives"`
	NoResponses      int `json:"no_responses"`
	InvalidResponses int `json:"invalid_responses"`
}

func (m *ConfusionMatrix) Add(outcome Outcome) {
	switch outcome {
	case OutcomeTruePositive:
		m.TruePositives++
	case OutcomeTrueNegative:
		m.TrueNegatives++
	case OutcomeFalsePositive:
		m.FalsePositives++
	case OutcomeFalseNegative:
		m.FalseNegatives++
	case OutcomeNoResponse:
		m.NoResponses++
	case OutcomeInvalidResponse:
		m.InvalidResponses++
	}
}

func (m ConfusionMatrix) Total() int {
	return m.TruePositives + m.TrueNegatives + m.FalsePositives +
		m.FalseNegatives + m.NoResponses + m.InvalidResponses
}

// Rates are the derived classification ratios. Each is defined as 0 when its
// denominator is 0, never NaN.
type Rates struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Accuracy  float64 `json:"accuracy"`
}

type CategoryMetrics struct {
	Matrix ConfusionMatrix `json:"matrix"`
	Rates  Rates           `json:"rates"`
	Count  int             `json:"count"`
}

// Summary is the full metrics document for one result set.
type Summary struct {
	Matrix       ConfusionMatrix            `json:"matrix"`
	Overall      Rates                      `json:"overall"`
	PerCategory  map[string]CategoryMetrics `json:"per_category"`
	RankingScore float64                    `json:"ranking_score"`
	TotalResults int                        `json:"total_results"`
}

// PerformanceAnalysis is the planner's view of cumulative performance over the
// vulnerable categories.
type PerformanceAnalysis struct {
	CategoryF1 map[dataset.Category]float64 `json:"category_f1"`
	Weak       []dataset.Category           `json:"weak"`
	Strong     []dataset.Category           `json:"strong"`
	Variance   float64                      `json:"variance"`
}

// Strategy labels a round plan.
type Strategy string

const (
	StrategyExplore  Strategy = "EXPLORE"
	StrategyExploit  Strategy = "EXPLOIT"
	StrategyValidate Strategy = "VALIDATE"
)

// RoundPlan is produced by the planner and consumed by the orchestrator.
// Never mutated after creation.
type RoundPlan struct {
	Strategy   Strategy                 `json:"strategy"`
	Allocation map[dataset.Category]int `json:"allocation"`
	TestCount  int                      `json:"test_count"`
	Rationale  string                   `json:"rationale"`
}

// Budget tracks planned case spend. Used never exceeds Total. The planner is
// the sole writer; it charges a plan's full test count when the plan is
// produced, so Used can overcount cases actually executed if a round is cut
// short by cancellation.
type Budget struct {
	Total int `json:"total"`
	Used  int `json:"used"`
}

func (b Budget) Remaining() int {
	remaining := b.Total - b.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PlannerState is threaded through Decide. Each call returns a successor
// state; the planner itself holds no mutable fields.
type PlannerState struct {
	Round  int    `json:"round"`
	Budget Budget `json:"budget"`
}

// DecisionRecord logs one autonomous planner decision for the audit trail.
type DecisionRecord struct {
	Round      int                      `json:"round"`
	Strategy   Strategy                 `json:"strategy,omitempty"`
	Allocation map[dataset.Category]int `json:"allocation,omitempty"`
	TestCount  int                      `json:"test_count"`
	Rationale  string                   `json:"rationale"`
	Stopped    bool                     `json:"stopped,omitempty"`
	DecidedAt  string                   `json:"decided_at"`
}

// Report is the machine-readable artifact of one evaluation run.
type Report struct {
	GeneratedAt    string           `json:"generated_at"`
	Endpoint       string           `json:"endpoint"`
	Mode           string           `json:"mode"`
	Seed           int64            `json:"seed"`
	Rounds         int              `json:"rounds"`
	BudgetTotal    int              `json:"budget_total"`
	BudgetUsed     int              `json:"budget_used"`
	CasesExecuted  int              `json:"cases_executed"`
	CasesDiscarded int              `json:"cases_discarded"`
	Metrics        Summary          `json:"metrics"`
	Decisions      []DecisionRecord `json:"decisions"`
	Results        []TestResult     `json:"results"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
