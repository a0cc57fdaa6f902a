package eval

import (
	"math"
	"testing"

	"vuln-bench/internal/dataset"
)

func resultWith(category dataset.Category, outcome Outcome) TestResult {
	return TestResult{
		CaseID: "case",
		Case: dataset.CaseRecord{
			ID:         "case",
			Category:   category,
			Vulnerable: category != dataset.CategorySecure,
		},
		Outcome: outcome,
	}
}

func repeatResults(category dataset.Category, outcome Outcome, n int) []TestResult {
	out := make([]TestResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, resultWith(category, outcome))
	}
	return out
}

func TestMatrixTotalEqualsResultCount(t *testing.T) {
	results := []TestResult{
		resultWith(dataset.CategoryClassic, OutcomeTruePositive),
		resultWith(dataset.CategoryClassic, OutcomeFalseNegative),
		resultWith(dataset.CategorySecure, OutcomeTrueNegative),
		resultWith(dataset.CategorySecure, OutcomeFalsePositive),
		resultWith(dataset.CategorySecure, OutcomeNoResponse),
		resultWith(dataset.CategorySecure, OutcomeInvalidResponse),
	}
	matrix := BuildMatrix(results)
	if matrix.Total() != len(results) {
		t.Fatalf("matrix total %d != result count %d", matrix.Total(), len(results))
	}
}

func TestRatesZeroWhenDenominatorZero(t *testing.T) {
	rates := RatesFromMatrix(ConfusionMatrix{})
	for name, value := range map[string]float64{
		"precision": rates.Precision,
		"recall":    rates.Recall,
		"f1":        rates.F1,
		"accuracy":  rates.Accuracy,
	} {
		if value != 0 {
			t.Fatalf("%s = %v, want 0 on empty matrix", name, value)
		}
		if math.IsNaN(value) {
			t.Fatalf("%s is NaN", name)
		}
	}
}

func TestRatesBoundedAndKnownValues(t *testing.T) {
	matrix := ConfusionMatrix{TruePositives: 8, FalsePositives: 2, FalseNegatives: 2, TrueNegatives: 8}
	rates := RatesFromMatrix(matrix)
	if rates.Precision != 0.8 {
		t.Fatalf("precision = %v, want 0.8", rates.Precision)
	}
	if rates.Recall != 0.8 {
		t.Fatalf("recall = %v, want 0.8", rates.Recall)
	}
	if math.Abs(rates.F1-0.8) > 1e-9 {
		t.Fatalf("f1 = %v, want 0.8", rates.F1)
	}
	if rates.Accuracy != 0.8 {
		t.Fatalf("accuracy = %v, want 0.8", rates.Accuracy)
	}
	for _, value := range []float64{rates.Precision, rates.Recall, rates.F1, rates.Accuracy} {
		if value < 0 || value > 1 {
			t.Fatalf("rate out of [0,1]: %v", value)
		}
	}
}

func TestComputePerCategoryBreakdown(t *testing.T) {
	results := append(
		repeatResults(dataset.CategoryClassic, OutcomeTruePositive, 4),
		repeatResults(dataset.CategoryBlind, OutcomeFalseNegative, 4)...,
	)
	results = append(results, repeatResults(dataset.CategorySecure, OutcomeTrueNegative, 4)...)

	summary := Compute(results)
	if summary.TotalResults != 12 {
		t.Fatalf("total results %d, want 12", summary.TotalResults)
	}
	classic, ok := summary.PerCategory[string(dataset.CategoryClassic)]
	if !ok {
		t.Fatalf("missing classic breakdown")
	}
	if classic.Rates.F1 != 1.0 {
		t.Fatalf("classic F1 = %v, want 1", classic.Rates.F1)
	}
	blind := summary.PerCategory[string(dataset.CategoryBlind)]
	if blind.Rates.F1 != 0 {
		t.Fatalf("blind F1 = %v, want 0", blind.Rates.F1)
	}
	if summary.RankingScore != summary.Overall.F1 {
		t.Fatalf("ranking score %v != overall F1 %v", summary.RankingScore, summary.Overall.F1)
	}
}

func TestAnalyzePerformanceWeakAndStrong(t *testing.T) {
	// Category A: 10 perfect hits, F1=1.0. Category B: 10 misses, F1=0.
	results := append(
		repeatResults(dataset.CategoryClassic, OutcomeTruePositive, 10),
		repeatResults(dataset.CategoryBlind, OutcomeFalseNegative, 10)...,
	)
	analysis := AnalyzePerformance(results, 0.6, 0.8)
	if len(analysis.Weak) != 1 || analysis.Weak[0] != dataset.CategoryBlind {
		t.Fatalf("weak = %v, want [blind] only", analysis.Weak)
	}
	if len(analysis.Strong) != 1 || analysis.Strong[0] != dataset.CategoryClassic {
		t.Fatalf("strong = %v, want [classic]", analysis.Strong)
	}
	if analysis.Variance <= 0 {
		t.Fatalf("expected positive variance, got %v", analysis.Variance)
	}
}

func TestAnalyzePerformanceExcludesSecure(t *testing.T) {
	results := append(
		repeatResults(dataset.CategoryClassic, OutcomeTruePositive, 10),
		repeatResults(dataset.CategorySecure, OutcomeTrueNegative, 10)...,
	)
	analysis := AnalyzePerformance(results, 0.6, 0.8)
	if _, ok := analysis.CategoryF1[dataset.CategorySecure]; ok {
		t.Fatalf("secure partition must not appear in the performance analysis")
	}
	if len(analysis.Weak) != 0 {
		t.Fatalf("weak = %v, want empty", analysis.Weak)
	}
}
