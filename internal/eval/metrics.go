package eval

import (
	"sort"

	"vuln-bench/internal/dataset"
)

// BuildMatrix counts outcomes over a result set.
func BuildMatrix(results []TestResult) ConfusionMatrix {
	matrix := ConfusionMatrix{}
	for _, result := range results {
		matrix.Add(result.Outcome)
	}
	return matrix
}

// RatesFromMatrix derives precision, recall, F1 and accuracy. Every ratio is
// 0 when its denominator is 0.
func RatesFromMatrix(matrix ConfusionMatrix) Rates {
	tp := float64(matrix.TruePositives)
	tn := float64(matrix.TrueNegatives)
	fp := float64(matrix.FalsePositives)
	fn := float64(matrix.FalseNegatives)

	precision := safeRatio(tp, tp+fp)
	recall := safeRatio(tp, tp+fn)
	return Rates{
		Precision: precision,
		Recall:    recall,
		F1:        safeRatio(2*precision*recall, precision+recall),
		Accuracy:  safeRatio(tp+tn, float64(matrix.Total())),
	}
}

// Compute aggregates all results into the full metrics document: overall
// confusion matrix and rates, the identical breakdown per case category, and
// the ranking score (overall F1, the run's single comparable scalar).
func Compute(results []TestResult) Summary {
	matrix := BuildMatrix(results)
	overall := RatesFromMatrix(matrix)

	grouped := map[string][]TestResult{}
	for _, result := range results {
		key := string(result.Case.Category)
		grouped[key] = append(grouped[key], result)
	}
	perCategory := make(map[string]CategoryMetrics, len(grouped))
	for category, subset := range grouped {
		subMatrix := BuildMatrix(subset)
		perCategory[category] = CategoryMetrics{
			Matrix: subMatrix,
			Rates:  RatesFromMatrix(subMatrix),
			Count:  len(subset),
		}
	}

	return Summary{
		Matrix:       matrix,
		Overall:      overall,
		PerCategory:  perCategory,
		RankingScore: overall.F1,
		TotalResults: len(results),
	}
}

// AnalyzePerformance classifies the vulnerable categories by cumulative F1.
// The secure partition is excluded: its F1 is structurally 0 (no positives
// exist there) and it would otherwise read as permanently weak.
func AnalyzePerformance(results []TestResult, weakThreshold, strongThreshold float64) PerformanceAnalysis {
	analysis := PerformanceAnalysis{
		CategoryF1: map[dataset.Category]float64{},
	}
	grouped := map[dataset.Category][]TestResult{}
	for _, result := range results {
		category := result.Case.Category
		if category == dataset.CategorySecure {
			continue
		}
		grouped[category] = append(grouped[category], result)
	}

	f1s := make([]float64, 0, len(grouped))
	for category, subset := range grouped {
		f1 := RatesFromMatrix(BuildMatrix(subset)).F1
		analysis.CategoryF1[category] = f1
		f1s = append(f1s, f1)
		if f1 < weakThreshold {
			analysis.Weak = append(analysis.Weak, category)
		} else if f1 > strongThreshold {
			analysis.Strong = append(analysis.Strong, category)
		}
	}
	sortCategories(analysis.Weak)
	sortCategories(analysis.Strong)
	analysis.Variance = variance(f1s)
	return analysis
}

func sortCategories(categories []dataset.Category) {
	sort.Slice(categories, func(i, j int) bool {
		return categories[i] < categories[j]
	})
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, value := range values {
		mean += value
	}
	mean /= float64(len(values))
	total := 0.0
	for _, value := range values {
		diff := value - mean
		total += diff * diff
	}
	return total / float64(len(values))
}

func safeRatio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
