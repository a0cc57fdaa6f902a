package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"vuln-bench/internal/dataset"
	"vuln-bench/internal/eval"
	"vuln-bench/internal/target"
)

func main() {
	endpoint := flag.String("endpoint", envOr("BENCH_ENDPOINT", ""), "Base URL of the analysis agent under test")
	apiKey := flag.String("api-key", envOr("BENCH_API_KEY", ""), "Bearer token for the agent endpoint (optional)")
	datasetPath := flag.String("dataset", envOr("BENCH_DATASET", ""), "Path to a case bank JSON file (default: embedded bank)")
	mode := flag.String("mode", "adaptive", "Evaluation mode: fixed|adaptive")
	totalBudget := flag.Int("total-budget", 100, "Total number of cases the run may dispatch")
	initialBudget := flag.Int("initial-budget", 20, "Cases spent on the first exploration round (adaptive mode)")
	categories := flag.String("categories", "", "Comma-separated vulnerability categories to evaluate (default: all)")
	weakThreshold := flag.Float64("weak-threshold", 0.6, "Per-category F1 below this marks the category weak")
	focusFraction := flag.Float64("focus-fraction", 0.6, "Share of each exploit round aimed at weak categories")
	stabilityThreshold := flag.Float64("stability-threshold", 0.02, "F1 delta between trailing windows considered stable")
	caseTimeout := flag.Duration("case-timeout", 30*time.Second, "Timeout for a single agent call")
	concurrency := flag.Int("concurrency", 10, "Max in-flight agent calls per round")
	seed := flag.Int64("seed", 0, "Sampling seed (0=derive from current time)")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write full report JSON to this file")
	strict := flag.Bool("strict", false, "Exit non-zero if the ranking score is below -strict-floor")
	strictFloor := flag.Float64("strict-floor", 0.5, "Minimum ranking score for -strict")
	flag.Parse()

	if strings.TrimSpace(*endpoint) == "" {
		exitWith("BENCH_ENDPOINT or -endpoint is required")
	}
	runSeed := *seed
	if runSeed == 0 {
		runSeed = time.Now().UnixNano()
	}

	repo, err := dataset.Load(*datasetPath)
	if err != nil {
		exitWith("failed to load case bank: " + err.Error())
	}

	client := target.NewClient(target.Config{
		BaseURL: *endpoint,
		APIKey:  *apiKey,
	})
	planner := eval.NewPlanner(eval.PlannerConfig{
		InitialExplorationBudget: *initialBudget,
		WeakThreshold:            *weakThreshold,
		FocusFraction:            *focusFraction,
		StabilityThreshold:       *stabilityThreshold,
	}, parseCategories(*categories))
	orch := eval.NewOrchestrator(repo, client, planner, eval.Config{
		Endpoint:    *endpoint,
		Mode:        strings.ToLower(strings.TrimSpace(*mode)),
		TotalBudget: *totalBudget,
		CaseTimeout: *caseTimeout,
		Concurrency: *concurrency,
		Seed:        runSeed,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, runErr := orch.Run(ctx)
	if runErr != nil && report.CasesExecuted == 0 {
		exitWith("run aborted before any case completed: " + runErr.Error())
	}

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		printJSON(report)
	default:
		printText(report)
	}

	if strings.TrimSpace(*outputPath) != "" {
		if err := writeReport(*outputPath, report); err != nil {
			exitWith("failed to write report: " + err.Error())
		}
	}

	if *strict && report.Metrics.RankingScore < *strictFloor {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func parseCategories(raw string) []dataset.Category {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]dataset.Category, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		out = append(out, dataset.Category(part))
	}
	return out
}

func printText(report eval.Report) {
	fmt.Printf("Endpoint: %s\n", report.Endpoint)
	fmt.Printf("Mode: %s (seed %d)\n", report.Mode, report.Seed)
	fmt.Printf("Generated: %s\n\n", report.GeneratedAt)

	fmt.Printf("Rounds: %d  Budget: %d/%d  Executed: %d  Discarded: %d\n\n",
		report.Rounds, report.BudgetUsed, report.BudgetTotal,
		report.CasesExecuted, report.CasesDiscarded)

	matrix := report.Metrics.Matrix
	fmt.Printf("Outcomes: tp=%d tn=%d fp=%d fn=%d no_response=%d invalid=%d\n",
		matrix.TruePositives, matrix.TrueNegatives, matrix.FalsePositives,
		matrix.FalseNegatives, matrix.NoResponses, matrix.InvalidResponses)
	fmt.Printf("Overall: precision=%.3f recall=%.3f f1=%.3f accuracy=%.3f\n",
		report.Metrics.Overall.Precision, report.Metrics.Overall.Recall,
		report.Metrics.Overall.F1, report.Metrics.Overall.Accuracy)
	fmt.Printf("Ranking score: %.3f\n\n", report.Metrics.RankingScore)

	names := make([]string, 0, len(report.Metrics.PerCategory))
	for name := range report.Metrics.PerCategory {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		category := report.Metrics.PerCategory[name]
		fmt.Printf("  %-14s f1=%.3f recall=%.3f tested=%d\n",
			name, category.Rates.F1, category.Rates.Recall, category.Matrix.Total())
	}
	fmt.Println()

	for _, decision := range report.Decisions {
		label := string(decision.Strategy)
		if decision.Stopped {
			label = "stop"
		}
		fmt.Printf("[round %d] %s: %s\n", decision.Round, label, decision.Rationale)
	}
}

func printJSON(report eval.Report) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		exitWith("failed to encode report JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func writeReport(path string, report eval.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	cleanPath := filepath.Clean(path)
	return os.WriteFile(cleanPath, data, 0o644)
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(2)
}
