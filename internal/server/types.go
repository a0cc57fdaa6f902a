package server

import (
	"time"

	"vuln-bench/internal/eval"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type RunRequest struct {
	Endpoint           string   `json:"endpoint"`
	APIKey             string   `json:"api_key,omitempty"`
	Mode               string   `json:"mode,omitempty"`
	TotalBudget        int      `json:"total_budget,omitempty"`
	InitialBudget      int      `json:"initial_budget,omitempty"`
	Categories         []string `json:"categories,omitempty"`
	WeakThreshold      float64  `json:"weak_threshold,omitempty"`
	FocusFraction      float64  `json:"focus_fraction,omitempty"`
	StabilityThreshold float64  `json:"stability_threshold,omitempty"`
	CaseTimeoutSec     int      `json:"case_timeout_sec,omitempty"`
	Concurrency        int      `json:"concurrency,omitempty"`
	Seed               int64    `json:"seed,omitempty"`
	TimeoutSec         int      `json:"timeout_sec,omitempty"`
}

type QuickEvalRequest struct {
	ScenarioID string `json:"scenario_id"`
	Endpoint   string `json:"endpoint"`
	Depth      string `json:"depth,omitempty"`
}

type RunMeta struct {
	RunID        string           `json:"run_id"`
	Status       string           `json:"status"`
	CreatorType  string           `json:"creator_type"`
	CreatorSub   string           `json:"creator_sub,omitempty"`
	CreatorEmail string           `json:"creator_email,omitempty"`
	Source       string           `json:"source"`
	Request      RunRequest       `json:"request"`
	StartedAt    string           `json:"started_at,omitempty"`
	FinishedAt   string           `json:"finished_at,omitempty"`
	CreatedAt    string           `json:"created_at"`
	Error        string           `json:"error,omitempty"`
	Report       *eval.Report     `json:"report,omitempty"`
	Score        ScoreSnapshot    `json:"score"`
	QuotaUsage   QuotaUsageRecord `json:"quota_usage"`
}

type ScoreSnapshot struct {
	RankingScore      float64  `json:"ranking_score"`
	Precision         float64  `json:"precision"`
	Recall            float64  `json:"recall"`
	Accuracy          float64  `json:"accuracy"`
	FalseNegatives    int      `json:"false_negatives"`
	TransportFailures int      `json:"transport_failures"`
	WeakCategories    []string `json:"weak_categories,omitempty"`
}

type QuotaUsageRecord struct {
	RunID          string `json:"run_id"`
	CasesPlanned   int    `json:"cases_planned"`
	CasesExecuted  int    `json:"cases_executed"`
	CasesDiscarded int    `json:"cases_discarded"`
	BlockedReason  string `json:"blocked_reason,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type RunEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt         string  `json:"generated_at"`
	TotalRuns           int     `json:"total_runs"`
	RunningRuns         int     `json:"running_runs"`
	CompletedRuns       int     `json:"completed_runs"`
	FailedRuns          int     `json:"failed_runs"`
	CasesExecuted       int     `json:"cases_executed"`
	CasesDiscarded      int     `json:"cases_discarded"`
	AverageRankingScore float64 `json:"average_ranking_score"`
}

type StoreSnapshot struct {
	Runs   []RunMeta    `json:"runs"`
	Events []RunEvent   `json:"events"`
	Audit  []AuditEvent `json:"audit"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
