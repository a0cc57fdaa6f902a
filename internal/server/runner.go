package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"vuln-bench/internal/dataset"
	"vuln-bench/internal/eval"
	"vuln-bench/internal/target"
)

type RunManager struct {
	cfg        ServerConfig
	store      Store
	quota      *QuotaManager
	obs        *Observability
	repo       *dataset.Repository
	queue      chan queuedRun
	wg         sync.WaitGroup
	quickLimit *ipRateLimiter
}

type RunnerService interface {
	CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error)
	CreateQuickEval(request QuickEvalRequest, ipHash, uaHash string) (RunMeta, error)
}

type queuedRun struct {
	RunID       string
	Request     RunRequest
	Creator     Principal
	CreatorType string
	Source      string
}

func NewRunManager(cfg ServerConfig, store Store, quota *QuotaManager, obs *Observability) (*RunManager, error) {
	repo, err := dataset.Load(cfg.RunDefaults.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("load case bank: %w", err)
	}
	maxParallel := cfg.Quota.MaxParallelRuns
	if maxParallel <= 0 {
		maxParallel = 2
	}
	manager := &RunManager{
		cfg:        cfg,
		store:      store,
		quota:      quota,
		obs:        obs,
		repo:       repo,
		queue:      make(chan queuedRun, maxParallel*8),
		quickLimit: newIPRateLimiter(cfg.Limits.QuickEvalRPM),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager, nil
}

func (m *RunManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

func (m *RunManager) CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error) {
	if strings.TrimSpace(request.Endpoint) == "" {
		return RunMeta{}, errors.New("endpoint is required")
	}
	normalizeRunRequest(&request, m.cfg)
	runID, err := randomID("run")
	if err != nil {
		return RunMeta{}, err
	}
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      source,
		CreatorType: "admin",
		CreatorSub:  principal.Subject,
		Request:     request,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "run queued", map[string]any{
		"source": source,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     runID,
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "run.create",
		Result:    "queued",
	})
	m.queue <- queuedRun{
		RunID:       runID,
		Request:     request,
		Creator:     principal,
		CreatorType: "admin",
		Source:      source,
	}
	return meta, nil
}

func (m *RunManager) CreateQuickEval(request QuickEvalRequest, ipHash, uaHash string) (RunMeta, error) {
	if !m.quickLimit.Allow(ipHash) {
		if m.obs != nil {
			m.obs.MarkQuotaBlocked(context.Background(), "quick_eval_rate_limit")
		}
		_ = m.store.AppendAudit(AuditEvent{
			Timestamp: nowRFC3339(),
			ActorType: "user",
			Action:    "quick_eval.reject",
			Result:    "rate_limited",
			IPHash:    ipHash,
			UAHash:    uaHash,
		})
		return RunMeta{}, errors.New("quick eval rate limit reached")
	}
	runRequest, err := scenarioToRunRequest(request, m.cfg)
	if err != nil {
		return RunMeta{}, err
	}
	runID, err := randomID("run")
	if err != nil {
		return RunMeta{}, err
	}
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      "user.quick_eval",
		CreatorType: "user",
		Request:     runRequest,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "quick eval queued", map[string]any{
		"scenario_id": request.ScenarioID,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     runID,
		ActorType: "user",
		Action:    "quick_eval.create",
		Result:    "queued",
		IPHash:    ipHash,
		UAHash:    uaHash,
		Detail:    request.ScenarioID,
	})
	m.queue <- queuedRun{
		RunID:       runID,
		Request:     runRequest,
		CreatorType: "user",
		Source:      "user.quick_eval",
	}
	return meta, nil
}

func (m *RunManager) worker() {
	for queued := range m.queue {
		m.executeRun(queued)
	}
}

func (m *RunManager) executeRun(queued queuedRun) {
	lease, err := m.quota.Acquire(queued.RunID, queued.Request.TotalBudget)
	if err != nil {
		reason := "quota_exceeded"
		if errors.Is(err, ErrTooManyRuns) {
			reason = "too_many_runs"
		}
		_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
			meta.Status = "failed"
			meta.Error = "quota unavailable: " + err.Error()
			meta.FinishedAt = nowRFC3339()
			meta.QuotaUsage = QuotaUsageRecord{
				RunID:         queued.RunID,
				CasesPlanned:  queued.Request.TotalBudget,
				BlockedReason: reason,
			}
		})
		_, _ = m.store.AppendRunEvent(queued.RunID, "error", "quota unavailable", map[string]any{"error": err.Error()})
		if m.obs != nil {
			m.obs.MarkRun(context.Background(), "failed")
			m.obs.MarkQuotaBlocked(context.Background(), reason)
		}
		return
	}

	startedAt := nowRFC3339()
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = "running"
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "start", "run started", nil)

	timeout := time.Duration(queued.Request.TimeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, runErr := m.runEvaluation(ctx, queued)

	usage := QuotaUsageRecord{
		RunID:          queued.RunID,
		CasesPlanned:   queued.Request.TotalBudget,
		CasesExecuted:  report.CasesExecuted,
		CasesDiscarded: report.CasesDiscarded,
	}
	m.quota.Commit(lease, report.CasesExecuted)

	status := "completed"
	if runErr != nil && report.CasesExecuted == 0 {
		status = "failed"
	}
	score := scoreFromReport(report)
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = status
		meta.FinishedAt = nowRFC3339()
		meta.Report = &report
		meta.Score = score
		meta.QuotaUsage = usage
		if runErr != nil {
			meta.Error = runErr.Error()
		}
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "completed", "run completed", map[string]any{
		"status":        status,
		"ranking_score": score.RankingScore,
		"executed":      report.CasesExecuted,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     queued.RunID,
		ActorType: queued.CreatorType,
		ActorSub:  queued.Creator.Subject,
		Action:    "run.completed",
		Result:    status,
		Detail:    fmt.Sprintf("score=%.4f executed=%d", score.RankingScore, report.CasesExecuted),
	})
	if m.obs != nil {
		m.obs.MarkRun(ctx, status)
		for outcome, count := range outcomeCounts(report) {
			m.obs.MarkOutcome(ctx, outcome, count)
		}
	}
}

func (m *RunManager) runEvaluation(ctx context.Context, queued queuedRun) (eval.Report, error) {
	request := queued.Request
	client := target.NewClient(target.Config{
		BaseURL: request.Endpoint,
		APIKey:  request.APIKey,
	})
	planner := eval.NewPlanner(eval.PlannerConfig{
		InitialExplorationBudget: request.InitialBudget,
		WeakThreshold:            request.WeakThreshold,
		FocusFraction:            request.FocusFraction,
		StabilityThreshold:       request.StabilityThreshold,
	}, categoriesFromStrings(request.Categories))
	orch := eval.NewOrchestrator(m.repo, client, planner, eval.Config{
		Endpoint:    request.Endpoint,
		Mode:        request.Mode,
		TotalBudget: request.TotalBudget,
		CaseTimeout: time.Duration(request.CaseTimeoutSec) * time.Second,
		Concurrency: request.Concurrency,
		Seed:        request.Seed,
	})
	orch.SetEventFunc(func(stage, message string, data map[string]any) {
		_, _ = m.store.AppendRunEvent(queued.RunID, stage, message, data)
		if m.obs == nil {
			return
		}
		switch stage {
		case "round_plan":
			m.obs.MarkDecision(ctx, fmt.Sprint(data["strategy"]))
		case "round_result":
			if executed, ok := toFloat(data["executed"]); ok {
				m.obs.MarkRound(ctx, int64(executed))
			}
		}
	})
	return orch.Run(ctx)
}

func scoreFromReport(report eval.Report) ScoreSnapshot {
	matrix := report.Metrics.Matrix
	weak := make([]string, 0, len(report.Metrics.PerCategory))
	for name, category := range report.Metrics.PerCategory {
		if name == string(dataset.CategorySecure) {
			continue
		}
		if category.Rates.F1 < 0.6 && category.Matrix.Total() > 0 {
			weak = append(weak, name)
		}
	}
	return ScoreSnapshot{
		RankingScore:      report.Metrics.RankingScore,
		Precision:         report.Metrics.Overall.Precision,
		Recall:            report.Metrics.Overall.Recall,
		Accuracy:          report.Metrics.Overall.Accuracy,
		FalseNegatives:    matrix.FalseNegatives,
		TransportFailures: matrix.NoResponses + matrix.InvalidResponses,
		WeakCategories:    weak,
	}
}

func outcomeCounts(report eval.Report) map[string]int64 {
	matrix := report.Metrics.Matrix
	return map[string]int64{
		string(eval.OutcomeTruePositive):    int64(matrix.TruePositives),
		string(eval.OutcomeTrueNegative):    int64(matrix.TrueNegatives),
		string(eval.OutcomeFalsePositive):   int64(matrix.FalsePositives),
		string(eval.OutcomeFalseNegative):   int64(matrix.FalseNegatives),
		string(eval.OutcomeNoResponse):      int64(matrix.NoResponses),
		string(eval.OutcomeInvalidResponse): int64(matrix.InvalidResponses),
	}
}

func normalizeRunRequest(request *RunRequest, cfg ServerConfig) {
	if strings.TrimSpace(request.Mode) == "" {
		request.Mode = cfg.RunDefaults.Mode
	}
	if request.TotalBudget <= 0 {
		request.TotalBudget = cfg.RunDefaults.TotalBudget
	}
	if request.TotalBudget > cfg.Quota.MaxRunBudget {
		request.TotalBudget = cfg.Quota.MaxRunBudget
	}
	if request.CaseTimeoutSec <= 0 {
		request.CaseTimeoutSec = cfg.RunDefaults.CaseTimeoutSec
	}
	if request.Concurrency <= 0 {
		request.Concurrency = cfg.RunDefaults.Concurrency
	}
	if request.TimeoutSec <= 0 {
		request.TimeoutSec = cfg.RunDefaults.TimeoutSec
	}
	if request.Seed == 0 {
		request.Seed = time.Now().UnixNano()
	}
}

func categoriesFromStrings(names []string) []dataset.Category {
	if len(names) == 0 {
		return nil
	}
	out := make([]dataset.Category, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		out = append(out, dataset.Category(name))
	}
	return out
}

func scenarioToRunRequest(input QuickEvalRequest, cfg ServerConfig) (RunRequest, error) {
	endpoint := strings.TrimSpace(input.Endpoint)
	if endpoint == "" {
		return RunRequest{}, errors.New("endpoint is required")
	}
	base := RunRequest{
		Endpoint:       endpoint,
		Mode:           "adaptive",
		CaseTimeoutSec: cfg.RunDefaults.CaseTimeoutSec,
		Concurrency:    cfg.RunDefaults.Concurrency,
		TimeoutSec:     cfg.RunDefaults.TimeoutSec,
	}
	switch strings.ToLower(strings.TrimSpace(input.ScenarioID)) {
	case "detection-smoke":
		base.Mode = "fixed"
		base.TotalBudget = 30
	case "adaptive-sweep":
		base.TotalBudget = 120
	case "blind-focus":
		base.TotalBudget = 80
		base.Categories = []string{"blind", "time-based", "second-order"}
	default:
		return RunRequest{}, errors.New("unsupported scenario_id")
	}
	switch strings.ToLower(strings.TrimSpace(input.Depth)) {
	case "deep", "high":
		base.TotalBudget = base.TotalBudget * 2
	case "fast", "low":
		base.TotalBudget = base.TotalBudget / 2
	}
	normalizeRunRequest(&base, cfg)
	return base, nil
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

type ipRateLimiter struct {
	mu      sync.Mutex
	rpm     int
	records map[string][]time.Time
}

func newIPRateLimiter(rpm int) *ipRateLimiter {
	if rpm <= 0 {
		rpm = 6
	}
	return &ipRateLimiter{
		rpm:     rpm,
		records: map[string][]time.Time{},
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	now := time.Now()
	cutoff := now.Add(-1 * time.Minute)
	items := l.records[key]
	items = filterRecentTime(items, cutoff)
	if len(items) >= l.rpm {
		l.records[key] = items
		return false
	}
	items = append(items, now)
	l.records[key] = items
	return true
}

func filterRecentTime(items []time.Time, cutoff time.Time) []time.Time {
	if len(items) == 0 {
		return items
	}
	out := items[:0]
	for _, item := range items {
		if item.After(cutoff) {
			out = append(out, item)
		}
	}
	return out
}

func hashString(input string) string {
	sum := sha256Sum(input)
	return sum[:16]
}

func sha256Sum(input string) string {
	hash := sha256.New()
	_, _ = hash.Write([]byte(input))
	return hex.EncodeToString(hash.Sum(nil))
}
