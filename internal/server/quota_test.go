package server

import (
	"errors"
	"testing"
)

func TestQuotaManagerParallelRunLimit(t *testing.T) {
	quota := NewQuotaManager(QuotaConfig{MaxParallelRuns: 1, DailyCaseQuota: 1000, MaxRunBudget: 500})
	lease, err := quota.Acquire("run_a", 100)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := quota.Acquire("run_b", 100); !errors.Is(err, ErrTooManyRuns) {
		t.Fatalf("expected ErrTooManyRuns, got %v", err)
	}
	quota.Commit(lease, 100)
	if _, err := quota.Acquire("run_b", 100); err != nil {
		t.Fatalf("acquire after commit failed: %v", err)
	}
}

func TestQuotaManagerDailyQuotaAndRefund(t *testing.T) {
	quota := NewQuotaManager(QuotaConfig{MaxParallelRuns: 4, DailyCaseQuota: 200, MaxRunBudget: 200})
	lease, err := quota.Acquire("run_a", 150)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := quota.Acquire("run_b", 100); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	// only 40 cases actually ran; the rest returns to the day's quota
	quota.Commit(lease, 40)
	reserved, limit := quota.DayUsage()
	if reserved != 40 || limit != 200 {
		t.Fatalf("expected 40/200 reserved after refund, got %d/%d", reserved, limit)
	}
	if _, err := quota.Acquire("run_b", 100); err != nil {
		t.Fatalf("acquire after refund failed: %v", err)
	}
}

func TestQuotaManagerCommitWithNothingExecutedReleasesEverything(t *testing.T) {
	quota := NewQuotaManager(QuotaConfig{MaxParallelRuns: 1, DailyCaseQuota: 100, MaxRunBudget: 100})
	lease, err := quota.Acquire("run_a", 100)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	// run failed before dispatching a single case
	quota.Commit(lease, 0)
	reserved, _ := quota.DayUsage()
	if reserved != 0 {
		t.Fatalf("expected full release, got %d reserved", reserved)
	}
	if _, err := quota.Acquire("run_b", 100); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestQuotaManagerRejectsOversizedRun(t *testing.T) {
	quota := NewQuotaManager(QuotaConfig{MaxParallelRuns: 2, DailyCaseQuota: 10000, MaxRunBudget: 300})
	if _, err := quota.Acquire("run_a", 301); err == nil {
		t.Fatalf("expected per-run cap rejection")
	}
}
