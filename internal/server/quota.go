package server

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// QuotaLease is a reservation of daily case quota plus one parallel-run slot.
// The planned case count is reserved up front; Commit settles it against what
// actually executed and refunds the rest.
type QuotaLease struct {
	RunID    string
	Planned  int
	acquired bool
}

type QuotaManager struct {
	mu          sync.Mutex
	cfg         QuotaConfig
	dayKey      string
	dayReserved int
	activeRuns  int
}

var (
	ErrTooManyRuns   = errors.New("max parallel runs reached")
	ErrQuotaExceeded = errors.New("daily case quota exceeded")
)

func NewQuotaManager(cfg QuotaConfig) *QuotaManager {
	if cfg.MaxParallelRuns <= 0 {
		cfg.MaxParallelRuns = 2
	}
	if cfg.DailyCaseQuota <= 0 {
		cfg.DailyCaseQuota = 5000
	}
	if cfg.MaxRunBudget <= 0 {
		cfg.MaxRunBudget = 500
	}
	return &QuotaManager{cfg: cfg}
}

// Acquire reserves quota for a run that plans to dispatch casesPlanned cases.
func (m *QuotaManager) Acquire(runID string, casesPlanned int) (QuotaLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if casesPlanned <= 0 {
		return QuotaLease{}, errors.New("case budget must be positive")
	}
	if casesPlanned > m.cfg.MaxRunBudget {
		return QuotaLease{}, fmt.Errorf("case budget %d exceeds per-run cap %d", casesPlanned, m.cfg.MaxRunBudget)
	}
	m.rollDayLocked(time.Now())
	if m.activeRuns >= m.cfg.MaxParallelRuns {
		return QuotaLease{}, ErrTooManyRuns
	}
	if m.dayReserved+casesPlanned > m.cfg.DailyCaseQuota {
		return QuotaLease{}, ErrQuotaExceeded
	}
	m.activeRuns++
	m.dayReserved += casesPlanned
	return QuotaLease{RunID: runID, Planned: casesPlanned, acquired: true}, nil
}

// Commit settles the lease: the difference between the planned reservation
// and what actually ran goes back into the day's quota.
func (m *QuotaManager) Commit(lease QuotaLease, casesExecuted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !lease.acquired {
		return
	}
	m.rollDayLocked(time.Now())
	refund := lease.Planned - casesExecuted
	if refund > 0 {
		m.dayReserved -= refund
		if m.dayReserved < 0 {
			m.dayReserved = 0
		}
	}
	if m.activeRuns > 0 {
		m.activeRuns--
	}
}

// DayUsage reports the cases reserved against today's quota.
func (m *QuotaManager) DayUsage() (reserved, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(time.Now())
	return m.dayReserved, m.cfg.DailyCaseQuota
}

func (m *QuotaManager) rollDayLocked(now time.Time) {
	dayKey := now.UTC().Format("2006-01-02")
	if m.dayKey != dayKey {
		m.dayKey = dayKey
		m.dayReserved = 0
	}
}
