package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeRunner struct{}

func (f fakeRunner) CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error) {
	return RunMeta{
		RunID:      "run_fake_admin",
		Status:     "queued",
		CreatorSub: principal.Subject,
		Request:    request,
		CreatedAt:  nowRFC3339(),
	}, nil
}

func (f fakeRunner) CreateQuickEval(request QuickEvalRequest, ipHash, uaHash string) (RunMeta, error) {
	return RunMeta{
		RunID:     "run_fake_user",
		Status:    "queued",
		Request:   RunRequest{Endpoint: request.Endpoint},
		CreatedAt: nowRFC3339(),
	}, nil
}

func TestRouterHealthz(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	auth := NewAuth(nil, ServerConfig{
		Security: SecurityConfig{AdminToken: "secret-token"},
	})
	api := NewAPI(auth, store, fakeRunner{}, nil, nil)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	response, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
}

func TestRouterAdminAuthAndRun(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	auth := NewAuth(nil, ServerConfig{
		Security: SecurityConfig{AdminToken: "secret-token"},
	})
	api := NewAPI(auth, store, fakeRunner{}, nil, nil)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	body := map[string]any{
		"endpoint":     "http://analyzer.internal:9000",
		"mode":         "adaptive",
		"total_budget": 100,
	}
	rawBody, _ := json.Marshal(body)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/runs", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("admin create without auth failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req2, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/runs", bytes.NewReader(rawBody))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-Admin-Token", "secret-token")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("admin create with token failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp2.StatusCode)
	}
}

func TestRouterLoginLandsInAuditTrail(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	auth := NewAuth(nil, ServerConfig{
		Security: SecurityConfig{AdminToken: "secret-token"},
	})
	auth.SetAuditSink(store)
	api := NewAPI(auth, store, fakeRunner{}, nil, nil)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	rawBody, _ := json.Marshal(map[string]string{"username": "eve", "password": "guess"})
	resp, err := http.Post(server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(rawBody))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a user store, got %d", resp.StatusCode)
	}
	events := store.ListAudit(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].Action != "auth.login" || events[0].Result != "unavailable" {
		t.Fatalf("unexpected audit event %+v", events[0])
	}
	if events[0].IPHash == "" {
		t.Fatalf("audit event missing actor hash")
	}
}

func TestRouterOverviewReportsDayQuota(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	auth := NewAuth(nil, ServerConfig{
		Security: SecurityConfig{AdminToken: "secret-token"},
	})
	quota := NewQuotaManager(QuotaConfig{MaxParallelRuns: 2, DailyCaseQuota: 1000, MaxRunBudget: 500})
	if _, err := quota.Acquire("run_a", 120); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	api := NewAPI(auth, store, fakeRunner{}, quota, nil)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/admin/metrics/overview", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("overview request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		DayCasesReserved int `json:"day_cases_reserved"`
		DayCaseQuota     int `json:"day_case_quota"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode overview: %v", err)
	}
	if out.DayCasesReserved != 120 || out.DayCaseQuota != 1000 {
		t.Fatalf("expected 120/1000 day usage, got %d/%d", out.DayCasesReserved, out.DayCaseQuota)
	}
}

func TestRouterQuickEval(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	auth := NewAuth(nil, ServerConfig{
		Security: SecurityConfig{AdminToken: "secret-token"},
	})
	api := NewAPI(auth, store, fakeRunner{}, nil, nil)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	body := map[string]any{
		"scenario_id": "detection-smoke",
		"endpoint":    "http://analyzer.internal:9000",
	}
	rawBody, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/user/quick-eval", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("quick eval request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}
