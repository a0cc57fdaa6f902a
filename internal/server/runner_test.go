package server

import "testing"

func TestScenarioToRunRequest(t *testing.T) {
	cfg := DefaultServerConfig()
	request, err := scenarioToRunRequest(QuickEvalRequest{
		ScenarioID: "blind-focus",
		Endpoint:   "http://analyzer.internal:9000",
		Depth:      "deep",
	}, cfg)
	if err != nil {
		t.Fatalf("scenarioToRunRequest returned error: %v", err)
	}
	if request.Endpoint == "" {
		t.Fatalf("expected endpoint to be set")
	}
	if len(request.Categories) != 3 {
		t.Fatalf("expected focused categories, got %v", request.Categories)
	}
	if request.TotalBudget != 160 {
		t.Fatalf("expected deep depth to double the budget, got %d", request.TotalBudget)
	}
	if request.Mode != "adaptive" {
		t.Fatalf("expected adaptive mode, got %s", request.Mode)
	}
}

func TestScenarioToRunRequestRejectUnknownScenario(t *testing.T) {
	cfg := DefaultServerConfig()
	_, err := scenarioToRunRequest(QuickEvalRequest{
		ScenarioID: "unknown",
		Endpoint:   "http://analyzer.internal:9000",
	}, cfg)
	if err == nil {
		t.Fatalf("expected error for unsupported scenario")
	}
}

func TestNormalizeRunRequestCapsBudget(t *testing.T) {
	cfg := DefaultServerConfig()
	request := RunRequest{
		Endpoint:    "http://analyzer.internal:9000",
		TotalBudget: cfg.Quota.MaxRunBudget * 4,
	}
	normalizeRunRequest(&request, cfg)
	if request.TotalBudget != cfg.Quota.MaxRunBudget {
		t.Fatalf("expected budget capped at %d, got %d", cfg.Quota.MaxRunBudget, request.TotalBudget)
	}
	if request.Mode != cfg.RunDefaults.Mode {
		t.Fatalf("expected default mode, got %s", request.Mode)
	}
	if request.Seed == 0 {
		t.Fatalf("expected a seed to be assigned")
	}
}
