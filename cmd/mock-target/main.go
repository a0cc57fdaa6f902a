// mock-target is a deterministic stand-in for a remote analysis agent.
// It answers /v1/analyze with verdicts of configurable per-category accuracy,
// plus optional latency and failure injection, so the harness can be exercised
// end to end without a real agent. This binary is testing-only.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type analyzeRequest struct {
	CaseID   string   `json:"case_id"`
	Category string   `json:"category"`
	Language string   `json:"language"`
	Code     string   `json:"code"`
	Tags     []string `json:"tags,omitempty"`
}

type verdict struct {
	Vulnerable  bool    `json:"vulnerable"`
	Severity    string  `json:"severity,omitempty"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

type agent struct {
	accuracy    float64
	perCategory map[string]float64
	secureFPR   float64
	latency     time.Duration
	invalidRate float64
	hangRate    float64
	hangFor     time.Duration
	seed        uint64
	logger      *slog.Logger
}

func main() {
	listen := flag.String("listen", ":9000", "Listen address")
	accuracy := flag.Float64("accuracy", 0.85, "Default detection accuracy on vulnerable cases")
	perCategory := flag.String("category-accuracy", "", "Per-category overrides, e.g. blind=0.4,second-order=0.5")
	secureFPR := flag.Float64("secure-fpr", 0.1, "False positive rate on secure cases")
	latency := flag.Duration("latency", 20*time.Millisecond, "Base response latency")
	invalidRate := flag.Float64("invalid-rate", 0, "Fraction of replies sent as malformed JSON")
	hangRate := flag.Float64("hang-rate", 0, "Fraction of requests held past the caller's timeout")
	hangFor := flag.Duration("hang-for", 60*time.Second, "How long a hung request sleeps")
	seed := flag.Uint64("seed", 1, "Verdict hash seed; same seed and case give the same answer")
	flag.Parse()

	overrides, err := parseOverrides(*perCategory)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	mock := &agent{
		accuracy:    *accuracy,
		perCategory: overrides,
		secureFPR:   *secureFPR,
		latency:     *latency,
		invalidRate: *invalidRate,
		hangRate:    *hangRate,
		hangFor:     *hangFor,
		seed:        *seed,
		logger:      slog.Default().With("component", "mock-target"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyze", mock.handleAnalyze)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mock.logger.Info("mock agent listening", "listen", *listen, "accuracy", *accuracy, "seed", *seed)
	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		mock.logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func (a *agent) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}

	roll := a.roll(req.CaseID, "failure")
	if a.hangRate > 0 && roll < a.hangRate {
		a.logger.Info("hanging request", "case_id", req.CaseID)
		time.Sleep(a.hangFor)
		return
	}
	if a.latency > 0 {
		time.Sleep(a.latency)
	}
	if a.invalidRate > 0 && roll < a.hangRate+a.invalidRate {
		a.logger.Info("sending malformed reply", "case_id", req.CaseID)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"vulnerable": "brok`))
		return
	}

	out := a.verdictFor(req)
	a.logger.Info("verdict", "case_id", req.CaseID, "category", req.Category, "vulnerable", out.Vulnerable)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// verdictFor decides deterministically per case: the same seed and case id
// always produce the same answer, so repeated runs are reproducible.
func (a *agent) verdictFor(req analyzeRequest) verdict {
	category := strings.ToLower(strings.TrimSpace(req.Category))
	roll := a.roll(req.CaseID, "verdict")

	if category == "secure" {
		if roll < a.secureFPR {
			return verdict{Vulnerable: true, Severity: "medium", Confidence: 0.55, Explanation: "flagged dynamic query construction"}
		}
		return verdict{Vulnerable: false, Confidence: 0.9, Explanation: "parameterized query, no injection path"}
	}

	accuracy := a.accuracy
	if override, ok := a.perCategory[category]; ok {
		accuracy = override
	}
	if roll < accuracy {
		return verdict{Vulnerable: true, Severity: "high", Confidence: 0.85, Explanation: "user input concatenated into SQL statement"}
	}
	return verdict{Vulnerable: false, Confidence: 0.6, Explanation: "no injection path identified"}
}

// roll maps (seed, case id, purpose) to a stable value in [0, 1).
func (a *agent) roll(caseID, purpose string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.FormatUint(a.seed, 10)))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(caseID))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(purpose))
	return float64(h.Sum64()%10000) / 10000
}

func parseOverrides(raw string) (map[string]float64, error) {
	out := map[string]float64{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			return nil, fmt.Errorf("category accuracy %q: want name=value", pair)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || parsed < 0 || parsed > 1 {
			return nil, fmt.Errorf("category accuracy %q: value must be in [0,1]", pair)
		}
		out[strings.ToLower(strings.TrimSpace(name))] = parsed
	}
	return out, nil
}
