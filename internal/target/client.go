package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vuln-bench/internal/dataset"
)

const analyzePath = "/v1/analyze"

type Config struct {
	BaseURL string
	APIKey  string
}

// Client talks to one remote analysis agent. It makes exactly one attempt per
// case: retries would silently inflate sample counts, so they are left to
// callers who want them and must be accounted for separately.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  &http.Client{},
	}
}

// Analyze sends one case and classifies the outcome of the exchange. A reply
// that never arrives inside timeout (or any transport failure) is tagged
// no_response; a reply that arrives but cannot be parsed, has a non-2xx
// status, or lacks the required vulnerable boolean is tagged invalid_response.
// Both tags are terminal for the case.
func (c *Client) Analyze(ctx context.Context, record dataset.CaseRecord, timeout time.Duration) Invocation {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	payload, err := json.Marshal(AnalyzeRequest{
		CaseID:   record.ID,
		Category: string(record.Category),
		Language: record.Language,
		Code:     record.Payload,
		Tags:     record.Tags,
	})
	if err != nil {
		return Invocation{Failure: FailureBadReply, Detail: fmt.Sprintf("marshal request: %v", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+analyzePath, bytes.NewReader(payload))
	if err != nil {
		return Invocation{Failure: FailureNoReply, Detail: fmt.Sprintf("build request: %v", err)}
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	response, err := c.client.Do(request)
	latency := time.Since(start)
	if err != nil {
		return Invocation{
			Failure: FailureNoReply,
			Latency: latency,
			Detail:  fmt.Sprintf("http request failed: %v", err),
		}
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	latency = time.Since(start)
	if readErr != nil {
		return Invocation{
			Failure:    FailureNoReply,
			StatusCode: response.StatusCode,
			Latency:    latency,
			Detail:     fmt.Sprintf("read response body: %v", readErr),
		}
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return Invocation{
			Failure:    FailureBadReply,
			StatusCode: response.StatusCode,
			Latency:    latency,
			Detail:     fmt.Sprintf("status %d: %s", response.StatusCode, truncate(string(body), 200)),
		}
	}

	var decoded struct {
		Vulnerable  *bool    `json:"vulnerable"`
		Severity    string   `json:"severity"`
		Confidence  *float64 `json:"confidence"`
		Explanation string   `json:"explanation"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Invocation{
			Failure:    FailureBadReply,
			StatusCode: response.StatusCode,
			Latency:    latency,
			Detail:     fmt.Sprintf("decode response: %v", err),
		}
	}
	if decoded.Vulnerable == nil {
		return Invocation{
			Failure:    FailureBadReply,
			StatusCode: response.StatusCode,
			Latency:    latency,
			Detail:     "response lacks required vulnerable field",
		}
	}
	verdict := &Verdict{
		Vulnerable:  *decoded.Vulnerable,
		Severity:    strings.TrimSpace(strings.ToLower(decoded.Severity)),
		Explanation: decoded.Explanation,
	}
	if decoded.Confidence != nil {
		verdict.Confidence = *decoded.Confidence
	}
	return Invocation{
		Verdict:    verdict,
		StatusCode: response.StatusCode,
		Latency:    latency,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
