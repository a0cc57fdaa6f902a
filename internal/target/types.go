package target

import "time"

// AnalyzeRequest is the wire payload sent to the analysis agent.
type AnalyzeRequest struct {
	CaseID   string   `json:"case_id"`
	Category string   `json:"category"`
	Language string   `json:"language"`
	Code     string   `json:"code"`
	Tags     []string `json:"tags,omitempty"`
}

// Verdict is the agent's structured answer. Vulnerable is the only required
// field on the wire; everything else is advisory.
type Verdict struct {
	Vulnerable  bool    `json:"vulnerable"`
	Severity    string  `json:"severity,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Explanation string  `json:"explanation,omitempty"`
}

// FailureKind tags terminal transport/format failures.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureNoReply  FailureKind = "no_response"
	FailureBadReply FailureKind = "invalid_response"
)

// Invocation is the terminal result of sending one case: either a Verdict or
// a failure tag, never both. Exactly one invocation exists per dispatched case.
type Invocation struct {
	Verdict    *Verdict
	Failure    FailureKind
	StatusCode int
	Latency    time.Duration
	Detail     string
}
