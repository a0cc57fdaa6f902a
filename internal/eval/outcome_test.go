package eval

import (
	"testing"

	"vuln-bench/internal/target"
)

func verdict(vulnerable bool) target.Invocation {
	return target.Invocation{Verdict: &target.Verdict{Vulnerable: vulnerable}}
}

func TestClassifyDecisionTable(t *testing.T) {
	cases := []struct {
		name        string
		groundTruth bool
		invocation  target.Invocation
		want        Outcome
	}{
		{"vulnerable detected", true, verdict(true), OutcomeTruePositive},
		{"vulnerable missed", true, verdict(false), OutcomeFalseNegative},
		{"secure cleared", false, verdict(false), OutcomeTrueNegative},
		{"secure flagged", false, verdict(true), OutcomeFalsePositive},
		{"vulnerable timeout counts as miss", true, target.Invocation{Failure: target.FailureNoReply}, OutcomeFalseNegative},
		{"vulnerable garbage counts as miss", true, target.Invocation{Failure: target.FailureBadReply}, OutcomeFalseNegative},
		{"secure timeout stays in own bucket", false, target.Invocation{Failure: target.FailureNoReply}, OutcomeNoResponse},
		{"secure garbage stays in own bucket", false, target.Invocation{Failure: target.FailureBadReply}, OutcomeInvalidResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.groundTruth, tc.invocation)
			if got != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.groundTruth, got, tc.want)
			}
		})
	}
}
