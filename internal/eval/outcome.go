package eval

import "vuln-bench/internal/target"

// Classify maps ground truth plus the target's answer (or failure tag) to an
// outcome. The mapping is total and deterministic; callers never choose.
//
// A missed or garbled answer on a genuinely vulnerable case is scored as a
// false negative so transport failures still count against recall. The same
// failure on a secure case stays in its own transport bucket rather than
// becoming a false positive, so precision is not penalized for flaky
// transport.
func Classify(groundTruthVulnerable bool, inv target.Invocation) Outcome {
	if inv.Verdict == nil {
		if groundTruthVulnerable {
			return OutcomeFalseNegative
		}
		if inv.Failure == target.FailureBadReply {
			return OutcomeInvalidResponse
		}
		return OutcomeNoResponse
	}
	switch {
	case groundTruthVulnerable && inv.Verdict.Vulnerable:
		return OutcomeTruePositive
	case groundTruthVulnerable && !inv.Verdict.Vulnerable:
		return OutcomeFalseNegative
	case !groundTruthVulnerable && inv.Verdict.Vulnerable:
		return OutcomeFalsePositive
	default:
		return OutcomeTrueNegative
	}
}
