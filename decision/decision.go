package decision

import (
	"fmt"
	"math"

	"govagent/proposal"
	"govagent/review"
)

// Recommended vote values, matching proposal.DecisionRecord.RecommendedVote.
const (
	VoteFor     = "for"
	VoteAgainst = "against"
	VoteAbstain = "abstain"
)

// Decide maps a Review Report to a Decision under the given Policy. It is a
// pure function: same inputs always produce the same output, and it never
// fails (spec section 4.1: "reviewed -> decided: Decision Engine is pure;
// never fails").
func Decide(report review.Report, policy Policy) proposal.DecisionRecord {
	if blocking := report.BlockingFindings(); len(blocking) > 0 {
		reasons := make([]string, 0, len(blocking))
		for _, f := range blocking {
			reasons = append(reasons, fmt.Sprintf("%s: %s", f.Code, f.Message))
		}
		return proposal.DecisionRecord{
			RecommendedVote:       VoteAbstain,
			Confidence:            0,
			Reasons:               reasons,
			RequiresHumanOverride: true,
			ProfileUsed:           policy.Profile,
		}
	}

	vote := VoteAbstain
	var reason string
	switch {
	case report.RiskScore <= policy.ApproveThreshold:
		vote = VoteFor
		reason = fmt.Sprintf("risk_score %.3f <= approve_threshold %.3f", report.RiskScore, policy.ApproveThreshold)
	case report.RiskScore >= policy.RejectThreshold:
		vote = VoteAgainst
		reason = fmt.Sprintf("risk_score %.3f >= reject_threshold %.3f", report.RiskScore, policy.RejectThreshold)
	default:
		reason = fmt.Sprintf("risk_score %.3f falls between approve_threshold %.3f and reject_threshold %.3f", report.RiskScore, policy.ApproveThreshold, policy.RejectThreshold)
	}

	return proposal.DecisionRecord{
		RecommendedVote:       vote,
		Confidence:            confidence(report.RiskScore),
		Reasons:               []string{reason},
		RequiresHumanOverride: false,
		ProfileUsed:           policy.Profile,
	}
}

// confidence implements 1 - |risk_score - 0.5| * 2, spec section 4.6: a
// risk_score of 0.5 yields full confidence, either extreme (0 or 1) yields
// none.
func confidence(riskScore float64) float64 {
	c := 1 - math.Abs(riskScore-0.5)*2
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
