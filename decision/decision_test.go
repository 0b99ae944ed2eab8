package decision

import (
	"testing"

	"github.com/stretchr/testify/require"

	"govagent/review"
)

func TestResolvePolicy_BuiltinProfiles(t *testing.T) {
	p, err := ResolvePolicy("balanced", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0.30, p.ApproveThreshold)
	require.Equal(t, 0.60, p.RejectThreshold)
}

func TestResolvePolicy_OverridesSupersedeAlias(t *testing.T) {
	p, err := ResolvePolicy("conservative", 0.10, 0.55)
	require.NoError(t, err)
	require.Equal(t, 0.10, p.ApproveThreshold)
	require.Equal(t, 0.55, p.RejectThreshold)
}

func TestResolvePolicy_UnknownProfile(t *testing.T) {
	_, err := ResolvePolicy("reckless", 0, 0)
	require.Error(t, err)
}

func TestResolvePolicy_RejectMustExceedApprove(t *testing.T) {
	_, err := ResolvePolicy("balanced", 0.70, 0.60)
	require.Error(t, err)
}

func TestDecide_BlockingFindingForcesAbstainWithOverride(t *testing.T) {
	report := review.Report{
		RiskScore: 0.05,
		LLMFindings: []review.Finding{
			{Severity: review.SeverityBlocking, Code: "llm_unavailable", Message: "all providers failed"},
		},
	}
	policy, err := ResolvePolicy("balanced", 0, 0)
	require.NoError(t, err)

	d := Decide(report, policy)

	require.Equal(t, VoteAbstain, d.RecommendedVote)
	require.True(t, d.RequiresHumanOverride)
	require.Equal(t, 0.0, d.Confidence)
	require.NotEmpty(t, d.Reasons)
}

func TestDecide_LowRiskApproves(t *testing.T) {
	report := review.Report{RiskScore: 0.10}
	policy, err := ResolvePolicy("balanced", 0, 0)
	require.NoError(t, err)

	d := Decide(report, policy)

	require.Equal(t, VoteFor, d.RecommendedVote)
	require.False(t, d.RequiresHumanOverride)
	require.InDelta(t, 0.2, d.Confidence, 0.001)
}

func TestDecide_HighRiskRejects(t *testing.T) {
	report := review.Report{RiskScore: 0.90}
	policy, err := ResolvePolicy("balanced", 0, 0)
	require.NoError(t, err)

	d := Decide(report, policy)

	require.Equal(t, VoteAgainst, d.RecommendedVote)
	require.False(t, d.RequiresHumanOverride)
}

func TestDecide_MidRiskAbstainsWithoutOverride(t *testing.T) {
	report := review.Report{RiskScore: 0.45}
	policy, err := ResolvePolicy("balanced", 0, 0)
	require.NoError(t, err)

	d := Decide(report, policy)

	require.Equal(t, VoteAbstain, d.RecommendedVote)
	require.False(t, d.RequiresHumanOverride)
}

func TestDecide_ConfidenceSymmetricAroundMidpoint(t *testing.T) {
	policy, err := ResolvePolicy("balanced", 0, 0)
	require.NoError(t, err)

	low := Decide(review.Report{RiskScore: 0.0}, policy)
	high := Decide(review.Report{RiskScore: 1.0}, policy)
	mid := Decide(review.Report{RiskScore: 0.5}, policy)

	require.InDelta(t, 0.0, low.Confidence, 0.001)
	require.InDelta(t, 0.0, high.Confidence, 0.001)
	require.InDelta(t, 1.0, mid.Confidence, 0.001)
}
