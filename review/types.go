// Package review implements the Review Engine: deterministic static checks
// over a materialized bundle (Stage A), LLM-assisted analysis with
// multi-provider fallback (Stage B), and the merge into a single Review
// Report with a normalized risk score, per spec section 4.5.
package review

import "govagent/llm"

// Severity is the Finding severity scale from spec section 3.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityBlocking Severity = "blocking"
)

// severityScore implements the max-severity-mapping used to derive a
// sub-score from a set of findings (spec section 4.5).
var severityScore = map[Severity]float64{
	SeverityInfo:     0,
	SeverityLow:      0.2,
	SeverityMedium:   0.5,
	SeverityHigh:     0.8,
	SeverityBlocking: 1.0,
}

// Finding is one deterministic or LLM-sourced observation about a bundle.
type Finding struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Path     string   `json:"path,omitempty"`
}

// IsBlocking reports whether this finding forces an abstain decision.
func (f Finding) IsBlocking() bool { return f.Severity == SeverityBlocking }

// maxSeverityScore returns the highest severityScore across findings, 0 if
// findings is empty.
func maxSeverityScore(findings []Finding) float64 {
	var max float64
	for _, f := range findings {
		if s := severityScore[f.Severity]; s > max {
			max = s
		}
	}
	return max
}

// Report is the Review Report from spec section 3.
type Report struct {
	DeterministicFindings []Finding         `json:"deterministic_findings"`
	LLMFindings           []Finding         `json:"llm_findings"`
	LLMAudit              []llm.AuditRecord `json:"llm_audit"`
	Summary               string            `json:"summary"`
	RiskScore             float64           `json:"risk_score"`
	DeterministicRisk     float64           `json:"deterministic_risk"`
	LLMRisk               float64           `json:"llm_risk"`
}

// BlockingFindings returns every finding (from either stage) at blocking
// severity.
func (r Report) BlockingFindings() []Finding {
	var out []Finding
	for _, f := range r.DeterministicFindings {
		if f.IsBlocking() {
			out = append(out, f)
		}
	}
	for _, f := range r.LLMFindings {
		if f.IsBlocking() {
			out = append(out, f)
		}
	}
	return out
}
