package review

import (
	"context"
	"fmt"
	"strings"

	"govagent/llm"
)

// PromptBuilder assembles the Stage B prompt from a template, the Stage A
// summary, and truncated source excerpts, size-bounded per spec section
// 4.5 ("respect provider context").
type PromptBuilder struct {
	Template        string
	MaxExcerptChars int
}

// Build renders the final prompt text.
func (b PromptBuilder) Build(deterministicFindings []Finding, excerpts map[string]string) string {
	var summary strings.Builder
	if len(deterministicFindings) == 0 {
		summary.WriteString("no deterministic findings")
	}
	for _, f := range deterministicFindings {
		fmt.Fprintf(&summary, "- [%s] %s: %s (%s)\n", f.Severity, f.Code, f.Message, f.Path)
	}

	maxChars := b.MaxExcerptChars
	if maxChars <= 0 {
		maxChars = 4000
	}
	var source strings.Builder
	for path, content := range excerpts {
		truncated := content
		if len(truncated) > maxChars {
			truncated = truncated[:maxChars] + "\n...[truncated]"
		}
		fmt.Fprintf(&source, "\n--- %s ---\n%s\n", path, truncated)
	}

	template := b.Template
	if template == "" {
		template = defaultTemplate
	}
	replacer := strings.NewReplacer(
		"{{deterministic_summary}}", summary.String(),
		"{{source_excerpts}}", source.String(),
	)
	return replacer.Replace(template)
}

const defaultTemplate = `You are reviewing a proposed dapp bundle for a governance vote.

Deterministic findings so far:
{{deterministic_summary}}

Source excerpts:
{{source_excerpts}}

Respond with a short risk assessment and call out anything that should block approval.`

// Engine runs both review stages and merges them into a Report.
type Engine struct {
	Deterministic DeterministicConfig
	Prompt        PromptBuilder
	Dispatcher    *llm.Dispatcher
}

// Run executes Stage A over the materialized bundle at bundleRoot, then
// Stage B via the configured Dispatcher, and merges both into a Report.
func (e Engine) Run(ctx context.Context, bundleRoot string, excerpts map[string]string) Report {
	deterministicFindings := RunDeterministic(bundleRoot, e.Deterministic)
	deterministicRisk := maxSeverityScore(deterministicFindings)

	prompt := e.Prompt.Build(deterministicFindings, excerpts)
	outcome := e.Dispatcher.Dispatch(ctx, llm.Request{Prompt: prompt})

	var llmFindings []Finding
	var summary string
	var llmRisk float64
	if outcome.Response == nil {
		llmFindings = append(llmFindings, Finding{
			Severity: SeverityBlocking,
			Code:     "llm_unavailable",
			Message:  "every configured LLM provider failed to produce a response",
		})
		llmRisk = severityScore[SeverityBlocking]
		summary = "LLM review unavailable; deterministic findings only."
	} else {
		summary = outcome.Response.Text
		llmRisk = inferLLMRisk(outcome.Response.Text)
		if llmRisk >= severityScore[SeverityBlocking] {
			llmFindings = append(llmFindings, Finding{
				Severity: SeverityBlocking,
				Code:     "llm_flagged_blocking",
				Message:  "LLM response indicates a blocking concern",
			})
		}
	}

	riskScore := clamp(0.6*llmRisk+0.4*deterministicRisk, 0, 1)

	return Report{
		DeterministicFindings: deterministicFindings,
		LLMFindings:           llmFindings,
		LLMAudit:              outcome.Audit,
		Summary:               summary,
		RiskScore:             riskScore,
		DeterministicRisk:     deterministicRisk,
		LLMRisk:               llmRisk,
	}
}

// inferLLMRisk maps a handful of risk-signaling keywords in the LLM's free
// text response onto the same severity scale deterministic findings use.
// The LLM is not asked to return structured JSON here; a real deployment
// would tighten the provider prompt to request a risk keyword explicitly,
// but this keeps Stage B usable with any provider's default text response.
func inferLLMRisk(text string) float64 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "block") || strings.Contains(lower, "malicious") || strings.Contains(lower, "critical"):
		return severityScore[SeverityBlocking]
	case strings.Contains(lower, "high risk") || strings.Contains(lower, "dangerous"):
		return severityScore[SeverityHigh]
	case strings.Contains(lower, "medium risk") || strings.Contains(lower, "concern"):
		return severityScore[SeverityMedium]
	case strings.Contains(lower, "low risk") || strings.Contains(lower, "minor"):
		return severityScore[SeverityLow]
	default:
		return severityScore[SeverityInfo]
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
