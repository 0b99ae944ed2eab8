package llm

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"govagent/agent/errkind"
)

// NamedProvider pairs a Provider with the model label used in its audit
// records, since a Registry-built provider does not expose its configured
// model string directly.
type NamedProvider struct {
	Provider Provider
	Model    string
}

// Dispatcher tries each configured provider in order (sequential, not
// fan-out, per spec section 4.5) and records one AuditRecord per attempt.
type Dispatcher struct {
	providers []NamedProvider
	redactor  *Redactor
}

// NewDispatcher builds a dispatcher over providers in fallback order.
func NewDispatcher(providers []NamedProvider, redactor *Redactor) *Dispatcher {
	return &Dispatcher{providers: providers, redactor: redactor}
}

// Outcome is the result of a single Dispatch call: the first successful
// response (if any) plus the full audit trail of every attempt made.
type Outcome struct {
	Response *Response
	Audit    []AuditRecord
}

// PromptHash computes the blake3 hash of the pre-redaction prompt, per spec
// section 4.5 — "duplicates are detectable without leaking content".
func PromptHash(prompt string) string {
	sum := blake3.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Dispatch tries every configured provider in order until one succeeds.
// Every attempt (success or failure) is recorded in Outcome.Audit with
// redacted prompt/response. If every provider fails, Outcome.Response is
// nil and the caller is expected to translate that into the
// llm_unavailable blocking finding.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Outcome {
	promptHash := PromptHash(req.Prompt)
	redactedPrompt := req.Prompt
	if d.redactor != nil {
		redactedPrompt = d.redactor.Redact(req.Prompt)
	}

	var outcome Outcome
	for _, np := range d.providers {
		if np.Provider == nil {
			continue
		}
		resp, err := np.Provider.Complete(ctx, req)
		record := AuditRecord{
			ID:             uuid.NewString(),
			Provider:       np.Provider.Name(),
			Model:          np.Model,
			PromptHash:     promptHash,
			PromptRedacted: redactedPrompt,
		}
		if err != nil {
			record.Error = errkind.New(errkind.LLMError, err).Error()
			outcome.Audit = append(outcome.Audit, record)
			continue
		}
		record.ResponseRedacted = resp.Text
		if d.redactor != nil {
			record.ResponseRedacted = d.redactor.Redact(resp.Text)
		}
		record.LatencyMS = resp.LatencyMS
		record.TokensIn = resp.TokensIn
		record.TokensOut = resp.TokensOut
		outcome.Audit = append(outcome.Audit, record)
		respCopy := resp
		outcome.Response = &respCopy
		return outcome
	}
	return outcome
}
