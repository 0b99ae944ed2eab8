// Package llm provides the Review Engine's Stage B capability: a Provider
// interface with three concrete HTTP-backed adapters (OpenAI, Anthropic,
// opencode-compatible), a Registry that builds a provider from config, and
// a sequential-fallback Dispatcher that tries each configured provider in
// order, recording an audit entry per attempt.
package llm

import (
	"context"
	"time"
)

// Request is one Stage B analysis request.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is a successful provider completion.
type Response struct {
	Text       string
	TokensIn   int
	TokensOut  int
	LatencyMS  int64
	Model      string
}

// AuditRecord is the persisted form of one provider attempt, spec section 3.
// PromptRedacted/ResponseRedacted have already had the secret pattern set
// applied; PromptHash is computed over the pre-redaction prompt.
type AuditRecord struct {
	ID               string `json:"id"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	PromptHash       string `json:"prompt_hash"`
	PromptRedacted   string `json:"prompt_redacted"`
	ResponseRedacted string `json:"response_redacted,omitempty"`
	LatencyMS        int64  `json:"latency_ms"`
	TokensIn         int    `json:"tokens_in"`
	TokensOut        int    `json:"tokens_out"`
	Error            string `json:"error,omitempty"`
}

// Provider is the capability implemented by every concrete LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// timeNow is a seam so tests can avoid relying on the real clock for
// latency measurement; production code always uses time.Now.
var timeNow = time.Now
