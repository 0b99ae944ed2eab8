package review

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"govagent/llm"
)

type fakeProvider struct {
	name string
	err  error
	resp llm.Response
}

func (f fakeProvider) Name() string { return f.name }
func (f fakeProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return f.resp, nil
}

func TestEngineRun_AllProvidersFailProducesBlockingFinding(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html></html>"), 0o644))

	dispatcher := llm.NewDispatcher([]llm.NamedProvider{
		{Provider: fakeProvider{name: "openai", err: fmt.Errorf("timeout")}, Model: "gpt-4o-mini"},
		{Provider: fakeProvider{name: "anthropic", err: fmt.Errorf("timeout")}, Model: "claude-3-5-haiku-latest"},
		{Provider: fakeProvider{name: "opencode", err: fmt.Errorf("timeout")}, Model: "default"},
	}, llm.NewRedactor(nil))

	engine := Engine{
		Deterministic: DeterministicConfig{},
		Prompt:        PromptBuilder{},
		Dispatcher:    dispatcher,
	}

	report := engine.Run(context.Background(), root, nil)

	require.Equal(t, 1.0, report.LLMRisk)
	require.NotEmpty(t, report.BlockingFindings())
	found := false
	for _, f := range report.LLMFindings {
		if f.Code == "llm_unavailable" {
			found = true
		}
	}
	require.True(t, found)
	require.Len(t, report.LLMAudit, 3)
}

func TestEngineRun_ProviderSuccessMergesRiskScores(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html></html>"), 0o644))

	dispatcher := llm.NewDispatcher([]llm.NamedProvider{
		{Provider: fakeProvider{name: "openai", resp: llm.Response{Text: "This looks low risk, minor style nits only."}}, Model: "gpt-4o-mini"},
	}, llm.NewRedactor(nil))

	engine := Engine{Dispatcher: dispatcher}
	report := engine.Run(context.Background(), root, map[string]string{"index.html": "<html></html>"})

	require.Empty(t, report.BlockingFindings())
	require.InDelta(t, 0.2, report.LLMRisk, 0.001)
	require.InDelta(t, 0.6*0.2+0.4*0, report.RiskScore, 0.001)
}

func TestPromptBuilder_TruncatesLongExcerpts(t *testing.T) {
	builder := PromptBuilder{MaxExcerptChars: 10}
	prompt := builder.Build(nil, map[string]string{"big.js": "0123456789abcdef"})
	require.Contains(t, prompt, "...[truncated]")
}
