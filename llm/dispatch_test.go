package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name string
	err  error
	resp Response
}

func (f fakeProvider) Name() string { return f.name }
func (f fakeProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if f.err != nil {
		return Response{}, f.err
	}
	return f.resp, nil
}

func TestDispatchFallsBackOnError(t *testing.T) {
	dispatcher := NewDispatcher([]NamedProvider{
		{Provider: fakeProvider{name: "openai", err: fmt.Errorf("rate limited")}, Model: "gpt-4o-mini"},
		{Provider: fakeProvider{name: "anthropic", resp: Response{Text: "looks fine"}}, Model: "claude"},
	}, NewRedactor(nil))

	outcome := dispatcher.Dispatch(context.Background(), Request{Prompt: "review this bundle"})

	require.NotNil(t, outcome.Response)
	require.Equal(t, "looks fine", outcome.Response.Text)
	require.Len(t, outcome.Audit, 2)
	require.NotEmpty(t, outcome.Audit[0].Error)
	require.Empty(t, outcome.Audit[1].Error)
	require.Equal(t, outcome.Audit[0].PromptHash, outcome.Audit[1].PromptHash)
}

func TestDispatchAllProvidersFail(t *testing.T) {
	dispatcher := NewDispatcher([]NamedProvider{
		{Provider: fakeProvider{name: "openai", err: fmt.Errorf("timeout")}},
		{Provider: fakeProvider{name: "anthropic", err: fmt.Errorf("timeout")}},
	}, NewRedactor(nil))

	outcome := dispatcher.Dispatch(context.Background(), Request{Prompt: "x"})

	require.Nil(t, outcome.Response)
	require.Len(t, outcome.Audit, 2)
}

func TestRedactorMasksSecrets(t *testing.T) {
	redactor := NewRedactor([]string{`sk-[a-z0-9]+`})
	require.Equal(t, "key=***", redactor.Redact("key=sk-abc123"))
}
