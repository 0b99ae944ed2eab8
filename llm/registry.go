package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Registry builds Provider instances from configuration, mirroring the
// corpus's by-kind adapter construction pattern.
type Registry struct {
	HTTPClient *http.Client
}

// NewRegistry builds a registry with a sane default HTTP client.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 60 * time.Second}}
}

func (r *Registry) client() *http.Client {
	if r != nil && r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// Build constructs a Provider for the given kind ("openai", "anthropic",
// "opencode").
func (r *Registry) Build(kind, baseURL, apiKey, model string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "openai":
		return NewOpenAIProvider(r.client(), baseURL, apiKey, model), nil
	case "anthropic":
		return NewAnthropicProvider(r.client(), baseURL, apiKey, model), nil
	case "opencode":
		return NewOpencodeProvider(r.client(), baseURL, apiKey, model)
	default:
		return nil, fmt.Errorf("llm: unknown provider kind %q", kind)
	}
}
