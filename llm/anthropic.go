package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"

// AnthropicProvider adapts the Anthropic Messages API.
type AnthropicProvider struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
}

func NewAnthropicProvider(client *http.Client, endpoint, apiKey, model string) *AnthropicProvider {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultAnthropicEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicProvider{client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey), model: model}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p == nil {
		return Response{}, fmt.Errorf("anthropic provider not configured")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := map[string]interface{}{
		"model":      p.model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if p.apiKey != "" {
		httpReq.Header.Set("x-api-key", p.apiKey)
	}

	start := timeNow()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	latency := timeNow().Sub(start)

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Response{}, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var decoded struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Response{}, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if len(decoded.Content) == 0 {
		return Response{}, fmt.Errorf("anthropic: empty content")
	}
	return Response{
		Text:      decoded.Content[0].Text,
		TokensIn:  decoded.Usage.InputTokens,
		TokensOut: decoded.Usage.OutputTokens,
		LatencyMS: latency.Milliseconds(),
		Model:     p.model,
	}, nil
}
