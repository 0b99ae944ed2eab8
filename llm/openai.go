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

const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider adapts the OpenAI chat completions API.
type OpenAIProvider struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
}

// NewOpenAIProvider constructs an OpenAI-compatible provider. endpoint
// defaults to the public OpenAI API so the same adapter also serves
// OpenAI-compatible gateways configured with a different base_url.
func NewOpenAIProvider(client *http.Client, endpoint, apiKey, model string) *OpenAIProvider {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultOpenAIEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p == nil {
		return Response{}, fmt.Errorf("openai provider not configured")
	}
	body := map[string]interface{}{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != 0 {
		body["temperature"] = req.Temperature
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("openai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := timeNow()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("openai: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	latency := timeNow().Sub(start)

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Response{}, fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Response{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Response{}, fmt.Errorf("openai: empty choices")
	}
	return Response{
		Text:      decoded.Choices[0].Message.Content,
		TokensIn:  decoded.Usage.PromptTokens,
		TokensOut: decoded.Usage.CompletionTokens,
		LatencyMS: latency.Milliseconds(),
		Model:     p.model,
	}, nil
}
