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

// OpencodeProvider adapts a self-hosted opencode-compatible completion
// endpoint (an OpenAI-chat-compatible shape served from an operator's own
// infrastructure rather than the public OpenAI API), useful as a
// no-API-key fallback provider.
type OpencodeProvider struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
}

func NewOpencodeProvider(client *http.Client, endpoint, apiKey, model string) (*OpencodeProvider, error) {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		return nil, fmt.Errorf("opencode: base_url required")
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if model == "" {
		model = "default"
	}
	return &OpencodeProvider{client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey), model: model}, nil
}

func (p *OpencodeProvider) Name() string { return "opencode" }

func (p *OpencodeProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p == nil {
		return Response{}, fmt.Errorf("opencode provider not configured")
	}
	body := map[string]interface{}{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("opencode: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("opencode: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := timeNow()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("opencode: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	latency := timeNow().Sub(start)

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Response{}, fmt.Errorf("opencode: status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
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
		return Response{}, fmt.Errorf("opencode: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Response{}, fmt.Errorf("opencode: empty choices")
	}
	return Response{
		Text:      decoded.Choices[0].Message.Content,
		TokensIn:  decoded.Usage.PromptTokens,
		TokensOut: decoded.Usage.CompletionTokens,
		LatencyMS: latency.Milliseconds(),
		Model:     p.model,
	}, nil
}
