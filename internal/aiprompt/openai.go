package aiprompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const openAIDefaultTimeout = 30 * time.Second

// OpenAIOptions configures the chat-completions backed optimizer. Any
// OpenAI-compatible endpoint works.
type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Optimizer
	OnFallback func(reason string, err error)
}

// OpenAIOptimizer asks a chat model to rewrite the description and select a
// generation model, expecting a strict JSON answer.
type OpenAIOptimizer struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	fallback   Optimizer
	onFallback func(reason string, err error)
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewOpenAIOptimizer(opts OpenAIOptions) (*OpenAIOptimizer, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("aiprompt: api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAIOptimizer{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		baseURL:    baseURL,
		client:     client,
		fallback:   opts.Fallback,
		onFallback: opts.OnFallback,
	}, nil
}

func (o *OpenAIOptimizer) Optimize(ctx context.Context, description, modelList string) (*Result, error) {
	payload := chatRequest{
		Model:          o.model,
		Temperature:    0.6,
		ResponseFormat: &chatFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: "You are a prompt optimizer for AI image generation that only responds with valid JSON."},
			{Role: "user", Content: buildOptimizePayload(description, modelList)},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return o.useFallback(ctx, description, modelList, "encode_request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", &buf)
	if err != nil {
		return o.useFallback(ctx, description, modelList, "build_request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return o.useFallback(ctx, description, modelList, "http_request", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return o.useFallback(ctx, description, modelList, "read_response", err)
	}
	if resp.StatusCode >= 300 {
		return o.useFallback(ctx, description, modelList, "http_status",
			fmt.Errorf("aiprompt: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return o.useFallback(ctx, description, modelList, "decode_response", err)
	}
	if len(decoded.Choices) == 0 {
		return o.useFallback(ctx, description, modelList, "empty_choices", errors.New("aiprompt: no choices returned"))
	}

	result, err := parseResult(decoded.Choices[0].Message.Content)
	if err != nil {
		return o.useFallback(ctx, description, modelList, "parse_payload", err)
	}
	return result, nil
}

func (o *OpenAIOptimizer) useFallback(ctx context.Context, description, modelList, reason string, err error) (*Result, error) {
	if o.fallback == nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("aiprompt: %s", reason)
	}
	if o.onFallback != nil {
		o.onFallback(reason, err)
	}
	return o.fallback.Optimize(ctx, description, modelList)
}

var _ Optimizer = (*OpenAIOptimizer)(nil)
