package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicModel   = "claude-3-haiku-20240307"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

type AnthropicConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// AnthropicGenerator calls the Anthropic messages API.
type AnthropicGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AnthropicGenerator{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (g *AnthropicGenerator) Name() string {
	return "anthropic"
}

// CheckHealth sends a minimal message and reports whether the endpoint
// answered.
func (g *AnthropicGenerator) CheckHealth(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"model":      g.model,
		"max_tokens": healthMaxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": "Hello"},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal health payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", g.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	_, err = doProviderRequest(g.client, httpReq)
	return err
}

func (g *AnthropicGenerator) GenerateSQL(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(map[string]any{
		"model":       g.model,
		"max_tokens":  g.maxTokens,
		"temperature": g.temperature,
		"system":      systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": buildUserPrompt(req)},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal messages payload: %w", ErrGeneration, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: build messages request: %w", ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", g.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	rawRespBody, err := doProviderRequest(g.client, httpReq)
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: decode messages response: %w", ErrGeneration, err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	sql := stripMarkdownSQL(text.String())
	if sql == "" {
		return Result{}, fmt.Errorf("%w: model returned empty SQL", ErrGeneration)
	}
	return Result{
		SQL:        sql,
		Provider:   g.Name(),
		Model:      g.model,
		TokensUsed: parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		Confidence: providerConfidence,
	}, nil
}
