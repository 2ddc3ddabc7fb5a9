package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ScholarSnap/internal/config"
	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

const (
	// DefaultAnthropicEndpoint is the messages API URL.
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion         = "2023-06-01"
)

// AnthropicClient implements ports.Summarizer against the messages API.
type AnthropicClient struct {
	endpoint      string
	model         string
	apiKey        string
	temperature   float64
	maxTokens     int
	maxInputChars int
	httpClient    *http.Client
	logger        *slog.Logger
}

var _ ports.Summarizer = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client from configuration.
func NewAnthropicClient(cfg config.SummarizerConfig, httpClient *http.Client, logger *slog.Logger) *AnthropicClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultAnthropicEndpoint
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AnthropicClient{
		endpoint:      endpoint,
		model:         cfg.Model,
		apiKey:        cfg.APIKey,
		temperature:   cfg.Temperature,
		maxTokens:     maxTokens,
		maxInputChars: cfg.MaxInputChars,
		httpClient:    httpClient,
		logger:        logger,
	}
}

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Summarize sends one messages request with the summary prompt.
func (c *AnthropicClient) Summarize(ctx context.Context, text, title, url string) (domain.SummaryResult, error) {
	if c.apiKey == "" || c.model == "" {
		return domain.SummaryResult{}, fmt.Errorf("anthropic client misconfigured")
	}

	prompt, err := BuildPrompt(text, title, url, c.maxInputChars)
	if err != nil {
		return domain.SummaryResult{}, err
	}

	body, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return domain.SummaryResult{}, fmt.Errorf("marshal anthropic payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.SummaryResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.SummaryResult{}, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.SummaryResult{}, fmt.Errorf("anthropic error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.SummaryResult{}, fmt.Errorf("decode message: %w", err)
	}

	var out strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return finish(c.logger, out.String(), title, url)
}
