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

// DefaultOpenAIEndpoint is the chat completions URL.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIClient implements ports.Summarizer backed by OpenAI-compatible APIs.
type OpenAIClient struct {
	endpoint      string
	model         string
	apiKey        string
	temperature   float64
	maxTokens     int
	maxInputChars int
	httpClient    *http.Client
	logger        *slog.Logger
}

var _ ports.Summarizer = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg config.SummarizerConfig, httpClient *http.Client, logger *slog.Logger) *OpenAIClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OpenAIClient{
		endpoint:      endpoint,
		model:         cfg.Model,
		apiKey:        cfg.APIKey,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		maxInputChars: cfg.MaxInputChars,
		httpClient:    httpClient,
		logger:        logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize sends one chat completion request with the summary prompt.
func (c *OpenAIClient) Summarize(ctx context.Context, text, title, url string) (domain.SummaryResult, error) {
	if c.apiKey == "" || c.model == "" {
		return domain.SummaryResult{}, fmt.Errorf("openai client misconfigured")
	}

	prompt, err := BuildPrompt(text, title, url, c.maxInputChars)
	if err != nil {
		return domain.SummaryResult{}, err
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return domain.SummaryResult{}, fmt.Errorf("marshal openai payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.SummaryResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.SummaryResult{}, fmt.Errorf("send completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.SummaryResult{}, fmt.Errorf("openai error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.SummaryResult{}, fmt.Errorf("decode completion: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return domain.SummaryResult{}, fmt.Errorf("openai returned no choices")
	}

	c.logger.Debug("summary generated", "model", c.model, "prompt_chars", len(prompt))
	return finish(c.logger, decoded.Choices[0].Message.Content, title, url)
}
