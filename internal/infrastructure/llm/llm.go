package llm

import (
	"fmt"
	"log/slog"
	"net/http"

	"ScholarSnap/internal/config"
	"ScholarSnap/internal/ports"
)

// New picks the summarizer for the configured provider.
func New(cfg config.SummarizerConfig, httpClient *http.Client, logger *slog.Logger) (ports.Summarizer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAIClient(cfg, httpClient, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg, httpClient, logger), nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Provider)
	}
}
