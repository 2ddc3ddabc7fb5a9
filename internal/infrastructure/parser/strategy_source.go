package parser

import (
	"context"
	"fmt"
	"log/slog"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
	"ScholarSnap/internal/scanner"
)

// StrategySource implements PaperSource via a registered scanner strategy.
type StrategySource struct {
	registry *scanner.Registry
	strategy string
	logger   *slog.Logger
}

var _ ports.PaperSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with the configured strategy name.
func NewStrategySource(reg *scanner.Registry, strategy string, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		strategy: strategy,
		logger:   log,
	}
}

// FetchLatest resolves the strategy and executes one scan.
func (s *StrategySource) FetchLatest(ctx context.Context, query domain.PaperQuery) ([]domain.PaperReference, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	strategy, err := s.registry.Resolve(s.strategy)
	if err != nil {
		return nil, err
	}

	s.debug("fetch latest", "scanner", s.strategy, "category", query.Category, "max_results", query.MaxResults)

	results, err := strategy.Scan(ctx, scanner.Request{Query: query})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.strategy, err)
	}

	s.debug("strategy source done", "papers", len(results))
	return results, nil
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
