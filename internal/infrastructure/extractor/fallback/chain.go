package fallback

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

// Strategy is one backend in the chain. Stage is reported while it runs.
// Timeout bounds this backend alone; zero leaves it to the caller's context.
type Strategy struct {
	Name      string
	Stage     domain.ProcessingStage
	Extractor ports.PageExtractor
	Timeout   time.Duration
}

// Chain tries each strategy in order and returns the first one that yields
// any non-empty cleaned page.
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
}

func NewChain(logger *slog.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{strategies: strategies, logger: logger}
}

// Extract runs the strategies in order. A backend that fails, times out or
// yields nothing is logged and the next one runs; only the end of ctx itself
// stops the chain. Every attempted stage is completed before moving on.
func (c *Chain) Extract(ctx context.Context, path string, reporter ports.ProgressReporter) (domain.Extraction, error) {
	for _, strategy := range c.strategies {
		if err := ctx.Err(); err != nil {
			return domain.Extraction{}, err
		}

		pages, err := c.attempt(ctx, strategy, path, reporter)
		reporter.Report(strategy.Stage, 100)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Extraction{}, ctx.Err()
			}
			c.logger.Warn("extraction_backend_failed", "backend", strategy.Name, "error", err.Error())
			continue
		}
		if len(pages) == 0 {
			c.logger.Info("extraction_backend_empty", "backend", strategy.Name)
			continue
		}
		return domain.Extraction{Backend: strategy.Name, Pages: pages}, nil
	}
	return domain.Extraction{Pages: map[int]string{}}, nil
}

func (c *Chain) attempt(ctx context.Context, strategy Strategy, path string, reporter ports.ProgressReporter) (map[int]string, error) {
	if strategy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, strategy.Timeout)
		defer cancel()
	}

	stage := strategy.Stage
	reporter.Report(stage, 0)
	raw, err := strategy.Extractor.ExtractPages(ctx, path, func(progress float64) {
		reporter.Report(stage, progress)
	})
	if err != nil {
		return nil, err
	}
	return cleanPages(raw), nil
}

func cleanPages(raw map[int]string) map[int]string {
	out := make(map[int]string, len(raw))
	for page, text := range raw {
		if page < 1 {
			continue
		}
		cleaned := domain.CleanText(text)
		if cleaned == "" {
			continue
		}
		out[page] = cleaned
	}
	return out
}
