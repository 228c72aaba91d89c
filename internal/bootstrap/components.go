package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/chat-knowledge-base/internal/config"
	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/extractor/fallback"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/extractor/llamaparse"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/extractor/ocr"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/extractor/ocr/tesseract"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/repository/memory"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/resilience"
	vectormemory "github.com/kirillkom/chat-knowledge-base/internal/infrastructure/vector/memory"
	vectorpg "github.com/kirillkom/chat-knowledge-base/internal/infrastructure/vector/postgres"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/vector/qdrant"
)

type dbOpener func() (*sql.DB, error)

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := postgres.OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func buildStores(cfg config.Config, openDB dbOpener) (ports.JobStore, ports.DocumentStore, error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := openDB()
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewJobRepository(db), postgres.NewDocumentRepository(db), nil
	case "memory", "":
		return memory.NewJobStore(cfg.JobHistoryLimit), memory.NewDocumentStore(), nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func buildEmbedder(ctx context.Context, cfg config.Config, app *App) (ports.Embedder, error) {
	switch cfg.EmbedProvider {
	case "gemini":
		embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbedModel, gemini.WithExecutor(app.Backends))
		if err != nil {
			return nil, fmt.Errorf("init gemini embedder: %w", err)
		}
		app.closers = append(app.closers, func() { _ = embedder.Close() })
		return embedder, nil
	case "ollama", "":
		return ollama.NewEmbedder(ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, ollama.WithExecutor(app.Backends))), nil
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.EmbedProvider)
	}
}

func buildVectorIndex(cfg config.Config, openDB dbOpener, backends *resilience.Executor) (ports.VectorIndex, error) {
	switch cfg.VectorBackend {
	case "qdrant", "":
		return qdrant.New(cfg.QdrantURL, backends), nil
	case "pgvector":
		db, err := openDB()
		if err != nil {
			return nil, err
		}
		return vectorpg.New(db), nil
	case "memory":
		return vectormemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}
}

// buildExtractionChain orders the backends: LlamaParse when a key is
// configured, then the PDF text layer, then OCR. Each backend gets its own
// stage budget out of the job timeout.
func buildExtractionChain(cfg config.Config, backends *resilience.Executor, logger *slog.Logger) *fallback.Chain {
	var strategies []fallback.Strategy
	if cfg.LlamaCloudAPIKey != "" {
		strategies = append(strategies, fallback.Strategy{
			Name:    "llamaparse",
			Stage:   domain.StageLlamaLoading,
			Timeout: min(cfg.LlamaParseTimeout, cfg.StageTimeout),
			Extractor: llamaparse.New(cfg.LlamaCloudAPIKey, llamaparse.Options{
				BaseURL:  cfg.LlamaCloudURL,
				Timeout:  cfg.LlamaParseTimeout,
				Executor: backends,
				Logger:   logger,
			}),
		})
	}
	strategies = append(strategies, fallback.Strategy{
		Name:      "pdftext",
		Stage:     domain.StagePyMuPdfLoading,
		Extractor: pdftext.NewExtractor(logger),
		Timeout:   cfg.StageTimeout,
	})
	if cfg.OCREnabled {
		strategies = append(strategies, fallback.Strategy{
			Name:    "ocr",
			Stage:   domain.StageTesseractLoading,
			Timeout: cfg.StageTimeout,
			Extractor: ocr.NewExtractor(
				ocr.NewPdftoppm(cfg.PdftoppmPath),
				tesseract.NewRecognizer(cfg.OCRLanguage),
				ocr.Options{DPI: cfg.OCRDPI, Concurrency: cfg.OCRConcurrency},
				logger,
			),
		})
	}
	return fallback.NewChain(logger, strategies...)
}
