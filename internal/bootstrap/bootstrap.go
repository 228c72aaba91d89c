package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/config"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
	"github.com/kirillkom/chat-knowledge-base/internal/core/usecase"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/chunking"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/extractor/tables"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/queue/inprocess"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/queue/nats"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/resilience"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/storage/s3"
	"github.com/kirillkom/chat-knowledge-base/internal/observability/metrics"
)

const (
	DispatchInProcess = "inprocess"
	DispatchNATS      = "nats"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Jobs ports.JobStore
	Docs ports.DocumentStore

	SubmitUC   *usecase.IngestDocumentUseCase
	ProcessUC  *usecase.ProcessDocumentUseCase
	StatusUC   *usecase.JobStatusUseCase
	RetrieveUC *usecase.RetrievalUseCase
	RemoveUC   *usecase.RemoveDocumentUseCase

	// Queue is set when jobs are dispatched over NATS.
	Queue *nats.Queue

	HTTPMetrics   *metrics.HTTPServerMetrics
	WorkerMetrics *metrics.WorkerMetrics

	// Backends shares retries and circuit breakers across remote calls.
	Backends *resilience.Executor

	closers []func()
}

// New wires every component selected by cfg. service names the binary in
// logs and metrics.
func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}
	app.HTTPMetrics = metrics.NewHTTPServerMetrics(service)
	app.WorkerMetrics = metrics.NewWorkerMetrics(service, app.HTTPMetrics.Registry())
	app.Backends = resilience.NewExecutor(backendPolicy(cfg), resilience.WithLogger(logger))

	if err := app.build(ctx, cfg); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, cfg config.Config) error {
	var db *sql.DB
	openDB := func() (*sql.DB, error) {
		if db != nil {
			return db, nil
		}
		opened, err := openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		db = opened
		a.closers = append(a.closers, func() { _ = opened.Close() })
		return db, nil
	}

	jobs, docs, err := buildStores(cfg, openDB)
	if err != nil {
		return err
	}
	a.Jobs, a.Docs = jobs, docs

	staging, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("init staging area: %w", err)
	}

	var remote ports.RemoteSource
	if cfg.S3Enabled() {
		source, err := s3.New(ctx, s3.Options{
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
		if err != nil {
			return fmt.Errorf("init s3 source: %w", err)
		}
		remote = source
	}

	embedder, err := buildEmbedder(ctx, cfg, a)
	if err != nil {
		return err
	}
	index, err := buildVectorIndex(cfg, openDB, a.Backends)
	if err != nil {
		return err
	}
	vectors := usecase.NewVectorStoreManager(embedder, index, cfg.VectorBatchSize, a.Logger)

	chain := buildExtractionChain(cfg, a.Backends, a.Logger)
	chunker := chunking.NewDocumentChunker(
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg.MaxChunksPerDocument,
	)

	a.ProcessUC = usecase.NewProcessDocumentUseCase(
		jobs, docs, staging, remote,
		chain,
		tables.NewExtractor(a.Logger),
		chunker,
		vectors,
		a.WorkerMetrics,
		usecase.ProcessOptions{
			JobTimeout:       cfg.JobTimeout,
			StageTimeout:     cfg.StageTimeout,
			MaxFileSizeBytes: cfg.MaxPDFSizeBytes(),
		},
		a.Logger,
	)

	dispatcher, err := a.buildDispatcher(ctx, cfg)
	if err != nil {
		return err
	}

	a.SubmitUC = usecase.NewIngestDocumentUseCase(docs, jobs, staging, dispatcher, usecase.SubmissionLimits{
		MaxDocumentsPerChat: cfg.MaxPDFsPerChat,
		MaxFileSizeBytes:    cfg.MaxPDFSizeBytes(),
	}, a.Logger)
	a.StatusUC = usecase.NewJobStatusUseCase(jobs, docs)
	a.RetrieveUC = usecase.NewRetrievalUseCase(docs, vectors, cfg.RAGTopK)
	a.RemoveUC = usecase.NewRemoveDocumentUseCase(docs, vectors, a.Logger)
	return nil
}

func backendPolicy(cfg config.Config) resilience.Policy {
	p := resilience.DefaultPolicy()
	p.Retry.MaxAttempts = cfg.BackendRetryAttempts
	p.Breaker.Enabled = cfg.BackendBreakerEnabled
	p.Breaker.OpenTimeout = cfg.BackendBreakerTimeout
	return p
}

func (a *App) buildDispatcher(ctx context.Context, cfg config.Config) (ports.JobDispatcher, error) {
	switch cfg.JobDispatch {
	case DispatchNATS:
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: a.Backends,
			Logger:             a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		a.Queue = queue
		a.closers = append(a.closers, queue.Close)
		return queue, nil
	case DispatchInProcess, "":
		pool, err := inprocess.New(ctx, cfg.WorkerPoolSize, a.ProcessUC, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("init worker pool: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := pool.Close(30 * time.Second); err != nil {
				a.Logger.Warn("worker_pool_close_failed", "error", err)
			}
		})
		return pool, nil
	default:
		return nil, fmt.Errorf("unknown JOB_DISPATCH %q", cfg.JobDispatch)
	}
}

// RunJanitor evicts terminal jobs older than the retention window until ctx
// is done.
func (a *App) RunJanitor(ctx context.Context) {
	retention := a.Config.JobRetention
	if retention <= 0 {
		return
	}
	interval := retention / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := a.StatusUC.EvictFinished(ctx, retention)
			if err != nil {
				a.Logger.Warn("job_eviction_failed", "error", err)
				continue
			}
			if evicted > 0 {
				a.WorkerMetrics.JobsEvicted(evicted)
				a.Logger.Info("jobs_evicted", "count", evicted, "retention", retention.String())
			}
		}
	}
}

// Close releases resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
