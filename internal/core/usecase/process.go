package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

const (
	DefaultJobTimeout   = 15 * time.Minute
	DefaultStageTimeout = 10 * time.Minute
)

// chunkIngester is the part of VectorStoreManager the pipeline needs.
type chunkIngester interface {
	AddChunks(ctx context.Context, chatID string, chunks []domain.Chunk, report ports.ProgressFunc) (int, error)
	DeleteDocument(ctx context.Context, chatID, docID string) error
}

type ProcessOptions struct {
	JobTimeout       time.Duration
	StageTimeout     time.Duration
	MaxFileSizeBytes int64
}

type ProcessDocumentUseCase struct {
	jobs     ports.JobStore
	docs     ports.DocumentStore
	staging  ports.StagingArea
	remote   ports.RemoteSource
	text     ports.TextExtractionEngine
	tables   ports.TableExtractor
	chunker  ports.DocumentChunker
	vectors  chunkIngester
	observer ports.JobObserver
	opts     ProcessOptions
	logger   *slog.Logger
}

func NewProcessDocumentUseCase(
	jobs ports.JobStore,
	docs ports.DocumentStore,
	staging ports.StagingArea,
	remote ports.RemoteSource,
	text ports.TextExtractionEngine,
	tables ports.TableExtractor,
	chunker ports.DocumentChunker,
	vectors chunkIngester,
	observer ports.JobObserver,
	opts ProcessOptions,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = DefaultStageTimeout
	}
	if opts.MaxFileSizeBytes <= 0 {
		opts.MaxFileSizeBytes = DefaultMaxFileSizeBytes
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		jobs:     jobs,
		docs:     docs,
		staging:  staging,
		remote:   remote,
		text:     text,
		tables:   tables,
		chunker:  chunker,
		vectors:  vectors,
		observer: observer,
		opts:     opts,
		logger:   logger,
	}
}

var _ ports.JobProcessor = (*ProcessDocumentUseCase)(nil)

// ProcessJob runs the pipeline for one queued job. Failures are recorded on
// the job and also returned.
func (uc *ProcessDocumentUseCase) ProcessJob(ctx context.Context, jobID string) error {
	job, err := uc.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load upload job: %w", err)
	}
	if job.Status.IsTerminal() {
		uc.logger.Info("job_already_terminal", "job_id", jobID, "status", string(job.Status))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, uc.opts.JobTimeout)
	defer cancel()

	tracker := newJobTracker(ctx, job, uc.jobs, uc.observer, uc.logger)
	started := time.Now()
	uc.observer.JobStarted()
	defer uc.cleanupStaged(job.StorageKey)

	if err := uc.run(ctx, tracker, started); err != nil {
		tracker.fail(err)
		uc.observer.JobFinished(domain.JobFailed, time.Since(started))
		uc.logger.Error("upload_job_failed",
			"job_id", job.JobID,
			"chat_id", job.ChatID,
			"filename", job.Filename,
			"kind", domain.KindOf(err),
			"error", err.Error(),
		)
		return err
	}

	final := tracker.snapshot()
	uc.observer.JobFinished(domain.JobFinished, time.Since(started))
	uc.logger.Info("upload_job_finished",
		"job_id", final.JobID,
		"chat_id", final.ChatID,
		"filename", final.Filename,
		"chunks_added", final.ChunksAdded,
		"backend", final.Backend,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func (uc *ProcessDocumentUseCase) run(ctx context.Context, tracker *jobTracker, started time.Time) error {
	job := tracker.snapshot()

	if job.SourceURI != "" {
		tracker.setStatus(domain.JobDownloading)
		if err := uc.download(ctx, tracker, job); err != nil {
			return err
		}
		job = tracker.snapshot()
	}
	tracker.setStatus(domain.JobProcessing)
	path := uc.staging.Path(job.StorageKey)

	extraction, err := uc.extract(ctx, tracker, path)
	if err != nil {
		return err
	}

	tracker.Report(domain.StageExtractingContent, 0)
	pages := orderedPages(extraction.Pages)
	tracker.completeStage(domain.StageExtractingContent)

	tables, err := uc.extractTables(ctx, tracker, path)
	if err != nil {
		return err
	}

	docID := uuid.NewString()
	chunked, err := uc.chunk(ctx, tracker, domain.ChunkInput{
		DocID:  docID,
		Source: job.Filename,
		Pages:  pages,
		Tables: tables,
	})
	if err != nil {
		return err
	}

	added, err := uc.ingest(ctx, tracker, job.ChatID, chunked.Chunks)
	if err != nil {
		return err
	}

	tracker.Report(domain.StageSavingMetadata, 0)
	record := domain.DocumentRecord{
		DocID:       docID,
		Filename:    job.Filename,
		DocType:     domain.DocTypePDF,
		FileHash:    job.FileHash,
		FileSize:    job.FileSize,
		ChunksCount: added,
		Status:      domain.DocumentStatusActive,
		UploadedAt:  time.Now().UTC(),
		ProcessingStats: domain.ProcessingStats{
			Pages:                 len(pages),
			Tables:                len(tables),
			TotalChunks:           len(chunked.Chunks),
			TruncatedChunks:       chunked.Truncated,
			ProcessingTimeSeconds: math.Round(time.Since(started).Seconds()*100) / 100,
			Backend:               extraction.Backend,
		},
	}
	if err := uc.docs.AppendDocument(ctx, job.ChatID, record); err != nil {
		if rbErr := uc.vectors.DeleteDocument(context.WithoutCancel(ctx), job.ChatID, docID); rbErr != nil {
			uc.logger.Warn("vector_rollback_failed", "job_id", job.JobID, "doc_id", docID, "error", rbErr.Error())
		}
		return fmt.Errorf("save document metadata: %w", err)
	}
	tracker.completeStage(domain.StageSavingMetadata)

	tracker.finish(added)
	return nil
}

func (uc *ProcessDocumentUseCase) download(ctx context.Context, tracker *jobTracker, job domain.UploadJob) error {
	if uc.remote == nil {
		return domain.WrapError(domain.ErrInvalidInput, "download document", errors.New("remote sources are not configured"))
	}
	stageCtx, cancel := context.WithTimeout(ctx, uc.opts.StageTimeout)
	defer cancel()

	body, err := uc.remote.Fetch(stageCtx, job.SourceURI)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", job.SourceURI, err)
	}
	defer body.Close()

	hash, size, err := stageStream(stageCtx, uc.staging, job.StorageKey, body, uc.opts.MaxFileSizeBytes)
	if err != nil {
		return err
	}
	if err := contentDuplicate(ctx, uc.docs, uc.jobs, job.ChatID, job.JobID, hash); err != nil {
		return err
	}
	tracker.setFile(hash, size)
	return nil
}

// extract runs under the job context. Each backend carries its own timeout so
// a hung backend still leaves time for the next one.
func (uc *ProcessDocumentUseCase) extract(ctx context.Context, tracker *jobTracker, path string) (domain.Extraction, error) {
	extraction, err := uc.text.Extract(ctx, path, tracker)
	if err != nil {
		return domain.Extraction{}, domain.WrapError(domain.ErrExtractionFailed, "extract text", err)
	}
	if len(extraction.Pages) == 0 {
		return domain.Extraction{}, domain.WrapError(domain.ErrExtractionFailed, "extract text", errors.New("no content extracted"))
	}
	tracker.setBackend(extraction.Backend)
	uc.observer.ExtractionBackend(extraction.Backend)
	return extraction, nil
}

// extractTables never fails the job unless the job itself is cancelled.
func (uc *ProcessDocumentUseCase) extractTables(ctx context.Context, tracker *jobTracker, path string) ([]domain.Table, error) {
	tracker.Report(domain.StageExtractingTables, 0)
	if uc.tables == nil {
		tracker.completeStage(domain.StageExtractingTables)
		return nil, nil
	}

	stageCtx, cancel := context.WithTimeout(ctx, uc.opts.StageTimeout)
	defer cancel()

	tables, err := uc.tables.ExtractTables(stageCtx, path, func(p float64) {
		tracker.Report(domain.StageExtractingTables, p)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		uc.logger.Warn("table_extraction_failed", "path", path, "error", err.Error())
		tables = nil
	}
	tracker.completeStage(domain.StageExtractingTables)
	return tables, nil
}

func (uc *ProcessDocumentUseCase) chunk(ctx context.Context, tracker *jobTracker, in domain.ChunkInput) (domain.ChunkResult, error) {
	tracker.Report(domain.StageCreatingChunks, 0)
	result, err := uc.chunker.Chunk(ctx, in, func(p float64) {
		tracker.Report(domain.StageCreatingChunks, p)
	})
	if err != nil {
		return domain.ChunkResult{}, fmt.Errorf("create chunks: %w", err)
	}
	if len(result.Chunks) == 0 {
		return domain.ChunkResult{}, domain.WrapError(domain.ErrExtractionFailed, "create chunks", errors.New("chunking produced zero chunks"))
	}
	if result.Truncated > 0 {
		uc.logger.Warn("chunks_truncated", "doc_id", in.DocID, "dropped", result.Truncated)
	}
	tracker.completeStage(domain.StageCreatingChunks)
	return result, nil
}

func (uc *ProcessDocumentUseCase) ingest(ctx context.Context, tracker *jobTracker, chatID string, chunks []domain.Chunk) (int, error) {
	tracker.Report(domain.StageAddingToVectorDB, 0)
	stageCtx, cancel := context.WithTimeout(ctx, uc.opts.StageTimeout)
	defer cancel()

	added, err := uc.vectors.AddChunks(stageCtx, chatID, chunks, func(p float64) {
		tracker.Report(domain.StageAddingToVectorDB, p)
	})
	if err != nil {
		return 0, err
	}
	uc.observer.ChunksIngested(added)
	tracker.completeStage(domain.StageAddingToVectorDB)
	return added, nil
}

func (uc *ProcessDocumentUseCase) cleanupStaged(key string) {
	if key == "" {
		return
	}
	if err := uc.staging.Delete(context.Background(), key); err != nil {
		uc.logger.Warn("staged_file_cleanup_failed", "key", key, "error", err.Error())
	}
}

func orderedPages(pages map[int]string) []domain.PageText {
	out := make([]domain.PageText, 0, len(pages))
	for page, text := range pages {
		out = append(out, domain.PageText{Page: page, Text: text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

type noopObserver struct{}

func (noopObserver) JobStarted()                                          {}
func (noopObserver) JobFinished(domain.JobStatus, time.Duration)          {}
func (noopObserver) StageCompleted(domain.ProcessingStage, time.Duration) {}
func (noopObserver) ExtractionBackend(string)                             {}
func (noopObserver) ChunksIngested(int)                                   {}
