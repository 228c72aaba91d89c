package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

// ProgressReporter receives stage progress (0-100) from long running steps.
type ProgressReporter interface {
	Report(stage domain.ProcessingStage, progress float64)
}

// ProgressFunc reports progress for the stage the caller is already in.
type ProgressFunc func(progress float64)

// PageExtractor is one text extraction backend. Pages are keyed by 1-based
// page number and hold raw, uncleaned text.
type PageExtractor interface {
	ExtractPages(ctx context.Context, path string, report ProgressFunc) (map[int]string, error)
}

// TextExtractionEngine runs the backend fallback chain.
type TextExtractionEngine interface {
	Extract(ctx context.Context, path string, reporter ProgressReporter) (domain.Extraction, error)
}

// TableExtractor finds and renders tables independently of the text pass.
type TableExtractor interface {
	ExtractTables(ctx context.Context, path string, report ProgressFunc) ([]domain.Table, error)
}

// DocumentChunker splits a document into tagged chunks.
type DocumentChunker interface {
	Chunk(ctx context.Context, in domain.ChunkInput, report ProgressFunc) (domain.ChunkResult, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the backing vector database. Collection creation and
// deletion are idempotent.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, collection string, records []domain.VectorRecord) error
	Query(ctx context.Context, collection string, vector []float32, limit int) ([]domain.VectorHit, error)
	DeleteCollection(ctx context.Context, name string) error
	DeleteDocument(ctx context.Context, collection, docID string) error
}

// DocumentStore is the chat/session store that owns document records.
type DocumentStore interface {
	AppendDocument(ctx context.Context, chatID string, doc domain.DocumentRecord) error
	ListDocuments(ctx context.Context, chatID string) ([]domain.DocumentRecord, error)
	RemoveDocument(ctx context.Context, chatID, filename string) (*domain.DocumentRecord, int, error)
}

// JobStore persists upload jobs.
type JobStore interface {
	Create(ctx context.Context, job *domain.UploadJob) error
	// Reserve creates a queued job only if the chat still has room: stored
	// documents plus active jobs below limit and no active job with the same
	// filename. The check and the insert are atomic.
	Reserve(ctx context.Context, job *domain.UploadJob, stored, limit int) error
	Delete(ctx context.Context, jobID string) error
	Get(ctx context.Context, jobID string) (*domain.UploadJob, error)
	Update(ctx context.Context, job *domain.UploadJob) error
	ListByChat(ctx context.Context, chatID string) ([]domain.UploadJob, error)
	EvictFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// JobDispatcher hands a queued job to a background worker.
type JobDispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// StagingArea keeps uploaded files on local disk until processing ends.
type StagingArea interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Path(key string) string
	Delete(ctx context.Context, key string) error
}

// RemoteSource fetches documents submitted by reference.
type RemoteSource interface {
	Fetch(ctx context.Context, uri string) (io.ReadCloser, error)
}

// JobObserver receives pipeline events for metrics.
type JobObserver interface {
	JobStarted()
	JobFinished(status domain.JobStatus, duration time.Duration)
	StageCompleted(stage domain.ProcessingStage, duration time.Duration)
	ExtractionBackend(backend string)
	ChunksIngested(count int)
}
