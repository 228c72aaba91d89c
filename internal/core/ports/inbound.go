package ports

import (
	"context"
	"io"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

// DocumentSubmitter validates uploads and queues them for processing.
type DocumentSubmitter interface {
	Submit(ctx context.Context, chatID, filename string, body io.Reader) (*domain.UploadJob, error)
	SubmitRemote(ctx context.Context, chatID, uri, filename string) (*domain.UploadJob, error)
}

// JobProcessor runs the ingestion pipeline for one queued job.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// JobStatusReader is the read model for upload jobs.
type JobStatusReader interface {
	GetStatus(ctx context.Context, jobID string) (*domain.UploadJob, error)
	Overview(ctx context.Context, chatID string) (*domain.ChatOverview, error)
}

// ContextRetriever assembles attributed context for a question.
type ContextRetriever interface {
	Retrieve(ctx context.Context, chatID, query string, topK int) (*domain.RetrievalResult, error)
}

// DocumentRemover deletes a document from a chat's knowledge base.
type DocumentRemover interface {
	Remove(ctx context.Context, chatID, filename string) error
}
