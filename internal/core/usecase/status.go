package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

type JobStatusUseCase struct {
	jobs ports.JobStore
	docs ports.DocumentStore
}

func NewJobStatusUseCase(jobs ports.JobStore, docs ports.DocumentStore) *JobStatusUseCase {
	return &JobStatusUseCase{jobs: jobs, docs: docs}
}

var _ ports.JobStatusReader = (*JobStatusUseCase)(nil)

func (uc *JobStatusUseCase) GetStatus(ctx context.Context, jobID string) (*domain.UploadJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get job status", errors.New("job id is required"))
	}
	job, err := uc.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return job, nil
}

// ListChatJobs returns the chat's jobs that have not reached a terminal status.
func (uc *JobStatusUseCase) ListChatJobs(ctx context.Context, chatID string) ([]domain.UploadJob, error) {
	return activeJobs(ctx, uc.jobs, chatID)
}

func (uc *JobStatusUseCase) Overview(ctx context.Context, chatID string) (*domain.ChatOverview, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chat overview", errors.New("chat id is required"))
	}
	docs, err := uc.docs.ListDocuments(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list chat documents: %w", err)
	}
	jobs, err := uc.ListChatJobs(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []domain.DocumentRecord{}
	}
	return &domain.ChatOverview{
		ChatID:    chatID,
		Documents: docs,
		Jobs:      jobs,
		TotalDocs: len(docs),
	}, nil
}

// EvictFinished drops terminal jobs that finished more than retention ago.
func (uc *JobStatusUseCase) EvictFinished(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	evicted, err := uc.jobs.EvictFinishedBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("evict finished jobs: %w", err)
	}
	return evicted, nil
}
