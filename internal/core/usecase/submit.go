package usecase

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

const (
	DefaultMaxDocumentsPerChat = 5
	DefaultMaxFileSizeBytes    = 50 << 20
)

// SubmissionLimits bounds what a chat may upload.
type SubmissionLimits struct {
	MaxDocumentsPerChat int
	MaxFileSizeBytes    int64
}

func (l SubmissionLimits) normalized() SubmissionLimits {
	if l.MaxDocumentsPerChat <= 0 {
		l.MaxDocumentsPerChat = DefaultMaxDocumentsPerChat
	}
	if l.MaxFileSizeBytes <= 0 {
		l.MaxFileSizeBytes = DefaultMaxFileSizeBytes
	}
	return l
}

type IngestDocumentUseCase struct {
	docs       ports.DocumentStore
	jobs       ports.JobStore
	staging    ports.StagingArea
	dispatcher ports.JobDispatcher
	limits     SubmissionLimits
	logger     *slog.Logger

	mu        sync.Mutex
	chatLocks map[string]*sync.Mutex
}

func NewIngestDocumentUseCase(
	docs ports.DocumentStore,
	jobs ports.JobStore,
	staging ports.StagingArea,
	dispatcher ports.JobDispatcher,
	limits SubmissionLimits,
	logger *slog.Logger,
) *IngestDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestDocumentUseCase{
		docs:       docs,
		jobs:       jobs,
		staging:    staging,
		dispatcher: dispatcher,
		limits:     limits.normalized(),
		logger:     logger,
		chatLocks:  make(map[string]*sync.Mutex),
	}
}

var _ ports.DocumentSubmitter = (*IngestDocumentUseCase)(nil)

// Submit reserves a queued job for the upload, stages the body and dispatches
// the job. The reservation holds the chat's slot while the body streams in and
// is released if staging or a content check rejects the upload.
func (uc *IngestDocumentUseCase) Submit(ctx context.Context, chatID, filename string, body io.Reader) (*domain.UploadJob, error) {
	if err := validateSubmission(chatID, filename); err != nil {
		return nil, err
	}
	job, err := uc.reserve(ctx, chatID, filename, "")
	if err != nil {
		return nil, err
	}

	hash, size, err := stageStream(ctx, uc.staging, job.StorageKey, body, uc.limits.MaxFileSizeBytes)
	if err != nil {
		uc.release(ctx, job)
		return nil, err
	}
	if err := uc.recordContent(ctx, job, hash, size); err != nil {
		uc.discardStaged(job.StorageKey)
		uc.release(ctx, job)
		return nil, err
	}

	if err := uc.dispatch(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// SubmitFile submits a file from local disk. An empty filename falls back to
// the base name of path.
func (uc *IngestDocumentUseCase) SubmitFile(ctx context.Context, chatID, filePath, filename string) (*domain.UploadJob, error) {
	if filename == "" {
		filename = filepath.Base(filePath)
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open upload", err)
	}
	defer f.Close()
	return uc.Submit(ctx, chatID, filename, f)
}

// SubmitRemote queues a job whose content is fetched by the worker.
func (uc *IngestDocumentUseCase) SubmitRemote(ctx context.Context, chatID, uri, filename string) (*domain.UploadJob, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit remote", errors.New("uri is required"))
	}
	if filename == "" {
		filename = path.Base(uri)
	}
	if err := validateSubmission(chatID, filename); err != nil {
		return nil, err
	}
	job, err := uc.reserve(ctx, chatID, filename, uri)
	if err != nil {
		return nil, err
	}
	if err := uc.dispatch(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// reserve rejects filenames already stored for the chat, then lets the job
// store count active jobs and insert the queued job in one step.
func (uc *IngestDocumentUseCase) reserve(ctx context.Context, chatID, filename, sourceURI string) (*domain.UploadJob, error) {
	docs, err := uc.docs.ListDocuments(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list chat documents: %w", err)
	}
	for _, d := range docs {
		if d.Filename == filename {
			return nil, domain.WrapError(domain.ErrDuplicateDocument, "submit document",
				fmt.Errorf("file %q already uploaded", filename))
		}
	}

	jobID := uuid.NewString()
	now := time.Now().UTC()
	job := &domain.UploadJob{
		JobID:      jobID,
		ChatID:     chatID,
		Filename:   filename,
		Status:     domain.JobQueued,
		Stage:      domain.StageNotProcessing,
		SourceURI:  sourceURI,
		StorageKey: stagingKey(jobID, filename),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := uc.jobs.Reserve(ctx, job, len(docs), uc.limits.MaxDocumentsPerChat); err != nil {
		if domain.IsRejection(err) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve upload job: %w", err)
	}
	return job, nil
}

func (uc *IngestDocumentUseCase) release(ctx context.Context, job *domain.UploadJob) {
	if err := uc.jobs.Delete(context.WithoutCancel(ctx), job.JobID); err != nil {
		uc.logger.Error("job_release_failed", "job_id", job.JobID, "error", err.Error())
	}
}

// recordContent stores the staged hash on the reserved job. Holding the chat
// lock keeps two uploads of the same bytes from both passing the check.
func (uc *IngestDocumentUseCase) recordContent(ctx context.Context, job *domain.UploadJob, hash string, size int64) error {
	lock := uc.chatLock(job.ChatID)
	lock.Lock()
	defer lock.Unlock()

	if err := contentDuplicate(ctx, uc.docs, uc.jobs, job.ChatID, job.JobID, hash); err != nil {
		return err
	}
	job.FileHash = hash
	job.FileSize = size
	job.UpdatedAt = time.Now().UTC()
	if err := uc.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("record upload content: %w", err)
	}
	return nil
}

func (uc *IngestDocumentUseCase) chatLock(chatID string) *sync.Mutex {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	lock, ok := uc.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		uc.chatLocks[chatID] = lock
	}
	return lock
}

func (uc *IngestDocumentUseCase) dispatch(ctx context.Context, job *domain.UploadJob) error {
	if err := uc.dispatcher.Dispatch(ctx, job.JobID); err != nil {
		now := time.Now().UTC()
		job.Status = domain.JobFailed
		job.Error = err.Error()
		job.FinishedAt = &now
		job.UpdatedAt = now
		if updErr := uc.jobs.Update(context.WithoutCancel(ctx), job); updErr != nil {
			uc.logger.Error("job_update_failed", "job_id", job.JobID, "error", updErr.Error())
		}
		uc.discardStaged(job.StorageKey)
		if domain.IsKind(err, domain.ErrTemporary) {
			return fmt.Errorf("dispatch upload job: %w", err)
		}
		return domain.WrapError(domain.ErrTemporary, "dispatch upload job", err)
	}

	uc.logger.Info("upload_job_queued",
		"job_id", job.JobID,
		"chat_id", job.ChatID,
		"filename", job.Filename,
		"remote", job.SourceURI != "",
	)
	return nil
}

func (uc *IngestDocumentUseCase) discardStaged(key string) {
	if key == "" {
		return
	}
	if err := uc.staging.Delete(context.Background(), key); err != nil {
		uc.logger.Warn("staged_file_cleanup_failed", "key", key, "error", err.Error())
	}
}

// contentDuplicate rejects a hash already stored for the chat or carried by
// another active job. skipJobID excludes the caller's own job.
func contentDuplicate(ctx context.Context, docs ports.DocumentStore, jobs ports.JobStore, chatID, skipJobID, hash string) error {
	if hash == "" {
		return nil
	}
	stored, err := docs.ListDocuments(ctx, chatID)
	if err != nil {
		return fmt.Errorf("list chat documents: %w", err)
	}
	for _, d := range stored {
		if d.FileHash == hash {
			return domain.WrapError(domain.ErrDuplicateDocument, "submit document",
				fmt.Errorf("same content already uploaded as %q", d.Filename))
		}
	}
	active, err := activeJobs(ctx, jobs, chatID)
	if err != nil {
		return err
	}
	for _, j := range active {
		if j.JobID != skipJobID && j.FileHash == hash {
			return domain.WrapError(domain.ErrDuplicateDocument, "submit document",
				fmt.Errorf("same content is already being processed as %q", j.Filename))
		}
	}
	return nil
}

func activeJobs(ctx context.Context, jobs ports.JobStore, chatID string) ([]domain.UploadJob, error) {
	all, err := jobs.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list chat jobs: %w", err)
	}
	active := make([]domain.UploadJob, 0, len(all))
	for _, j := range all {
		if !j.Status.IsTerminal() {
			active = append(active, j)
		}
	}
	return active, nil
}

func validateSubmission(chatID, filename string) error {
	if strings.TrimSpace(chatID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "submit document", errors.New("chat id is required"))
	}
	if strings.TrimSpace(filename) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "submit document", errors.New("filename is required"))
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return domain.WrapError(domain.ErrInvalidInput, "submit document", errors.New("only PDF files are allowed"))
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// stageStream copies body into the staging area while hashing it. Bodies
// larger than maxBytes are rejected and their partial copy removed.
func stageStream(ctx context.Context, staging ports.StagingArea, key string, body io.Reader, maxBytes int64) (string, int64, error) {
	hasher := md5.New()
	counter := &countingReader{r: io.LimitReader(body, maxBytes+1)}
	if err := staging.Save(ctx, key, io.TeeReader(counter, hasher)); err != nil {
		_ = staging.Delete(context.WithoutCancel(ctx), key)
		return "", 0, fmt.Errorf("stage upload: %w", err)
	}

	switch {
	case counter.n > maxBytes:
		_ = staging.Delete(context.WithoutCancel(ctx), key)
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "stage upload",
			fmt.Errorf("file exceeds %d MB", maxBytes>>20))
	case counter.n == 0:
		_ = staging.Delete(context.WithoutCancel(ctx), key)
		return "", 0, domain.WrapError(domain.ErrInvalidInput, "stage upload", errors.New("file is empty"))
	}
	return hex.EncodeToString(hasher.Sum(nil)), counter.n, nil
}

func stagingKey(jobID, filename string) string {
	return fmt.Sprintf("%s_%s", jobID, sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.pdf"
	}
	return base
}
