package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

// jobTracker owns one job while it is processed. Extractors may report from
// several goroutines, so all mutation goes through mu.
type jobTracker struct {
	ctx      context.Context
	jobs     ports.JobStore
	observer ports.JobObserver
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	job          *domain.UploadJob
	persisted    float64
	stageStarted time.Time
}

func newJobTracker(ctx context.Context, job *domain.UploadJob, jobs ports.JobStore, observer ports.JobObserver, logger *slog.Logger) *jobTracker {
	return &jobTracker{
		ctx:          context.WithoutCancel(ctx),
		jobs:         jobs,
		observer:     observer,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		job:          job,
		persisted:    job.Progress,
		stageStarted: time.Now(),
	}
}

var _ ports.ProgressReporter = (*jobTracker)(nil)

// Report records stage progress. Backward stage moves and reports after a
// terminal status are ignored.
func (t *jobTracker) Report(stage domain.ProcessingStage, progress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job.Status.IsTerminal() || stage.Order() < 0 || stage.Order() < t.job.Stage.Order() {
		return
	}
	progress = clampProgress(progress)

	if stage != t.job.Stage {
		t.enterStageLocked(stage)
		t.job.Progress = progress
		t.persistLocked()
		return
	}
	if progress <= t.job.Progress {
		return
	}
	t.job.Progress = progress
	if progress-t.persisted >= 1 || progress >= 100 {
		t.persistLocked()
	}
}

// setStatus moves the job to a non-terminal status and persists it.
func (t *jobTracker) setStatus(status domain.JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job.Status.IsTerminal() {
		return
	}
	t.job.Status = status
	t.persistLocked()
}

// completeStage pushes 100 for the current stage.
func (t *jobTracker) completeStage(stage domain.ProcessingStage) {
	t.Report(stage, 100)
}

func (t *jobTracker) setBackend(backend string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.Backend = backend
}

func (t *jobTracker) setFile(hash string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.FileHash = hash
	t.job.FileSize = size
	t.persistLocked()
}

func (t *jobTracker) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job.Status.IsTerminal() {
		return
	}
	now := t.now()
	t.job.Status = domain.JobFailed
	t.job.Error = err.Error()
	t.job.FinishedAt = &now
	t.persistLocked()
}

func (t *jobTracker) finish(chunksAdded int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job.Status.IsTerminal() {
		return
	}
	t.closeStageLocked()
	now := t.now()
	t.job.Status = domain.JobFinished
	t.job.Progress = 100
	t.job.ChunksAdded = chunksAdded
	t.job.FinishedAt = &now
	t.persistLocked()
}

// snapshot returns a copy of the tracked job.
func (t *jobTracker) snapshot() domain.UploadJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.job
}

func (t *jobTracker) enterStageLocked(stage domain.ProcessingStage) {
	t.closeStageLocked()
	t.logger.Info("job_stage_changed",
		"job_id", t.job.JobID,
		"chat_id", t.job.ChatID,
		"from", string(t.job.Stage),
		"to", string(stage),
	)
	t.job.Stage = stage
	t.job.Progress = 0
	t.persisted = -1
	t.stageStarted = time.Now()
}

func (t *jobTracker) closeStageLocked() {
	if t.job.Stage == domain.StageNotProcessing || t.observer == nil {
		return
	}
	t.observer.StageCompleted(t.job.Stage, time.Since(t.stageStarted))
}

func (t *jobTracker) persistLocked() {
	t.job.UpdatedAt = t.now()
	snapshot := *t.job
	if err := t.jobs.Update(t.ctx, &snapshot); err != nil {
		t.logger.Error("job_update_failed", "job_id", t.job.JobID, "error", err.Error())
		return
	}
	t.persisted = t.job.Progress
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
