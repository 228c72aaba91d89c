// Package memory holds process-local stores used when no database is
// configured.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

const DefaultMaxTerminalJobs = 10000

// JobStore keeps upload jobs in a map. Terminal jobs beyond maxTerminal are
// evicted oldest first on every write.
type JobStore struct {
	mu          sync.RWMutex
	jobs        map[string]domain.UploadJob
	maxTerminal int
}

func NewJobStore(maxTerminal int) *JobStore {
	if maxTerminal <= 0 {
		maxTerminal = DefaultMaxTerminalJobs
	}
	return &JobStore{jobs: make(map[string]domain.UploadJob), maxTerminal: maxTerminal}
}

func (s *JobStore) Create(_ context.Context, job *domain.UploadJob) error {
	if job == nil || job.JobID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "create job", errors.New("job id is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.JobID]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "create job", errors.New("job already exists"))
	}
	s.jobs[job.JobID] = *job
	return nil
}

func (s *JobStore) Reserve(_ context.Context, job *domain.UploadJob, stored, limit int) error {
	if job == nil || job.JobID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "reserve job", errors.New("job id is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	active, nameTaken := 0, false
	for _, existing := range s.jobs {
		if existing.ChatID != job.ChatID || existing.Status.IsTerminal() {
			continue
		}
		active++
		nameTaken = nameTaken || existing.Filename == job.Filename
	}
	if err := domain.ReservationError(job.Filename, stored, active, limit, nameTaken); err != nil {
		return err
	}
	s.jobs[job.JobID] = *job
	return nil
}

func (s *JobStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *JobStore) Get(_ context.Context, jobID string) (*domain.UploadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.WrapError(domain.ErrJobNotFound, "get job", errors.New(jobID))
	}
	return &job, nil
}

func (s *JobStore) Update(_ context.Context, job *domain.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; !ok {
		return domain.WrapError(domain.ErrJobNotFound, "update job", errors.New(job.JobID))
	}
	s.jobs[job.JobID] = *job
	if job.Status.IsTerminal() {
		s.enforceCapLocked()
	}
	return nil
}

func (s *JobStore) ListByChat(_ context.Context, chatID string) ([]domain.UploadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UploadJob, 0)
	for _, job := range s.jobs {
		if job.ChatID == chatID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *JobStore) EvictFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			evicted++
		}
	}
	return evicted, nil
}

func (s *JobStore) enforceCapLocked() {
	terminal := make([]domain.UploadJob, 0)
	for _, job := range s.jobs {
		if job.Status.IsTerminal() {
			terminal = append(terminal, job)
		}
	}
	if len(terminal) <= s.maxTerminal {
		return
	}
	sort.Slice(terminal, func(i, j int) bool { return finishedAt(terminal[i]).Before(finishedAt(terminal[j])) })
	for _, job := range terminal[:len(terminal)-s.maxTerminal] {
		delete(s.jobs, job.JobID)
	}
}

func finishedAt(job domain.UploadJob) time.Time {
	if job.FinishedAt != nil {
		return *job.FinishedAt
	}
	return job.UpdatedAt
}
