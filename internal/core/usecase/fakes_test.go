package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

type jobStoreFake struct {
	mu      sync.Mutex
	jobs    map[string]domain.UploadJob
	updates []domain.UploadJob
}

func newJobStoreFake(jobs ...domain.UploadJob) *jobStoreFake {
	f := &jobStoreFake{jobs: make(map[string]domain.UploadJob)}
	for _, j := range jobs {
		f.jobs[j.JobID] = j
	}
	return f
}

func (f *jobStoreFake) Create(_ context.Context, job *domain.UploadJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.JobID] = *job
	return nil
}

func (f *jobStoreFake) Reserve(_ context.Context, job *domain.UploadJob, stored, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	active, nameTaken := 0, false
	for _, j := range f.jobs {
		if j.ChatID == job.ChatID && !j.Status.IsTerminal() {
			active++
			nameTaken = nameTaken || j.Filename == job.Filename
		}
	}
	if err := domain.ReservationError(job.Filename, stored, active, limit, nameTaken); err != nil {
		return err
	}
	f.jobs[job.JobID] = *job
	return nil
}

func (f *jobStoreFake) Delete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobID)
	return nil
}

func (f *jobStoreFake) Get(_ context.Context, jobID string) (*domain.UploadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.WrapError(domain.ErrJobNotFound, "get job", errors.New(jobID))
	}
	return &job, nil
}

func (f *jobStoreFake) Update(_ context.Context, job *domain.UploadJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.JobID] = *job
	f.updates = append(f.updates, *job)
	return nil
}

func (f *jobStoreFake) ListByChat(_ context.Context, chatID string) ([]domain.UploadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.UploadJob
	for _, j := range f.jobs {
		if j.ChatID == chatID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobID < out[k].JobID })
	return out, nil
}

func (f *jobStoreFake) EvictFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evicted := 0
	for id, j := range f.jobs {
		if j.Status.IsTerminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(f.jobs, id)
			evicted++
		}
	}
	return evicted, nil
}

func (f *jobStoreFake) job(id string) domain.UploadJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

type docStoreFake struct {
	mu        sync.Mutex
	docs      map[string][]domain.DocumentRecord
	appendErr error
	listCalls int
}

func newDocStoreFake() *docStoreFake {
	return &docStoreFake{docs: make(map[string][]domain.DocumentRecord)}
}

func (f *docStoreFake) AppendDocument(_ context.Context, chatID string, doc domain.DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.docs[chatID] = append(f.docs[chatID], doc)
	return nil
}

func (f *docStoreFake) ListDocuments(_ context.Context, chatID string) ([]domain.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]domain.DocumentRecord(nil), f.docs[chatID]...), nil
}

func (f *docStoreFake) RemoveDocument(_ context.Context, chatID, filename string) (*domain.DocumentRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := f.docs[chatID]
	for i, d := range docs {
		if d.Filename == filename {
			f.docs[chatID] = append(docs[:i:i], docs[i+1:]...)
			return &d, len(f.docs[chatID]), nil
		}
	}
	return nil, 0, domain.WrapError(domain.ErrDocumentNotFound, "remove document", errors.New(filename))
}

type stagingFake struct {
	mu      sync.Mutex
	files   map[string][]byte
	deleted []string
}

func newStagingFake() *stagingFake {
	return &stagingFake{files: make(map[string][]byte)}
}

func (f *stagingFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = raw
	return nil
}

func (f *stagingFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *stagingFake) Path(key string) string { return "/staging/" + key }

func (f *stagingFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *stagingFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

type dispatcherFake struct {
	mu         sync.Mutex
	dispatched []string
	err        error
}

func (f *dispatcherFake) Dispatch(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, jobID)
	return nil
}

type remoteFake struct {
	body    []byte
	fetched []string
}

func (f *remoteFake) Fetch(_ context.Context, uri string) (io.ReadCloser, error) {
	f.fetched = append(f.fetched, uri)
	return io.NopCloser(bytes.NewReader(f.body)), nil
}

// embedderFake maps text to a deterministic 3-dim vector.
type embedderFake struct {
	err   error
	calls int
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)%7) + 1, 1, 0.5}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)%7) + 1, 1, 0.5}, nil
}

type indexFake struct {
	mu          sync.Mutex
	ensured     []string
	upserts     [][]domain.VectorRecord
	upsertErr   error
	hits        []domain.VectorHit
	queryErr    error
	queries     int
	droppedColl []string
	droppedDocs []string
}

func (f *indexFake) EnsureCollection(_ context.Context, name string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *indexFake) Upsert(_ context.Context, _ string, records []domain.VectorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, records)
	return nil
}

func (f *indexFake) Query(context.Context, string, []float32, int) ([]domain.VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.hits, nil
}

func (f *indexFake) DeleteCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.droppedColl = append(f.droppedColl, name)
	return nil
}

func (f *indexFake) DeleteDocument(_ context.Context, _ string, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.droppedDocs = append(f.droppedDocs, docID)
	return nil
}

type pageExtractorFake struct {
	pages map[int]string
	err   error
	hang  bool
	calls int
}

func (f *pageExtractorFake) ExtractPages(ctx context.Context, _ string, report ports.ProgressFunc) (map[int]string, error) {
	f.calls++
	if f.hang {
		report(30)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	report(50)
	report(100)
	return f.pages, nil
}

type tableExtractorFake struct {
	tables []domain.Table
	err    error
}

func (f *tableExtractorFake) ExtractTables(_ context.Context, _ string, report ports.ProgressFunc) ([]domain.Table, error) {
	if f.err != nil {
		return nil, f.err
	}
	report(100)
	return f.tables, nil
}

type observerFake struct {
	mu       sync.Mutex
	started  int
	statuses []domain.JobStatus
	backends []string
	stages   []domain.ProcessingStage
	chunks   int
}

func (f *observerFake) JobStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *observerFake) JobFinished(status domain.JobStatus, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *observerFake) StageCompleted(stage domain.ProcessingStage, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
}

func (f *observerFake) ExtractionBackend(backend string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backends = append(f.backends, backend)
}

func (f *observerFake) ChunksIngested(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks += n
}
