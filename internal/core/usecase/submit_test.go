package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

type submitFixture struct {
	docs       *docStoreFake
	jobs       *jobStoreFake
	staging    *stagingFake
	dispatcher *dispatcherFake
	uc         *IngestDocumentUseCase
}

func newSubmitFixture(limits SubmissionLimits) *submitFixture {
	f := &submitFixture{
		docs:       newDocStoreFake(),
		jobs:       newJobStoreFake(),
		staging:    newStagingFake(),
		dispatcher: &dispatcherFake{},
	}
	f.uc = NewIngestDocumentUseCase(f.docs, f.jobs, f.staging, f.dispatcher, limits, nil)
	return f
}

func TestSubmitQueuesJobAndDispatches(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{})

	job, err := f.uc.Submit(context.Background(), "chat-1", "Annual Report.pdf", strings.NewReader("%PDF-1.4 body"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.Status != domain.JobQueued || job.Stage != domain.StageNotProcessing {
		t.Fatalf("unexpected job state: %+v", job)
	}
	if job.FileHash == "" || job.FileSize != int64(len("%PDF-1.4 body")) {
		t.Fatalf("expected hash and size to be recorded, got %+v", job)
	}
	if !strings.HasSuffix(job.StorageKey, "_Annual_Report.pdf") {
		t.Fatalf("unexpected storage key %q", job.StorageKey)
	}
	if len(f.dispatcher.dispatched) != 1 || f.dispatcher.dispatched[0] != job.JobID {
		t.Fatalf("expected job to be dispatched, got %v", f.dispatcher.dispatched)
	}
	if string(f.staging.files[job.StorageKey]) != "%PDF-1.4 body" {
		t.Fatalf("expected staged content, got %q", f.staging.files[job.StorageKey])
	}
}

func TestSubmitRejectsNonPDF(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{})

	_, err := f.uc.Submit(context.Background(), "chat-1", "notes.txt", strings.NewReader("hello"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if f.staging.count() != 0 || len(f.jobs.jobs) != 0 {
		t.Fatalf("rejected upload must not stage files or create jobs")
	}
}

func TestSubmitRejectsSixthDocument(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{MaxDocumentsPerChat: 5})
	for i := range 5 {
		f.docs.docs["chat-1"] = append(f.docs.docs["chat-1"], domain.DocumentRecord{
			Filename: fmt.Sprintf("doc-%d.pdf", i),
			FileHash: fmt.Sprintf("hash-%d", i),
		})
	}

	_, err := f.uc.Submit(context.Background(), "chat-1", "sixth.pdf", strings.NewReader("content"))
	if !domain.IsKind(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if len(f.jobs.jobs) != 0 || len(f.dispatcher.dispatched) != 0 {
		t.Fatalf("no job may be created for a rejected upload")
	}
}

func TestSubmitCountsActiveJobsTowardsLimit(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{MaxDocumentsPerChat: 2})
	f.docs.docs["chat-1"] = []domain.DocumentRecord{{Filename: "a.pdf"}}
	f.jobs.jobs["j-active"] = domain.UploadJob{JobID: "j-active", ChatID: "chat-1", Filename: "b.pdf", Status: domain.JobProcessing}
	f.jobs.jobs["j-old"] = domain.UploadJob{JobID: "j-old", ChatID: "chat-1", Filename: "c.pdf", Status: domain.JobFailed}

	_, err := f.uc.Submit(context.Background(), "chat-1", "d.pdf", strings.NewReader("content"))
	if !domain.IsKind(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestSubmitRejectsDuplicateFilename(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{})
	f.jobs.jobs["j-1"] = domain.UploadJob{JobID: "j-1", ChatID: "chat-1", Filename: "a.pdf", Status: domain.JobQueued}

	_, err := f.uc.Submit(context.Background(), "chat-1", "a.pdf", strings.NewReader("content"))
	if !domain.IsKind(err, domain.ErrDuplicateDocument) {
		t.Fatalf("expected ErrDuplicateDocument, got %v", err)
	}
}

func TestSubmitRejectsDuplicateContentAndDropsStagedFile(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{})
	first, err := f.uc.Submit(context.Background(), "chat-1", "a.pdf", strings.NewReader("same bytes"))
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	_, err = f.uc.Submit(context.Background(), "chat-1", "b.pdf", strings.NewReader("same bytes"))
	if !domain.IsKind(err, domain.ErrDuplicateDocument) {
		t.Fatalf("expected ErrDuplicateDocument, got %v", err)
	}
	if f.staging.count() != 1 {
		t.Fatalf("expected only the first upload to stay staged, got %d files", f.staging.count())
	}
	if _, ok := f.staging.files[first.StorageKey]; !ok {
		t.Fatalf("first upload must remain staged")
	}
}

func TestSubmitRejectsOversizedFile(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{MaxFileSizeBytes: 10})

	_, err := f.uc.Submit(context.Background(), "chat-1", "big.pdf", strings.NewReader("0123456789X"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if f.staging.count() != 0 {
		t.Fatalf("oversized upload must not stay staged")
	}
	if len(f.jobs.jobs) != 0 {
		t.Fatalf("oversized upload must not create a job")
	}
}

func TestSubmitRejectsEmptyFile(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{})

	_, err := f.uc.Submit(context.Background(), "chat-1", "empty.pdf", strings.NewReader(""))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSubmitDispatchFailureMarksJobFailed(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{})
	f.dispatcher.err = errors.New("pool closed")

	_, err := f.uc.Submit(context.Background(), "chat-1", "a.pdf", strings.NewReader("content"))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if len(f.jobs.jobs) != 1 {
		t.Fatalf("expected the job to exist, got %d", len(f.jobs.jobs))
	}
	for _, job := range f.jobs.jobs {
		if job.Status != domain.JobFailed || job.FinishedAt == nil || job.Error != "pool closed" {
			t.Fatalf("expected failed job, got %+v", job)
		}
	}
	if f.staging.count() != 0 {
		t.Fatalf("staged file must be removed when dispatch fails")
	}
}

func TestSubmitFileUsesBaseName(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{})
	dir := t.TempDir()
	path := filepath.Join(dir, "local.pdf")
	if err := os.WriteFile(path, []byte("%PDF local"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	job, err := f.uc.SubmitFile(context.Background(), "chat-1", path, "")
	if err != nil {
		t.Fatalf("SubmitFile() error = %v", err)
	}
	if job.Filename != "local.pdf" {
		t.Fatalf("expected base filename, got %q", job.Filename)
	}
}

func TestSubmitRemoteQueuesJobWithSource(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{})

	job, err := f.uc.SubmitRemote(context.Background(), "chat-1", "s3://bucket/reports/q3.pdf", "")
	if err != nil {
		t.Fatalf("SubmitRemote() error = %v", err)
	}
	if job.Filename != "q3.pdf" || job.SourceURI != "s3://bucket/reports/q3.pdf" {
		t.Fatalf("unexpected remote job: %+v", job)
	}
	if f.staging.count() != 0 {
		t.Fatalf("remote submission must not stage anything")
	}
	if len(f.dispatcher.dispatched) != 1 {
		t.Fatalf("expected remote job to be dispatched")
	}
}

// gatedReader blocks its first Read until release is closed.
type gatedReader struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	r       io.Reader
}

func newGatedReader(body string) *gatedReader {
	return &gatedReader{
		started: make(chan struct{}),
		release: make(chan struct{}),
		r:       strings.NewReader(body),
	}
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.r.Read(p)
}

func TestSubmitHoldsSlotWhileBodyIsStaging(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{MaxDocumentsPerChat: 5})
	for i := range 4 {
		f.docs.docs["chat-1"] = append(f.docs.docs["chat-1"], domain.DocumentRecord{Filename: fmt.Sprintf("doc-%d.pdf", i)})
	}

	slow := newGatedReader("slow content")
	done := make(chan error, 1)
	go func() {
		_, err := f.uc.Submit(context.Background(), "chat-1", "slow.pdf", slow)
		done <- err
	}()
	<-slow.started

	_, err := f.uc.Submit(context.Background(), "chat-1", "fast.pdf", strings.NewReader("fast content"))
	if !domain.IsKind(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded while the fifth slot is reserved, got %v", err)
	}

	close(slow.release)
	if err := <-done; err != nil {
		t.Fatalf("slow Submit() error = %v", err)
	}
	if len(f.dispatcher.dispatched) != 1 {
		t.Fatalf("expected exactly one dispatched job, got %v", f.dispatcher.dispatched)
	}
}

func TestSubmitConcurrentUploadsNeverExceedLimit(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{MaxDocumentsPerChat: 5})
	for i := range 3 {
		f.docs.docs["chat-1"] = append(f.docs.docs["chat-1"], domain.DocumentRecord{Filename: fmt.Sprintf("doc-%d.pdf", i)})
	}

	const uploads = 10
	var wg sync.WaitGroup
	errs := make(chan error, uploads)
	for i := range uploads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := fmt.Sprintf("content %d", i)
			_, err := f.uc.Submit(context.Background(), "chat-1", fmt.Sprintf("up-%d.pdf", i), strings.NewReader(body))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case !domain.IsKind(err, domain.ErrLimitExceeded):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if accepted != 2 {
		t.Fatalf("expected 2 accepted uploads, got %d", accepted)
	}
	if len(f.dispatcher.dispatched) != 2 || f.staging.count() != 2 {
		t.Fatalf("expected 2 dispatched and staged uploads, got %d and %d", len(f.dispatcher.dispatched), f.staging.count())
	}
}

func TestSubmitReleasesSlotWhenStagingFails(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{MaxDocumentsPerChat: 1, MaxFileSizeBytes: 4})

	if _, err := f.uc.Submit(context.Background(), "chat-1", "big.pdf", strings.NewReader("too large")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.uc.Submit(context.Background(), "chat-1", "ok.pdf", strings.NewReader("ok")); err != nil {
		t.Fatalf("released slot must be reusable, got %v", err)
	}
}

func TestSubmitConcurrentSameContentAcceptsOne(t *testing.T) {
	f := newSubmitFixture(SubmissionLimits{})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, name := range []string{"a.pdf", "b.pdf"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.uc.Submit(context.Background(), "chat-1", name, strings.NewReader("same bytes"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
		} else if !domain.IsKind(err, domain.ErrDuplicateDocument) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if accepted != 1 || f.staging.count() != 1 {
		t.Fatalf("expected one accepted upload, got %d accepted and %d staged", accepted, f.staging.count())
	}
}
