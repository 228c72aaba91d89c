package llamaparse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/resilience"
)

func writePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return path
}

func noRetry() *resilience.Executor {
	return resilience.NewExecutor(resilience.SingleAttempt())
}

func TestExtractPagesGroupsResultByPage(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("missing bearer token")
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/parsing/upload":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			if _, _, err := r.FormFile("file"); err != nil {
				t.Errorf("expected file part: %v", err)
			}
			_, _ = w.Write([]byte(`{"id":"pj-1","status":"PENDING"}`))
		case r.URL.Path == "/api/v1/parsing/job/pj-1":
			if polls.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"id":"pj-1","status":"PENDING"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"pj-1","status":"SUCCESS"}`))
		case r.URL.Path == "/api/v1/parsing/job/pj-1/result/json":
			_, _ = w.Write([]byte(`{"pages":[
				{"page":1,"md":"# Intro","text":"Intro"},
				{"page":"2","text":"Second"},
				{"page":2,"md":"More on two"},
				{"text":"no page"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := New("key-1", Options{BaseURL: srv.URL, PollInterval: 5 * time.Millisecond, Executor: noRetry()})
	var progress []float64
	pages, err := e.ExtractPages(context.Background(), writePDF(t), func(p float64) { progress = append(progress, p) })
	if err != nil {
		t.Fatalf("ExtractPages() error = %v", err)
	}

	if pages[2] != "Second\n\nMore on two" {
		t.Fatalf("unexpected page 2: %q", pages[2])
	}
	if pages[1] != "# Intro\n\nno page" {
		t.Fatalf("unexpected page 1: %q", pages[1])
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("expected final progress 100, got %v", progress)
	}
}

func TestExtractPagesFailedJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/upload") {
			_, _ = w.Write([]byte(`{"id":"pj-2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"pj-2","status":"ERROR","error_message":"unsupported"}`))
	}))
	defer srv.Close()

	e := New("k", Options{BaseURL: srv.URL, PollInterval: time.Millisecond, Executor: noRetry()})
	_, err := e.ExtractPages(context.Background(), writePDF(t), nil)
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestUploadServerErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := New("k", Options{BaseURL: srv.URL, Executor: noRetry()})
	_, err := e.ExtractPages(context.Background(), writePDF(t), nil)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestPageNumber(t *testing.T) {
	cases := map[string]int{`3`: 3, `"4"`: 4, `"5.0"`: 5, `"ii"`: 0, `null`: 0, `0`: 0}
	for raw, want := range cases {
		if got := pageNumber([]byte(raw)); got != want {
			t.Fatalf("pageNumber(%s) = %d, want %d", raw, got, want)
		}
	}
}
