package pdftext

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/extractor/pdffixture"
)

func TestExtractPagesMissingFile(t *testing.T) {
	_, err := NewExtractor(nil).ExtractPages(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), func(float64) {})
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestExtractPagesRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, []byte("plain text, not a pdf"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := NewExtractor(nil).ExtractPages(context.Background(), path, func(float64) {}); err == nil {
		t.Fatalf("expected error for non-pdf content")
	}
}

func TestExtractPagesSkipsEmptyPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	err := pdffixture.Write(path,
		pdffixture.Page{{X: 72, Y: 720, Text: "Annual report"}, {X: 72, Y: 700, Text: "Revenue grew (again)"}},
		nil,
		pdffixture.Page{{X: 72, Y: 720, Text: "Closing notes"}},
	)
	if err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	var last float64
	pages, err := NewExtractor(nil).ExtractPages(context.Background(), path, func(p float64) { last = p })
	if err != nil {
		t.Fatalf("ExtractPages() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected pages 1 and 3, got %v", pages)
	}
	if _, ok := pages[2]; ok {
		t.Fatalf("empty page 2 must be absent, got %q", pages[2])
	}
	if !strings.Contains(pages[1], "Annual report") || !strings.Contains(pages[1], "Revenue grew (again)") {
		t.Fatalf("unexpected page 1 text %q", pages[1])
	}
	if !strings.Contains(pages[3], "Closing notes") {
		t.Fatalf("unexpected page 3 text %q", pages[3])
	}
	if last != 100 {
		t.Fatalf("expected final progress 100, got %v", last)
	}
}

func TestExtractPagesStopsOnCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.pdf")
	if err := pdffixture.Write(path, pdffixture.Page{{X: 72, Y: 720, Text: "text"}}); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewExtractor(nil).ExtractPages(ctx, path, func(float64) {}); err == nil {
		t.Fatalf("expected context error")
	}
}
