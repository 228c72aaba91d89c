package pdftext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

// Extractor reads the embedded text layer page by page.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

func (e *Extractor) ExtractPages(ctx context.Context, path string, report ports.ProgressFunc) (map[int]string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	total := reader.NumPage()
	pages := make(map[int]string, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(reader, i)
		if err != nil {
			e.logger.Warn("pdf_page_text_failed", "page", i, "error", err.Error())
		} else if strings.TrimSpace(text) != "" {
			pages[i] = text
		}
		report(float64(i) / float64(total) * 100)
	}
	return pages, nil
}

// pageText recovers from parser panics on malformed content streams.
func pageText(reader *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse page %d: %v", num, r)
		}
	}()

	page := reader.Page(num)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}
