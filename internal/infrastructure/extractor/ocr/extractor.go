package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

// Rasterizer renders every page of a PDF to an image file inside outDir and
// returns the image paths in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error)
}

// Recognizer turns one page image into text.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

type Options struct {
	DPI         int
	Concurrency int
}

type Extractor struct {
	rasterizer Rasterizer
	recognizer Recognizer
	opts       Options
	logger     *slog.Logger
}

func NewExtractor(rasterizer Rasterizer, recognizer Recognizer, opts Options, logger *slog.Logger) *Extractor {
	if opts.DPI <= 0 {
		opts.DPI = 200
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		rasterizer: rasterizer,
		recognizer: recognizer,
		opts:       opts,
		logger:     logger,
	}
}

func (e *Extractor) ExtractPages(ctx context.Context, path string, report ports.ProgressFunc) (map[int]string, error) {
	workDir, err := os.MkdirTemp("", "ocr-*")
	if err != nil {
		return nil, fmt.Errorf("create ocr work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			e.logger.Warn("ocr_cleanup_failed", "dir", workDir, "error", err.Error())
		}
	}()

	images, err := e.rasterizer.Rasterize(ctx, path, workDir, e.opts.DPI)
	if err != nil {
		return nil, fmt.Errorf("rasterize pdf: %w", err)
	}
	if len(images) == 0 {
		return map[int]string{}, nil
	}

	texts := make([]string, len(images))
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, image := range images {
		g.Go(func() error {
			text, err := e.recognizer.Recognize(gctx, image)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("ocr_page_failed", "page", i+1, "error", err.Error())
			} else {
				texts[i] = text
			}
			report(float64(done.Add(1)) / float64(len(images)) * 100)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pages := make(map[int]string, len(texts))
	for i, text := range texts {
		if text != "" {
			pages[i+1] = text
		}
	}
	return pages, nil
}
