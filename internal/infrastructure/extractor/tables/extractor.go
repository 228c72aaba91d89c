package tables

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

// Extractor finds tables from positioned text rows.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

func (e *Extractor) ExtractTables(ctx context.Context, path string, report ports.ProgressFunc) ([]domain.Table, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	total := reader.NumPage()
	var out []domain.Table
	for num := 1; num <= total; num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := pageRows(reader, num)
		if err != nil {
			e.logger.Warn("pdf_page_rows_failed", "page", num, "error", err.Error())
			report(float64(num) / float64(total) * 100)
			continue
		}
		out = append(out, pageTables(num, rows)...)
		report(float64(num) / float64(total) * 100)
	}
	return out, nil
}

// pageTables renders the tables detected on one page.
func pageTables(page int, rows [][]string) []domain.Table {
	var out []domain.Table
	for idx, table := range detectTables(rows) {
		content, ok := Render(idx, page, table)
		if !ok {
			continue
		}
		out = append(out, domain.Table{Content: content, Page: page, Index: idx})
	}
	return out
}

// pageRows groups the page's positioned glyphs into baseline rows, top to
// bottom, and splits each row into cells.
func pageRows(reader *pdf.Reader, num int) (rows [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse page %d: %v", num, r)
		}
	}()

	page := reader.Page(num)
	if page.V.IsNull() {
		return nil, nil
	}

	var lines []textLine
	for _, t := range page.Content().Text {
		if t.S == "" || strings.IndexFunc(t.S, unicode.IsControl) >= 0 {
			continue
		}
		g := glyph{X: t.X, W: t.W, FontSize: t.FontSize, S: t.S}
		placed := false
		for i := range lines {
			if math.Abs(lines[i].y-t.Y) <= rowTolerance {
				lines[i].glyphs = append(lines[i].glyphs, g)
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, textLine{y: t.Y, glyphs: []glyph{g}})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	rows = make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, splitCells(line.glyphs))
	}
	return rows, nil
}

// rowTolerance is how far, in points, baselines may drift within one row.
const rowTolerance = 1.0

type textLine struct {
	y      float64
	glyphs []glyph
}
