package tables

import (
	"sort"
	"strings"
)

// glyph is one positioned text run on a row.
type glyph struct {
	X        float64
	W        float64
	FontSize float64
	S        string
}

const (
	// wordGapEm and cellGapEm are horizontal gaps, in font-size units, that
	// separate words and table cells.
	wordGapEm  = 0.2
	cellGapEm  = 1.5
	minCellGap = 6.0
)

// splitCells merges the glyphs of one row into cells.
func splitCells(row []glyph) []string {
	if len(row) == 0 {
		return nil
	}
	sorted := make([]glyph, len(row))
	copy(sorted, row)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var cells []string
	var current strings.Builder
	current.WriteString(sorted[0].S)
	prevEnd := sorted[0].X + sorted[0].W
	for _, g := range sorted[1:] {
		size := g.FontSize
		if size <= 0 {
			size = 10
		}
		gap := g.X - prevEnd
		cellGap := size * cellGapEm
		if cellGap < minCellGap {
			cellGap = minCellGap
		}
		switch {
		case gap >= cellGap:
			cells = append(cells, strings.TrimSpace(current.String()))
			current.Reset()
		case gap >= size*wordGapEm && !strings.HasSuffix(current.String(), " ") && !strings.HasPrefix(g.S, " "):
			current.WriteByte(' ')
		}
		current.WriteString(g.S)
		if end := g.X + g.W; end > prevEnd {
			prevEnd = end
		}
	}
	cells = append(cells, strings.TrimSpace(current.String()))
	return cells
}

// detectTables groups runs of consecutive rows that share the same cell
// count (at least two cells) into tables of at least two rows.
func detectTables(rows [][]string) [][][]string {
	var out [][][]string
	var run [][]string
	flush := func() {
		if len(run) >= 2 {
			out = append(out, run)
		}
		run = nil
	}
	for _, cells := range rows {
		if len(cells) < 2 {
			flush()
			continue
		}
		if len(run) > 0 && len(run[0]) != len(cells) {
			flush()
		}
		run = append(run, cells)
	}
	flush()
	return out
}
