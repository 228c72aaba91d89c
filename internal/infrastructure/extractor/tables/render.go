package tables

import (
	"fmt"
	"strings"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

// Render formats a table found on page (1-based) as pipe-delimited text. The
// first row is the header row. Cell text is cleaned individually so the
// delimiters survive. ok is false when the table has fewer than two rows or
// no non-empty data row.
func Render(index, page int, rows [][]string) (string, bool) {
	if len(rows) < 2 {
		return "", false
	}

	var lines []string
	for _, row := range rows[1:] {
		cells := cleanCells(row)
		if allEmpty(cells) {
			continue
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	if len(lines) == 0 {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Table %d on page %d:\n", index+1, page)
	var headers []string
	for _, h := range cleanCells(rows[0]) {
		if h != "" {
			headers = append(headers, h)
		}
	}
	if len(headers) > 0 {
		b.WriteString("Headers: " + strings.Join(headers, " | ") + "\n")
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String(), true
}

func cleanCells(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = domain.CleanText(cell)
	}
	return out
}

func allEmpty(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}
