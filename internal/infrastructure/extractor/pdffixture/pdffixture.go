// Package pdffixture writes small text-only PDFs for extractor tests.
package pdffixture

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// FontSize is the size every run is drawn at. Glyphs of the embedded font
// are CharWidth points wide.
const (
	FontSize  = 12.0
	CharWidth = FontSize / 2
)

// Run is one string drawn with its baseline origin at X, Y.
type Run struct {
	X, Y float64
	Text string
}

// Page lists the runs of one page. A nil Page has no content stream.
type Page []Run

// Write renders pages into a PDF at path using Helvetica with WinAnsi
// encoding and a fixed advance width for the printable ASCII range.
func Write(path string, pages ...Page) error {
	return os.WriteFile(path, Build(pages...), 0o644)
}

func Build(pages ...Page) []byte {
	var objects []string
	add := func(body string) int {
		objects = append(objects, body)
		return len(objects)
	}

	catalog := add("")
	pagesObj := add("")
	widths := strings.TrimSpace(strings.Repeat("500 ", 126-32+1))
	font := add(fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>", widths))

	kids := make([]string, 0, len(pages))
	for _, page := range pages {
		dict := fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >>", pagesObj, font)
		if page != nil {
			stream := contentStream(page)
			content := add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
			dict += fmt.Sprintf(" /Contents %d 0 R", content)
		}
		kids = append(kids, fmt.Sprintf("%d 0 R", add(dict+" >>")))
	}
	objects[catalog-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesObj)
	objects[pagesObj-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, catalog, xref)
	return buf.Bytes()
}

// contentStream draws each run in its own text object.
func contentStream(page Page) string {
	var b strings.Builder
	for _, run := range page {
		fmt.Fprintf(&b, "BT /F1 %g Tf 1 0 0 1 %g %g Tm (%s) Tj ET\n", FontSize, run.X, run.Y, escape(run.Text))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
