package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Pdftoppm rasterizes pages with the poppler pdftoppm binary.
type Pdftoppm struct {
	Binary string
}

func NewPdftoppm(binary string) *Pdftoppm {
	if strings.TrimSpace(binary) == "" {
		binary = "pdftoppm"
	}
	return &Pdftoppm{Binary: binary}
}

func (p *Pdftoppm) Rasterize(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error) {
	prefix := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, p.Binary, "-r", strconv.Itoa(dpi), "-png", pdfPath, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", p.Binary, err, strings.TrimSpace(stderr.String()))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("list rendered pages: %w", err)
	}
	return orderedPageImages(outDir, entries), nil
}

// orderedPageImages sorts pdftoppm output (page-1.png, page-02.png, ...) by
// page number. pdftoppm zero-pads to the width of the page count.
func orderedPageImages(dir string, entries []os.DirEntry) []string {
	type image struct {
		page int
		path string
	}
	images := make([]image, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "page-") || !strings.HasSuffix(name, ".png") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page-"), ".png"))
		if err != nil {
			continue
		}
		images = append(images, image{page: num, path: filepath.Join(dir, name)})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].page < images[j].page })

	out := make([]string, 0, len(images))
	for _, img := range images {
		out = append(out, img.path)
	}
	return out
}
