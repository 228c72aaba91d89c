package chunking

import (
	"context"
	"sort"
	"strings"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

const DefaultMaxChunks = 2000

type (
	Input  = domain.ChunkInput
	Result = domain.ChunkResult
)

// DocumentChunker turns page text and rendered tables into tagged chunks,
// capped per document.
type DocumentChunker struct {
	splitter  *Splitter
	maxChunks int
}

func NewDocumentChunker(splitter *Splitter, maxChunks int) *DocumentChunker {
	if splitter == nil {
		splitter = NewSplitter(DefaultChunkSize, DefaultOverlap)
	}
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	return &DocumentChunker{splitter: splitter, maxChunks: maxChunks}
}

func (c *DocumentChunker) Chunk(ctx context.Context, in Input, report ports.ProgressFunc) (Result, error) {
	if report == nil {
		report = func(float64) {}
	}

	pages := make([]domain.PageText, len(in.Pages))
	copy(pages, in.Pages)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })

	chunks := make([]domain.Chunk, 0, len(pages)+len(in.Tables))
	total := float64(len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		words := strings.Fields(page.Text)
		if len(words) == 0 {
			continue
		}

		windows := c.splitter.Windows(len(words))
		for idx, w := range windows {
			content := page.Text
			if len(windows) > 1 {
				content = strings.Join(words[w.Start:w.End], " ")
			}
			chunks = append(chunks, domain.Chunk{
				Content:   content,
				WordCount: w.End - w.Start,
				Metadata: domain.ChunkMetadata{
					DocID:      in.DocID,
					Source:     in.Source,
					Page:       page.Page,
					Type:       domain.ChunkTypeText,
					DocType:    domain.DocTypePDF,
					ChunkIndex: idx,
				},
			})
			report((float64(i)/total + (float64(w.Start)/float64(len(words)))/total) * 100)
		}
		report(float64(i+1) / total * 100)
	}

	for _, table := range in.Tables {
		if strings.TrimSpace(table.Content) == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			Content:   table.Content,
			WordCount: len(strings.Fields(table.Content)),
			Metadata: domain.ChunkMetadata{
				DocID:      in.DocID,
				Source:     in.Source,
				Page:       table.Page,
				Type:       domain.ChunkTypeTable,
				DocType:    domain.DocTypePDF,
				TableIndex: table.Index,
			},
		})
	}

	result := Result{Chunks: chunks}
	if len(chunks) > c.maxChunks {
		result.Truncated = len(chunks) - c.maxChunks
		result.Chunks = chunks[:c.maxChunks]
	}
	report(100)
	return result, nil
}
