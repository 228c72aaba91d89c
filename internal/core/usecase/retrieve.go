package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

const (
	DefaultTopK        = 15
	sourcePreviewChars = 800
)

type chunkSearcher interface {
	Query(ctx context.Context, chatID, query string, topK int) []domain.ScoredChunk
}

type RetrievalUseCase struct {
	docs        ports.DocumentStore
	searcher    chunkSearcher
	defaultTopK int
}

func NewRetrievalUseCase(docs ports.DocumentStore, searcher chunkSearcher, defaultTopK int) *RetrievalUseCase {
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &RetrievalUseCase{docs: docs, searcher: searcher, defaultTopK: defaultTopK}
}

var _ ports.ContextRetriever = (*RetrievalUseCase)(nil)

// Retrieve builds attributed context for query from the chat's documents. A
// chat without documents yields an empty result without querying vectors.
func (uc *RetrievalUseCase) Retrieve(ctx context.Context, chatID, query string, topK int) (*domain.RetrievalResult, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve context", errors.New("chat id is required"))
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve context", errors.New("query is required"))
	}
	if topK <= 0 {
		topK = uc.defaultTopK
	}

	docs, err := uc.docs.ListDocuments(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list chat documents: %w", err)
	}
	if len(docs) == 0 {
		return &domain.RetrievalResult{Sources: []domain.SourceRecord{}}, nil
	}

	results := uc.searcher.Query(ctx, chatID, query, topK)
	return assembleContext(results), nil
}

func assembleContext(results []domain.ScoredChunk) *domain.RetrievalResult {
	blocks := make([]string, 0, len(results))
	sources := make([]domain.SourceRecord, 0, len(results))
	for i, r := range results {
		src := describeSource(i+1, r)
		blocks = append(blocks, fmt.Sprintf("[Source %d: %s - %s]\n%s", src.ID, src.Source, src.Location, r.Content))
		sources = append(sources, src)
	}
	return &domain.RetrievalResult{
		Context: strings.Join(blocks, "\n\n"),
		Sources: sources,
	}
}

func describeSource(id int, r domain.ScoredChunk) domain.SourceRecord {
	source := metaOr(r.Metadata, "source", "Unknown")
	docType := metaOr(r.Metadata, "doc_type", "unknown")
	page := r.Metadata["page"]

	location := "Unknown location"
	contentType := metaOr(r.Metadata, "type", "unknown")
	if docType == domain.DocTypePDF {
		contentType = metaOr(r.Metadata, "type", domain.ChunkTypeText)
		location = "Page " + metaOr(r.Metadata, "page", "unknown")
		if contentType == domain.ChunkTypeTable {
			location += ", Table"
		}
	}

	return domain.SourceRecord{
		ID:          id,
		Source:      source,
		Location:    location,
		DocType:     docType,
		ContentType: contentType,
		Page:        page,
		Similarity:  r.Similarity,
		Content:     prefix(r.Content, sourcePreviewChars),
		FullContent: r.Content,
	}
}

func metaOr(meta map[string]string, key, fallback string) string {
	if v, ok := meta[key]; ok && v != "" {
		return v
	}
	return fallback
}
