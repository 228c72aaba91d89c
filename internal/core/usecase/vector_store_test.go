package usecase

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

func testChunks(n int) []domain.Chunk {
	chunks := make([]domain.Chunk, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			Content: strings.Repeat("w", i+1),
			Metadata: domain.ChunkMetadata{
				DocID:   "0123456789abcdef",
				Source:  "report (final).pdf",
				Page:    1,
				Type:    domain.ChunkTypeText,
				DocType: domain.DocTypePDF,
			},
		}
	}
	return chunks
}

func TestCollectionNameSanitizesChatID(t *testing.T) {
	if got := CollectionName("user@42/chat"); got != "chat_user_42_chat" {
		t.Fatalf("unexpected collection name %q", got)
	}
}

func TestAddChunksInsertsInBatchesWithProgress(t *testing.T) {
	index := &indexFake{}
	m := NewVectorStoreManager(&embedderFake{}, index, 2, nil)

	var progress []float64
	added, err := m.AddChunks(context.Background(), "chat-1", testChunks(5), func(p float64) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}
	if added != 5 || len(index.upserts) != 3 {
		t.Fatalf("expected 5 chunks in 3 batches, got added=%d batches=%d", added, len(index.upserts))
	}
	if len(progress) != 3 || progress[2] != 100 {
		t.Fatalf("unexpected progress: %v", progress)
	}

	idPattern := regexp.MustCompile(`^doc_01234567_chunk_\d+_[0-9a-f]{6}$`)
	rec := index.upserts[0][1]
	if !idPattern.MatchString(rec.ID) {
		t.Fatalf("unexpected chunk id %q", rec.ID)
	}
	if rec.Metadata["source"] != "report _final_.pdf" {
		t.Fatalf("expected sanitized metadata, got %q", rec.Metadata["source"])
	}
}

func TestAddChunksEnsuresCollectionOnce(t *testing.T) {
	index := &indexFake{}
	m := NewVectorStoreManager(&embedderFake{}, index, 100, nil)

	for range 3 {
		if _, err := m.AddChunks(context.Background(), "chat-1", testChunks(2), nil); err != nil {
			t.Fatalf("AddChunks() error = %v", err)
		}
	}
	if len(index.ensured) != 1 || index.ensured[0] != "chat_chat-1" {
		t.Fatalf("expected a single ensure call, got %v", index.ensured)
	}
}

func TestAddChunksBatchFailureIsHardError(t *testing.T) {
	index := &indexFake{upsertErr: errors.New("timeout")}
	m := NewVectorStoreManager(&embedderFake{}, index, 2, nil)

	_, err := m.AddChunks(context.Background(), "chat-1", testChunks(3), nil)
	if !domain.IsKind(err, domain.ErrIngestionFailed) {
		t.Fatalf("expected ErrIngestionFailed, got %v", err)
	}
}

func TestAddChunksEmbedFailure(t *testing.T) {
	m := NewVectorStoreManager(&embedderFake{err: errors.New("ollama down")}, &indexFake{}, 2, nil)
	_, err := m.AddChunks(context.Background(), "chat-1", testChunks(1), nil)
	if !domain.IsKind(err, domain.ErrIngestionFailed) {
		t.Fatalf("expected ErrIngestionFailed, got %v", err)
	}
}

func TestQueryDeduplicatesAndRanks(t *testing.T) {
	shared := strings.Repeat("a", 100)
	index := &indexFake{hits: []domain.VectorHit{
		{ID: "1", Text: shared + " tail one", Distance: 0.6},
		{ID: "2", Text: "distinct", Distance: 0.2},
		{ID: "3", Text: shared + " tail two", Distance: 0.1},
	}}
	m := NewVectorStoreManager(&embedderFake{}, index, 0, nil)

	got := m.Query(context.Background(), "chat-1", "question", 15)
	if len(got) != 2 {
		t.Fatalf("expected 2 results after dedup, got %d", len(got))
	}
	if got[0].Content != "distinct" || got[0].Similarity != 0.9 {
		t.Fatalf("unexpected first result: %+v", got[0])
	}
	if got[1].Content != shared+" tail one" || got[1].Similarity != 0.7 {
		t.Fatalf("unexpected second result: %+v", got[1])
	}
}

func TestQueryBackendFailureYieldsEmpty(t *testing.T) {
	m := NewVectorStoreManager(&embedderFake{}, &indexFake{queryErr: errors.New("no collection")}, 0, nil)
	if got := m.Query(context.Background(), "chat-1", "question", 5); len(got) != 0 {
		t.Fatalf("expected empty results, got %+v", got)
	}
}
