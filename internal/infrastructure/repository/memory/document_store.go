package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

// DocumentStore keeps each chat's document list in insertion order.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string][]domain.DocumentRecord
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string][]domain.DocumentRecord)}
}

func (s *DocumentStore) AppendDocument(_ context.Context, chatID string, doc domain.DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.docs[chatID] {
		if existing.Filename == doc.Filename {
			return domain.WrapError(domain.ErrDuplicateDocument, "append document",
				fmt.Errorf("file %q already stored", doc.Filename))
		}
	}
	s.docs[chatID] = append(s.docs[chatID], doc)
	return nil
}

func (s *DocumentStore) ListDocuments(_ context.Context, chatID string) ([]domain.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DocumentRecord, len(s.docs[chatID]))
	copy(out, s.docs[chatID])
	return out, nil
}

func (s *DocumentStore) RemoveDocument(_ context.Context, chatID, filename string) (*domain.DocumentRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.docs[chatID]
	for i, doc := range docs {
		if doc.Filename != filename {
			continue
		}
		rest := make([]domain.DocumentRecord, 0, len(docs)-1)
		rest = append(rest, docs[:i]...)
		rest = append(rest, docs[i+1:]...)
		if len(rest) == 0 {
			delete(s.docs, chatID)
		} else {
			s.docs[chatID] = rest
		}
		return &doc, len(rest), nil
	}
	return nil, 0, domain.WrapError(domain.ErrDocumentNotFound, "remove document", errors.New(filename))
}
