package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

type collectionRemover interface {
	DeleteCollection(ctx context.Context, chatID string) error
	DeleteDocument(ctx context.Context, chatID, docID string) error
}

type RemoveDocumentUseCase struct {
	docs    ports.DocumentStore
	vectors collectionRemover
	logger  *slog.Logger
}

func NewRemoveDocumentUseCase(docs ports.DocumentStore, vectors collectionRemover, logger *slog.Logger) *RemoveDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoveDocumentUseCase{docs: docs, vectors: vectors, logger: logger}
}

var _ ports.DocumentRemover = (*RemoveDocumentUseCase)(nil)

// Remove deletes a document record and its vectors. The chat collection is
// dropped together with the last document.
func (uc *RemoveDocumentUseCase) Remove(ctx context.Context, chatID, filename string) error {
	if strings.TrimSpace(chatID) == "" || strings.TrimSpace(filename) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "remove document", errors.New("chat id and filename are required"))
	}

	doc, remaining, err := uc.docs.RemoveDocument(ctx, chatID, filename)
	if err != nil {
		return fmt.Errorf("remove document record: %w", err)
	}

	if remaining == 0 {
		if err := uc.vectors.DeleteCollection(ctx, chatID); err != nil {
			return fmt.Errorf("drop chat collection: %w", err)
		}
	} else if err := uc.vectors.DeleteDocument(ctx, chatID, doc.DocID); err != nil {
		return fmt.Errorf("drop document vectors: %w", err)
	}

	uc.logger.Info("document_removed",
		"chat_id", chatID,
		"filename", filename,
		"doc_id", doc.DocID,
		"remaining", remaining,
	)
	return nil
}
