package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

const uniqueViolation = "23505"

// DocumentRepository is the chat document store.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) AppendDocument(ctx context.Context, chatID string, doc domain.DocumentRecord) error {
	statsJSON, err := json.Marshal(doc.ProcessingStats)
	if err != nil {
		return fmt.Errorf("marshal processing stats: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO chat_documents (
	chat_id, doc_id, filename, doc_type, file_hash, file_size, chunks_count, status, uploaded_at, processing_stats
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		chatID, doc.DocID, doc.Filename, doc.DocType, doc.FileHash, doc.FileSize,
		doc.ChunksCount, doc.Status, doc.UploadedAt, statsJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.WrapError(domain.ErrDuplicateDocument, "append document", fmt.Errorf("%s already exists in chat %s", doc.Filename, chatID))
		}
		return fmt.Errorf("insert chat document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListDocuments(ctx context.Context, chatID string) ([]domain.DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT doc_id, filename, doc_type, file_hash, file_size, chunks_count, status, uploaded_at, processing_stats
FROM chat_documents
WHERE chat_id = $1
ORDER BY uploaded_at ASC
`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list chat documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DocumentRecord, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat documents: %w", err)
	}
	return out, nil
}

// RemoveDocument deletes the record and reports how many documents the chat
// still holds.
func (r *DocumentRepository) RemoveDocument(ctx context.Context, chatID, filename string) (*domain.DocumentRecord, int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin remove tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
DELETE FROM chat_documents
WHERE chat_id = $1 AND filename = $2
RETURNING doc_id, filename, doc_type, file_hash, file_size, chunks_count, status, uploaded_at, processing_stats
`, chatID, filename)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, domain.WrapError(domain.ErrDocumentNotFound, "remove document", fmt.Errorf("%s in chat %s", filename, chatID))
		}
		return nil, 0, fmt.Errorf("delete chat document: %w", err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_documents WHERE chat_id = $1`, chatID).Scan(&remaining); err != nil {
		return nil, 0, fmt.Errorf("count chat documents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit remove tx: %w", err)
	}
	return &doc, remaining, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.DocumentRecord, error) {
	var doc domain.DocumentRecord
	var statsRaw []byte
	err := row.Scan(
		&doc.DocID,
		&doc.Filename,
		&doc.DocType,
		&doc.FileHash,
		&doc.FileSize,
		&doc.ChunksCount,
		&doc.Status,
		&doc.UploadedAt,
		&statsRaw,
	)
	if err != nil {
		return domain.DocumentRecord{}, err
	}
	if len(statsRaw) > 0 {
		if err := json.Unmarshal(statsRaw, &doc.ProcessingStats); err != nil {
			return domain.DocumentRecord{}, fmt.Errorf("unmarshal processing stats: %w", err)
		}
	}
	return doc, nil
}
