package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

// Store keeps every chat collection in one table keyed by collection name.
type Store struct {
	db *sql.DB

	schemaMu sync.Mutex
	schemaOK bool
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaOK {
		return nil
	}

	const query = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS knowledge_collections (
	name TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS knowledge_chunks (
	collection TEXT NOT NULL REFERENCES knowledge_collections(name) ON DELETE CASCADE,
	id TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_doc ON knowledge_chunks(collection, (metadata->>'doc_id'));
`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure pgvector schema: %w", err)
	}
	s.schemaOK = true
	return nil
}

func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO knowledge_collections (name, dimension)
VALUES ($1, $2)
ON CONFLICT (name) DO NOTHING
`, name, dimension)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO knowledge_chunks (collection, id, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (collection, id) DO UPDATE
SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, collection, rec.ID, rec.Text, meta, pgvector.NewVector(rec.Vector)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

// Query orders by cosine distance (<=>), which is already in [0, 2].
func (s *Store) Query(ctx context.Context, collection string, vector []float32, limit int) ([]domain.VectorHit, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, content, metadata, embedding <=> $2 AS distance
FROM knowledge_chunks
WHERE collection = $1
ORDER BY distance ASC
LIMIT $3
`, collection, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.VectorHit, 0, limit)
	for rows.Next() {
		var hit domain.VectorHit
		var meta []byte
		if err := rows.Scan(&hit.ID, &hit.Text, &meta, &hit.Distance); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// DeleteCollection relies on the cascading foreign key to drop chunks.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_collections WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, docID string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
DELETE FROM knowledge_chunks
WHERE collection = $1 AND metadata->>'doc_id' = $2
`, collection, docID)
	if err != nil {
		return fmt.Errorf("delete document chunks: %w", err)
	}
	return nil
}
