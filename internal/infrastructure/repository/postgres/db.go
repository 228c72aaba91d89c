package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockKey = int64(2026101901)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the job and document tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chat_documents (
	chat_id TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	file_hash TEXT NOT NULL,
	file_size BIGINT NOT NULL,
	chunks_count INTEGER NOT NULL,
	status TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL,
	processing_stats JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (chat_id, filename)
);

CREATE INDEX IF NOT EXISTS idx_chat_documents_hash ON chat_documents(chat_id, file_hash);

CREATE TABLE IF NOT EXISTS upload_jobs (
	job_id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	status TEXT NOT NULL,
	stage TEXT NOT NULL,
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	chunks_added INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	backend TEXT NOT NULL DEFAULT '',
	source_uri TEXT NOT NULL DEFAULT '',
	file_hash TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	storage_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_upload_jobs_chat ON upload_jobs(chat_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_upload_jobs_finished_at ON upload_jobs(finished_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
