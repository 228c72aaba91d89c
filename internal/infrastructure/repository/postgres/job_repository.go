package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

const jobColumns = `job_id, chat_id, filename, status, stage, progress, chunks_added, error_message, backend,
	source_uri, file_hash, file_size, storage_key, created_at, updated_at, finished_at`

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const insertJobSQL = `
INSERT INTO upload_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertJob(ctx context.Context, db execer, job *domain.UploadJob) error {
	_, err := db.ExecContext(ctx, insertJobSQL,
		job.JobID, job.ChatID, job.Filename, string(job.Status), string(job.Stage), job.Progress, job.ChunksAdded,
		job.Error, job.Backend, job.SourceURI, job.FileHash, job.FileSize, job.StorageKey,
		job.CreatedAt, job.UpdatedAt, job.FinishedAt,
	)
	return err
}

func (r *JobRepository) Create(ctx context.Context, job *domain.UploadJob) error {
	if err := insertJob(ctx, r.db, job); err != nil {
		return fmt.Errorf("create upload job: %w", err)
	}
	return nil
}

// Reserve serializes reservations per chat with a transaction-scoped advisory
// lock, so the active-job count and the insert see the same state.
func (r *JobRepository) Reserve(ctx context.Context, job *domain.UploadJob, stored, limit int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, job.ChatID); err != nil {
		return fmt.Errorf("lock chat for reserve: %w", err)
	}

	var active int
	var nameTaken bool
	err = tx.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(BOOL_OR(filename = $2), false)
FROM upload_jobs
WHERE chat_id = $1 AND status NOT IN ('finished', 'failed')
`, job.ChatID, job.Filename).Scan(&active, &nameTaken)
	if err != nil {
		return fmt.Errorf("count active upload jobs: %w", err)
	}
	if err := domain.ReservationError(job.Filename, stored, active, limit, nameTaken); err != nil {
		return err
	}

	if err := insertJob(ctx, tx, job); err != nil {
		return fmt.Errorf("insert reserved upload job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve tx: %w", err)
	}
	return nil
}

func (r *JobRepository) Delete(ctx context.Context, jobID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM upload_jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete upload job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, jobID string) (*domain.UploadJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM upload_jobs
WHERE job_id = $1
`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get upload job", fmt.Errorf("id=%s", jobID))
		}
		return nil, fmt.Errorf("get upload job: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) Update(ctx context.Context, job *domain.UploadJob) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE upload_jobs
SET status = $2, stage = $3, progress = $4, chunks_added = $5, error_message = $6, backend = $7,
	file_hash = $8, file_size = $9, storage_key = $10, updated_at = $11, finished_at = $12
WHERE job_id = $1
`,
		job.JobID, string(job.Status), string(job.Stage), job.Progress, job.ChunksAdded, job.Error, job.Backend,
		job.FileHash, job.FileSize, job.StorageKey, job.UpdatedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update upload job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update upload job rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrJobNotFound, "update upload job", fmt.Errorf("id=%s", job.JobID))
	}
	return nil
}

func (r *JobRepository) ListByChat(ctx context.Context, chatID string) ([]domain.UploadJob, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM upload_jobs
WHERE chat_id = $1
ORDER BY created_at DESC
`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list upload jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.UploadJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload jobs: %w", err)
	}
	return out, nil
}

func (r *JobRepository) EvictFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM upload_jobs
WHERE finished_at IS NOT NULL AND finished_at < $1
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict upload jobs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("evict upload jobs rows affected: %w", err)
	}
	return int(rows), nil
}

func scanJob(row rowScanner) (domain.UploadJob, error) {
	var job domain.UploadJob
	var status, stage string
	var finishedAt sql.NullTime
	err := row.Scan(
		&job.JobID,
		&job.ChatID,
		&job.Filename,
		&status,
		&stage,
		&job.Progress,
		&job.ChunksAdded,
		&job.Error,
		&job.Backend,
		&job.SourceURI,
		&job.FileHash,
		&job.FileSize,
		&job.StorageKey,
		&job.CreatedAt,
		&job.UpdatedAt,
		&finishedAt,
	)
	if err != nil {
		return domain.UploadJob{}, err
	}
	job.Status = domain.JobStatus(status)
	job.Stage = domain.ProcessingStage(stage)
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}
