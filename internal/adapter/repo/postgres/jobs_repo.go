// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// JobRepo persists and loads processing jobs from PostgreSQL using a minimal
// pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a new job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.ProcessingJob) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "processing_jobs"),
	)
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO processing_jobs
		(id, tenant_id, candidate_id, file_name, file_type, file_size, file_path,
		 analysis_mode, status, attempt_count, created_at, updated_at, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	now := time.Now().UTC()
	_, err := r.Pool.Exec(ctx, q, id, j.TenantID, j.CandidateID, j.FileName, j.FileType, j.FileSize, j.FilePath,
		j.AnalysisMode, j.Status, j.AttemptCount, now, now, j.IdempotencyKey)
	if err != nil {
		return "", fmt.Errorf("op=jobsrepo.Create: %w", err)
	}
	return id, nil
}

// UpdateStatus updates a job's status and optional error code/message.
func (r *JobRepo) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, errCode, errMsg string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "processing_jobs"),
	)
	q := `UPDATE processing_jobs SET status=$2, error_code=$3, error_message=$4, updated_at=$5 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, status, errCode, errMsg, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=jobsrepo.UpdateStatus: %w", err)
	}
	return nil
}

// IncrementAttempt bumps the attempt counter by one.
func (r *JobRepo) IncrementAttempt(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.IncrementAttempt")
	defer span.End()
	q := `UPDATE processing_jobs SET attempt_count = attempt_count + 1, updated_at=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=jobsrepo.IncrementAttempt: %w", err)
	}
	return nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.ProcessingJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "processing_jobs"),
	)
	q := `SELECT id, tenant_id, candidate_id, file_name, file_type, file_size, file_path,
		analysis_mode, status, attempt_count, COALESCE(error_code,''), COALESCE(error_message,''),
		created_at, updated_at, idempotency_key
		FROM processing_jobs WHERE id=$1`
	return scanJob(r.Pool.QueryRow(ctx, q, id))
}

// FindByIdempotencyKey loads a job by (tenant_id, idempotency_key).
func (r *JobRepo) FindByIdempotencyKey(ctx domain.Context, tenantID, key string) (domain.ProcessingJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FindByIdempotencyKey")
	defer span.End()
	q := `SELECT id, tenant_id, candidate_id, file_name, file_type, file_size, file_path,
		analysis_mode, status, attempt_count, COALESCE(error_code,''), COALESCE(error_message,''),
		created_at, updated_at, idempotency_key
		FROM processing_jobs WHERE tenant_id=$1 AND idempotency_key=$2 LIMIT 1`
	return scanJob(r.Pool.QueryRow(ctx, q, tenantID, key))
}

func scanJob(row pgx.Row) (domain.ProcessingJob, error) {
	var j domain.ProcessingJob
	var idem *string
	if err := row.Scan(&j.ID, &j.TenantID, &j.CandidateID, &j.FileName, &j.FileType, &j.FileSize, &j.FilePath,
		&j.AnalysisMode, &j.Status, &j.AttemptCount, &j.ErrorCode, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt, &idem); err != nil {
		if err == pgx.ErrNoRows {
			return domain.ProcessingJob{}, fmt.Errorf("op=jobsrepo.scan: %w", domain.ErrNotFound)
		}
		return domain.ProcessingJob{}, fmt.Errorf("op=jobsrepo.scan: %w", err)
	}
	j.IdempotencyKey = idem
	return j, nil
}
