// Package orchestrator implements the Job Orchestrator: credit-gated job
// submission, idempotent resubmission, status reads, and manual retry.
package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/resumecore/ingestion-core/internal/domain"
	"github.com/resumecore/ingestion-core/internal/usecase/ledger"
)

// VisibilityTimeout bounds how long a worker has to process a job before the
// queue makes it visible to another consumer again.
const VisibilityTimeout = 10 * time.Minute

// Service orchestrates job creation and queueing, mirroring the teacher's
// usecase-layer shape: a struct of repository ports plus the queue.
type Service struct {
	Jobs       domain.JobRepository
	Candidates domain.CandidateRepository
	Queue      domain.Queue
	Ledger     *ledger.Service
}

// NewService constructs a Service with its dependencies.
func NewService(jobs domain.JobRepository, candidates domain.CandidateRepository, queue domain.Queue, led *ledger.Service) *Service {
	return &Service{Jobs: jobs, Candidates: candidates, Queue: queue, Ledger: led}
}

// SubmitResult is returned by Submit.
type SubmitResult struct {
	JobID       string
	CandidateID string
}

// Submit validates the tenant has remaining credits, resolves idempotency,
// creates a placeholder candidate record and then a queued job, and enqueues
// the job for the Worker Pipeline. The two records are written by separate
// repository calls, not in one transaction.
func (s *Service) Submit(ctx domain.Context, tenantID, fileName, fileType string, fileSize int64, filePath string, mode domain.AnalysisMode, idemKey string) (SubmitResult, error) {
	if tenantID == "" || fileName == "" || filePath == "" {
		return SubmitResult{}, fmt.Errorf("op=orchestrator.Submit: %w: tenant_id, file_name and file_path required", domain.ErrInvalidArgument)
	}

	if idemKey != "" {
		if existing, err := s.Jobs.FindByIdempotencyKey(ctx, tenantID, idemKey); err == nil && existing.ID != "" {
			slog.Info("submit idempotent hit", slog.String("job_id", existing.ID), slog.String("tenant_id", tenantID))
			return SubmitResult{JobID: existing.ID, CandidateID: existing.CandidateID}, nil
		}
	}

	remaining, err := s.Ledger.Remaining(ctx, tenantID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("op=orchestrator.Submit: %w", err)
	}
	if remaining < 1 {
		return SubmitResult{}, fmt.Errorf("op=orchestrator.Submit: %w", domain.ErrInsufficientCredits)
	}

	candidateID := uuid.NewString()
	if _, err := s.Candidates.Create(ctx, domain.Candidate{
		ID:        candidateID,
		TenantID:  tenantID,
		Version:   1,
		IsLatest:  true,
		Status:    domain.CandidateProcessing,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return SubmitResult{}, fmt.Errorf("op=orchestrator.Submit: create candidate: %w", err)
	}

	job := domain.ProcessingJob{
		TenantID:     tenantID,
		CandidateID:  candidateID,
		FileName:     fileName,
		FileType:     fileType,
		FileSize:     fileSize,
		FilePath:     filePath,
		AnalysisMode: mode,
		Status:       domain.JobQueued,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if idemKey != "" {
		job.IdempotencyKey = &idemKey
	}
	jobID, err := s.Jobs.Create(ctx, job)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("op=orchestrator.Submit: create job: %w", err)
	}

	if err := s.Queue.Enqueue(ctx, domain.JobMessage{JobID: jobID}, VisibilityTimeout); err != nil {
		_ = s.Jobs.UpdateStatus(ctx, jobID, domain.JobFailed, "enqueue_failed", err.Error())
		return SubmitResult{}, fmt.Errorf("op=orchestrator.Submit: enqueue: %w", err)
	}

	slog.Info("job submitted",
		slog.String("job_id", jobID), slog.String("candidate_id", candidateID),
		slog.String("tenant_id", tenantID), slog.String("mode", string(mode)))
	return SubmitResult{JobID: jobID, CandidateID: candidateID}, nil
}

// Status returns the current job record.
func (s *Service) Status(ctx domain.Context, jobID string) (domain.ProcessingJob, error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.ProcessingJob{}, fmt.Errorf("op=orchestrator.Status: %w", err)
	}
	return j, nil
}

// Retry re-enqueues a failed job, incrementing its attempt counter. Only
// terminal-failed jobs may be retried; in-flight jobs are rejected to avoid
// double processing by two workers at once.
func (s *Service) Retry(ctx domain.Context, jobID string) error {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=orchestrator.Retry: %w", err)
	}
	if j.Status != domain.JobFailed {
		return fmt.Errorf("op=orchestrator.Retry: %w: job not in failed state", domain.ErrConflict)
	}
	if err := s.Jobs.IncrementAttempt(ctx, jobID); err != nil {
		return fmt.Errorf("op=orchestrator.Retry: increment attempt: %w", err)
	}
	if err := s.Jobs.UpdateStatus(ctx, jobID, domain.JobQueued, "", ""); err != nil {
		return fmt.Errorf("op=orchestrator.Retry: update status: %w", err)
	}
	if err := s.Queue.Enqueue(ctx, domain.JobMessage{JobID: jobID}, VisibilityTimeout); err != nil {
		return fmt.Errorf("op=orchestrator.Retry: enqueue: %w", err)
	}
	slog.Info("job retried", slog.String("job_id", jobID), slog.Int("attempt", j.AttemptCount+1))
	return nil
}
