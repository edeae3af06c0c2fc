package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// WebhookFailureRepo persists deliveries that exhausted their retry budget,
// the dead-letter sink that DueForRetry reads back.
type WebhookFailureRepo struct{ Pool PgxPool }

// NewWebhookFailureRepo constructs a WebhookFailureRepo with the given pool.
func NewWebhookFailureRepo(p PgxPool) *WebhookFailureRepo { return &WebhookFailureRepo{Pool: p} }

// Insert records an exhausted delivery.
func (r *WebhookFailureRepo) Insert(ctx domain.Context, f domain.WebhookFailure) error {
	tracer := otel.Tracer("repo.webhook_failures")
	ctx, span := tracer.Start(ctx, "webhook_failures.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "webhook_failures"),
	)
	q := `INSERT INTO webhook_failures (job_id, payload, status, error, retry_count, next_retry_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, f.JobID, f.Payload, f.Status, f.Error, f.RetryCount, f.NextRetryAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=webhookfailurerepo.Insert: %w", err)
	}
	return nil
}

// DueForRetry returns up to `limit` pending failures whose next_retry_at has
// elapsed, oldest first.
func (r *WebhookFailureRepo) DueForRetry(ctx domain.Context, before time.Time, limit int) ([]domain.WebhookFailure, error) {
	tracer := otel.Tracer("repo.webhook_failures")
	ctx, span := tracer.Start(ctx, "webhook_failures.DueForRetry")
	defer span.End()
	q := `SELECT job_id, payload, status, error, retry_count, next_retry_at
		FROM webhook_failures WHERE status != 'delivered' AND next_retry_at <= $1
		ORDER BY next_retry_at ASC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, before, limit)
	if err != nil {
		return nil, fmt.Errorf("op=webhookfailurerepo.DueForRetry: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookFailure
	for rows.Next() {
		var f domain.WebhookFailure
		if err := rows.Scan(&f.JobID, &f.Payload, &f.Status, &f.Error, &f.RetryCount, &f.NextRetryAt); err != nil {
			return nil, fmt.Errorf("op=webhookfailurerepo.DueForRetry: scan: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=webhookfailurerepo.DueForRetry: rows: %w", err)
	}
	return out, nil
}

// MarkDelivered flags a previously failed delivery as resolved.
func (r *WebhookFailureRepo) MarkDelivered(ctx domain.Context, jobID string) error {
	tracer := otel.Tracer("repo.webhook_failures")
	ctx, span := tracer.Start(ctx, "webhook_failures.MarkDelivered")
	defer span.End()
	q := `UPDATE webhook_failures SET status='delivered' WHERE job_id=$1`
	if _, err := r.Pool.Exec(ctx, q, jobID); err != nil {
		return fmt.Errorf("op=webhookfailurerepo.MarkDelivered: %w", err)
	}
	return nil
}
