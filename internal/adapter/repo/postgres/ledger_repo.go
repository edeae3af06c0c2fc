package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// LedgerRepo persists the append-only credit transaction log.
type LedgerRepo struct{ Pool PgxPool }

// NewLedgerRepo constructs a LedgerRepo with the given pool.
func NewLedgerRepo(p PgxPool) *LedgerRepo { return &LedgerRepo{Pool: p} }

// Insert appends a credit transaction row.
func (r *LedgerRepo) Insert(ctx domain.Context, tx domain.CreditTransaction) error {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "credit_transactions"),
	)
	q := `INSERT INTO credit_transactions (id, tenant_id, type, amount, balance_after, candidate_id, job_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	created := tx.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.Pool.Exec(ctx, q, tx.ID, tx.TenantID, tx.Type, tx.Amount, tx.BalanceAfter, tx.CandidateID, tx.JobID, created)
	if err != nil {
		return fmt.Errorf("op=ledgerrepo.Insert: %w", err)
	}
	return nil
}

// HasUsageTx reports whether a usage transaction already exists for a
// candidate, backing the ledger's at-most-once charge guarantee.
func (r *LedgerRepo) HasUsageTx(ctx domain.Context, candidateID string) (bool, error) {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.HasUsageTx")
	defer span.End()
	q := `SELECT EXISTS(SELECT 1 FROM credit_transactions WHERE candidate_id=$1 AND type=$2)`
	row := r.Pool.QueryRow(ctx, q, candidateID, domain.TxUsage)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("op=ledgerrepo.HasUsageTx: %w", err)
	}
	return exists, nil
}

// SumForTenant returns the running balance contribution of all transactions
// for a tenant (used to compute the next entry's balance_after).
func (r *LedgerRepo) SumForTenant(ctx domain.Context, tenantID string) (int, error) {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.SumForTenant")
	defer span.End()
	q := `SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE tenant_id=$1`
	row := r.Pool.QueryRow(ctx, q, tenantID)
	var sum int
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("op=ledgerrepo.SumForTenant: %w", err)
	}
	return sum, nil
}
