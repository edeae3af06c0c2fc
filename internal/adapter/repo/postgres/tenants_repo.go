// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/resumecore/ingestion-core/internal/domain"
)

//go:generate mockery --config=.mockery.yml
//go:generate mockery --config=.mockery-pgx.yml

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TenantRepo persists and loads tenant rows using a minimal pgx pool.
type TenantRepo struct{ Pool PgxPool }

// NewTenantRepo constructs a TenantRepo with the given pool.
func NewTenantRepo(p PgxPool) *TenantRepo { return &TenantRepo{Pool: p} }

// Get loads a tenant by id.
func (r *TenantRepo) Get(ctx domain.Context, id string) (domain.Tenant, error) {
	tracer := otel.Tracer("repo.tenants")
	ctx, span := tracer.Start(ctx, "tenants.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "tenants"),
	)
	q := `SELECT id, email, plan, base_credits, bonus_credits, credits_used_this_month,
		billing_cycle_start, overage_enabled, overage_limit, overage_used_this_month, created_at
		FROM tenants WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var t domain.Tenant
	if err := row.Scan(&t.ID, &t.Email, &t.Plan, &t.BaseCredits, &t.BonusCredits, &t.CreditsUsedThisMonth,
		&t.BillingCycleStart, &t.OverageEnabled, &t.OverageLimit, &t.OverageUsedThisMonth, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Tenant{}, fmt.Errorf("op=tenant.get: %w", domain.ErrNotFound)
		}
		return domain.Tenant{}, fmt.Errorf("op=tenant.get: %w", err)
	}
	return t, nil
}

// UpdateCreditsUsed sets the running monthly usage counter.
func (r *TenantRepo) UpdateCreditsUsed(ctx domain.Context, tenantID string, creditsUsedThisMonth int) error {
	tracer := otel.Tracer("repo.tenants")
	ctx, span := tracer.Start(ctx, "tenants.UpdateCreditsUsed")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "tenants"),
	)
	q := `UPDATE tenants SET credits_used_this_month=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, tenantID, creditsUsedThisMonth); err != nil {
		return fmt.Errorf("op=tenant.update_credits_used: %w", err)
	}
	return nil
}

// ResetBillingCycle advances the billing cycle start and zeroes monthly usage.
func (r *TenantRepo) ResetBillingCycle(ctx domain.Context, tenantID string, newCycleStart time.Time) error {
	tracer := otel.Tracer("repo.tenants")
	ctx, span := tracer.Start(ctx, "tenants.ResetBillingCycle")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "tenants"),
	)
	q := `UPDATE tenants SET billing_cycle_start=$2, credits_used_this_month=0, overage_used_this_month=0 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, tenantID, newCycleStart); err != nil {
		return fmt.Errorf("op=tenant.reset_billing_cycle: %w", err)
	}
	return nil
}
