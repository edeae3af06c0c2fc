// Package ledger implements the Credit Ledger: remaining-balance reads,
// the monthly reset, and the at-most-once usage commit tied to a
// successful analysis.
package ledger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// Service implements the Credit Ledger operations over the Metadata Store's
// tenant and ledger repositories, mirroring the teacher's usecase-layer
// shape: a struct of repository ports, explicit transactions, slog at each
// decision point.
type Service struct {
	Tenants domain.TenantRepository
	Ledger  domain.LedgerRepository
	Now     func() time.Time
}

// NewService constructs a ledger service with the real clock.
func NewService(tenants domain.TenantRepository, txs domain.LedgerRepository) *Service {
	return &Service{Tenants: tenants, Ledger: txs, Now: time.Now}
}

// Remaining computes Remaining(tenant) per the spec formula, floored at 0,
// plus overage headroom when enabled and eligible.
func (s *Service) Remaining(ctx domain.Context, tenantID string) (int, error) {
	t, err := s.Tenants.Get(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("op=ledger.Remaining: %w", err)
	}
	base := t.BaseCredits
	if base == 0 {
		base = domain.BaseCredits(t.Plan)
	}
	remaining := base - t.CreditsUsedThisMonth + t.BonusCredits
	if remaining < 0 {
		remaining = 0
	}
	if t.OverageEnabled && t.Plan != domain.PlanStarter {
		headroom := t.OverageLimit - t.OverageUsedThisMonth
		if headroom > 0 {
			remaining += headroom
		}
	}
	return remaining, nil
}

// MonthlyReset resets the usage counter and advances the billing cycle by
// one month once `now >= billing_cycle_start + 1 month`, recording an
// adjustment transaction. It is safe to call on every read; it is a no-op
// until the cycle boundary is crossed.
func (s *Service) MonthlyReset(ctx domain.Context, tenantID string) error {
	t, err := s.Tenants.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("op=ledger.MonthlyReset: %w", err)
	}
	now := s.now()
	nextCycle := t.BillingCycleStart.AddDate(0, 1, 0)
	if now.Before(nextCycle) {
		return nil
	}
	if err := s.Tenants.ResetBillingCycle(ctx, tenantID, nextCycle); err != nil {
		return fmt.Errorf("op=ledger.MonthlyReset: reset: %w", err)
	}
	if err := s.Ledger.Insert(ctx, domain.CreditTransaction{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Type:         domain.TxAdjustment,
		Amount:       0,
		BalanceAfter: t.BaseCredits + t.BonusCredits,
		CreatedAt:    now,
	}); err != nil {
		return fmt.Errorf("op=ledger.MonthlyReset: adjustment tx: %w", err)
	}
	slog.Info("billing cycle reset", slog.String("tenant_id", tenantID), slog.Time("next_cycle_start", nextCycle))
	return nil
}

// CommitUsage charges exactly one credit for a successfully completed
// candidate analysis. It is idempotent per candidate_id: a retry for the
// same candidate that already has a usage transaction is a no-op, so
// re-running the pipeline (explicit user Retry) never double-charges.
func (s *Service) CommitUsage(ctx domain.Context, tenantID, jobID, candidateID string) error {
	already, err := s.Ledger.HasUsageTx(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("op=ledger.CommitUsage: check existing: %w", err)
	}
	if already {
		slog.Info("usage already committed for candidate, skipping recharge",
			slog.String("candidate_id", candidateID))
		return nil
	}

	remaining, err := s.Remaining(ctx, tenantID)
	if err != nil {
		return err
	}
	if remaining < 1 {
		return fmt.Errorf("op=ledger.CommitUsage: %w", domain.ErrInsufficientCredits)
	}

	t, err := s.Tenants.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("op=ledger.CommitUsage: %w", err)
	}
	newUsed := t.CreditsUsedThisMonth + 1
	if err := s.Tenants.UpdateCreditsUsed(ctx, tenantID, newUsed); err != nil {
		return fmt.Errorf("op=ledger.CommitUsage: update credits used: %w", err)
	}

	balance, err := s.Ledger.SumForTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("op=ledger.CommitUsage: sum: %w", err)
	}
	cand := candidateID
	job := jobID
	if err := s.Ledger.Insert(ctx, domain.CreditTransaction{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Type:         domain.TxUsage,
		Amount:       -1,
		BalanceAfter: balance - 1,
		CandidateID:  &cand,
		JobID:        &job,
		CreatedAt:    s.now(),
	}); err != nil {
		return fmt.Errorf("op=ledger.CommitUsage: insert tx: %w", err)
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
