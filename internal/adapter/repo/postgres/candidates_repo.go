// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// CandidateRepo persists and loads candidate extraction records.
type CandidateRepo struct{ Pool PgxPool }

// NewCandidateRepo constructs a CandidateRepo with the given pool.
func NewCandidateRepo(p PgxPool) *CandidateRepo { return &CandidateRepo{Pool: p} }

// Create inserts the placeholder row written at submit time.
func (r *CandidateRepo) Create(ctx domain.Context, c domain.Candidate) (string, error) {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "candidates"),
	)
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO candidates (id, tenant_id, version, parent_id, is_latest, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, id, c.TenantID, c.Version, c.ParentID, c.IsLatest, c.Status, now, now)
	if err != nil {
		return "", fmt.Errorf("op=candidatesrepo.Create: %w", err)
	}
	return id, nil
}

// UpdateQuickExtracted fills in the fast-path fields surfaced before the
// full pipeline commits (Router's quick-extract pass).
func (r *CandidateRepo) UpdateQuickExtracted(ctx domain.Context, id, name, phoneMasked, emailMasked, company, position string) error {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.UpdateQuickExtracted")
	defer span.End()
	q := `UPDATE candidates SET name=$2, phone_masked=$3, email_masked=$4, last_company=$5, last_position=$6, updated_at=$7 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, name, phoneMasked, emailMasked, company, position, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=candidatesrepo.UpdateQuickExtracted: %w", err)
	}
	return nil
}

// Commit writes the fully reconciled, pipeline-complete candidate record.
func (r *CandidateRepo) Commit(ctx domain.Context, c domain.Candidate) error {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.Commit")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "candidates"),
	)
	careers, err := json.Marshal(c.Careers)
	if err != nil {
		return fmt.Errorf("op=candidatesrepo.Commit: marshal careers: %w", err)
	}
	education, err := json.Marshal(c.Education)
	if err != nil {
		return fmt.Errorf("op=candidatesrepo.Commit: marshal education: %w", err)
	}
	projects, err := json.Marshal(c.Projects)
	if err != nil {
		return fmt.Errorf("op=candidatesrepo.Commit: marshal projects: %w", err)
	}
	fieldConfidence, err := json.Marshal(c.FieldConfidence)
	if err != nil {
		return fmt.Errorf("op=candidatesrepo.Commit: marshal field_confidence: %w", err)
	}
	warnings, err := json.Marshal(c.Warnings)
	if err != nil {
		return fmt.Errorf("op=candidatesrepo.Commit: marshal warnings: %w", err)
	}

	q := `UPDATE candidates SET
		status=$2, name=$3, last_position=$4, last_company=$5, exp_years=$6,
		skills=$7, careers=$8, education=$9, projects=$10, summary=$11,
		confidence_score=$12, field_confidence=$13, risk_level=$14, requires_review=$15, warnings=$16,
		phone_encrypted=$17, email_encrypted=$18, address_encrypted=$19,
		phone_hash=$20, email_hash=$21, phone_masked=$22, email_masked=$23, address_masked=$24,
		embedding=$25, updated_at=$26
		WHERE id=$1`
	_, err = r.Pool.Exec(ctx, q, c.ID,
		c.Status, c.Name, c.LastPosition, c.LastCompany, c.ExpYears,
		c.Skills, careers, education, projects, c.Summary,
		c.ConfidenceScore, fieldConfidence, c.RiskLevel, c.RequiresReview, warnings,
		c.PhoneEncrypted, c.EmailEncrypted, c.AddressEncrypted,
		c.PhoneHash, c.EmailHash, c.PhoneMasked, c.EmailMasked, c.AddressMasked,
		c.Embedding, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=candidatesrepo.Commit: %w", err)
	}
	return nil
}

// Get loads a candidate scoped to its owning tenant.
func (r *CandidateRepo) Get(ctx domain.Context, tenantID, id string) (domain.Candidate, error) {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.Get")
	defer span.End()
	q := `SELECT id, tenant_id, version, parent_id, is_latest, status, name, last_position, last_company,
		exp_years, skills, careers, education, projects, summary, confidence_score, field_confidence,
		risk_level, requires_review, warnings, phone_encrypted, email_encrypted, address_encrypted,
		phone_hash, email_hash, phone_masked, email_masked, address_masked, embedding, created_at, updated_at
		FROM candidates WHERE tenant_id=$1 AND id=$2`
	row := r.Pool.QueryRow(ctx, q, tenantID, id)
	var c domain.Candidate
	var careers, education, projects, fieldConfidence, warnings []byte
	if err := row.Scan(&c.ID, &c.TenantID, &c.Version, &c.ParentID, &c.IsLatest, &c.Status, &c.Name, &c.LastPosition, &c.LastCompany,
		&c.ExpYears, &c.Skills, &careers, &education, &projects, &c.Summary, &c.ConfidenceScore, &fieldConfidence,
		&c.RiskLevel, &c.RequiresReview, &warnings, &c.PhoneEncrypted, &c.EmailEncrypted, &c.AddressEncrypted,
		&c.PhoneHash, &c.EmailHash, &c.PhoneMasked, &c.EmailMasked, &c.AddressMasked, &c.Embedding, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Candidate{}, fmt.Errorf("op=candidatesrepo.Get: %w", domain.ErrNotFound)
		}
		return domain.Candidate{}, fmt.Errorf("op=candidatesrepo.Get: %w", err)
	}
	if err := json.Unmarshal(careers, &c.Careers); err != nil {
		return domain.Candidate{}, fmt.Errorf("op=candidatesrepo.Get: unmarshal careers: %w", err)
	}
	if err := json.Unmarshal(education, &c.Education); err != nil {
		return domain.Candidate{}, fmt.Errorf("op=candidatesrepo.Get: unmarshal education: %w", err)
	}
	if err := json.Unmarshal(projects, &c.Projects); err != nil {
		return domain.Candidate{}, fmt.Errorf("op=candidatesrepo.Get: unmarshal projects: %w", err)
	}
	if err := json.Unmarshal(fieldConfidence, &c.FieldConfidence); err != nil {
		return domain.Candidate{}, fmt.Errorf("op=candidatesrepo.Get: unmarshal field_confidence: %w", err)
	}
	if err := json.Unmarshal(warnings, &c.Warnings); err != nil {
		return domain.Candidate{}, fmt.Errorf("op=candidatesrepo.Get: unmarshal warnings: %w", err)
	}
	return c, nil
}
