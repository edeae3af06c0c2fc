package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// SkillSynonymRepo resolves variant skill spellings to their canonical form
// ahead of the Cross-Check Analyst's skill-overlap voting.
type SkillSynonymRepo struct{ Pool PgxPool }

// NewSkillSynonymRepo constructs a SkillSynonymRepo with the given pool.
func NewSkillSynonymRepo(p PgxPool) *SkillSynonymRepo { return &SkillSynonymRepo{Pool: p} }

// Canonicalize looks up the canonical spelling for a variant; unknown
// variants are returned unchanged so voting still proceeds on raw strings.
func (r *SkillSynonymRepo) Canonicalize(ctx domain.Context, variant string) (string, error) {
	tracer := otel.Tracer("repo.skill_synonyms")
	ctx, span := tracer.Start(ctx, "skill_synonyms.Canonicalize")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "skill_synonyms"),
	)
	q := `SELECT canonical FROM skill_synonyms WHERE variant=$1`
	row := r.Pool.QueryRow(ctx, q, variant)
	var canonical string
	if err := row.Scan(&canonical); err != nil {
		if err == pgx.ErrNoRows {
			return variant, nil
		}
		return "", fmt.Errorf("op=skillsynonymrepo.Canonicalize: %w", err)
	}
	return canonical, nil
}
