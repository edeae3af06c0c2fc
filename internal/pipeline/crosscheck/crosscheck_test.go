package crosscheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_SingleModel_Phase1(t *testing.T) {
	outputs := []ModelOutput{
		{Provider: "primary", Name: "jane doe", LastCompany: "acme inc", LastPosition: "engineer", ExpYears: "5", Skills: []string{"go", "sql"}},
	}
	rec, warnings := Reconcile(outputs)
	assert.Empty(t, warnings)
	assert.Equal(t, 1.0, rec.FieldConfidence["name"])
	assert.Equal(t, "jane doe", rec.Name)
	assert.False(t, rec.RequiresReview)
}

func TestReconcile_ExactAgreement(t *testing.T) {
	outputs := []ModelOutput{
		{Provider: "primary", LastCompany: "acme inc", ExpYears: "5"},
		{Provider: "secondary", LastCompany: "acme inc", ExpYears: "5"},
	}
	rec, warnings := Reconcile(outputs)
	assert.Empty(t, warnings)
	assert.Equal(t, 1.0, rec.FieldConfidence["last_company"])
	assert.Equal(t, "acme inc", rec.LastCompany)
}

func TestReconcile_Disagreement_KeepsPrimaryValue(t *testing.T) {
	// Mirrors spec scenario 2: two models disagree on last_company.
	outputs := []ModelOutput{
		{Provider: "primary", Name: "jane", LastPosition: "engineer", ExpYears: "5", LastCompany: "acme inc"},
		{Provider: "secondary", Name: "jane", LastPosition: "engineer", ExpYears: "5", LastCompany: "beta corp"},
	}
	rec, warnings := Reconcile(outputs)
	require.Len(t, warnings, 1)
	assert.Equal(t, "disagreement", warnings[0].Type)
	assert.Equal(t, "last_company", warnings[0].Field)
	assert.ElementsMatch(t, []string{"acme inc", "beta corp"}, warnings[0].Candidates)
	assert.Equal(t, "acme inc", rec.LastCompany) // Primary's value retained
	assert.Less(t, rec.FieldConfidence["last_company"], 0.5)
	assert.Equal(t, "high", string(rec.RiskLevel))
}

func TestReconcile_NumericPartialAgreement(t *testing.T) {
	outputs := []ModelOutput{
		{Provider: "primary", Name: "jane", LastPosition: "eng", LastCompany: "acme", ExpYears: "5"},
		{Provider: "secondary", Name: "jane", LastPosition: "eng", LastCompany: "acme", ExpYears: "5.5"},
	}
	rec, warnings := Reconcile(outputs)
	assert.Empty(t, warnings)
	assert.Greater(t, rec.FieldConfidence["exp_years"], 0.5)
	assert.Less(t, rec.FieldConfidence["exp_years"], 1.0)
	assert.InDelta(t, 5.25, rec.ExpYears, 0.01)
}

func TestReconcile_RequiresReviewBelowThreshold(t *testing.T) {
	outputs := []ModelOutput{
		{Provider: "primary", Name: "jane", LastPosition: "eng", LastCompany: "acme", ExpYears: "5"},
		{Provider: "secondary", Name: "jane", LastPosition: "eng", LastCompany: "zeta", ExpYears: "5"},
	}
	rec, _ := Reconcile(outputs)
	assert.True(t, rec.ConfidenceScore < 0.8)
	assert.True(t, rec.RequiresReview)
}

func TestReconcile_SkillsOverlap_HighAgreement(t *testing.T) {
	outputs := []ModelOutput{
		{Provider: "primary", Skills: []string{"go", "sql", "kubernetes"}},
		{Provider: "secondary", Skills: []string{"Go", "SQL", "Kubernetes"}},
	}
	rec, warnings := Reconcile(outputs)
	assert.Empty(t, warnings)
	assert.Equal(t, 1.0, rec.FieldConfidence["skills"])
}

func TestReconcile_SkillsOverlap_LowAgreement(t *testing.T) {
	outputs := []ModelOutput{
		{Provider: "primary", Skills: []string{"go", "sql", "kubernetes"}},
		{Provider: "secondary", Skills: []string{"java", "docker", "aws"}},
	}
	rec, warnings := Reconcile(outputs)
	require.NotEmpty(t, warnings)
	assert.Equal(t, "skills", warnings[0].Field)
	assert.Less(t, rec.FieldConfidence["skills"], 0.5)
}

func TestReconcile_EmptyOutputs(t *testing.T) {
	rec, warnings := Reconcile(nil)
	assert.Empty(t, warnings)
	assert.NotNil(t, rec.FieldConfidence)
}
