// Package crosscheck implements the Cross-Check Analyst's reconciliation
// algorithm as a pure function over normalized per-model outputs, so it is
// testable independent of any LLM.
package crosscheck

import (
	"sort"
	"strconv"
	"strings"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// FieldValue is one model's extracted value for a single field, already
// normalized (trimmed, lowercased identifiers, dates canonicalized to
// YYYY-MM, skills canonicalized via skill_synonyms) by the caller.
type FieldValue struct {
	Provider string
	Value    string
}

// ModelOutput is one LLM provider's full extraction for a document, with
// every field normalized before being passed in.
type ModelOutput struct {
	Provider     string
	Name         string
	LastPosition string
	LastCompany  string
	ExpYears     string
	Skills       []string
	Careers      []domain.Career
	Education    []domain.Education
	Projects     []domain.Project
	Summary      string
}

// Record is the reconciled structured extraction plus its per-field
// confidence, ready to feed ValidationAgent.
type Record struct {
	Name            string
	LastPosition    string
	LastCompany     string
	ExpYears        float64
	Skills          []string
	Careers         []domain.Career
	Education       []domain.Education
	Projects        []domain.Project
	Summary         string
	FieldConfidence map[string]float64
	ConfidenceScore float64
	RiskLevel       domain.RiskLevel
	RequiresReview  bool
}

// scalarFields returns the (field name, per-model value) pairs for the
// fields that participate in simple exact/partial-agreement voting.
func scalarFields(outputs []ModelOutput) map[string][]FieldValue {
	fields := map[string][]FieldValue{
		"name":          {},
		"last_position": {},
		"last_company":  {},
		"exp_years":     {},
		"summary":       {},
	}
	for _, o := range outputs {
		fields["name"] = append(fields["name"], FieldValue{o.Provider, o.Name})
		fields["last_position"] = append(fields["last_position"], FieldValue{o.Provider, o.LastPosition})
		fields["last_company"] = append(fields["last_company"], FieldValue{o.Provider, o.LastCompany})
		fields["exp_years"] = append(fields["exp_years"], FieldValue{o.Provider, o.ExpYears})
		fields["summary"] = append(fields["summary"], FieldValue{o.Provider, o.Summary})
	}
	return fields
}

// Reconcile runs the Cross-Check Analyst's field-by-field voting described
// in the spec: exact agreement among ≥2 models scores 1.0, partial
// agreement scores in [0.5, 0.9], otherwise the Primary's value is kept
// with a low score and a disagreement warning. The first output in
// `outputs` is always treated as Primary.
func Reconcile(outputs []ModelOutput) (Record, []domain.Warning) {
	if len(outputs) == 0 {
		return Record{FieldConfidence: map[string]float64{}}, nil
	}
	primary := outputs[0]

	rec := Record{
		Skills:          primary.Skills,
		Careers:         primary.Careers,
		Education:       primary.Education,
		Projects:        primary.Projects,
		FieldConfidence: map[string]float64{},
	}
	var warnings []domain.Warning

	fields := scalarFields(outputs)
	order := []string{"name", "last_position", "last_company", "exp_years", "summary"}
	for _, field := range order {
		values := fields[field]
		winner, confidence, warn := voteField(field, values, primary.Provider)
		rec.FieldConfidence[field] = confidence
		applyWinner(&rec, field, winner)
		if warn != nil {
			warnings = append(warnings, *warn)
		}
	}

	// Skills get their own set-overlap agreement score (no single "value"
	// to vote on) rather than the string-equality vote above.
	skillsConfidence, skillsWarn := voteSkills(outputs)
	rec.FieldConfidence["skills"] = skillsConfidence
	if skillsWarn != nil {
		warnings = append(warnings, *skillsWarn)
	}

	rec.ConfidenceScore = minRequiredConfidence(rec.FieldConfidence)
	rec.RequiresReview = rec.ConfidenceScore < 0.8
	rec.RiskLevel = classifyRisk(warnings, rec.FieldConfidence)

	return rec, warnings
}

func applyWinner(rec *Record, field, value string) {
	switch field {
	case "name":
		rec.Name = value
	case "last_position":
		rec.LastPosition = value
	case "last_company":
		rec.LastCompany = value
	case "exp_years":
		f, _ := strconv.ParseFloat(value, 64)
		rec.ExpYears = f
	case "summary":
		rec.Summary = value
	}
}

// voteField applies the spec's three-way voting rule to one scalar field.
func voteField(field string, values []FieldValue, primaryProvider string) (winner string, confidence float64, warn *domain.Warning) {
	if len(values) == 0 {
		return "", 0, nil
	}
	if len(values) == 1 {
		return values[0].Value, 1.0, nil
	}

	// Exact agreement: any value shared by ≥2 models wins outright.
	counts := map[string]int{}
	for _, v := range values {
		counts[strings.TrimSpace(v.Value)]++
	}
	for val, n := range counts {
		if n >= 2 {
			return val, 1.0, nil
		}
	}

	// Partial agreement: common prefix of at least 3 bytes covering at least
	// 60% of the shorter value, or (for exp_years-shaped numeric fields)
	// values within 1.0 of each other.
	best := partialAgreement(values)
	if best.ok {
		return best.value, best.confidence, nil
	}

	// No agreement: fall back to Primary's value, low confidence, warn.
	var primaryValue string
	for _, v := range values {
		if v.Provider == primaryProvider {
			primaryValue = v.Value
			break
		}
	}
	if primaryValue == "" {
		primaryValue = values[0].Value
	}
	candidates := make([]string, 0, len(values))
	for _, v := range values {
		candidates = append(candidates, v.Value)
	}
	sort.Strings(candidates)
	return primaryValue, 0.3, &domain.Warning{
		Type:       "disagreement",
		Field:      field,
		Candidates: candidates,
	}
}

type partialResult struct {
	ok         bool
	value      string
	confidence float64
}

func partialAgreement(values []FieldValue) partialResult {
	if n, ok := numericPartialAgreement(values); ok {
		return n
	}
	for i := 0; i < len(values); i++ {
		for j := i + 1; j < len(values); j++ {
			a := strings.TrimSpace(values[i].Value)
			b := strings.TrimSpace(values[j].Value)
			if a == "" || b == "" {
				continue
			}
			prefix := commonPrefixLen(a, b)
			shorter := len(a)
			if len(b) < shorter {
				shorter = len(b)
			}
			if shorter == 0 {
				continue
			}
			ratio := float64(prefix) / float64(shorter)
			if ratio >= 0.6 && prefix >= 3 {
				longer := a
				if len(b) > len(a) {
					longer = b
				}
				// Weight by how much of the longer value the shared prefix
				// actually covers, so "Acme" agreeing with "Acme Inc" (a
				// strict prefix but a materially different string) scores
				// lower than two near-identical spellings.
				lengthRatio := float64(shorter) / float64(len(longer))
				confidence := 0.5 + 0.4*ratio*lengthRatio
				if confidence > 0.9 {
					confidence = 0.9
				}
				return partialResult{true, longer, confidence}
			}
		}
	}
	return partialResult{}
}

func numericPartialAgreement(values []FieldValue) (partialResult, bool) {
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
		if err != nil {
			return partialResult{}, false
		}
		nums = append(nums, f)
	}
	if len(nums) < 2 {
		return partialResult{}, false
	}
	maxDiff := 0.0
	sum := 0.0
	for i, a := range nums {
		sum += a
		for _, b := range nums[i+1:] {
			d := a - b
			if d < 0 {
				d = -d
			}
			if d > maxDiff {
				maxDiff = d
			}
		}
	}
	if maxDiff == 0 {
		return partialResult{true, strconv.FormatFloat(nums[0], 'f', -1, 64), 1.0}, true
	}
	if maxDiff <= 1.0 {
		avg := sum / float64(len(nums))
		confidence := 0.9 - maxDiff*0.3
		if confidence < 0.5 {
			confidence = 0.5
		}
		return partialResult{true, strconv.FormatFloat(avg, 'f', -1, 64), confidence}, true
	}
	return partialResult{}, false
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func voteSkills(outputs []ModelOutput) (float64, *domain.Warning) {
	if len(outputs) <= 1 {
		return 1.0, nil
	}
	sets := make([]map[string]bool, len(outputs))
	for i, o := range outputs {
		sets[i] = map[string]bool{}
		for _, s := range o.Skills {
			sets[i][strings.ToLower(strings.TrimSpace(s))] = true
		}
	}
	union := map[string]bool{}
	intersection := map[string]bool{}
	for k := range sets[0] {
		intersection[k] = true
	}
	for _, s := range sets {
		for k := range s {
			union[k] = true
		}
		for k := range intersection {
			if !s[k] {
				delete(intersection, k)
			}
		}
	}
	if len(union) == 0 {
		return 1.0, nil
	}
	overlap := float64(len(intersection)) / float64(len(union))
	switch {
	case overlap >= 0.95:
		return 1.0, nil
	case overlap >= 0.5:
		return 0.5 + overlap*0.4, nil
	default:
		diffs := make([]string, 0)
		for k := range union {
			if !intersection[k] {
				diffs = append(diffs, k)
			}
		}
		sort.Strings(diffs)
		return 0.3, &domain.Warning{
			Type:       "disagreement",
			Field:      "skills",
			Candidates: diffs,
		}
	}
}

// MinRequiredConfidence exposes the same aggregate computed during Reconcile
// so the GapFiller stage can recompute ConfidenceScore after patching fields
// it filled in outside of the normal voting path.
func MinRequiredConfidence(fieldConfidence map[string]float64) float64 {
	return minRequiredConfidence(fieldConfidence)
}

func minRequiredConfidence(fieldConfidence map[string]float64) float64 {
	min := 1.0
	found := false
	for _, field := range domain.RequiredConfidenceFields {
		c, ok := fieldConfidence[field]
		if !ok {
			continue
		}
		found = true
		if c < min {
			min = c
		}
	}
	if !found {
		return 0
	}
	return min
}

func classifyRisk(warnings []domain.Warning, fieldConfidence map[string]float64) domain.RiskLevel {
	for _, w := range warnings {
		if w.Type == "disagreement" {
			return domain.RiskHigh
		}
	}
	for _, c := range fieldConfidence {
		if c < 0.8 {
			return domain.RiskMedium
		}
	}
	return domain.RiskLow
}
