// Package pipeline implements the Worker Pipeline: the single-writer state
// machine that takes a queued ProcessingJob through parsing, cross-check
// extraction, validation, privacy, embedding, and persistence.
//
// Grounded on the staged-function shape of the teacher's
// internal/adapter/queue/shared evaluate handler (one function per stage,
// explicit job.UpdateStatus calls bracketing each stage, slog at entry/exit)
// but generalized to the nine named stages of the resume-ingestion state
// machine instead of a fixed two-call evaluate flow.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/resumecore/ingestion-core/internal/adapter/ai"
	"github.com/resumecore/ingestion-core/internal/adapter/crypto"
	qdrantcli "github.com/resumecore/ingestion-core/internal/adapter/vector/qdrant"
	"github.com/resumecore/ingestion-core/internal/adapter/observability"
	"github.com/resumecore/ingestion-core/internal/adapter/webhook"
	"github.com/resumecore/ingestion-core/internal/config"
	"github.com/resumecore/ingestion-core/internal/domain"
	"github.com/resumecore/ingestion-core/internal/pipeline/crosscheck"
	"github.com/resumecore/ingestion-core/internal/usecase/ledger"
)

// candidatesCollection mirrors internal/app.CandidatesCollection; the
// pipeline deliberately doesn't import internal/app (the composition root)
// to keep the dependency direction one-way.
const candidatesCollection = "candidates"

// Error codes recorded on ProcessingJob.ErrorCode for fatal stage failures.
const (
	ErrCodeParseFailed     = "ParseFailed"
	ErrCodeTextTooShort    = "TextTooShort"
	ErrCodeMultiplePersons = "MultiplePersons"
	ErrCodeAnalysisFailed  = "AnalysisFailed"
	ErrCodeCryptoFailure   = "CryptoFailure"
	ErrCodePersistFailed   = "PersistFailed"
	ErrCodeNotAResume      = "NotAResume"
)

// classifierSchema is the JSON shape asked of the DocumentClassifier's LLM
// call (Stage 2.5): a single boolean verdict plus the classifier's own
// confidence, so a low-confidence "not a resume" call can still be let
// through to Cross-Check rather than rejected outright.
const classifierSchema = `{"is_resume":"boolean","confidence":"number"}`

type classifierResult struct {
	IsResume   bool    `json:"is_resume"`
	Confidence float64 `json:"confidence"`
}

const minRawTextLength = 40

// scoreDriftCorpusVersion identifies the skill-synonym corpus that
// crosscheck.Reconcile normalizes skills against, so ScoreDriftMonitor keeps
// separate drift windows per corpus revision.
const scoreDriftCorpusVersion = "skills-v1"

// errTextTooShort is returned by parse when extraction succeeds but yields
// too little text to analyze; Run maps it to ErrCodeTextTooShort instead of
// the generic ErrCodeParseFailed.
var errTextTooShort = errors.New("extracted text too short")

// Pipeline wires every adapter the Worker Pipeline stages need.
type Pipeline struct {
	Jobs       domain.JobRepository
	Candidates domain.CandidateRepository
	Blobs      domain.BlobStore
	Extractor  domain.TextExtractor
	Skills     domain.SkillSynonymRepository
	Ledger     *ledger.Service
	Privacy    *crypto.PrivacyAgent
	Vector     *qdrantcli.Client
	Webhooks   *webhook.Emitter
	LLMs       ai.Manager
	Cfg        config.Config
}

// extractionSchema is the JSON shape every LLM provider is asked to return.
const extractionSchema = `{"name":"string","last_position":"string","last_company":"string","exp_years":"number","skills":["string"],"careers":[{"company":"string","position":"string","start_date":"YYYY-MM","end_date":"YYYY-MM"}],"education":[{"institution":"string","degree":"string","field":"string","end_date":"YYYY-MM"}],"projects":[{"name":"string","description":"string"}],"summary":"string","phone":"string","email":"string","address":"string"}`

type extractionResult struct {
	Name         string             `json:"name"`
	LastPosition string             `json:"last_position"`
	LastCompany  string             `json:"last_company"`
	ExpYears     float64            `json:"exp_years"`
	Skills       []string           `json:"skills"`
	Careers      []domain.Career    `json:"careers"`
	Education    []domain.Education `json:"education"`
	Projects     []domain.Project   `json:"projects"`
	Summary      string             `json:"summary"`
	Phone        string             `json:"phone"`
	Email        string             `json:"email"`
	Address      string             `json:"address"`
}

// Run drives job through every Worker Pipeline stage, persisting status
// transitions as it goes. On entry only a terminal status (completed or
// failed) is checked, and such a re-delivery is skipped; a job found in an
// intermediate status runs again from the first stage.
func (p *Pipeline) Run(ctx domain.Context, jobID string) error {
	start := time.Now()
	job, err := p.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=pipeline.Run get job: %w", err)
	}
	if job.Status.Terminal() {
		slog.Info("job already terminal, skipping re-delivery", slog.String("job_id", jobID), slog.String("status", string(job.Status)))
		return nil
	}

	observability.StartProcessingJob("resume_ingestion")

	rawText, err := p.parse(ctx, job)
	if err != nil {
		code := ErrCodeParseFailed
		if errors.Is(err, errTextTooShort) {
			code = ErrCodeTextTooShort
		}
		return p.fail(ctx, job, code, err)
	}
	if err := p.identityCheck(rawText); err != nil {
		return p.fail(ctx, job, ErrCodeMultiplePersons, err)
	}
	if err := p.Jobs.UpdateStatus(ctx, job.ID, domain.JobParsed, "", ""); err != nil {
		return fmt.Errorf("op=pipeline.Run mark parsed: %w", err)
	}

	if p.Cfg.UseDocumentClassifier {
		if err := p.classifyDocument(ctx, rawText); err != nil {
			return p.fail(ctx, job, ErrCodeNotAResume, err)
		}
	}

	primary, outputs, err := p.extract(ctx, job, rawText)
	if err != nil {
		return p.fail(ctx, job, ErrCodeAnalysisFailed, err)
	}
	maskedPhone, maskedEmail := crypto.MaskPhone(primary.Phone), crypto.MaskEmail(primary.Email)
	if err := p.Candidates.UpdateQuickExtracted(ctx, job.CandidateID,
		primary.Name, maskedPhone, maskedEmail,
		primary.LastCompany, primary.LastPosition); err != nil {
		slog.Warn("quick-extracted update failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	p.notify(ctx, job, "parsed", &webhook.Result{
		CandidateID: job.CandidateID,
		QuickData: &webhook.QuickData{
			Name:     primary.Name,
			Phone:    maskedPhone,
			Email:    maskedEmail,
			Company:  primary.LastCompany,
			Position: primary.LastPosition,
		},
	}, "")

	record, warnings := crosscheck.Reconcile(outputs)
	p.applyGatedStages(ctx, job, rawText, &record)

	if err := p.Jobs.UpdateStatus(ctx, job.ID, domain.JobAnalyzed, "", ""); err != nil {
		return fmt.Errorf("op=pipeline.Run mark analyzed: %w", err)
	}
	observability.ObserveConfidence(string(job.AnalysisMode), record.ConfidenceScore)
	observability.UpdateBaselineScore("confidence_score", p.Cfg.PrimaryLLMModel, scoreDriftCorpusVersion, p.Cfg.CoverageThreshold)
	observability.RecordScoreDriftValue("confidence_score", p.Cfg.PrimaryLLMModel, scoreDriftCorpusVersion, record.ConfidenceScore)
	confidence := record.ConfidenceScore
	p.notify(ctx, job, "analyzed", &webhook.Result{
		CandidateID:     job.CandidateID,
		ConfidenceScore: &confidence,
	}, "")

	candidate, err := p.privacy(job, primary, record, warnings)
	if err != nil {
		return p.fail(ctx, job, ErrCodeCryptoFailure, err)
	}

	if vec, err := p.LLMs.Embedding.Embed(ctx, rawText); err != nil {
		observability.RecordVectorSearchError(candidatesCollection, "embed_failure")
		slog.Warn("embedding failed, persisting without vector", slog.String("job_id", job.ID), slog.Any("error", err))
	} else {
		candidate.Embedding = vec
	}

	if err := p.Jobs.UpdateStatus(ctx, job.ID, domain.JobPersisting, "", ""); err != nil {
		return fmt.Errorf("op=pipeline.Run mark persisting: %w", err)
	}
	if err := p.persist(ctx, job, candidate); err != nil {
		return p.fail(ctx, job, ErrCodePersistFailed, err)
	}

	if err := p.Jobs.UpdateStatus(ctx, job.ID, domain.JobCompleted, "", ""); err != nil {
		return fmt.Errorf("op=pipeline.Run mark completed: %w", err)
	}
	if err := p.Ledger.CommitUsage(ctx, job.TenantID, job.ID, job.CandidateID); err != nil {
		slog.Warn("credit usage commit failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	observability.CompleteJob("resume_ingestion")
	p.notify(ctx, job, "completed", &webhook.Result{
		CandidateID:      candidate.ID,
		ConfidenceScore:  &confidence,
		PIICount:         piiCount(candidate),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}, "")
	return nil
}

// piiCount counts the PII fields Stage 7 PrivacyAgent encrypted for this
// candidate (phone, email, address), reported to webhook subscribers.
func piiCount(c domain.Candidate) int {
	n := 0
	if len(c.PhoneEncrypted) > 0 {
		n++
	}
	if len(c.EmailEncrypted) > 0 {
		n++
	}
	if len(c.AddressEncrypted) > 0 {
		n++
	}
	return n
}

// fail transitions job to failed with errCode/cause and emits the failed
// webhook; it always returns a non-nil error for the caller (queue
// consumer) to Nack against.
func (p *Pipeline) fail(ctx domain.Context, job domain.ProcessingJob, errCode string, cause error) error {
	observability.FailJob("resume_ingestion")
	observability.RecordJobFailureByCode("resume_ingestion", errCode)
	if err := p.Jobs.UpdateStatus(ctx, job.ID, domain.JobFailed, errCode, cause.Error()); err != nil {
		slog.Error("failed to record job failure", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	p.notify(ctx, job, "failed", nil, cause.Error())
	return fmt.Errorf("op=pipeline.Run stage=%s: %w", errCode, cause)
}

// notify emits a signed webhook for one of the four terminal-phase
// transitions (parsed, analyzed, completed, failed). Per the webhook
// ordering invariant, parsed and analyzed fire in strict sequence and
// completed only follows a full traversal; failed can short-circuit the
// sequence at any stage, matching the parse-failure worked example where a
// failed webhook fires with neither parsed nor analyzed ever sent.
func (p *Pipeline) notify(ctx domain.Context, job domain.ProcessingJob, phase string, result *webhook.Result, errMsg string) {
	if p.Webhooks == nil || p.Cfg.WebhookURL == "" {
		return
	}
	payload := webhook.Payload{
		JobID:     job.ID,
		Status:    phase,
		Phase:     phase,
		TenantID:  job.TenantID,
		Result:    result,
		Error:     errMsg,
		Timestamp: time.Now(),
	}
	if err := p.Webhooks.Emit(ctx, p.Cfg.WebhookURL, p.Cfg.WebhookSecret, payload); err != nil {
		slog.Warn("webhook emit failed", slog.String("job_id", job.ID), slog.String("phase", phase), slog.Any("error", err))
	}
}

// parse downloads the uploaded file and extracts raw text via Tika
// (Stage 1 Router + Stage 2 Parser collapsed: file_type dispatch happens
// inside the TextExtractor by file extension).
func (p *Pipeline) parse(ctx domain.Context, job domain.ProcessingJob) (string, error) {
	data, err := p.Blobs.Download(ctx, job.FilePath)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}

	tmp, err := os.CreateTemp("", "ingestion-*-"+sanitizeExt(job.FileName))
	if err != nil {
		return "", fmt.Errorf("tempfile: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("write tempfile: %w", err)
	}

	text, err := p.Extractor.ExtractPath(ctx, job.FileName, tmp.Name())
	if err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}
	if len(strings.TrimSpace(text)) < minRawTextLength {
		return "", fmt.Errorf("%w: got %d chars", errTextTooShort, len(text))
	}
	return text, nil
}

func sanitizeExt(fileName string) string {
	i := strings.LastIndex(fileName, ".")
	if i < 0 {
		return ""
	}
	ext := fileName[i:]
	if len(ext) > 10 {
		return ""
	}
	return ext
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// identityCheck is a heuristic Stage 3 IdentityChecker: a single-person
// resume normally carries one contact email. Three or more distinct
// addresses are treated as evidence of a multi-person document (e.g., a
// reference sheet or a merged batch of resumes) rather than one candidate.
func (p *Pipeline) identityCheck(rawText string) error {
	seen := map[string]struct{}{}
	for _, m := range emailPattern.FindAllString(rawText, -1) {
		seen[strings.ToLower(m)] = struct{}{}
	}
	if len(seen) >= 3 {
		return fmt.Errorf("document references %d distinct email addresses", len(seen))
	}
	return nil
}

// classifyDocument runs the gated Stage 2.5 DocumentClassifier: a single
// cheap LLM call (Primary provider only, no cross-check voting) asked
// whether the parsed text is a resume at all, so obviously-wrong uploads
// (cover letters, invoices, contracts) are rejected before the more
// expensive Cross-Check Analyst stage runs.
func (p *Pipeline) classifyDocument(ctx domain.Context, rawText string) error {
	providers := p.LLMs.Providers()
	if len(providers) == 0 {
		return nil
	}
	raw, err := providers[0].Generate(ctx, rawText, classifierSchema)
	if err != nil {
		slog.Warn("document classifier call failed, letting document through", slog.Any("error", err))
		return nil
	}
	var verdict classifierResult
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		slog.Warn("document classifier response unparsable, letting document through", slog.Any("error", err))
		return nil
	}
	if !verdict.IsResume {
		return fmt.Errorf("document classified as not a resume (confidence %.2f)", verdict.Confidence)
	}
	return nil
}

// extract runs Stage 4 Cross-Check Analyst: the provider set chosen by
// analysis_mode, each asked for the same JSON schema, normalized, and
// returned alongside the Primary's raw extraction (used for the
// quick-extracted checkpoint).
func (p *Pipeline) extract(ctx domain.Context, job domain.ProcessingJob, rawText string) (extractionResult, []crosscheck.ModelOutput, error) {
	providers := p.LLMs.Providers()
	if len(providers) == 0 {
		return extractionResult{}, nil, errors.New("no LLM providers configured")
	}
	if job.AnalysisMode == domain.ModePhase1 && len(providers) > 1 {
		providers = providers[:1]
	}

	var (
		outputs []crosscheck.ModelOutput
		primary extractionResult
	)
	for i, provider := range providers {
		raw, err := provider.Generate(ctx, rawText, extractionSchema)
		if err != nil {
			slog.Warn("provider extraction failed", slog.String("provider", provider.Name()), slog.Any("error", err))
			continue
		}
		parsed, err := parseExtraction(raw)
		if err != nil {
			slog.Warn("provider extraction unparsable", slog.String("provider", provider.Name()), slog.Any("error", err))
			continue
		}
		if i == 0 {
			primary = parsed
		}
		outputs = append(outputs, p.normalize(ctx, provider.Name(), parsed))
	}
	if len(outputs) == 0 {
		return extractionResult{}, nil, errors.New("every configured provider failed extraction")
	}
	return primary, outputs, nil
}

func parseExtraction(raw string) (extractionResult, error) {
	var r extractionResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return extractionResult{}, fmt.Errorf("unmarshal extraction JSON: %w", err)
	}
	return r, nil
}

// normalize trims whitespace and canonicalizes skill spellings via the
// skill_synonyms table, per spec.md §4.2's cross-check normalization step.
func (p *Pipeline) normalize(ctx domain.Context, provider string, r extractionResult) crosscheck.ModelOutput {
	skills := make([]string, 0, len(r.Skills))
	for _, s := range r.Skills {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if p.Skills != nil {
			if canon, err := p.Skills.Canonicalize(ctx, s); err == nil && canon != "" {
				s = canon
			}
		}
		skills = append(skills, s)
	}
	return crosscheck.ModelOutput{
		Provider:     provider,
		Name:         strings.TrimSpace(r.Name),
		LastPosition: strings.TrimSpace(r.LastPosition),
		LastCompany:  strings.TrimSpace(r.LastCompany),
		ExpYears:     fmt.Sprintf("%g", r.ExpYears),
		Skills:       skills,
		Careers:      r.Careers,
		Education:    r.Education,
		Projects:     r.Projects,
		Summary:      strings.TrimSpace(r.Summary),
	}
}

// applyGatedStages runs the optional Stage 6 CoverageCalculator and, when
// coverage falls short, the optional Stage 6.5 GapFiller. Coverage is the
// fraction of domain.RequiredConfidenceFields present with field_confidence
// > 0.
func (p *Pipeline) applyGatedStages(ctx domain.Context, job domain.ProcessingJob, rawText string, record *crosscheck.Record) {
	if !p.Cfg.UseCoverageCalculator {
		return
	}
	if coverage(record) >= p.Cfg.CoverageThreshold {
		return
	}
	record.RequiresReview = true

	if p.Cfg.UseGapFiller {
		p.gapFill(ctx, job, rawText, record)
	}
}

func coverage(record *crosscheck.Record) float64 {
	present := 0
	for _, f := range domain.RequiredConfidenceFields {
		if record.FieldConfidence[f] > 0 {
			present++
		}
	}
	return float64(present) / float64(len(domain.RequiredConfidenceFields))
}

// gapFill runs Stage 6.5: for each required field CoverageCalculator found
// missing, ask the Primary provider directly for just that field, up to
// GapFillerMaxRetries attempts, adopting whatever values come back as
// low-confidence fills (field_confidence 0.6, still below the 0.8
// requires_review threshold since a gap-filled value was never cross-checked
// against a second model).
func (p *Pipeline) gapFill(ctx domain.Context, job domain.ProcessingJob, rawText string, record *crosscheck.Record) {
	providers := p.LLMs.Providers()
	if len(providers) == 0 {
		return
	}
	provider := providers[0]

	for attempt := 0; attempt < p.Cfg.GapFillerMaxRetries; attempt++ {
		missing := missingFields(record)
		if len(missing) == 0 {
			break
		}
		raw, err := provider.Generate(ctx, rawText, gapFillerSchema(missing))
		if err != nil {
			slog.Warn("gap filler call failed", slog.String("job_id", job.ID), slog.Int("attempt", attempt+1), slog.Any("error", err))
			continue
		}
		var filled map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &filled); err != nil {
			slog.Warn("gap filler response unparsable", slog.String("job_id", job.ID), slog.Int("attempt", attempt+1), slog.Any("error", err))
			continue
		}
		for _, field := range missing {
			v, ok := filled[field]
			if !ok {
				continue
			}
			if applyGapFillField(record, field, v) {
				record.FieldConfidence[field] = 0.6
			}
		}
	}
	record.ConfidenceScore = crosscheck.MinRequiredConfidence(record.FieldConfidence)
}

// missingFields reports which required fields the reconciled record has no
// actual value for, the condition Stage 6.5 exists to repair (as opposed to
// low field_confidence, which means the value is present but disputed).
func missingFields(record *crosscheck.Record) []string {
	var missing []string
	for _, f := range domain.RequiredConfidenceFields {
		if fieldEmpty(record, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func fieldEmpty(record *crosscheck.Record, field string) bool {
	switch field {
	case "name":
		return record.Name == ""
	case "last_company":
		return record.LastCompany == ""
	case "last_position":
		return record.LastPosition == ""
	case "exp_years":
		return record.ExpYears == 0
	case "skills":
		return len(record.Skills) == 0
	default:
		return false
	}
}

func gapFillerSchema(fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case "exp_years":
			parts = append(parts, `"exp_years":"number"`)
		case "skills":
			parts = append(parts, `"skills":["string"]`)
		default:
			parts = append(parts, fmt.Sprintf(`%q:"string"`, f))
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func applyGapFillField(record *crosscheck.Record, field string, raw json.RawMessage) bool {
	switch field {
	case "name":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return false
		}
		record.Name = s
	case "last_company":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return false
		}
		record.LastCompany = s
	case "last_position":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return false
		}
		record.LastPosition = s
	case "exp_years":
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return false
		}
		record.ExpYears = f
	case "skills":
		var skills []string
		if err := json.Unmarshal(raw, &skills); err != nil || len(skills) == 0 {
			return false
		}
		record.Skills = skills
	default:
		return false
	}
	return true
}

// privacy runs Stage 7 PrivacyAgent: encrypts PII with the per-tenant AEAD
// key, hashes it for deduplication, masks it for API display, and builds
// the Candidate ready for Stage 9 Persist.
func (p *Pipeline) privacy(job domain.ProcessingJob, primary extractionResult, record crosscheck.Record, warnings []domain.Warning) (domain.Candidate, error) {
	c := domain.Candidate{
		ID:              job.CandidateID,
		TenantID:        job.TenantID,
		Version:         1,
		IsLatest:        true,
		Status:          domain.CandidateCompleted,
		Name:            record.Name,
		LastPosition:    record.LastPosition,
		LastCompany:     record.LastCompany,
		ExpYears:        record.ExpYears,
		Skills:          record.Skills,
		Careers:         record.Careers,
		Education:       record.Education,
		Projects:        record.Projects,
		Summary:         record.Summary,
		ConfidenceScore: record.ConfidenceScore,
		FieldConfidence: record.FieldConfidence,
		RiskLevel:       record.RiskLevel,
		RequiresReview:  record.RequiresReview,
		Warnings:        warnings,
	}

	if primary.Phone != "" {
		enc, err := p.Privacy.Encrypt(primary.Phone)
		if err != nil {
			return domain.Candidate{}, fmt.Errorf("encrypt phone: %w", err)
		}
		c.PhoneEncrypted = enc
		c.PhoneHash = p.Privacy.HashPhone(primary.Phone)
		c.PhoneMasked = crypto.MaskPhone(primary.Phone)
	}
	if primary.Email != "" {
		enc, err := p.Privacy.Encrypt(primary.Email)
		if err != nil {
			return domain.Candidate{}, fmt.Errorf("encrypt email: %w", err)
		}
		c.EmailEncrypted = enc
		c.EmailHash = p.Privacy.HashEmail(primary.Email)
		c.EmailMasked = crypto.MaskEmail(primary.Email)
	}
	if primary.Address != "" {
		enc, err := p.Privacy.Encrypt(primary.Address)
		if err != nil {
			return domain.Candidate{}, fmt.Errorf("encrypt address: %w", err)
		}
		c.AddressEncrypted = enc
		c.AddressMasked = crypto.MaskAddress(primary.Address)
	}
	return c, nil
}

// persist runs Stage 9: commit the reconciled Candidate row and, when a
// vector was produced, upsert it into the tenant-payload-filtered
// candidates collection.
func (p *Pipeline) persist(ctx domain.Context, job domain.ProcessingJob, candidate domain.Candidate) error {
	if err := p.Candidates.Commit(ctx, candidate); err != nil {
		return fmt.Errorf("commit candidate: %w", err)
	}
	if p.Vector == nil || len(candidate.Embedding) == 0 {
		return nil
	}
	payload := map[string]any{
		"tenant_id":    job.TenantID,
		"candidate_id": candidate.ID,
	}
	if err := p.Vector.UpsertPoints(ctx, candidatesCollection, [][]float32{candidate.Embedding}, []map[string]any{payload}, []any{candidate.ID}); err != nil {
		observability.RecordVectorSearchError(candidatesCollection, "upsert_failure")
		slog.Warn("vector upsert failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	return nil
}
