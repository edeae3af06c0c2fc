// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrRateLimited             = errors.New("rate limited")
	ErrUpstreamTimeout         = errors.New("upstream timeout")
	ErrUpstreamRateLimit       = errors.New("upstream rate limit")
	ErrSchemaInvalid           = errors.New("schema invalid")
	ErrInternal                = errors.New("internal error")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrCircuitOpen             = errors.New("circuit open")
	ErrFileValidation          = errors.New("file validation failed")
)

// TenantPlan enumerates billing tiers.
type TenantPlan string

// Plan values.
const (
	PlanStarter    TenantPlan = "starter"
	PlanPro        TenantPlan = "pro"
	PlanEnterprise TenantPlan = "enterprise"
)

// planBaseCredits maps a plan to its monthly base credit allowance.
// Enterprise is treated as a first-class tier with an unusually high base
// allotment rather than a purely contractual overlay (see DESIGN.md open
// question resolution).
var planBaseCredits = map[TenantPlan]int{
	PlanStarter:    50,
	PlanPro:        500,
	PlanEnterprise: 5000,
}

// BaseCredits returns the monthly credit allowance for a plan.
func BaseCredits(plan TenantPlan) int {
	if c, ok := planBaseCredits[plan]; ok {
		return c
	}
	return planBaseCredits[PlanStarter]
}

// Tenant is the billing and isolation principal (one recruiter account).
//
//go:generate mockery --name=TenantRepository --with-expecter --filename=tenant_repository_mock.go
//go:generate mockery --name=JobRepository --with-expecter --filename=job_repository_mock.go
//go:generate mockery --name=CandidateRepository --with-expecter --filename=candidate_repository_mock.go
//go:generate mockery --name=LedgerRepository --with-expecter --filename=ledger_repository_mock.go
//go:generate mockery --name=WebhookFailureRepository --with-expecter --filename=webhook_failure_repository_mock.go
//go:generate mockery --name=SkillSynonymRepository --with-expecter --filename=skill_synonym_repository_mock.go
//go:generate mockery --name=Queue --with-expecter --filename=queue_mock.go
//go:generate mockery --name=LLMClient --with-expecter --filename=llmclient_mock.go
//go:generate mockery --name=BlobStore --with-expecter --filename=blobstore_mock.go
type Tenant struct {
	ID                    string
	Email                 string
	Plan                  TenantPlan
	BaseCredits           int
	BonusCredits          int
	CreditsUsedThisMonth  int
	BillingCycleStart     time.Time
	OverageEnabled        bool
	OverageLimit          int
	OverageUsedThisMonth  int
	CreatedAt             time.Time
}

// JobStatus captures the lifecycle state of a processing job.
type JobStatus string

// Job status values, mirroring the Worker Pipeline state machine.
const (
	JobQueued     JobStatus = "queued"
	JobParsing    JobStatus = "parsing"
	JobParsed     JobStatus = "parsed"
	JobAnalyzing  JobStatus = "analyzing"
	JobAnalyzed   JobStatus = "analyzed"
	JobPersisting JobStatus = "persisting"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is terminal (no further transitions allowed).
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// AnalysisMode selects how many LLM providers the Cross-Check Analyst runs.
type AnalysisMode string

// Analysis mode values.
const (
	ModePhase1 AnalysisMode = "phase_1"
	ModePhase2 AnalysisMode = "phase_2"
)

// ProcessingJob is created by the Orchestrator and owned exclusively by at
// most one worker at a time, via queue visibility.
type ProcessingJob struct {
	ID             string
	TenantID       string
	CandidateID    string
	FileName       string
	FileType       string
	FileSize       int64
	FilePath       string
	AnalysisMode   AnalysisMode
	Status         JobStatus
	AttemptCount   int
	ErrorCode      string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IdempotencyKey *string
}

// CandidateStatus captures the lifecycle state of a candidate record.
type CandidateStatus string

// Candidate status values.
const (
	CandidateProcessing CandidateStatus = "processing"
	CandidateCompleted  CandidateStatus = "completed"
	CandidateFailed     CandidateStatus = "failed"
)

// RiskLevel is the aggregate risk classification for a candidate extraction.
type RiskLevel string

// Risk level values.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Warning records a cross-check disagreement or other reviewer-facing note.
type Warning struct {
	Type       string   `json:"type"`
	Field      string   `json:"field,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// Career is one entry in a candidate's work history.
type Career struct {
	Company   string `json:"company"`
	Position  string `json:"position"`
	StartDate string `json:"start_date"` // YYYY-MM
	EndDate   string `json:"end_date,omitempty"`
}

// Education is one entry in a candidate's education history.
type Education struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree"`
	Field       string `json:"field"`
	EndDate     string `json:"end_date,omitempty"`
}

// Project is one project entry surfaced on a candidate's resume.
type Project struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Candidate is the extracted, structured record produced by the Worker Pipeline.
type Candidate struct {
	ID              string
	TenantID        string
	Version         int
	ParentID        *string
	IsLatest        bool
	Status          CandidateStatus
	Name            string
	LastPosition    string
	LastCompany     string
	ExpYears        float64
	Skills          []string
	Careers         []Career
	Education       []Education
	Projects        []Project
	Summary         string
	ConfidenceScore float64
	FieldConfidence map[string]float64
	RiskLevel       RiskLevel
	RequiresReview  bool
	Warnings        []Warning

	PhoneEncrypted  []byte
	EmailEncrypted  []byte
	AddressEncrypted []byte
	PhoneHash       string
	EmailHash       string
	PhoneMasked     string
	EmailMasked     string
	AddressMasked   string

	Embedding []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequiredConfidenceFields lists the fields whose field_confidence values
// feed the aggregate confidence_score computation (spec invariant: the
// score is the minimum over required fields).
var RequiredConfidenceFields = []string{"name", "last_company", "last_position", "exp_years", "skills"}

// TxType enumerates credit transaction kinds.
type TxType string

// Transaction type values.
const (
	TxSubscription TxType = "subscription"
	TxUsage        TxType = "usage"
	TxOverage      TxType = "overage"
	TxRefund       TxType = "refund"
	TxAdjustment   TxType = "adjustment"
)

// CreditTransaction is an append-only ledger row.
type CreditTransaction struct {
	ID            string
	TenantID      string
	Type          TxType
	Amount        int
	BalanceAfter  int
	CandidateID   *string
	JobID         *string
	CreatedAt     time.Time
}

// WebhookFailure records a webhook delivery that exhausted its retry budget.
type WebhookFailure struct {
	JobID       string
	Payload     []byte
	Status      string
	Error       string
	RetryCount  int
	NextRetryAt time.Time
}

// SkillSynonym maps a variant skill spelling to its canonical form.
type SkillSynonym struct {
	Canonical string
	Variant   string
}

// Repositories (ports)

// TenantRepository manages tenant rows and credit accounting reads.
type TenantRepository interface {
	Get(ctx Context, id string) (Tenant, error)
	UpdateCreditsUsed(ctx Context, tenantID string, creditsUsedThisMonth int) error
	ResetBillingCycle(ctx Context, tenantID string, newCycleStart time.Time) error
}

// JobRepository manages processing job rows.
type JobRepository interface {
	Create(ctx Context, j ProcessingJob) (string, error)
	UpdateStatus(ctx Context, id string, status JobStatus, errCode, errMsg string) error
	IncrementAttempt(ctx Context, id string) error
	Get(ctx Context, id string) (ProcessingJob, error)
	FindByIdempotencyKey(ctx Context, tenantID, key string) (ProcessingJob, error)
}

// CandidateRepository manages candidate rows, including the quick-extracted
// placeholder written at Submit time and the final committed record.
type CandidateRepository interface {
	Create(ctx Context, c Candidate) (string, error)
	UpdateQuickExtracted(ctx Context, id string, name, phoneMasked, emailMasked, company, position string) error
	Commit(ctx Context, c Candidate) error
	Get(ctx Context, tenantID, id string) (Candidate, error)
}

// LedgerRepository manages append-only credit transactions.
type LedgerRepository interface {
	Insert(ctx Context, tx CreditTransaction) error
	HasUsageTx(ctx Context, candidateID string) (bool, error)
	SumForTenant(ctx Context, tenantID string) (int, error)
}

// WebhookFailureRepository manages the dead-letter sink for webhook messages.
type WebhookFailureRepository interface {
	Insert(ctx Context, f WebhookFailure) error
	DueForRetry(ctx Context, before time.Time, limit int) ([]WebhookFailure, error)
	MarkDelivered(ctx Context, jobID string) error
}

// SkillSynonymRepository resolves skill spellings to their canonical form.
type SkillSynonymRepository interface {
	Canonicalize(ctx Context, variant string) (string, error)
}

// Queue (port)

// Queue is the durable FIFO contract used by the Job Orchestrator and Worker
// Pipeline: enqueue, blocking receive, heartbeat, ack, and nack-with-DLQ.
type Queue interface {
	Enqueue(ctx Context, payload JobMessage, visibilityTimeout time.Duration) error
	Receive(ctx Context) (msg JobMessage, receipt string, deliveryCount int, err error)
	Heartbeat(ctx Context, receipt string) error
	Ack(ctx Context, receipt string) error
	Nack(ctx Context, receipt string, reason string) error
}

// JobMessage is the queue payload: just the job identifier, per spec ("never
// embeds the file content itself").
type JobMessage struct {
	JobID string `json:"job_id"`
}

// LLMClient (port)

// LLMClient abstracts a single LLM provider used for structured extraction
// and embedding.
type LLMClient interface {
	Generate(ctx Context, prompt, schema string) (json string, err error)
	Embed(ctx Context, text string) ([]float32, error)
	Name() string
}

// BlobStore (port)

// BlobStore is the Object Store Gateway capability: presigned uploads,
// authenticated downloads, and deletes.
type BlobStore interface {
	PresignPut(ctx Context, key string, expires time.Duration) (url string, err error)
	Download(ctx Context, key string) ([]byte, error)
	Delete(ctx Context, key string) error
}

// TextExtractor extracts raw text from a file at a path, keyed by its
// original filename (for extension-aware dispatch).
type TextExtractor interface {
	ExtractPath(ctx Context, fileName, path string) (string, error)
}

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context
