package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumecore/ingestion-core/internal/domain"
	"github.com/resumecore/ingestion-core/internal/usecase/ledger"
)

type fakeJobs struct {
	jobs    map[string]domain.ProcessingJob
	byIdem  map[string]string
	nextID  int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]domain.ProcessingJob{}, byIdem: map[string]string{}}
}

func (f *fakeJobs) Create(_ domain.Context, j domain.ProcessingJob) (string, error) {
	f.nextID++
	id := "job-" + string(rune('0'+f.nextID))
	j.ID = id
	f.jobs[id] = j
	if j.IdempotencyKey != nil {
		f.byIdem[j.TenantID+"|"+*j.IdempotencyKey] = id
	}
	return id, nil
}
func (f *fakeJobs) UpdateStatus(_ domain.Context, id string, status domain.JobStatus, errCode, errMsg string) error {
	j := f.jobs[id]
	j.Status = status
	j.ErrorCode = errCode
	j.ErrorMessage = errMsg
	f.jobs[id] = j
	return nil
}
func (f *fakeJobs) IncrementAttempt(_ domain.Context, id string) error {
	j := f.jobs[id]
	j.AttemptCount++
	f.jobs[id] = j
	return nil
}
func (f *fakeJobs) Get(_ domain.Context, id string) (domain.ProcessingJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return domain.ProcessingJob{}, domain.ErrNotFound
	}
	return j, nil
}
func (f *fakeJobs) FindByIdempotencyKey(_ domain.Context, tenantID, key string) (domain.ProcessingJob, error) {
	id, ok := f.byIdem[tenantID+"|"+key]
	if !ok {
		return domain.ProcessingJob{}, domain.ErrNotFound
	}
	return f.jobs[id], nil
}

type fakeCandidates struct {
	created []domain.Candidate
}

func (f *fakeCandidates) Create(_ domain.Context, c domain.Candidate) (string, error) {
	f.created = append(f.created, c)
	return c.ID, nil
}
func (f *fakeCandidates) UpdateQuickExtracted(_ domain.Context, _ string, _, _, _, _, _ string) error {
	return nil
}
func (f *fakeCandidates) Commit(_ domain.Context, _ domain.Candidate) error { return nil }
func (f *fakeCandidates) Get(_ domain.Context, _, _ string) (domain.Candidate, error) {
	return domain.Candidate{}, nil
}

type fakeQueue struct {
	enqueued []domain.JobMessage
	failNext bool
}

func (f *fakeQueue) Enqueue(_ domain.Context, payload domain.JobMessage, _ time.Duration) error {
	if f.failNext {
		return domain.ErrInternal
	}
	f.enqueued = append(f.enqueued, payload)
	return nil
}
func (f *fakeQueue) Receive(_ domain.Context) (domain.JobMessage, string, int, error) {
	return domain.JobMessage{}, "", 0, nil
}
func (f *fakeQueue) Heartbeat(_ domain.Context, _ string) error  { return nil }
func (f *fakeQueue) Ack(_ domain.Context, _ string) error        { return nil }
func (f *fakeQueue) Nack(_ domain.Context, _ string, _ string) error { return nil }

type fakeTenants struct{ tenant domain.Tenant }

func (f *fakeTenants) Get(_ domain.Context, _ string) (domain.Tenant, error) { return f.tenant, nil }
func (f *fakeTenants) UpdateCreditsUsed(_ domain.Context, _ string, used int) error {
	f.tenant.CreditsUsedThisMonth = used
	return nil
}
func (f *fakeTenants) ResetBillingCycle(_ domain.Context, _ string, next time.Time) error {
	f.tenant.BillingCycleStart = next
	return nil
}

type fakeLedger struct{ usage map[string]bool }

func newFakeLedger() *fakeLedger { return &fakeLedger{usage: map[string]bool{}} }
func (f *fakeLedger) Insert(_ domain.Context, tx domain.CreditTransaction) error {
	if tx.Type == domain.TxUsage && tx.CandidateID != nil {
		f.usage[*tx.CandidateID] = true
	}
	return nil
}
func (f *fakeLedger) HasUsageTx(_ domain.Context, candidateID string) (bool, error) {
	return f.usage[candidateID], nil
}
func (f *fakeLedger) SumForTenant(_ domain.Context, _ string) (int, error) { return 0, nil }

func newService(remaining int) (*Service, *fakeJobs, *fakeQueue) {
	jobs := newFakeJobs()
	cands := &fakeCandidates{}
	q := &fakeQueue{}
	tenants := &fakeTenants{tenant: domain.Tenant{ID: "t1", Plan: domain.PlanStarter, BaseCredits: 50, CreditsUsedThisMonth: 50 - remaining}}
	led := ledger.NewService(tenants, newFakeLedger())
	return NewService(jobs, cands, q, led), jobs, q
}

func TestSubmit_CreatesJobAndEnqueues(t *testing.T) {
	svc, jobs, q := newService(5)
	res, err := svc.Submit(context.Background(), "t1", "resume.pdf", "pdf", 1024, "uploads/t1/job.pdf", domain.ModePhase1, "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)
	assert.NotEmpty(t, res.CandidateID)
	assert.Len(t, q.enqueued, 1)
	assert.Equal(t, domain.JobQueued, jobs.jobs[res.JobID].Status)
}

func TestSubmit_RejectsWhenNoCreditsRemain(t *testing.T) {
	svc, _, _ := newService(0)
	_, err := svc.Submit(context.Background(), "t1", "resume.pdf", "pdf", 1024, "uploads/t1/job.pdf", domain.ModePhase1, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
}

func TestSubmit_IdempotentResubmissionReturnsSameJob(t *testing.T) {
	svc, _, q := newService(5)
	ctx := context.Background()
	res1, err := svc.Submit(ctx, "t1", "resume.pdf", "pdf", 1024, "uploads/t1/job.pdf", domain.ModePhase1, "idem-1")
	require.NoError(t, err)

	res2, err := svc.Submit(ctx, "t1", "resume.pdf", "pdf", 1024, "uploads/t1/job.pdf", domain.ModePhase1, "idem-1")
	require.NoError(t, err)

	assert.Equal(t, res1.JobID, res2.JobID)
	assert.Len(t, q.enqueued, 1)
}

func TestSubmit_MarksJobFailedWhenEnqueueFails(t *testing.T) {
	svc, jobs, q := newService(5)
	q.failNext = true
	_, err := svc.Submit(context.Background(), "t1", "resume.pdf", "pdf", 1024, "uploads/t1/job.pdf", domain.ModePhase1, "")
	require.Error(t, err)
	for _, j := range jobs.jobs {
		assert.Equal(t, domain.JobFailed, j.Status)
	}
}

func TestRetry_ReEnqueuesFailedJob(t *testing.T) {
	svc, jobs, q := newService(5)
	ctx := context.Background()
	res, err := svc.Submit(ctx, "t1", "resume.pdf", "pdf", 1024, "uploads/t1/job.pdf", domain.ModePhase1, "")
	require.NoError(t, err)
	require.NoError(t, jobs.UpdateStatus(ctx, res.JobID, domain.JobFailed, "upstream_timeout", "boom"))

	err = svc.Retry(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, jobs.jobs[res.JobID].Status)
	assert.Equal(t, 1, jobs.jobs[res.JobID].AttemptCount)
	assert.Len(t, q.enqueued, 2)
}

func TestRetry_RejectsNonFailedJob(t *testing.T) {
	svc, _, _ := newService(5)
	ctx := context.Background()
	res, err := svc.Submit(ctx, "t1", "resume.pdf", "pdf", 1024, "uploads/t1/job.pdf", domain.ModePhase1, "")
	require.NoError(t, err)

	err = svc.Retry(ctx, res.JobID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
}
