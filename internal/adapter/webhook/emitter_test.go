package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumecore/ingestion-core/internal/domain"
)

type fakeWebhookRepo struct {
	failures []domain.WebhookFailure
}

func (f *fakeWebhookRepo) Insert(_ domain.Context, w domain.WebhookFailure) error {
	f.failures = append(f.failures, w)
	return nil
}
func (f *fakeWebhookRepo) DueForRetry(_ domain.Context, _ time.Time, _ int) ([]domain.WebhookFailure, error) {
	return f.failures, nil
}
func (f *fakeWebhookRepo) MarkDelivered(_ domain.Context, _ string) error { return nil }

func TestEmit_SucceedsOnFirstAttempt(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Secret")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &fakeWebhookRepo{}
	e := NewEmitter(repo, 2*time.Second)
	err := e.Emit(context.Background(), srv.URL, "secret", Payload{JobID: "job1", Status: "completed"})
	require.NoError(t, err)
	assert.NotEmpty(t, gotSig)
	assert.Empty(t, repo.failures)
}

func TestEmit_RetriesOnServiceUnavailableThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &fakeWebhookRepo{}
	e := NewEmitter(repo, 2*time.Second)
	err := e.Emit(context.Background(), srv.URL, "secret", Payload{JobID: "job2"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&attempts)), 2)
	assert.Empty(t, repo.failures)
}

func TestEmit_RecordsFailureOnPermanentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	repo := &fakeWebhookRepo{}
	e := NewEmitter(repo, 2*time.Second)
	err := e.Emit(context.Background(), srv.URL, "secret", Payload{JobID: "job3"})
	require.NoError(t, err) // Emit itself doesn't propagate delivery failure, it records it.
	require.Len(t, repo.failures, 1)
	assert.Equal(t, "job3", repo.failures[0].JobID)
}

func TestEmit_RecordsFailureAfterExhaustingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	repo := &fakeWebhookRepo{}
	e := NewEmitter(repo, 2*time.Second)
	e.maxTime = 3 * time.Second
	err := e.Emit(context.Background(), srv.URL, "secret", Payload{JobID: "job4"})
	require.NoError(t, err)
	require.Len(t, repo.failures, 1)
}

func TestSign_IsDeterministicAndKeyed(t *testing.T) {
	body, _ := json.Marshal(Payload{JobID: "x"})
	a := sign(body, "s1")
	b := sign(body, "s1")
	c := sign(body, "s2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
