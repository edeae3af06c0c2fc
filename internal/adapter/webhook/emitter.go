// Package webhook implements the Webhook Emitter: signed outbound HTTP
// delivery of job-completion notifications, retried with capped exponential
// backoff and spilled to a dead-letter repository on exhaustion.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// Payload is the JSON body POSTed to the tenant's configured webhook URL for
// each terminal-phase transition (parsed, analyzed, completed, failed).
type Payload struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Phase     string    `json:"phase,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Result carries whatever processing detail is known at the phase a webhook
// fires for; fields beyond CandidateID are optional because earlier phases
// don't have them yet.
type Result struct {
	CandidateID      string     `json:"candidate_id"`
	ConfidenceScore  *float64   `json:"confidence_score,omitempty"`
	ChunkCount       int        `json:"chunk_count,omitempty"`
	PIICount         int        `json:"pii_count,omitempty"`
	ProcessingTimeMS int64      `json:"processing_time_ms,omitempty"`
	QuickData        *QuickData `json:"quick_data,omitempty"`
}

// QuickData is the minimal subset available right after Stage 2 Parser
// (name, phone, email, last company/position), carried by the "parsed"
// webhook so the UI can render before Cross-Check Analyst finishes.
type QuickData struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Company  string `json:"company,omitempty"`
	Position string `json:"position,omitempty"`
}

// Emitter delivers job-lifecycle events to a tenant's webhook endpoint,
// signing each body with HMAC-SHA256 the way arkeep signs its outbound
// notifications, and recording exhausted deliveries for replay.
type Emitter struct {
	client  *http.Client
	repo    domain.WebhookFailureRepository
	maxTime time.Duration
}

// NewEmitter builds an Emitter with the given per-attempt HTTP timeout.
func NewEmitter(repo domain.WebhookFailureRepository, timeout time.Duration) *Emitter {
	return &Emitter{
		client:  &http.Client{Timeout: timeout},
		repo:    repo,
		maxTime: 15 * time.Second,
	}
}

// Emit POSTs payload to url, signed with secret, making up to 3 attempts
// with exponential backoff (waits of 1s then 2s, ±20% jitter) on
// timeouts and on HTTP 408/429/500/502/503/504. Any other non-2xx status is
// treated as permanent. On exhaustion the delivery is recorded in the
// webhook_failures table instead of being dropped.
func (e *Emitter) Emit(ctx domain.Context, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=webhook.Emit: marshal: %w", err)
	}
	sig := sign(body, secret)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 1 * time.Second
	expo.Multiplier = 2
	expo.MaxInterval = 10 * time.Second
	expo.MaxElapsedTime = e.maxTime
	expo.RandomizationFactor = 0.2

	attempts := 0
	op := func() error {
		attempts++
		if attempts > 3 {
			return backoff.Permanent(fmt.Errorf("op=webhook.Emit: exhausted attempts"))
		}
		status, err := e.post(ctx, url, sig, body)
		if err != nil {
			return err
		}
		if status >= 200 && status < 300 {
			return nil
		}
		if retryableStatus(status) {
			return fmt.Errorf("op=webhook.Emit: status %d", status)
		}
		return backoff.Permanent(fmt.Errorf("op=webhook.Emit: non-retryable status %d", status))
	}

	bo := backoff.WithContext(expo, ctx)
	if err := backoff.Retry(op, bo); err != nil {
		slog.Warn("webhook delivery failed, recording for replay",
			slog.String("job_id", payload.JobID), slog.String("err", err.Error()))
		return e.recordFailure(ctx, payload, err)
	}
	return nil
}

func (e *Emitter) post(ctx context.Context, url, sig string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("op=webhook.post: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", sig)

	resp, err := e.client.Do(req)
	if err != nil {
		// Timeouts and connection errors are retryable.
		return 0, fmt.Errorf("op=webhook.post: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (e *Emitter) recordFailure(ctx domain.Context, payload Payload, cause error) error {
	body, _ := json.Marshal(payload)
	return e.repo.Insert(ctx, domain.WebhookFailure{
		JobID:       payload.JobID,
		Payload:     body,
		Status:      "pending",
		Error:       cause.Error(),
		RetryCount:  0,
		NextRetryAt: time.Now().Add(5 * time.Minute),
	})
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
