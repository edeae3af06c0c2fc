package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/resumecore/ingestion-core/internal/adapter/ai/tokencount"
	"github.com/resumecore/ingestion-core/internal/adapter/observability"
	"github.com/resumecore/ingestion-core/internal/domain"
)

// Client is an OpenAI-compatible LLM provider client implementing
// domain.LLMClient, guarded by a per-provider CircuitBreaker and bounded
// exponential backoff.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	model   string

	httpClient *http.Client
	breaker    *CircuitBreaker
	counter    *tokencount.Counter

	backoffMaxElapsed   time.Duration
	backoffInitInterval time.Duration
	backoffMaxInterval  time.Duration
	backoffMultiplier   float64
}

// Config configures a provider Client.
type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration

	CBFailureThreshold int
	CBCooldown         time.Duration

	BackoffMaxElapsedTime  time.Duration
	BackoffInitialInterval time.Duration
	BackoffMaxInterval     time.Duration
	BackoffMultiplier      float64
}

// New builds a provider Client from cfg.
func New(cfg Config) *Client {
	return &Client{
		name:                cfg.Name,
		baseURL:             cfg.BaseURL,
		apiKey:              cfg.APIKey,
		model:               cfg.Model,
		httpClient:          &http.Client{Timeout: cfg.Timeout},
		breaker:             NewCircuitBreaker(cfg.Name, cfg.CBFailureThreshold, cfg.CBCooldown),
		counter:             tokencount.DefaultCounter,
		backoffMaxElapsed:   cfg.BackoffMaxElapsedTime,
		backoffInitInterval: cfg.BackoffInitialInterval,
		backoffMaxInterval:  cfg.BackoffMaxInterval,
		backoffMultiplier:   cfg.BackoffMultiplier,
	}
}

// Name returns the provider's configured name (primary/secondary/tertiary/embedding).
func (c *Client) Name() string { return c.name }

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffInitInterval
	b.MaxInterval = c.backoffMaxInterval
	b.MaxElapsedTime = c.backoffMaxElapsed
	b.Multiplier = c.backoffMultiplier
	return b
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate sends prompt (and the target JSON schema, appended as an
// instruction) to the provider's chat-completions endpoint, guarded by the
// circuit breaker and bounded retry, and returns the raw JSON response
// text for the caller to validate against schema.
func (c *Client) Generate(ctx domain.Context, prompt, schema string) (string, error) {
	if !c.breaker.Allow() {
		return "", domain.ErrCircuitOpen
	}

	system := "Respond with strict JSON matching this schema: " + schema
	if n, err := c.counter.CountChatTokens(system, prompt, c.model); err == nil {
		observability.RecordAITokenUsage(c.name, "prompt_estimate", c.model, n)
	}

	var result string
	op := func() error {
		start := time.Now()
		observability.AIRequestsTotal.WithLabelValues(c.name, "generate").Inc()

		body, err := c.chatCompletion(ctx, system, prompt)
		observability.AIRequestDuration.WithLabelValues(c.name, "generate").Observe(time.Since(start).Seconds())
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = body
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		c.breaker.RecordFailure()
		observability.RecordCircuitBreakerStatus(c.name, "generate", int(c.breaker.State()))
		return "", unwrapPermanent(err)
	}

	c.breaker.RecordSuccess()
	observability.RecordCircuitBreakerStatus(c.name, "generate", int(c.breaker.State()))
	return result, nil
}

func (c *Client) chatCompletion(ctx domain.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	reqBody.ResponseFormat = &struct {
		Type string `json:"type"`
	}{Type: "json_object"}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("op=ai.Generate marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("op=ai.Generate build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("op=ai.Generate read response: %w", err)
	}

	if err := statusErr(resp.StatusCode, respBody); err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", domain.ErrSchemaInvalid)
	}

	observability.RecordAITokenUsage(c.name, "prompt", c.model, parsed.Usage.PromptTokens)
	observability.RecordAITokenUsage(c.name, "completion", c.model, parsed.Usage.CompletionTokens)

	return parsed.Choices[0].Message.Content, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text via the provider's embeddings endpoint.
func (c *Client) Embed(ctx domain.Context, text string) ([]float32, error) {
	if !c.breaker.Allow() {
		return nil, domain.ErrCircuitOpen
	}

	var vec []float32
	op := func() error {
		start := time.Now()
		observability.AIRequestsTotal.WithLabelValues(c.name, "embed").Inc()

		v, err := c.embed(ctx, text)
		observability.AIRequestDuration.WithLabelValues(c.name, "embed").Observe(time.Since(start).Seconds())
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		vec = v
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		c.breaker.RecordFailure()
		observability.RecordVectorSearchError("candidates", "embed_failure")
		return nil, unwrapPermanent(err)
	}

	c.breaker.RecordSuccess()
	return vec, nil
}

func (c *Client) embed(ctx domain.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("op=ai.Embed marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("op=ai.Embed build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("op=ai.Embed read response: %w", err)
	}

	if err := statusErr(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding data", domain.ErrSchemaInvalid)
	}
	return parsed.Data[0].Embedding, nil
}

func statusErr(status int, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrUpstreamRateLimit, string(body))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, string(body))
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", domain.ErrUpstreamTimeout, status, string(body))
	case status >= 400:
		return fmt.Errorf("%w: status %d: %s", domain.ErrSchemaInvalid, status, string(body))
	default:
		return nil
	}
}

func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case isErr(err, domain.ErrUpstreamTimeout), isErr(err, domain.ErrUpstreamRateLimit), isErr(err, domain.ErrRateLimited):
		return true
	default:
		return false
	}
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if ok := asPermanent(err, &perm); ok {
		return perm.Err
	}
	return err
}

func asPermanent(err error, target **backoff.PermanentError) bool {
	for err != nil {
		if p, ok := err.(*backoff.PermanentError); ok {
			*target = p
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var _ domain.LLMClient = (*Client)(nil)

// Manager holds the named LLM providers (primary/secondary/tertiary) used
// for Cross-Check Analyst voting, plus a separate embedding provider.
type Manager struct {
	Primary   domain.LLMClient
	Secondary domain.LLMClient
	Tertiary  domain.LLMClient
	Embedding domain.LLMClient
}

// Providers returns the three extraction providers in voting order.
func (m Manager) Providers() []domain.LLMClient {
	providers := make([]domain.LLMClient, 0, 3)
	for _, p := range []domain.LLMClient{m.Primary, m.Secondary, m.Tertiary} {
		if p != nil {
			providers = append(providers, p)
		}
	}
	return providers
}
