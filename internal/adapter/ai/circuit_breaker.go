// Package ai implements the LLM Manager: per-provider clients, circuit
// breakers, and bounded exponential-backoff retry.
package ai

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed indicates the circuit is allowing requests to pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates the circuit is blocking requests due to failures.
	CircuitOpen
	// CircuitHalfOpen indicates the circuit is probing recovery with a single request.
	CircuitHalfOpen
)

// CircuitBreaker implements the per-provider circuit breaker: closed → open
// → half-open. Opens after failureThreshold consecutive failures, stays
// open for recoveryTimeout, then admits exactly one probe in half-open;
// that probe's outcome either closes (success) or reopens (failure) it.
type CircuitBreaker struct {
	mu               sync.Mutex
	provider         string
	failureThreshold int
	recoveryTimeout  time.Duration
	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	totalRequests    int
	totalFailures    int
	probeInFlight    bool
}

// NewCircuitBreaker creates a new circuit breaker for a specific provider.
func NewCircuitBreaker(provider string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		provider:         provider,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            CircuitClosed,
	}
}

// Allow reports whether a call should be attempted, transitioning
// open→half-open exactly once when the cooldown elapses. Returns false
// (ErrCircuitOpen at the caller) while open or while a half-open probe is
// already in flight.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) < cb.recoveryTimeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probeInFlight = true
		slog.Info("circuit breaker half-open, admitting probe", slog.String("provider", cb.provider))
		return true
	case CircuitHalfOpen:
		return false // a probe is already outstanding
	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.totalRequests++
	cb.lastSuccessTime = time.Now()
	cb.failureCount = 0
	cb.probeInFlight = false

	if cb.state != CircuitClosed {
		cb.state = CircuitClosed
		slog.Info("circuit breaker closed after successful probe", slog.String("provider", cb.provider))
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.totalFailures++
	cb.lastFailureTime = time.Now()
	cb.probeInFlight = false

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		slog.Warn("circuit breaker reopened after failed probe", slog.String("provider", cb.provider))
		return
	}

	cb.failureCount++
	if cb.failureCount >= cb.failureThreshold {
		cb.state = CircuitOpen
		slog.Warn("circuit breaker opened",
			slog.String("provider", cb.provider),
			slog.Int("failure_count", cb.failureCount),
			slog.Int("threshold", cb.failureThreshold))
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns circuit breaker statistics for observability.
func (cb *CircuitBreaker) Stats() map[string]any {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]any{
		"provider":       cb.provider,
		"state":          cb.state.String(),
		"failure_count":  cb.failureCount,
		"success_count":  cb.successCount,
		"total_requests": cb.totalRequests,
		"total_failures": cb.totalFailures,
	}
}

// String returns a string representation of the circuit state.
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerManager manages one breaker per LLM provider.
type CircuitBreakerManager struct {
	mu               sync.Mutex
	breakers         map[string]*CircuitBreaker
	failureThreshold int
	recoveryTimeout  time.Duration
}

// NewCircuitBreakerManager creates a manager that lazily constructs
// per-provider breakers using the given defaults.
func NewCircuitBreakerManager(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Get returns or creates a circuit breaker for a specific provider.
func (cbm *CircuitBreakerManager) Get(provider string) *CircuitBreaker {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	if b, ok := cbm.breakers[provider]; ok {
		return b
	}
	b := NewCircuitBreaker(provider, cbm.failureThreshold, cbm.recoveryTimeout)
	cbm.breakers[provider] = b
	return b
}

// AllStats returns statistics for all known providers.
func (cbm *CircuitBreakerManager) AllStats() map[string]any {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	stats := make(map[string]any, len(cbm.breakers))
	for provider, b := range cbm.breakers {
		stats[provider] = b.Stats()
	}
	return stats
}
