package turn

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

// ResilientEngine guards an engine with a circuit breaker and retries
type ResilientEngine struct {
	next    Engine
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
}

// Resilient wraps next. A nil retry config disables retries.
func Resilient(next Engine, breaker *resilience.CircuitBreaker, retry *resilience.RetryConfig) *ResilientEngine {
	if retry == nil {
		retry = &resilience.RetryConfig{MaxAttempts: 1}
	}
	return &ResilientEngine{next: next, breaker: breaker, retry: retry}
}

// Submit runs the wrapped engine under the breaker
func (r *ResilientEngine) Submit(ctx context.Context, text string) (Result, error) {
	var result Result
	err := r.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var err error
			result, err = r.next.Submit(ctx, text)
			return err
		}, r.retry, resilience.IsRetryableNetworkError)
	})

	observability.UpdateCircuitBreakerState(r.breaker.Name(), int(r.breaker.GetState()))
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return Result{}, &Error{Provider: r.breaker.Name(), Err: err}
	}
	if err != nil {
		observability.IncrementCircuitBreakerFailures(r.breaker.Name())
		return Result{}, err
	}
	return result, nil
}

// HealthCheck reports an open breaker with its failure totals, then defers to
// the wrapped engine
func (r *ResilientEngine) HealthCheck(ctx context.Context) error {
	if state, requests, failures, rate := r.breaker.GetStats(); state == resilience.StateOpen {
		return fmt.Errorf("%s: %w (%d of %d requests failed, %.0f%%)",
			r.breaker.Name(), resilience.ErrCircuitOpen, failures, requests, rate)
	}
	if hc, ok := r.next.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
