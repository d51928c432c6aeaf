package tts

import (
	"context"
	"errors"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

type resilientSynthesizer struct {
	next    Synthesizer
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
}

// Resilient guards a synthesizer with a circuit breaker and retries
// retryable failures. A nil retry config disables retries.
func Resilient(next Synthesizer, breaker *resilience.CircuitBreaker, retry *resilience.RetryConfig) Synthesizer {
	if retry == nil {
		retry = &resilience.RetryConfig{MaxAttempts: 1}
	}
	return &resilientSynthesizer{next: next, breaker: breaker, retry: retry}
}

func (r *resilientSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if isBlank(text) {
		return nil, nil
	}

	var audio []byte
	err := r.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var err error
			audio, err = r.next.Synthesize(ctx, text)
			return err
		}, r.retry, resilience.IsRetryableNetworkError)
	})

	observability.UpdateCircuitBreakerState(r.breaker.Name(), int(r.breaker.GetState()))
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &Error{Provider: r.breaker.Name(), Err: err}
	}
	if err != nil {
		observability.IncrementCircuitBreakerFailures(r.breaker.Name())
		return nil, err
	}
	return audio, nil
}
