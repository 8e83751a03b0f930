package llm

import (
	"context"
	"errors"

	"github.com/autoguard/backend/internal/circuitbreaker"
)

// ErrUnavailable means the provider is being skipped because its circuit is
// open. Generation jobs treat it as transient and retry with backoff.
var ErrUnavailable = errors.New("completion provider unavailable")

// Guarded wraps a Client with a circuit breaker.
type Guarded struct {
	inner   Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuarded(inner Client, breaker *circuitbreaker.CircuitBreaker) *Guarded {
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.LLMConfig())
	}
	return &Guarded{inner: inner, breaker: breaker}
}

// Complete delegates to the wrapped client unless the circuit is open.
func (g *Guarded) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := g.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return g.inner.Complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return "", ErrUnavailable
		}
		return "", err
	}
	return out.(string), nil
}

// Breaker exposes the underlying breaker for health reporting.
func (g *Guarded) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}
