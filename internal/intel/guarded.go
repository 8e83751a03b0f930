package intel

import (
	"context"
	"errors"

	"github.com/autoguard/backend/internal/circuitbreaker"
)

// ErrUnavailable means the provider is being skipped because its circuit is
// open. The engine treats it like any other lookup error but without having
// spent decision budget on a doomed call.
var ErrUnavailable = errors.New("ip intel unavailable")

// Guarded wraps a Client with a circuit breaker.
type Guarded struct {
	inner   Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuarded(inner Client, breaker *circuitbreaker.CircuitBreaker) *Guarded {
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.IntelConfig())
	}
	return &Guarded{inner: inner, breaker: breaker}
}

// Lookup delegates to the wrapped client unless the circuit is open.
func (g *Guarded) Lookup(ctx context.Context, ip string) (*Result, error) {
	out, err := g.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return g.inner.Lookup(ctx, ip)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, ErrUnavailable
		}
		return nil, err
	}
	return out.(*Result), nil
}

// Breaker exposes the underlying breaker for health reporting.
func (g *Guarded) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}
