package identity

import (
	"context"
	"errors"
	"time"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/metrics"
	"idsimplify/pkg/resilience"
)

// Guarded bounds every lookup with a timeout and a circuit breaker. Any
// failure other than "user not found" becomes apperr.ErrProviderUnavailable.
type Guarded struct {
	next    Platform
	timeout time.Duration
	breaker *resilience.Breaker
}

func NewGuarded(next Platform, timeout time.Duration, breaker *resilience.Breaker) *Guarded {
	return &Guarded{next: next, timeout: timeout, breaker: breaker}
}

func (g *Guarded) GetUserByID(ctx context.Context, id string) (User, error) {
	return g.call(ctx, "get user by id", func(ctx context.Context) (User, error) { return g.next.GetUserByID(ctx, id) })
}

func (g *Guarded) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return g.call(ctx, "get user by email", func(ctx context.Context) (User, error) { return g.next.GetUserByEmail(ctx, email) })
}

func isNotFound(err error) bool { return errors.Is(err, apperr.ErrNotFound) }

func (g *Guarded) call(ctx context.Context, op string, fn func(context.Context) (User, error)) (User, error) {
	var u User
	err := g.breaker.Do(func() error {
		var err error
		u, err = resilience.Call(ctx, g.timeout, fn)
		return err
	}, isNotFound)
	metrics.SetBreaker("identity", g.breaker.Open())
	switch {
	case err == nil:
		metrics.ProviderCalls.WithLabelValues("identity", metrics.OutcomeOK).Inc()
		return u, nil
	case isNotFound(err):
		metrics.ProviderCalls.WithLabelValues("identity", metrics.OutcomeNotFound).Inc()
		return User{}, err
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.ProviderCalls.WithLabelValues("identity", metrics.OutcomeRejected).Inc()
	default:
		metrics.ProviderCalls.WithLabelValues("identity", metrics.OutcomeError).Inc()
	}
	return User{}, apperr.Provider("identity "+op, err)
}
