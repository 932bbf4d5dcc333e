package checkout

import (
	"context"
	"errors"

	"github.com/fiscalfm/commerce/internal/circuitbreaker"
)

// ErrProviderUnavailable is returned when the payment provider circuit is
// open and calls are being rejected without reaching the provider.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// Breaker circuit-breaker keys, one per provider operation so a failing
// endpoint does not take down the others.
const (
	breakerKeyCustomer = "stripe.customers"
	breakerKeySession  = "stripe.sessions"
	breakerKeyLink     = "stripe.links"
)

// BreakerClient wraps a payment provider Client with a per-operation
// circuit breaker. When the provider returns consecutive errors the
// circuit trips open and calls fail fast with ErrProviderUnavailable
// until a probe succeeds.
type BreakerClient struct {
	inner   Client
	breaker *circuitbreaker.Breaker
}

// WithBreaker wraps client with the given circuit breaker.
func WithBreaker(client Client, b *circuitbreaker.Breaker) *BreakerClient {
	return &BreakerClient{inner: client, breaker: b}
}

var _ Client = (*BreakerClient)(nil)

func (c *BreakerClient) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	if !c.breaker.Allow(breakerKeyCustomer) {
		return "", ErrProviderUnavailable
	}
	id, err := c.inner.CreateCustomer(ctx, email, userID)
	c.record(breakerKeyCustomer, err)
	return id, err
}

func (c *BreakerClient) CreateCheckoutSession(ctx context.Context, p SessionParams) (string, string, error) {
	if !c.breaker.Allow(breakerKeySession) {
		return "", "", ErrProviderUnavailable
	}
	id, url, err := c.inner.CreateCheckoutSession(ctx, p)
	c.record(breakerKeySession, err)
	return id, url, err
}

func (c *BreakerClient) CreatePaymentLink(ctx context.Context, p LinkParams) (string, string, error) {
	if !c.breaker.Allow(breakerKeyLink) {
		return "", "", ErrProviderUnavailable
	}
	id, url, err := c.inner.CreatePaymentLink(ctx, p)
	c.record(breakerKeyLink, err)
	return id, url, err
}

// record feeds the call outcome back to the breaker. Context cancellation
// is the caller's fault, not the provider's, so it does not count against
// the circuit.
func (c *BreakerClient) record(key string, err error) {
	switch {
	case err == nil:
		c.breaker.RecordSuccess(key)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Leave the circuit as-is.
	default:
		c.breaker.RecordFailure(key)
	}
}
