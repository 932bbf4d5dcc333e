// Package customers maps application users to payment-provider customers.
//
// The mapping is created lazily: the first checkout for a user creates the
// provider customer and records the mapping, subsequent checkouts reuse it so
// a user's purchase history stays attached to one provider customer.
package customers

import (
	"context"
	"errors"
	"time"

	"github.com/fiscalfm/commerce/internal/logging"
)

var ErrMappingNotFound = errors.New("customer mapping not found")

// Mapping ties an application user ID to a provider customer ID.
type Mapping struct {
	UserID           string    `json:"userId"`
	StripeCustomerID string    `json:"stripeCustomerId"`
	Email            string    `json:"email"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Store persists customer mappings.
type Store interface {
	Create(ctx context.Context, m *Mapping) error
	GetByUserID(ctx context.Context, userID string) (*Mapping, error)
}

// CustomerCreator creates a customer on the payment provider.
type CustomerCreator interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
}

// Resolver returns the provider customer for a user, creating one on first
// use.
type Resolver struct {
	store   Store
	creator CustomerCreator
}

// NewResolver creates a customer resolver.
func NewResolver(store Store, creator CustomerCreator) *Resolver {
	return &Resolver{store: store, creator: creator}
}

// Resolve returns the provider customer ID for the user, creating the
// provider customer and the mapping if none exists yet.
func (r *Resolver) Resolve(ctx context.Context, userID, email string) (string, error) {
	m, err := r.store.GetByUserID(ctx, userID)
	if err == nil {
		return m.StripeCustomerID, nil
	}
	if !errors.Is(err, ErrMappingNotFound) {
		return "", err
	}

	customerID, err := r.creator.CreateCustomer(ctx, email, userID)
	if err != nil {
		return "", err
	}

	mapping := &Mapping{
		UserID:           userID,
		StripeCustomerID: customerID,
		Email:            email,
		CreatedAt:        time.Now(),
	}
	if err := r.store.Create(ctx, mapping); err != nil {
		// The provider customer exists either way; a lost mapping only
		// costs a duplicate customer on the next checkout.
		logging.L(ctx).Warn("failed to persist customer mapping",
			"user_id", userID,
			"error", err,
		)
	}
	return customerID, nil
}
