package checkout

import (
	"context"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/paymentlink"
	"github.com/stripe/stripe-go/v81/price"
)

// SessionParams describes a hosted checkout session to create.
type SessionParams struct {
	CustomerID  string
	ItemID      string
	ItemTitle   string
	AmountMinor int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	PurchaseID  string
	UserID      string
}

// LinkParams describes a reusable payment link to create.
type LinkParams struct {
	ItemID      string
	ItemTitle   string
	AmountMinor int64
	Currency    string
}

// Client is an interface for payment provider operations to enable testing
// with mocks.
type Client interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, p SessionParams) (id, url string, err error)
	CreatePaymentLink(ctx context.Context, p LinkParams) (id, url string, err error)
}

// StripeClient implements the Client interface using the real Stripe SDK.
type StripeClient struct{}

// NewStripeClient creates a new Stripe client with the given API key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// CreateCustomer creates a Stripe customer tagged with the application user ID.
func (c *StripeClient) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"user_id": userID,
		},
	}
	params.Context = ctx

	cus, err := customer.New(params)
	if err != nil {
		return "", err
	}
	return cus.ID, nil
}

// CreateCheckoutSession creates a hosted checkout session in payment mode.
// Metadata carries enough to resolve the purchase when the webhook arrives.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, p SessionParams) (string, string, error) {
	metadata := map[string]string{
		"pdf_id":      p.ItemID,
		"user_id":     p.UserID,
		"purchase_id": p.PurchaseID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.Currency),
					UnitAmount: stripe.Int64(p.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.ItemTitle),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	params.Context = ctx

	s, err := session.New(params)
	if err != nil {
		return "", "", err
	}
	return s.ID, s.URL, nil
}

// CreatePaymentLink creates a reusable price and a payment link selling it.
func (c *StripeClient) CreatePaymentLink(ctx context.Context, p LinkParams) (string, string, error) {
	priceParams := &stripe.PriceParams{
		Currency:   stripe.String(p.Currency),
		UnitAmount: stripe.Int64(p.AmountMinor),
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(p.ItemTitle),
		},
	}
	priceParams.Context = ctx

	pr, err := price.New(priceParams)
	if err != nil {
		return "", "", err
	}

	linkParams := &stripe.PaymentLinkParams{
		LineItems: []*stripe.PaymentLinkLineItemParams{
			{
				Price:    stripe.String(pr.ID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"pdf_id": p.ItemID,
		},
	}
	linkParams.Context = ctx

	link, err := paymentlink.New(linkParams)
	if err != nil {
		return "", "", err
	}
	return link.ID, link.URL, nil
}

// Compile-time assertion that StripeClient implements Client.
var _ Client = (*StripeClient)(nil)
