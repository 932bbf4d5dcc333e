// Package checkout creates provider checkout sessions and payment links for
// catalog items.
//
// A checkout session is a one-off, user-bound purchase flow: the purchase
// record is created pending before the provider call so the webhook receiver
// can always find it. A payment link is anonymous and reusable, created once
// per item and cached on the catalog row afterwards.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fiscalfm/commerce/internal/catalog"
	"github.com/fiscalfm/commerce/internal/customers"
	"github.com/fiscalfm/commerce/internal/idgen"
	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/metrics"
	"github.com/fiscalfm/commerce/internal/purchase"
	"github.com/fiscalfm/commerce/internal/realtime"
	"github.com/fiscalfm/commerce/internal/traces"
)

var (
	ErrNotPurchasable   = errors.New("item is not purchasable")
	ErrAlreadyPurchased = errors.New("item already purchased by this user")
)

// Config carries the default redirect URLs for checkout sessions; a
// request may override them.
type Config struct {
	SuccessURL string
	CancelURL  string
}

// SessionRequest describes a checkout session to create. Email is
// optional; without it the provider collects the buyer's address during
// checkout and the receipt address is captured from the webhook.
// SuccessURL and CancelURL fall back to the configured defaults.
type SessionRequest struct {
	ItemID     string
	UserID     string
	Email      string
	SuccessURL string
	CancelURL  string
}

// Session is the result of creating a checkout session.
type Session struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// PaymentLink is the result of a payment-link request.
type PaymentLink struct {
	PaymentLinkURL string `json:"paymentLinkUrl"`
	PaymentLinkID  string `json:"paymentLinkId"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Cached         bool   `json:"cached"`
}

// Publisher pushes commerce events to live subscribers.
type Publisher interface {
	Broadcast(ev *realtime.Event)
}

// Service implements checkout business logic.
type Service struct {
	items     catalog.Store
	purchases purchase.Store
	resolver  *customers.Resolver
	client    Client
	publisher Publisher
	cfg       Config
}

// NewService creates a new checkout service. publisher may be nil.
func NewService(items catalog.Store, purchases purchase.Store, resolver *customers.Resolver, client Client, publisher Publisher, cfg Config) *Service {
	return &Service{
		items:     items,
		purchases: purchases,
		resolver:  resolver,
		client:    client,
		publisher: publisher,
		cfg:       cfg,
	}
}

// CreateSession creates a hosted checkout session for a user buying an item.
//
// The pending purchase is recorded before the provider call so the session
// metadata can carry the purchase ID, and so an operator can see the attempt
// even if the provider call fails.
func (s *Service) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, span := traces.StartSpan(ctx, "checkout.CreateSession",
		traces.PDFID(req.ItemID),
		traces.UserID(req.UserID),
	)
	defer span.End()
	logger := logging.L(ctx)

	item, err := s.items.Get(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if !item.Purchasable() {
		return nil, ErrNotPurchasable
	}

	// Advisory check: a user who already owns the PDF gets turned away here.
	// Concurrent sessions can still slip past; the webhook receiver treats a
	// second completion for the same item as a replay.
	if _, err := s.purchases.FindCompleted(ctx, req.UserID, req.ItemID); err == nil {
		return nil, ErrAlreadyPurchased
	} else if !errors.Is(err, purchase.ErrPurchaseNotFound) {
		return nil, err
	}

	// Without an email there is nothing to key a provider customer on; the
	// session is created anonymous and checkout collects the address.
	var customerID string
	if req.Email != "" {
		customerID, err = s.resolver.Resolve(ctx, req.UserID, req.Email)
		if err != nil {
			metrics.CheckoutSessionsTotal.WithLabelValues("provider_error").Inc()
			return nil, fmt.Errorf("failed to resolve customer: %w", err)
		}
	}

	amountMinor, err := item.PriceMinor()
	if err != nil {
		return nil, ErrNotPurchasable
	}

	successURL, cancelURL := req.SuccessURL, req.CancelURL
	if successURL == "" {
		successURL = s.cfg.SuccessURL
	}
	if cancelURL == "" {
		cancelURL = s.cfg.CancelURL
	}

	now := time.Now()
	p := &purchase.Purchase{
		ID:               idgen.WithPrefix("pur_"),
		ItemID:           item.ID,
		UserID:           req.UserID,
		Email:            req.Email,
		Amount:           item.Price,
		Currency:         item.Currency,
		Status:           purchase.StatusPending,
		StripeCustomerID: customerID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.purchases.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}

	sessionID, url, err := s.client.CreateCheckoutSession(ctx, SessionParams{
		CustomerID:  customerID,
		ItemID:      item.ID,
		ItemTitle:   item.Title,
		AmountMinor: amountMinor,
		Currency:    item.Currency,
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		PurchaseID:  p.ID,
		UserID:      req.UserID,
	})
	if err != nil {
		// Leave the pending record for the sweeper; it documents the attempt.
		metrics.CheckoutSessionsTotal.WithLabelValues("provider_error").Inc()
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	span.SetAttributes(
		traces.PurchaseID(p.ID),
		traces.SessionID(sessionID),
		traces.Amount(item.Price),
	)

	p.StripeSessionID = sessionID
	p.UpdatedAt = time.Now()
	if err := s.purchases.Update(ctx, p); err != nil {
		// The webhook can still resolve the purchase through session
		// metadata, so log rather than fail the checkout.
		logger.Error("failed to attach session to purchase",
			"purchase_id", p.ID,
			"session_id", sessionID,
			"error", err,
		)
	}

	logger.Info("checkout session created",
		"purchase_id", p.ID,
		"pdf_id", item.ID,
		"session_id", sessionID,
		"amount", item.Price,
	)
	metrics.CheckoutSessionsTotal.WithLabelValues("created").Inc()

	return &Session{SessionID: sessionID, URL: url}, nil
}

// CreatePaymentLink returns the payment link for an item, creating it on
// first request and serving the cached link afterwards.
func (s *Service) CreatePaymentLink(ctx context.Context, itemID string) (*PaymentLink, error) {
	ctx, span := traces.StartSpan(ctx, "checkout.CreatePaymentLink", traces.PDFID(itemID))
	defer span.End()
	logger := logging.L(ctx)

	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Purchasable() {
		return nil, ErrNotPurchasable
	}

	// Fast path: link already created for this item.
	if item.PaymentLinkURL != "" {
		metrics.PaymentLinksTotal.WithLabelValues("cached").Inc()
		return &PaymentLink{
			PaymentLinkURL: item.PaymentLinkURL,
			PaymentLinkID:  item.PaymentLinkID,
			Amount:         item.Price,
			Currency:       item.Currency,
			Cached:         true,
		}, nil
	}

	amountMinor, err := item.PriceMinor()
	if err != nil {
		return nil, ErrNotPurchasable
	}

	linkID, linkURL, err := s.client.CreatePaymentLink(ctx, LinkParams{
		ItemID:      item.ID,
		ItemTitle:   item.Title,
		AmountMinor: amountMinor,
		Currency:    item.Currency,
	})
	if err != nil {
		metrics.PaymentLinksTotal.WithLabelValues("provider_error").Inc()
		return nil, fmt.Errorf("failed to create payment link: %w", err)
	}

	// Best-effort cache. Losing the race to a concurrent request just means
	// an orphaned provider link; the stored one wins.
	if err := s.items.SetPaymentLink(ctx, item.ID, linkID, linkURL); err != nil {
		if errors.Is(err, catalog.ErrLinkAlreadySet) {
			if fresh, getErr := s.items.Get(ctx, item.ID); getErr == nil && fresh.PaymentLinkURL != "" {
				metrics.PaymentLinksTotal.WithLabelValues("cached").Inc()
				return &PaymentLink{
					PaymentLinkURL: fresh.PaymentLinkURL,
					PaymentLinkID:  fresh.PaymentLinkID,
					Amount:         fresh.Price,
					Currency:       fresh.Currency,
					Cached:         true,
				}, nil
			}
		}
		logger.Warn("failed to cache payment link",
			"pdf_id", item.ID,
			"link_id", linkID,
			"error", err,
		)
	}

	logger.Info("payment link created",
		"pdf_id", item.ID,
		"link_id", linkID,
	)
	metrics.PaymentLinksTotal.WithLabelValues("created").Inc()
	s.publish(&realtime.Event{
		Type:     realtime.EventPaymentLink,
		PDFID:    item.ID,
		Amount:   item.Price,
		Currency: item.Currency,
		URL:      linkURL,
	})

	return &PaymentLink{
		PaymentLinkURL: linkURL,
		PaymentLinkID:  linkID,
		Amount:         item.Price,
		Currency:       item.Currency,
		Cached:         false,
	}, nil
}

func (s *Service) publish(ev *realtime.Event) {
	if s.publisher != nil {
		s.publisher.Broadcast(ev)
	}
}
