// Package webhook receives payment provider events and drives the
// purchase state machine.
//
// Events arrive signed; the handler verifies the signature before the
// processor runs. Processing is idempotent: every event is recorded
// after it is applied, duplicate deliveries are skipped, and replays
// that slip past the duplicate check are absorbed by the transition
// rules (a completed purchase stays completed).
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fiscalfm/commerce/internal/catalog"
	"github.com/fiscalfm/commerce/internal/download"
	"github.com/fiscalfm/commerce/internal/fulfillment"
	"github.com/fiscalfm/commerce/internal/idgen"
	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/metrics"
	"github.com/fiscalfm/commerce/internal/purchase"
	"github.com/fiscalfm/commerce/internal/realtime"
	"github.com/fiscalfm/commerce/internal/retry"
	"github.com/fiscalfm/commerce/internal/syncutil"
	"github.com/fiscalfm/commerce/internal/traces"
)

var (
	ErrEventExists   = errors.New("webhook event already recorded")
	ErrEventNotFound = errors.New("webhook event not found")
)

// Event is the processing record for one provider event.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PurchaseID  string    `json:"purchaseId,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

// EventStore persists processed events for replay detection.
type EventStore interface {
	// Record stores a processed event. Returns ErrEventExists if the
	// event ID was already recorded.
	Record(ctx context.Context, ev *Event) error
	Get(ctx context.Context, eventID string) (*Event, error)
}

// Publisher pushes commerce events to live subscribers.
type Publisher interface {
	Broadcast(ev *realtime.Event)
}

// Processor applies provider events to purchases.
type Processor struct {
	purchases purchase.Store
	items     catalog.Store
	events    EventStore
	downloads *download.Service
	receipts  *fulfillment.Service
	publisher Publisher

	// Per-purchase locks serialize concurrent deliveries touching the
	// same purchase. Sharded so memory stays bounded across purchase IDs.
	locks syncutil.ShardedMutex
}

func NewProcessor(purchases purchase.Store, items catalog.Store, events EventStore, downloads *download.Service, receipts *fulfillment.Service, publisher Publisher) *Processor {
	return &Processor{
		purchases: purchases,
		items:     items,
		events:    events,
		downloads: downloads,
		receipts:  receipts,
		publisher: publisher,
	}
}

// Process applies one verified provider event. Unrecognized event types
// are acknowledged without action.
func (p *Processor) Process(ctx context.Context, ev *stripe.Event) error {
	eventType := string(ev.Type)
	ctx, span := traces.StartSpan(ctx, "webhook.Process",
		traces.EventID(ev.ID),
		attribute.String("event.type", eventType),
	)
	defer span.End()

	if _, err := p.events.Get(ctx, ev.ID); err == nil {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "duplicate").Inc()
		logging.L(ctx).Info("duplicate webhook event skipped", "event_id", ev.ID, "type", eventType)
		return nil
	}

	var (
		purchaseID string
		err        error
	)
	switch ev.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		purchaseID, err = p.handleSessionPaid(ctx, ev)
	case "checkout.session.async_payment_failed":
		purchaseID, err = p.handleSessionFailed(ctx, ev)
	case "payment_intent.payment_failed":
		purchaseID, err = p.handleIntentFailed(ctx, ev)
	case "charge.dispute.created":
		purchaseID, err = p.handleDispute(ctx, ev)
	default:
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		return nil
	}
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
		return err
	}
	if purchaseID != "" {
		span.SetAttributes(traces.PurchaseID(purchaseID))
	}

	record := &Event{ID: ev.ID, Type: eventType, PurchaseID: purchaseID, ProcessedAt: time.Now()}
	if err := p.events.Record(ctx, record); err != nil && !errors.Is(err, ErrEventExists) {
		logging.L(ctx).Warn("failed to record webhook event",
			"event_id", ev.ID, "type", eventType, "error", err)
	}
	metrics.WebhookEventsTotal.WithLabelValues(eventType, "processed").Inc()
	return nil
}

func parseSession(ev *stripe.Event) (*stripe.CheckoutSession, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse checkout session payload: %w", err)
	}
	return &sess, nil
}

// resolveFromSession locates the purchase for a checkout session event,
// falling back to the purchase ID embedded in session metadata for
// sessions whose ID never got attached to the record.
func (p *Processor) resolveFromSession(ctx context.Context, sess *stripe.CheckoutSession) (*purchase.Purchase, error) {
	pur, err := p.purchases.GetBySessionID(ctx, sess.ID)
	if err == nil {
		return pur, nil
	}
	if !errors.Is(err, purchase.ErrPurchaseNotFound) {
		return nil, err
	}
	if id := sess.Metadata["purchase_id"]; id != "" {
		return p.purchases.Get(ctx, id)
	}
	return nil, purchase.ErrPurchaseNotFound
}

func (p *Processor) handleSessionPaid(ctx context.Context, ev *stripe.Event) (string, error) {
	sess, err := parseSession(ev)
	if err != nil {
		return "", err
	}
	// A session can complete before its async payment settles; that
	// settlement arrives as a separate event.
	if ev.Type == "checkout.session.completed" && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return "", nil
	}

	pur, err := p.resolveFromSession(ctx, sess)
	if err != nil {
		if errors.Is(err, purchase.ErrPurchaseNotFound) {
			// Payment-link sessions have no pending purchase; the link's
			// metadata names the item and the record is created here.
			if sess.Metadata["pdf_id"] != "" {
				return p.completeLinkPurchase(ctx, sess)
			}
			logging.L(ctx).Warn("payment confirmed for unknown session", "session_id", sess.ID)
			return "", nil
		}
		return "", err
	}
	return pur.ID, p.completePurchase(ctx, pur, sess)
}

// completeLinkPurchase records and fulfills a purchase made through a
// shared payment link. Link buyers are anonymous: there is no pending
// row to transition, so the purchase is inserted already completed,
// keyed by session ID so redeliveries resolve to it.
func (p *Processor) completeLinkPurchase(ctx context.Context, sess *stripe.CheckoutSession) (string, error) {
	unlock := p.locks.Lock(sess.ID)
	defer unlock()

	// Re-check under the lock; a concurrent delivery may have created
	// the record already.
	if existing, err := p.purchases.GetBySessionID(ctx, sess.ID); err == nil {
		logging.L(ctx).Info("payment-link purchase already recorded, replay tolerated",
			"purchase_id", existing.ID, "session_id", sess.ID)
		return existing.ID, nil
	} else if !errors.Is(err, purchase.ErrPurchaseNotFound) {
		return "", err
	}

	itemID := sess.Metadata["pdf_id"]
	item, err := p.items.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			logging.L(ctx).Warn("payment-link session names unknown item",
				"session_id", sess.ID, "pdf_id", itemID)
			return "", nil
		}
		return "", err
	}

	now := time.Now()
	pur := &purchase.Purchase{
		ID:              idgen.WithPrefix("pur_"),
		ItemID:          item.ID,
		Amount:          item.Price,
		Currency:        item.Currency,
		Status:          purchase.StatusCompleted,
		StripeSessionID: sess.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
		CompletedAt:     &now,
	}
	if sess.CustomerDetails != nil {
		pur.Email = sess.CustomerDetails.Email
	}
	if sess.PaymentIntent != nil {
		pur.PaymentIntentID = sess.PaymentIntent.ID
	}
	if err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		return p.purchases.Create(ctx, pur)
	}); err != nil {
		return "", fmt.Errorf("failed to record payment-link purchase for session %s: %w", sess.ID, err)
	}

	logging.L(ctx).Info("payment-link purchase recorded",
		"purchase_id", pur.ID, "pdf_id", pur.ItemID, "session_id", sess.ID)
	metrics.PurchasesTotal.WithLabelValues(string(purchase.StatusCompleted)).Inc()
	p.fulfill(ctx, pur)
	p.publish(&realtime.Event{
		Type:       realtime.EventPurchaseCompleted,
		PurchaseID: pur.ID,
		PDFID:      pur.ItemID,
		Amount:     pur.Amount,
		Currency:   pur.Currency,
	})
	return pur.ID, nil
}

func (p *Processor) completePurchase(ctx context.Context, pur *purchase.Purchase, sess *stripe.CheckoutSession) error {
	unlock := p.locks.Lock(pur.ID)
	defer unlock()

	// Reload under the lock; a concurrent delivery may have won.
	pur, err := p.purchases.Get(ctx, pur.ID)
	if err != nil {
		return err
	}
	if pur.Status == purchase.StatusCompleted {
		logging.L(ctx).Info("purchase already completed, replay tolerated", "purchase_id", pur.ID)
		return nil
	}
	if err := pur.Transition(purchase.StatusCompleted); err != nil {
		logging.L(ctx).Warn("cannot complete purchase",
			"purchase_id", pur.ID, "status", pur.Status)
		return nil
	}
	if sess.PaymentIntent != nil {
		pur.PaymentIntentID = sess.PaymentIntent.ID
	}
	if sess.ID != "" && pur.StripeSessionID == "" {
		pur.StripeSessionID = sess.ID
	}
	// Anonymous checkouts capture the buyer address at the provider.
	if pur.Email == "" && sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		pur.Email = sess.CustomerDetails.Email
	}
	if err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		err := p.purchases.Update(ctx, pur)
		if errors.Is(err, purchase.ErrDuplicateCompleted) {
			return retry.Permanent(err)
		}
		return err
	}); err != nil {
		if errors.Is(err, purchase.ErrDuplicateCompleted) {
			// A concurrent completion for the same user and item won the
			// unique index; that purchase carries the fulfillment.
			logging.L(ctx).Warn("purchase already completed under another record",
				"purchase_id", pur.ID, "pdf_id", pur.ItemID, "user_id", pur.UserID)
			return nil
		}
		return fmt.Errorf("failed to persist completed purchase %s: %w", pur.ID, err)
	}

	metrics.PurchasesTotal.WithLabelValues(string(purchase.StatusCompleted)).Inc()
	metrics.PurchaseCompletionDuration.Observe(time.Since(pur.CreatedAt).Seconds())
	p.fulfill(ctx, pur)
	p.publish(&realtime.Event{
		Type:       realtime.EventPurchaseCompleted,
		PurchaseID: pur.ID,
		PDFID:      pur.ItemID,
		UserID:     pur.UserID,
		Amount:     pur.Amount,
		Currency:   pur.Currency,
	})
	return nil
}

// fulfill issues the download token and emails the receipt. Both are
// best-effort: the purchase is already completed, and an operator can
// resend delivery through the admin endpoint.
func (p *Processor) fulfill(ctx context.Context, pur *purchase.Purchase) {
	tok, url, err := p.downloads.Issue(ctx, pur.ID, pur.ItemID, pur.UserID)
	if err != nil {
		logging.L(ctx).Error("failed to issue download token",
			"purchase_id", pur.ID, "error", err)
		return
	}
	item, err := p.items.Get(ctx, pur.ItemID)
	if err != nil {
		logging.L(ctx).Error("failed to load item for receipt",
			"purchase_id", pur.ID, "pdf_id", pur.ItemID, "error", err)
		return
	}
	if pur.Email == "" {
		logging.L(ctx).Warn("no buyer email on purchase, skipping receipt",
			"purchase_id", pur.ID)
		return
	}
	receipt := fulfillment.Receipt{
		Email:       pur.Email,
		ItemTitle:   item.Title,
		Amount:      pur.Amount,
		Currency:    strings.ToUpper(pur.Currency),
		DownloadURL: url,
		ExpiresAt:   tok.ExpiresAt,
		MaxUses:     tok.MaxRedemptions,
	}
	if err := p.receipts.SendReceipt(ctx, receipt); err != nil {
		logging.L(ctx).Error("failed to send receipt email",
			"purchase_id", pur.ID, "email", pur.Email, "error", err)
	}
}

func (p *Processor) handleSessionFailed(ctx context.Context, ev *stripe.Event) (string, error) {
	sess, err := parseSession(ev)
	if err != nil {
		return "", err
	}
	pur, err := p.resolveFromSession(ctx, sess)
	if err != nil {
		if errors.Is(err, purchase.ErrPurchaseNotFound) {
			logging.L(ctx).Warn("payment failure for unknown session", "session_id", sess.ID)
			return "", nil
		}
		return "", err
	}
	return pur.ID, p.failPurchase(ctx, pur, "async payment failed")
}

func (p *Processor) handleIntentFailed(ctx context.Context, ev *stripe.Event) (string, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &intent); err != nil {
		return "", fmt.Errorf("failed to parse payment intent payload: %w", err)
	}

	pur, err := p.purchases.GetByPaymentIntent(ctx, intent.ID)
	if errors.Is(err, purchase.ErrPurchaseNotFound) {
		if id := intent.Metadata["purchase_id"]; id != "" {
			pur, err = p.purchases.Get(ctx, id)
		}
	}
	if err != nil {
		if errors.Is(err, purchase.ErrPurchaseNotFound) {
			logging.L(ctx).Warn("payment failure for unknown intent", "intent_id", intent.ID)
			return "", nil
		}
		return "", err
	}

	reason := "payment failed"
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		reason = intent.LastPaymentError.Msg
	}
	return pur.ID, p.failPurchase(ctx, pur, reason)
}

func (p *Processor) failPurchase(ctx context.Context, pur *purchase.Purchase, reason string) error {
	unlock := p.locks.Lock(pur.ID)
	defer unlock()

	pur, err := p.purchases.Get(ctx, pur.ID)
	if err != nil {
		return err
	}
	if pur.Status == purchase.StatusFailed {
		return nil
	}
	if err := pur.Transition(purchase.StatusFailed); err != nil {
		// Failure notices after completion happen; the money moved, so
		// the completed record wins.
		logging.L(ctx).Warn("ignoring failure event for settled purchase",
			"purchase_id", pur.ID, "status", pur.Status)
		return nil
	}
	pur.FailureReason = reason
	if err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		return p.purchases.Update(ctx, pur)
	}); err != nil {
		return fmt.Errorf("failed to persist failed purchase %s: %w", pur.ID, err)
	}
	metrics.PurchasesTotal.WithLabelValues(string(purchase.StatusFailed)).Inc()
	p.publish(&realtime.Event{
		Type:       realtime.EventPurchaseFailed,
		PurchaseID: pur.ID,
		PDFID:      pur.ItemID,
		UserID:     pur.UserID,
	})
	return nil
}

func (p *Processor) handleDispute(ctx context.Context, ev *stripe.Event) (string, error) {
	var dispute stripe.Dispute
	if err := json.Unmarshal(ev.Data.Raw, &dispute); err != nil {
		return "", fmt.Errorf("failed to parse dispute payload: %w", err)
	}
	if dispute.PaymentIntent == nil {
		logging.L(ctx).Warn("dispute without payment intent", "dispute_id", dispute.ID)
		return "", nil
	}

	pur, err := p.purchases.GetByPaymentIntent(ctx, dispute.PaymentIntent.ID)
	if err != nil {
		if errors.Is(err, purchase.ErrPurchaseNotFound) {
			logging.L(ctx).Warn("dispute for unknown payment intent",
				"dispute_id", dispute.ID, "intent_id", dispute.PaymentIntent.ID)
			return "", nil
		}
		return "", err
	}

	unlock := p.locks.Lock(pur.ID)
	defer unlock()

	pur, err = p.purchases.Get(ctx, pur.ID)
	if err != nil {
		return "", err
	}
	if pur.Status == purchase.StatusDisputed {
		return pur.ID, nil
	}
	if err := pur.Transition(purchase.StatusDisputed); err != nil {
		logging.L(ctx).Warn("dispute against non-completed purchase ignored",
			"purchase_id", pur.ID, "status", pur.Status)
		return pur.ID, nil
	}
	pur.FailureReason = disputeReason(&dispute)
	if err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		return p.purchases.Update(ctx, pur)
	}); err != nil {
		return "", fmt.Errorf("failed to persist disputed purchase %s: %w", pur.ID, err)
	}
	metrics.PurchasesTotal.WithLabelValues(string(purchase.StatusDisputed)).Inc()
	p.publish(&realtime.Event{
		Type:       realtime.EventPurchaseDisputed,
		PurchaseID: pur.ID,
		PDFID:      pur.ItemID,
		UserID:     pur.UserID,
	})
	return pur.ID, nil
}

func disputeReason(d *stripe.Dispute) string {
	if d.Reason != "" {
		return "disputed: " + string(d.Reason)
	}
	return "disputed"
}

func (p *Processor) publish(ev *realtime.Event) {
	if p.publisher != nil {
		p.publisher.Broadcast(ev)
	}
}
