// Package purchase tracks the lifecycle of a single PDF sale.
//
// Flow:
//  1. Checkout session created → purchase recorded as pending
//  2. Provider confirms payment → pending → completed, download token issued
//  3. Provider reports failure → pending → failed
//  4. Cardholder disputes the charge → completed → disputed
//
// A purchase never leaves failed or disputed, and a completed purchase can
// only move to disputed. All other transitions are rejected.
package purchase

import (
	"context"
	"errors"
	"time"

	"github.com/fiscalfm/commerce/internal/pagination"
)

var (
	ErrPurchaseNotFound  = errors.New("purchase not found")
	ErrInvalidTransition = errors.New("invalid purchase status transition")
	// ErrDuplicateCompleted surfaces the (user_id, pdf_id) completed-once
	// unique index when a concurrent completion already won.
	ErrDuplicateCompleted = errors.New("user already has a completed purchase of this item")
)

// Status represents the state of a purchase.
type Status string

const (
	StatusPending   Status = "pending"   // Checkout session created, awaiting payment
	StatusCompleted Status = "completed" // Payment confirmed, fulfillment done
	StatusFailed    Status = "failed"    // Payment failed or abandoned
	StatusDisputed  Status = "disputed"  // Chargeback filed after completion
)

// Purchase represents one attempt by one user to buy one PDF.
type Purchase struct {
	ID               string     `json:"id"`
	ItemID           string     `json:"pdfId"`
	UserID           string     `json:"userId"`
	Email            string     `json:"email"`
	Amount           string     `json:"amount"` // decimal string, e.g. "9.99"
	Currency         string     `json:"currency"`
	Status           Status     `json:"status"`
	StripeSessionID  string     `json:"stripeSessionId,omitempty"`
	StripeCustomerID string     `json:"stripeCustomerId,omitempty"`
	PaymentIntentID  string     `json:"paymentIntentId,omitempty"`
	FailureReason    string     `json:"failureReason,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// IsTerminal returns true if the purchase is in a final state.
// Disputed is terminal; completed is not, since a chargeback can still arrive.
func (p *Purchase) IsTerminal() bool {
	switch p.Status {
	case StatusFailed, StatusDisputed:
		return true
	}
	return false
}

// Transition moves the purchase to a new status, enforcing the allowed
// transitions. The caller persists the change.
func (p *Purchase) Transition(to Status) error {
	allowed := false
	switch p.Status {
	case StatusPending:
		allowed = to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		allowed = to == StatusDisputed
	}
	if !allowed {
		return ErrInvalidTransition
	}

	now := time.Now()
	p.Status = to
	p.UpdatedAt = now
	if to == StatusCompleted {
		p.CompletedAt = &now
	}
	return nil
}

// Store persists purchase data.
type Store interface {
	Create(ctx context.Context, p *Purchase) error
	Get(ctx context.Context, id string) (*Purchase, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Purchase, error)
	// GetByPaymentIntent resolves a purchase from the provider payment
	// intent, used for dispute events which carry no session reference.
	GetByPaymentIntent(ctx context.Context, intentID string) (*Purchase, error)
	Update(ctx context.Context, p *Purchase) error
	// ListByUser returns the user's purchases newest first. A non-nil
	// cursor resumes after that position; callers fetch limit+1 rows to
	// detect whether another page exists.
	ListByUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Purchase, error)
	// FindCompleted returns the completed purchase of an item by a user,
	// or ErrPurchaseNotFound if the user has not bought it.
	FindCompleted(ctx context.Context, userID, itemID string) (*Purchase, error)
	// ListStalePending returns pending purchases created before the cutoff.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Purchase, error)
}
