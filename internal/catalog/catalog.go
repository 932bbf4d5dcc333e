// Package catalog manages the purchasable PDF catalog.
//
// Items are created and edited by CMS operators and read by every purchase
// flow. Everything on an item is immutable from this service's point of view
// except the cached payment-link fields, which are set once (lazily) by the
// payment-link creator and read-only afterwards.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/fiscalfm/commerce/internal/validation"
)

var (
	ErrItemNotFound   = errors.New("catalog item not found")
	ErrItemExists     = errors.New("catalog item already exists")
	ErrLinkAlreadySet = errors.New("payment link already cached for item")
)

// Item is a purchasable digital document.
type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`    // decimal string, e.g. "9.99"
	Currency    string `json:"currency"` // ISO 4217, lowercase
	Premium     bool   `json:"isPremium"`
	FileURL     string `json:"fileUrl"`

	// Cached payment-link fields, set once by the payment-link creator.
	PaymentLinkID  string `json:"paymentLinkId,omitempty"`
	PaymentLinkURL string `json:"paymentLinkUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Purchasable reports whether checkout flows may sell this item: it must be
// premium-flagged with a price inside provider-accepted bounds.
func (i *Item) Purchasable() bool {
	if !i.Premium {
		return false
	}
	minor, verr := validation.MinorUnits(i.Price)
	if verr != nil {
		return false
	}
	return minor >= validation.MinChargeMinor && minor <= validation.MaxChargeMinor
}

// PriceMinor returns the item price in integer minor units.
func (i *Item) PriceMinor() (int64, error) {
	minor, verr := validation.MinorUnits(i.Price)
	if verr != nil {
		return 0, errors.New(verr.Message)
	}
	return minor, nil
}

// Store persists catalog items.
type Store interface {
	Create(ctx context.Context, item *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	List(ctx context.Context, limit int) ([]*Item, error)
	Update(ctx context.Context, item *Item) error
	// SetPaymentLink caches the provider payment link on an item. Returns
	// ErrLinkAlreadySet if a link is already cached (set-once semantics).
	SetPaymentLink(ctx context.Context, id, linkID, linkURL string) error
}
