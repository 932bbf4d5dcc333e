// Package download issues and redeems time-limited download tokens.
//
// A token is minted when a purchase completes and embedded in the receipt
// email. It is an opaque random string: possession is the only credential.
// Tokens expire after a fixed TTL and stop working after a fixed number of
// redemptions, whichever comes first.
package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fiscalfm/commerce/internal/catalog"
	"github.com/fiscalfm/commerce/internal/idgen"
	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/metrics"
	"github.com/fiscalfm/commerce/internal/traces"
)

var (
	ErrTokenNotFound  = errors.New("download token not found")
	ErrTokenExpired   = errors.New("download token expired")
	ErrTokenExhausted = errors.New("download token redemption limit reached")
)

// Defaults for token issuance.
const (
	DefaultTTL            = 48 * time.Hour
	DefaultMaxRedemptions = 5
)

// Token grants access to one purchased PDF for a limited time.
type Token struct {
	Token          string    `json:"token"`
	PurchaseID     string    `json:"purchaseId"`
	ItemID         string    `json:"pdfId"`
	UserID         string    `json:"userId"`
	Redemptions    int       `json:"redemptions"`
	MaxRedemptions int       `json:"maxRedemptions"`
	ExpiresAt      time.Time `json:"expiresAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store persists download tokens.
type Store interface {
	Create(ctx context.Context, t *Token) error
	Get(ctx context.Context, token string) (*Token, error)
	// Redeem atomically increments the redemption count if the token is
	// still live. Returns the token after the increment, or
	// ErrTokenNotFound / ErrTokenExpired / ErrTokenExhausted.
	Redeem(ctx context.Context, token string) (*Token, error)
}

// Service issues and redeems download tokens.
type Service struct {
	tokens  Store
	items   catalog.Store
	ttl     time.Duration
	maxUses int
	baseURL string
}

// NewService creates a download service. baseURL is the public prefix for
// download links, e.g. "https://api.fiscal.fm/v1/downloads".
func NewService(tokens Store, items catalog.Store, ttl time.Duration, maxUses int, baseURL string) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxUses <= 0 {
		maxUses = DefaultMaxRedemptions
	}
	return &Service{
		tokens:  tokens,
		items:   items,
		ttl:     ttl,
		maxUses: maxUses,
		baseURL: baseURL,
	}
}

// Issue mints a fresh token for a completed purchase and returns the token
// plus the full download URL.
func (s *Service) Issue(ctx context.Context, purchaseID, itemID, userID string) (*Token, string, error) {
	now := time.Now()
	t := &Token{
		Token:          idgen.Hex(32),
		PurchaseID:     purchaseID,
		ItemID:         itemID,
		UserID:         userID,
		MaxRedemptions: s.maxUses,
		ExpiresAt:      now.Add(s.ttl),
		CreatedAt:      now,
	}
	if err := s.tokens.Create(ctx, t); err != nil {
		return nil, "", fmt.Errorf("failed to store download token: %w", err)
	}

	logging.L(ctx).Info("download token issued",
		"purchase_id", purchaseID,
		"pdf_id", itemID,
		"expires_at", t.ExpiresAt,
	)

	return t, s.URL(t.Token), nil
}

// URL returns the public download URL for a token.
func (s *Service) URL(token string) string {
	return s.baseURL + "/" + token
}

// Redeem spends one redemption and returns the file URL to serve.
func (s *Service) Redeem(ctx context.Context, token string) (string, error) {
	ctx, span := traces.StartSpan(ctx, "download.Redeem")
	defer span.End()

	t, err := s.tokens.Redeem(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			metrics.DownloadsTotal.WithLabelValues("expired").Inc()
		case errors.Is(err, ErrTokenExhausted):
			metrics.DownloadsTotal.WithLabelValues("exhausted").Inc()
		case errors.Is(err, ErrTokenNotFound):
			metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
		}
		return "", err
	}

	item, err := s.items.Get(ctx, t.ItemID)
	if err != nil {
		return "", fmt.Errorf("failed to load item for token: %w", err)
	}

	logging.L(ctx).Info("download token redeemed",
		"pdf_id", t.ItemID,
		"purchase_id", t.PurchaseID,
		"redemptions", t.Redemptions,
		"max_redemptions", t.MaxRedemptions,
	)
	metrics.DownloadsTotal.WithLabelValues("redeemed").Inc()

	return item.FileURL, nil
}
