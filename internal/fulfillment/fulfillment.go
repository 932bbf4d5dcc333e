// Package fulfillment delivers purchased PDFs to buyers by email.
//
// The receipt email is the delivery mechanism: it carries the download link
// minted for the completed purchase. Sending is best-effort from the webhook
// path; operators can resend through the admin endpoint.
package fulfillment

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/metrics"
)

// Receipt carries everything the receipt email needs.
type Receipt struct {
	Email       string
	ItemTitle   string
	Amount      string
	Currency    string
	DownloadURL string
	ExpiresAt   time.Time
	MaxUses     int
}

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

var receiptTmpl = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Thanks for your purchase!</h2>
  <p>Your copy of <strong>{{.ItemTitle}}</strong> is ready.</p>
  <p>
    <a href="{{.DownloadURL}}"
       style="display: inline-block; padding: 12px 24px; background: #1a73e8; color: #fff; text-decoration: none; border-radius: 4px;">
      Download PDF
    </a>
  </p>
  <p style="color: #666; font-size: 13px;">
    This link works {{.MaxUses}} times and expires on {{.Expires}}.
    If it stops working, reply to this email and we'll send a fresh one.
  </p>
  <hr style="border: none; border-top: 1px solid #eee;">
  <p style="color: #666; font-size: 13px;">
    Amount charged: {{.Amount}} {{.Currency}}
  </p>
</body>
</html>
`))

// Service renders and sends receipt emails.
type Service struct {
	sender Sender
	from   string
}

// NewService creates a fulfillment service.
func NewService(sender Sender, from string) *Service {
	return &Service{sender: sender, from: from}
}

// SendReceipt renders the receipt email and sends it to the buyer.
func (s *Service) SendReceipt(ctx context.Context, r Receipt) error {
	var body bytes.Buffer
	err := receiptTmpl.Execute(&body, map[string]any{
		"ItemTitle":   r.ItemTitle,
		"DownloadURL": r.DownloadURL,
		"MaxUses":     r.MaxUses,
		"Expires":     r.ExpiresAt.UTC().Format("Jan 2, 2006 15:04 MST"),
		"Amount":      r.Amount,
		"Currency":    r.Currency,
	})
	if err != nil {
		return fmt.Errorf("failed to render receipt: %w", err)
	}

	subject := "Your PDF: " + r.ItemTitle

	if err := s.sender.Send(ctx, r.Email, subject, body.String()); err != nil {
		metrics.ReceiptEmailsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to send receipt: %w", err)
	}

	logging.L(ctx).Info("receipt email sent",
		"to", r.Email,
		"item", r.ItemTitle,
	)
	metrics.ReceiptEmailsTotal.WithLabelValues("sent").Inc()
	return nil
}
