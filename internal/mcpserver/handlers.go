package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *CommerceClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *CommerceClient) *Handlers {
	return &Handlers{client: client}
}

// HandleListPDFs browses the catalog.
func (h *Handlers) HandleListPDFs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)

	raw, err := h.client.ListPDFs(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list PDFs: %v", err)), nil
	}

	text, err := formatItemList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse catalog: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetPDF looks up one catalog item.
func (h *Handlers) HandleGetPDF(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pdfID := req.GetString("pdf_id", "")
	if pdfID == "" {
		return mcp.NewToolResultError("pdf_id is required"), nil
	}

	raw, err := h.client.GetPDF(ctx, pdfID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get PDF: %v", err)), nil
	}

	var item catalogItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse PDF: %v", err)), nil
	}
	return mcp.NewToolResultText(formatItem(&item)), nil
}

// HandleCreatePaymentLink creates or fetches a shareable payment link.
func (h *Handlers) HandleCreatePaymentLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pdfID := req.GetString("pdf_id", "")
	if pdfID == "" {
		return mcp.NewToolResultError("pdf_id is required"), nil
	}

	raw, err := h.client.CreatePaymentLink(ctx, pdfID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create payment link: %v", err)), nil
	}

	var link struct {
		URL    string `json:"paymentLinkUrl"`
		Cached bool   `json:"cached"`
	}
	if err := json.Unmarshal(raw, &link); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment link: %v", err)), nil
	}

	state := "created"
	if link.Cached {
		state = "already existed"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Payment link for %s (%s):\n%s", pdfID, state, link.URL)), nil
}

// HandleLookupPurchase looks up one purchase.
func (h *Handlers) HandleLookupPurchase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	purchaseID := req.GetString("purchase_id", "")
	if purchaseID == "" {
		return mcp.NewToolResultError("purchase_id is required"), nil
	}

	raw, err := h.client.GetPurchase(ctx, purchaseID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to look up purchase: %v", err)), nil
	}

	var p purchaseRecord
	if err := json.Unmarshal(raw, &p); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse purchase: %v", err)), nil
	}
	return mcp.NewToolResultText(formatPurchase(&p)), nil
}

// HandleListUserPurchases lists a user's purchases.
func (h *Handlers) HandleListUserPurchases(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	limit := req.GetInt("limit", 0)

	raw, err := h.client.ListUserPurchases(ctx, userID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list purchases: %v", err)), nil
	}

	text, err := formatPurchaseList(userID, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse purchases: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleResendReceipt re-delivers the receipt email for a purchase.
func (h *Handlers) HandleResendReceipt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	purchaseID := req.GetString("purchase_id", "")
	if purchaseID == "" {
		return mcp.NewToolResultError("purchase_id is required"), nil
	}

	raw, err := h.client.ResendReceipt(ctx, purchaseID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resend receipt: %v", err)), nil
	}

	var resp struct {
		Sent      bool      `json:"sent"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Receipt re-sent for %s with a fresh download link (expires %s).",
		purchaseID, resp.ExpiresAt.Format(time.RFC1123))), nil
}

// ---------------------------------------------------------------------------
// Response formatting
// ---------------------------------------------------------------------------

type catalogItem struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Price          string `json:"price"`
	Currency       string `json:"currency"`
	Premium        bool   `json:"isPremium"`
	PaymentLinkURL string `json:"paymentLinkUrl"`
}

type purchaseRecord struct {
	ID            string `json:"id"`
	PDFID         string `json:"pdfId"`
	UserID        string `json:"userId"`
	Email         string `json:"email"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	FailureReason string `json:"failureReason"`
	CreatedAt     string `json:"createdAt"`
	CompletedAt   string `json:"completedAt"`
}

func formatItemList(raw json.RawMessage) (string, error) {
	var resp struct {
		PDFs  []catalogItem `json:"pdfs"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Count == 0 {
		return "The catalog is empty.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d PDF(s) in the catalog:\n\n", resp.Count)
	for _, item := range resp.PDFs {
		fmt.Fprintf(&sb, "- %s: %s (%s %s)", item.ID, item.Title, item.Price, strings.ToUpper(item.Currency))
		if !item.Premium {
			sb.WriteString(" [free, not purchasable]")
		}
		if item.PaymentLinkURL != "" {
			sb.WriteString(" [has payment link]")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatItem(item *catalogItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", item.ID, item.Title)
	if item.Description != "" {
		fmt.Fprintf(&sb, "%s\n", item.Description)
	}
	fmt.Fprintf(&sb, "Price: %s %s\n", item.Price, strings.ToUpper(item.Currency))
	fmt.Fprintf(&sb, "Purchasable: %v\n", item.Premium)
	if item.PaymentLinkURL != "" {
		fmt.Fprintf(&sb, "Payment link: %s\n", item.PaymentLinkURL)
	} else {
		sb.WriteString("Payment link: none yet (use create_payment_link)\n")
	}
	return sb.String()
}

func formatPurchase(p *purchaseRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Purchase %s\n", p.ID)
	fmt.Fprintf(&sb, "Status: %s\n", p.Status)
	fmt.Fprintf(&sb, "PDF: %s\n", p.PDFID)
	fmt.Fprintf(&sb, "Buyer: %s (%s)\n", p.UserID, p.Email)
	fmt.Fprintf(&sb, "Amount: %s %s\n", p.Amount, strings.ToUpper(p.Currency))
	fmt.Fprintf(&sb, "Created: %s\n", p.CreatedAt)
	if p.CompletedAt != "" {
		fmt.Fprintf(&sb, "Completed: %s\n", p.CompletedAt)
	}
	if p.FailureReason != "" {
		fmt.Fprintf(&sb, "Failure reason: %s\n", p.FailureReason)
	}
	return sb.String()
}

func formatPurchaseList(userID string, raw json.RawMessage) (string, error) {
	var resp struct {
		Purchases []purchaseRecord `json:"purchases"`
		Count     int              `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Count == 0 {
		return fmt.Sprintf("User %s has no purchases.", userID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d purchase(s) for user %s:\n\n", resp.Count, userID)
	for _, p := range resp.Purchases {
		fmt.Fprintf(&sb, "- %s: %s, %s %s [%s]", p.ID, p.PDFID, p.Amount, strings.ToUpper(p.Currency), p.Status)
		if p.FailureReason != "" {
			fmt.Fprintf(&sb, " (%s)", p.FailureReason)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
