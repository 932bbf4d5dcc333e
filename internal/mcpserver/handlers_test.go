package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:      ts.URL,
		AdminSecret: "test-admin-secret",
	}
	client := NewCommerceClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AdminHeader(t *testing.T) {
	var gotSecret string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Admin-Secret")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewCommerceClient(Config{APIURL: ts.URL, AdminSecret: "s3cret"})
	_, err := client.GetPurchase(context.Background(), "pur_1")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", gotSecret)
}

func TestClient_DoRequest_HTTPError_WithAPIDetails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_found",
			"details": "Purchase not found",
		})
	}))
	defer ts.Close()

	client := NewCommerceClient(Config{APIURL: ts.URL, AdminSecret: "s"})
	_, err := client.GetPurchase(context.Background(), "pur_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "Purchase not found")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewCommerceClient(Config{APIURL: ts.URL, AdminSecret: "s"})
	_, err := client.ListPDFs(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewCommerceClient(Config{APIURL: "http://127.0.0.1:1", AdminSecret: "s"})
	_, err := client.ListPDFs(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleListPDFs(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pdfs", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pdfs": []map[string]any{
				{"id": "pdf-q3", "title": "Q3 Market Outlook", "price": "9.99", "currency": "usd", "isPremium": true, "paymentLinkUrl": "https://buy.stripe.com/abc"},
				{"id": "pdf-intro", "title": "Intro Guide", "price": "0", "currency": "usd", "isPremium": false},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleListPDFs(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "2 PDF(s)")
	assert.Contains(t, text, "pdf-q3: Q3 Market Outlook (9.99 USD)")
	assert.Contains(t, text, "[has payment link]")
	assert.Contains(t, text, "[free, not purchasable]")
}

func TestHandleListPDFs_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"pdfs": []any{}, "count": 0})
	}))
	defer cleanup()

	result, err := h.HandleListPDFs(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "catalog is empty")
}

func TestHandleGetPDF(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pdfs/pdf-q3", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "pdf-q3", "title": "Q3 Market Outlook",
			"description": "Deep dive on rates.",
			"price":       "9.99", "currency": "usd", "isPremium": true,
		})
	}))
	defer cleanup()

	result, err := h.HandleGetPDF(context.Background(), makeRequest(map[string]any{"pdf_id": "pdf-q3"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Q3 Market Outlook")
	assert.Contains(t, text, "Deep dive on rates.")
	assert.Contains(t, text, "none yet (use create_payment_link)")
}

func TestHandleGetPDF_MissingArg(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called without pdf_id")
	}))
	defer cleanup()

	result, err := h.HandleGetPDF(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCreatePaymentLink(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment-links", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "pdf-q3", body["pdfId"])
		_ = json.NewEncoder(w).Encode(map[string]any{"paymentLinkUrl": "https://buy.stripe.com/abc", "paymentLinkId": "plink_abc", "amount": "9.99", "currency": "usd", "cached": false})
	}))
	defer cleanup()

	result, err := h.HandleCreatePaymentLink(context.Background(), makeRequest(map[string]any{"pdf_id": "pdf-q3"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "https://buy.stripe.com/abc")
	assert.Contains(t, text, "created")
}

func TestHandleCreatePaymentLink_Cached(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"paymentLinkUrl": "https://buy.stripe.com/abc", "paymentLinkId": "plink_abc", "amount": "9.99", "currency": "usd", "cached": true})
	}))
	defer cleanup()

	result, err := h.HandleCreatePaymentLink(context.Background(), makeRequest(map[string]any{"pdf_id": "pdf-q3"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "already existed")
}

func TestHandleLookupPurchase(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/admin/purchases/pur_1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "pur_1", "pdfId": "pdf-q3", "userId": "user-1",
			"email": "listener@example.com", "amount": "9.99", "currency": "usd",
			"status": "failed", "failureReason": "Your card was declined.",
			"createdAt": "2026-08-30T10:00:00Z",
		})
	}))
	defer cleanup()

	result, err := h.HandleLookupPurchase(context.Background(), makeRequest(map[string]any{"purchase_id": "pur_1"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Status: failed")
	assert.Contains(t, text, "Your card was declined.")
	assert.Contains(t, text, "user-1 (listener@example.com)")
}

func TestHandleListUserPurchases(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/admin/users/user-1/purchases", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"purchases": []map[string]any{
				{"id": "pur_2", "pdfId": "pdf-q3", "amount": "9.99", "currency": "usd", "status": "completed"},
				{"id": "pur_1", "pdfId": "pdf-q2", "amount": "12.50", "currency": "usd", "status": "disputed", "failureReason": "disputed: fraudulent"},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleListUserPurchases(context.Background(), makeRequest(map[string]any{"user_id": "user-1"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "2 purchase(s) for user user-1")
	assert.Contains(t, text, "pur_2: pdf-q3, 9.99 USD [completed]")
	assert.Contains(t, text, "(disputed: fraudulent)")
}

func TestHandleResendReceipt(t *testing.T) {
	expires := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/admin/email-delivery", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "pur_1", body["purchaseId"])
		_ = json.NewEncoder(w).Encode(map[string]any{"sent": true, "expiresAt": expires})
	}))
	defer cleanup()

	result, err := h.HandleResendReceipt(context.Background(), makeRequest(map[string]any{"purchase_id": "pur_1"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Receipt re-sent for pur_1")
	assert.Contains(t, text, "fresh download link")
}

func TestHandleResendReceipt_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_state",
			"details": "Receipts can only be re-sent for completed purchases",
		})
	}))
	defer cleanup()

	result, err := h.HandleResendReceipt(context.Background(), makeRequest(map[string]any{"purchase_id": "pur_1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
