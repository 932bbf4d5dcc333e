package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the commerce API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Shared secret for the admin routes
}

// CommerceClient is a pure HTTP client for the commerce API.
type CommerceClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewCommerceClient creates a new client for the commerce API.
func NewCommerceClient(cfg Config) *CommerceClient {
	return &CommerceClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *CommerceClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Details != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Details)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ListPDFs returns the catalog.
func (c *CommerceClient) ListPDFs(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/pdfs", q, nil)
}

// GetPDF returns one catalog item.
func (c *CommerceClient) GetPDF(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/pdfs/"+id, nil, nil)
}

// CreatePaymentLink creates or fetches the payment link for an item.
func (c *CommerceClient) CreatePaymentLink(ctx context.Context, pdfID string) (json.RawMessage, error) {
	body := map[string]string{"pdfId": pdfID}
	return c.doRequest(ctx, http.MethodPost, "/v1/payment-links", nil, body)
}

// GetPurchase returns one purchase.
func (c *CommerceClient) GetPurchase(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/purchases/"+id, nil, nil)
}

// ListUserPurchases returns a user's purchases, newest first.
func (c *CommerceClient) ListUserPurchases(ctx context.Context, userID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/users/"+userID+"/purchases", q, nil)
}

// ResendReceipt re-sends the receipt email for a completed purchase.
func (c *CommerceClient) ResendReceipt(ctx context.Context, purchaseID string) (json.RawMessage, error) {
	body := map[string]string{"purchaseId": purchaseID}
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/email-delivery", nil, body)
}
