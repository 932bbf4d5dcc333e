package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"

	"github.com/fiscalfm/commerce/internal/checkout"
	"github.com/fiscalfm/commerce/internal/config"
	"github.com/fiscalfm/commerce/internal/logging"
)

const (
	testAdminSecret   = "test-admin-secret"
	testWebhookSecret = "whsec_test_secret"
)

type mockProvider struct {
	mu           sync.Mutex
	sessionCalls int
	linkCalls    int
}

func (m *mockProvider) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	return "cus_test", nil
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, p checkout.SessionParams) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionCalls++
	id := fmt.Sprintf("cs_test_%d", m.sessionCalls)
	return id, "https://checkout.stripe.com/c/pay/" + id, nil
}

func (m *mockProvider) CreatePaymentLink(ctx context.Context, p checkout.LinkParams) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkCalls++
	return "plink_test", "https://buy.stripe.com/test", nil
}

type captureSender struct {
	mu     sync.Mutex
	bodies []string
}

func (c *captureSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, htmlBody)
	return nil
}

func (c *captureSender) lastBody() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) == 0 {
		return ""
	}
	return c.bodies[len(c.bodies)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "development",
		LogLevel:            "error",
		StripeSecretKey:     "sk_test_xxx",
		StripeWebhookSecret: testWebhookSecret,
		SuccessURL:          "https://fiscal.fm/thank-you",
		CancelURL:           "https://fiscal.fm/library",
		DownloadTokenTTL:    48 * time.Hour,
		MaxDownloads:        5,
		DownloadBaseURL:     "https://api.fiscal.fm/v1/downloads",
		PendingPurchaseAge:  24 * time.Hour,
		EmailFrom:           "receipts@fiscal.fm",
		AdminSecret:         testAdminSecret,
		AllowedOrigins:      []string{"*"},
		LinkRateWindow:      60 * time.Second,
		LinkRateQuota:       10,
	}
}

func newTestServer(t *testing.T) (*Server, *mockProvider, *captureSender) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := &mockProvider{}
	sender := &captureSender{}
	srv, err := New(testConfig(),
		WithLogger(logging.New("error", "text")),
		WithPaymentProvider(provider),
		WithEmailSender(sender),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		srv.linkLimit.Stop()
	})
	return srv, provider, sender
}

func doJSON(router *gin.Engine, method, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Secret": testAdminSecret}
}

func seedCatalogItem(t *testing.T, router *gin.Engine, id string) {
	t.Helper()
	w := doJSON(router, "POST", "/v1/admin/pdfs", map[string]any{
		"id":      id,
		"title":   "Q3 Market Outlook",
		"price":   "9.99",
		// IP literal keeps the SSRF check from doing DNS lookups in tests
		"fileUrl":  "https://93.184.216.34/" + id + ".pdf",
		"currency": "usd",
		"premium":  true,
	}, adminHeaders())
	if w.Code != http.StatusCreated {
		t.Fatalf("seed item: status = %d: %s", w.Code, w.Body.String())
	}
}

func signWebhookPayload(ts time.Time, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestOperationalEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/health/live", "/metrics"} {
		w := doJSON(srv.Router(), "GET", path, nil, nil)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, w.Code)
		}
	}

	// Not ready until Run has started
	w := doJSON(srv.Router(), "GET", "/health/ready", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health/ready status = %d, want 503 before Run", w.Code)
	}
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(srv.Router(), "POST", "/v1/admin/pdfs", map[string]any{"id": "pdf-x"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without admin secret", w.Code)
	}

	w = doJSON(srv.Router(), "POST", "/v1/admin/pdfs", map[string]any{"id": "pdf-x"},
		map[string]string{"X-Admin-Secret": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 with wrong admin secret", w.Code)
	}
}

func TestCatalogFlow(t *testing.T) {
	srv, _, _ := newTestServer(t)
	seedCatalogItem(t, srv.Router(), "pdf-q3")

	w := doJSON(srv.Router(), "GET", "/v1/pdfs", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pdf-q3") {
		t.Errorf("list body missing seeded item: %s", w.Body.String())
	}

	w = doJSON(srv.Router(), "GET", "/v1/pdfs/pdf-q3", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}
}

func TestPurchaseLifecycleEndToEnd(t *testing.T) {
	srv, _, sender := newTestServer(t)
	router := srv.Router()
	seedCatalogItem(t, router, "pdf-q3")

	// 1. Create a checkout session
	w := doJSON(router, "POST", "/v1/checkout/sessions", map[string]any{
		"pdfId":  "pdf-q3",
		"userId": "user-1",
		"email":  "listener@example.com",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d: %s", w.Code, w.Body.String())
	}
	var session struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatalf("parse session: %v", err)
	}

	// 2. Deliver the signed completion webhook
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_e2e_1",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {"object": {"id": %q, "payment_status": "paid", "payment_intent": "pi_e2e_1"}}
	}`, stripe.APIVersion, session.SessionID))

	req := httptest.NewRequest("POST", "/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhookPayload(time.Now(), payload))
	wh := httptest.NewRecorder()
	router.ServeHTTP(wh, req)
	if wh.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", wh.Code, wh.Body.String())
	}

	// 3. The receipt email carries a live download link
	body := sender.lastBody()
	if body == "" {
		t.Fatal("no receipt email sent")
	}
	m := regexp.MustCompile(`downloads/([0-9a-f]{64})`).FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("no download token in receipt body: %s", body)
	}

	// 4. Redeeming the token redirects to the file
	w = doJSON(router, "GET", "/v1/downloads/"+m[1], nil, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("download status = %d, want 302: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); !strings.Contains(loc, "pdf-q3.pdf") {
		t.Errorf("redirect location = %q, want the seeded file URL", loc)
	}

	// 5. A second purchase attempt by the same user is rejected
	w = doJSON(router, "POST", "/v1/checkout/sessions", map[string]any{
		"pdfId":  "pdf-q3",
		"userId": "user-1",
		"email":  "listener@example.com",
	}, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("repeat purchase status = %d, want 409", w.Code)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, _, _ := newTestServer(t)

	payload := []byte(`{"id": "evt_1", "type": "checkout.session.completed", "data": {"object": {}}}`)
	req := httptest.NewRequest("POST", "/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPaymentLinkRateLimitWired(t *testing.T) {
	srv, provider, _ := newTestServer(t)
	router := srv.Router()
	seedCatalogItem(t, router, "pdf-q3")

	var last int
	for i := 0; i < 11; i++ {
		w := doJSON(router, "POST", "/v1/payment-links", map[string]any{"pdfId": "pdf-q3"}, nil)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("11th request status = %d, want 429", last)
	}
	if provider.linkCalls != 1 {
		t.Errorf("provider link calls = %d, want 1 (cached afterwards)", provider.linkCalls)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(srv.Router(), "GET", "/v1/pdfs", nil, nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	req := httptest.NewRequest("GET", "/v1/pdfs", nil)
	req.Header.Set("X-Request-ID", "req-upstream-1")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-upstream-1" {
		t.Errorf("X-Request-ID = %q, want upstream value preserved", got)
	}
}
