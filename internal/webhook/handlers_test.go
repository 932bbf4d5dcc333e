package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"

	"github.com/fiscalfm/commerce/internal/purchase"
)

const testSigningSecret = "whsec_test_secret"

func signPayload(secret string, ts time.Time, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func setupHandlerRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := setup(t)
	h := NewHandler(f.processor, testSigningSecret)
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r, f
}

func deliver(r *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCompletedPayload(eventID, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {"object": {"id": %q, "payment_status": "paid", "payment_intent": "pi_1"}}
	}`, eventID, stripe.APIVersion, sessionID))
}

func TestReceiveValidSignature(t *testing.T) {
	r, f := setupHandlerRouter(t)
	f.seedPending(t, "pur_1", "cs_1")

	payload := sessionCompletedPayload("evt_1", "cs_1")
	w := deliver(r, payload, signPayload(testSigningSecret, time.Now(), payload))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	p, err := f.purchases.Get(context.Background(), "pur_1")
	if err != nil {
		t.Fatalf("Get purchase: %v", err)
	}
	if p.Status != purchase.StatusCompleted {
		t.Errorf("status = %q, want completed", p.Status)
	}
}

func TestReceiveInvalidSignature(t *testing.T) {
	r, f := setupHandlerRouter(t)
	f.seedPending(t, "pur_1", "cs_1")

	payload := sessionCompletedPayload("evt_1", "cs_1")
	w := deliver(r, payload, signPayload("whsec_wrong_secret", time.Now(), payload))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid_signature") {
		t.Errorf("body = %s, want invalid_signature", w.Body.String())
	}
	p, _ := f.purchases.Get(context.Background(), "pur_1")
	if p.Status != purchase.StatusPending {
		t.Errorf("status = %q, unsigned event must not change state", p.Status)
	}
}

func TestReceiveMissingSignature(t *testing.T) {
	r, _ := setupHandlerRouter(t)

	w := deliver(r, sessionCompletedPayload("evt_1", "cs_1"), "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestReceiveStaleTimestamp(t *testing.T) {
	r, _ := setupHandlerRouter(t)

	payload := sessionCompletedPayload("evt_1", "cs_1")
	stale := time.Now().Add(-time.Hour)
	w := deliver(r, payload, signPayload(testSigningSecret, stale, payload))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for stale signature", w.Code)
	}
}

func TestReceiveTamperedPayload(t *testing.T) {
	r, f := setupHandlerRouter(t)
	f.seedPending(t, "pur_1", "cs_1")

	payload := sessionCompletedPayload("evt_1", "cs_1")
	sig := signPayload(testSigningSecret, time.Now(), payload)
	tampered := bytes.Replace(payload, []byte("cs_1"), []byte("cs_2"), 1)

	w := deliver(r, tampered, sig)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for tampered payload", w.Code)
	}
}

func TestReceiveIgnoredEventTypeAcknowledged(t *testing.T) {
	r, _ := setupHandlerRouter(t)

	payload := []byte(fmt.Sprintf(
		`{"id": "evt_9", "api_version": %q, "type": "invoice.paid", "data": {"object": {"id": "in_1"}}}`,
		stripe.APIVersion))
	w := deliver(r, payload, signPayload(testSigningSecret, time.Now(), payload))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for ignored event type", w.Code)
	}
}
