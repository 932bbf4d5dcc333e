package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fiscalfm/commerce/internal/catalog"
)

func setupDownloadService() (*Service, *MemoryStore, *catalog.MemoryStore) {
	tokens := NewMemoryStore()
	items := catalog.NewMemoryStore()
	svc := NewService(tokens, items, 48*time.Hour, 5, "https://api.fiscal.fm/v1/downloads")
	return svc, tokens, items
}

func seedItem(items *catalog.MemoryStore, id string) {
	now := time.Now()
	items.Create(context.Background(), &catalog.Item{
		ID:        id,
		Title:     "Q3 Market Outlook",
		Price:     "9.99",
		Currency:  "usd",
		Premium:   true,
		FileURL:   "https://files.example.com/" + id + ".pdf",
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func TestIssue_SetsExpiryAndLimit(t *testing.T) {
	svc, _, items := setupDownloadService()
	ctx := context.Background()
	seedItem(items, "pdf-q3-outlook")

	token, url, err := svc.Issue(ctx, "pur_1", "pdf-q3-outlook", "user-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if token.Token == "" || len(token.Token) != 64 {
		t.Errorf("Expected 64-char hex token, got %q", token.Token)
	}
	if token.MaxRedemptions != 5 {
		t.Errorf("Expected max 5 redemptions, got %d", token.MaxRedemptions)
	}

	wantExpiry := time.Now().Add(48 * time.Hour)
	if token.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || token.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("Expected ~48h expiry, got %v", token.ExpiresAt)
	}

	if !strings.HasPrefix(url, "https://api.fiscal.fm/v1/downloads/") {
		t.Errorf("Unexpected download URL %s", url)
	}
	if !strings.HasSuffix(url, token.Token) {
		t.Error("Download URL should end with the token")
	}
}

func TestRedeem_ReturnsFileURL(t *testing.T) {
	svc, _, items := setupDownloadService()
	ctx := context.Background()
	seedItem(items, "pdf-q3-outlook")

	token, _, _ := svc.Issue(ctx, "pur_1", "pdf-q3-outlook", "user-1")

	fileURL, err := svc.Redeem(ctx, token.Token)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if fileURL != "https://files.example.com/pdf-q3-outlook.pdf" {
		t.Errorf("Unexpected file URL %s", fileURL)
	}
}

func TestRedeem_ExhaustsAfterMaxUses(t *testing.T) {
	svc, _, items := setupDownloadService()
	ctx := context.Background()
	seedItem(items, "pdf-q3-outlook")

	token, _, _ := svc.Issue(ctx, "pur_1", "pdf-q3-outlook", "user-1")

	for i := 0; i < 5; i++ {
		if _, err := svc.Redeem(ctx, token.Token); err != nil {
			t.Fatalf("Redemption %d failed: %v", i+1, err)
		}
	}

	if _, err := svc.Redeem(ctx, token.Token); err != ErrTokenExhausted {
		t.Errorf("Expected ErrTokenExhausted on 6th use, got %v", err)
	}
}

func TestRedeem_Expired(t *testing.T) {
	svc, tokens, items := setupDownloadService()
	ctx := context.Background()
	seedItem(items, "pdf-q3-outlook")

	token, _, _ := svc.Issue(ctx, "pur_1", "pdf-q3-outlook", "user-1")

	tokens.now = func() time.Time { return time.Now().Add(49 * time.Hour) }

	if _, err := svc.Redeem(ctx, token.Token); err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestRedeem_Unknown(t *testing.T) {
	svc, _, _ := setupDownloadService()

	if _, err := svc.Redeem(context.Background(), "deadbeef"); err != ErrTokenNotFound {
		t.Errorf("Expected ErrTokenNotFound, got %v", err)
	}
}

func TestRedeem_ConcurrentNeverExceedsCap(t *testing.T) {
	svc, _, items := setupDownloadService()
	ctx := context.Background()
	seedItem(items, "pdf-q3-outlook")

	token, _, _ := svc.Issue(ctx, "pur_1", "pdf-q3-outlook", "user-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Redeem(ctx, token.Token); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Errorf("Expected exactly 5 successful redemptions, got %d", succeeded)
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func setupDownloadRouter() (*gin.Engine, *Service, *catalog.MemoryStore) {
	gin.SetMode(gin.TestMode)

	svc, _, items := setupDownloadService()
	handler := NewHandler(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)

	return r, svc, items
}

func TestHandler_Redeem_302(t *testing.T) {
	router, svc, items := setupDownloadRouter()
	ctx := context.Background()
	seedItem(items, "pdf-q3-outlook")

	token, _, _ := svc.Issue(ctx, "pur_1", "pdf-q3-outlook", "user-1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/downloads/"+token.Token, nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "https://files.example.com/pdf-q3-outlook.pdf" {
		t.Errorf("Unexpected redirect target %s", loc)
	}
}

func TestHandler_Redeem_404(t *testing.T) {
	router, _, _ := setupDownloadRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/downloads/bogus-token", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestHandler_Redeem_410AfterExhaustion(t *testing.T) {
	router, svc, items := setupDownloadRouter()
	ctx := context.Background()
	seedItem(items, "pdf-q3-outlook")

	token, _, _ := svc.Issue(ctx, "pur_1", "pdf-q3-outlook", "user-1")
	for i := 0; i < 5; i++ {
		svc.Redeem(ctx, token.Token)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/downloads/"+token.Token, nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusGone {
		t.Errorf("Expected 410, got %d", w.Code)
	}
}
