package purchase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func setupAdminRouter(t *testing.T) (*gin.Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	router := gin.New()
	NewHandler(store).RegisterAdminRoutes(router.Group("/admin"))
	return router, store
}

func TestHandler_GetPurchase(t *testing.T) {
	router, store := setupAdminRouter(t)
	p := newPendingPurchase("pur_1")
	if err := store.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/purchases/pur_1", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got Purchase
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.ID != "pur_1" || got.Status != StatusPending {
		t.Errorf("unexpected purchase: %+v", got)
	}
}

func TestHandler_GetPurchase_NotFound(t *testing.T) {
	router, _ := setupAdminRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/purchases/pur_missing", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandler_ListUserPurchases_Paginated(t *testing.T) {
	router, store := setupAdminRouter(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		p := newPendingPurchase(fmt.Sprintf("pur_%d", i))
		p.StripeSessionID = fmt.Sprintf("cs_test_%d", i)
		p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(context.Background(), p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/users/user-1/purchases?limit=2", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var page struct {
		Purchases  []*Purchase `json:"purchases"`
		Count      int         `json:"count"`
		HasMore    bool        `json:"has_more"`
		NextCursor string      `json:"next_cursor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if page.Count != 2 || !page.HasMore || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page.Purchases[0].ID != "pur_2" {
		t.Errorf("expected newest first, got %s", page.Purchases[0].ID)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/users/user-1/purchases?limit=2&cursor="+page.NextCursor, nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for second page, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if page.Count != 1 || page.HasMore || page.Purchases[0].ID != "pur_0" {
		t.Fatalf("unexpected second page: %+v", page)
	}
}

func TestHandler_ListUserPurchases_InvalidCursor(t *testing.T) {
	router, _ := setupAdminRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/users/user-1/purchases?cursor=%21%21not-base64", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}
