package purchase

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fiscalfm/commerce/internal/pagination"
)

// Handler provides admin HTTP handlers for purchase lookups.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterAdminRoutes sets up the admin purchase routes. The caller is
// expected to gate the group with admin auth middleware.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/purchases/:id", h.GetPurchase)
	r.GET("/users/:userId/purchases", h.ListUserPurchases)
}

// GetPurchase handles GET /admin/purchases/:id
func (h *Handler) GetPurchase(c *gin.Context) {
	p, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrPurchaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"details": "Purchase not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "Failed to get purchase",
		})
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListUserPurchases handles GET /admin/users/:userId/purchases
func (h *Handler) ListUserPurchases(c *gin.Context) {
	limit := 50
	if val := c.Query("limit"); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil && i > 0 && i <= 200 {
			limit = i
		}
	}

	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"details": "cursor is malformed",
		})
		return
	}

	// Fetch one extra row to learn whether another page exists.
	purchases, err := h.store.ListByUser(c.Request.Context(), c.Param("userId"), after, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "Failed to list purchases",
		})
		return
	}

	purchases, next, hasMore := pagination.ComputePage(purchases, limit, func(p *Purchase) (time.Time, string) {
		return p.CreatedAt, p.ID
	})
	resp := gin.H{
		"purchases": purchases,
		"count":     len(purchases),
		"has_more":  hasMore,
	}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
