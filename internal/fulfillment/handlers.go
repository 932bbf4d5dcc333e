package fulfillment

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fiscalfm/commerce/internal/catalog"
	"github.com/fiscalfm/commerce/internal/download"
	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/purchase"
)

// Handler provides HTTP handlers for receipt re-delivery
type Handler struct {
	service   *Service
	purchases purchase.Store
	items     catalog.Store
	downloads *download.Service
}

// NewHandler creates a new fulfillment handler
func NewHandler(service *Service, purchases purchase.Store, items catalog.Store, downloads *download.Service) *Handler {
	return &Handler{
		service:   service,
		purchases: purchases,
		items:     items,
		downloads: downloads,
	}
}

// RegisterAdminRoutes sets up the admin-gated delivery routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/email-delivery", h.ResendReceipt)
}

// ResendRequest is the payload for resending a receipt
type ResendRequest struct {
	PurchaseID string `json:"purchaseId" binding:"required"`
}

// ResendReceipt handles POST /admin/email-delivery
// A fresh download token is minted for every resend; old tokens keep their
// own expiry and limits.
func (h *Handler) ResendReceipt(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req ResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": "Invalid request body",
		})
		return
	}

	p, err := h.purchases.Get(ctx, req.PurchaseID)
	if err != nil {
		if errors.Is(err, purchase.ErrPurchaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"details": "Purchase not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "Failed to load purchase",
		})
		return
	}

	if p.Status != purchase.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_state",
			"details": "Only completed purchases can be re-delivered",
		})
		return
	}

	item, err := h.items.Get(ctx, p.ItemID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "Failed to load PDF",
		})
		return
	}

	token, url, err := h.downloads.Issue(ctx, p.ID, p.ItemID, p.UserID)
	if err != nil {
		logger.Error("failed to issue resend token", "purchase_id", p.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "Failed to issue download token",
		})
		return
	}

	err = h.service.SendReceipt(ctx, Receipt{
		Email:       p.Email,
		ItemTitle:   item.Title,
		Amount:      p.Amount,
		Currency:    strings.ToUpper(p.Currency),
		DownloadURL: url,
		ExpiresAt:   token.ExpiresAt,
		MaxUses:     token.MaxRedemptions,
	})
	if err != nil {
		logger.Error("failed to resend receipt", "purchase_id", p.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "Failed to send receipt email",
		})
		return
	}

	logger.Info("receipt resent", "purchase_id", p.ID, "to", p.Email)
	c.JSON(http.StatusOK, gin.H{
		"sent":      true,
		"expiresAt": token.ExpiresAt,
	})
}
