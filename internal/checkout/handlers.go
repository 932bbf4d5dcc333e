package checkout

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fiscalfm/commerce/internal/catalog"
	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/validation"
)

// Handler provides HTTP handlers for the checkout API
type Handler struct {
	service *Service
}

// NewHandler creates a new checkout handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the checkout routes. linkRateLimit runs before the
// payment-link handler so quota is spent even on requests that fail
// validation.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, linkRateLimit gin.HandlerFunc) {
	r.POST("/checkout/sessions", h.CreateSession)
	r.POST("/payment-links", linkRateLimit, h.CreatePaymentLink)
}

// CreateSessionRequest is the payload for creating a checkout session.
// Email is optional; without it the provider collects the address during
// checkout. successUrl/cancelUrl override the configured defaults.
type CreateSessionRequest struct {
	ItemID     string `json:"pdfId" binding:"required"`
	UserID     string `json:"userId" binding:"required"`
	Email      string `json:"email"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// CreateSession handles POST /checkout/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidItemID("pdfId", req.ItemID),
		validation.ValidEmail("email", req.Email),
		validation.MaxLength("userId", req.UserID, 128),
		validation.ValidURL("successUrl", req.SuccessURL),
		validation.ValidURL("cancelUrl", req.CancelURL),
	); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs.Error(),
		})
		return
	}

	session, err := h.service.CreateSession(ctx, SessionRequest{
		ItemID:     req.ItemID,
		UserID:     req.UserID,
		Email:      req.Email,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrItemNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"details": "PDF not found",
			})
		case errors.Is(err, ErrNotPurchasable):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_state",
				"details": "PDF is not available for purchase",
			})
		case errors.Is(err, ErrAlreadyPurchased):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_purchased",
				"details": "You already own this PDF",
			})
		case errors.Is(err, ErrProviderUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "provider_unavailable",
				"details": "Payment provider is temporarily unavailable",
			})
		default:
			logger.Error("failed to create checkout session",
				"pdf_id", req.ItemID,
				"error", err,
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"details": "Failed to create checkout session",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, session)
}

// CreateLinkRequest is the payload for creating a payment link
type CreateLinkRequest struct {
	ItemID string `json:"pdfId" binding:"required"`
}

// CreatePaymentLink handles POST /payment-links
func (h *Handler) CreatePaymentLink(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": "Invalid request body",
		})
		return
	}

	if !validation.IsValidItemID(req.ItemID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_item_id",
			"details": "pdfId must match pdf-<slug> (lowercase letters, digits, dashes)",
		})
		return
	}

	link, err := h.service.CreatePaymentLink(ctx, req.ItemID)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrItemNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"details": "PDF not found",
			})
		case errors.Is(err, ErrNotPurchasable):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_state",
				"details": "PDF is not available for purchase",
			})
		case errors.Is(err, ErrProviderUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "provider_unavailable",
				"details": "Payment provider is temporarily unavailable",
			})
		default:
			logger.Error("failed to create payment link",
				"pdf_id", req.ItemID,
				"error", err,
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"details": "Failed to create payment link",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, link)
}
