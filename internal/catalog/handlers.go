package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/validation"
)

// Handler provides HTTP handlers for the catalog API
type Handler struct {
	store        Store
	checkFileURL func(string) error
}

// NewHandler creates a new catalog handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// SetFileURLCheck installs an extra validator for admin-supplied file
// URLs, run after the basic format checks.
func (h *Handler) SetFileURLCheck(fn func(string) error) {
	h.checkFileURL = fn
}

// RegisterRoutes sets up the public catalog routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/pdfs", h.ListItems)
	r.GET("/pdfs/:id", h.GetItem)
}

// RegisterAdminRoutes sets up the admin catalog routes. The caller is
// expected to gate the group with admin auth middleware.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/pdfs", h.CreateItem)
	r.PUT("/pdfs/:id", h.UpdateItem)
}

// CreateItemRequest is the payload for adding a catalog item
type CreateItemRequest struct {
	ID          string `json:"id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	Premium     bool   `json:"premium"`
	FileURL     string `json:"fileUrl" binding:"required"`
}

// CreateItem handles POST /admin/pdfs
func (h *Handler) CreateItem(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidItemID("id", req.ID),
		validation.MaxLength("title", req.Title, 200),
		validation.MaxLength("description", req.Description, 2000),
		validation.ValidChargeAmount("price", req.Price),
		validation.ValidCurrency("currency", req.Currency),
		validation.ValidURL("fileUrl", req.FileURL),
	); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs.Error(),
		})
		return
	}

	if h.checkFileURL != nil {
		if err := h.checkFileURL(req.FileURL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"details": "fileUrl: " + err.Error(),
			})
			return
		}
	}

	now := time.Now()
	item := &Item{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
		Premium:     req.Premium,
		FileURL:     req.FileURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.Create(ctx, item); err != nil {
		if errors.Is(err, ErrItemExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "item_exists",
				"details": "A PDF with this ID already exists",
			})
			return
		}
		logger.Error("failed to create catalog item", "error", err, "item_id", req.ID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "Failed to create PDF",
		})
		return
	}

	logger.Info("catalog item created",
		"item_id", item.ID,
		"price", item.Price,
		"premium", item.Premium,
	)

	c.JSON(http.StatusCreated, item)
}

// GetItem handles GET /pdfs/:id
func (h *Handler) GetItem(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	item, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"details": "PDF not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "Failed to get PDF",
		})
		return
	}

	c.JSON(http.StatusOK, item)
}

// ListItems handles GET /pdfs
func (h *Handler) ListItems(c *gin.Context) {
	ctx := c.Request.Context()

	items, err := h.store.List(ctx, parseIntQuery(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "Failed to list PDFs",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pdfs":  items,
		"count": len(items),
	})
}

// UpdateItemRequest is the payload for updating a catalog item.
// Payment link fields are managed by the payment-link flow and cannot
// be edited here.
type UpdateItemRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	Premium     bool   `json:"premium"`
	FileURL     string `json:"fileUrl" binding:"required"`
}

// UpdateItem handles PUT /admin/pdfs/:id
func (h *Handler) UpdateItem(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)
	id := c.Param("id")

	var req UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.MaxLength("title", req.Title, 200),
		validation.MaxLength("description", req.Description, 2000),
		validation.ValidChargeAmount("price", req.Price),
		validation.ValidCurrency("currency", req.Currency),
		validation.ValidURL("fileUrl", req.FileURL),
	); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs.Error(),
		})
		return
	}

	if h.checkFileURL != nil {
		if err := h.checkFileURL(req.FileURL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"details": "fileUrl: " + err.Error(),
			})
			return
		}
	}

	item := &Item{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
		Premium:     req.Premium,
		FileURL:     req.FileURL,
		UpdatedAt:   time.Now(),
	}

	if err := h.store.Update(ctx, item); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"details": "PDF not found",
			})
			return
		}
		logger.Error("failed to update catalog item", "error", err, "item_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "Failed to update PDF",
		})
		return
	}

	logger.Info("catalog item updated", "item_id", id)
	c.JSON(http.StatusOK, item)
}

func parseIntQuery(c *gin.Context, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil && i > 0 {
			return i
		}
	}
	return defaultVal
}
