package download

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fiscalfm/commerce/internal/logging"
)

// Handler provides HTTP handlers for download redemption
type Handler struct {
	service *Service
}

// NewHandler creates a new download handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the download routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/downloads/:token", h.Redeem)
}

// Redeem handles GET /downloads/:token
// On success the client is redirected to the file; the redirect target is a
// signed storage URL, not this API.
func (h *Handler) Redeem(c *gin.Context) {
	ctx := c.Request.Context()
	token := c.Param("token")

	fileURL, err := h.service.Redeem(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"details": "Download link is invalid",
			})
		case errors.Is(err, ErrTokenExpired):
			c.JSON(http.StatusGone, gin.H{
				"error":   "token_expired",
				"details": "Download link has expired",
			})
		case errors.Is(err, ErrTokenExhausted):
			c.JSON(http.StatusGone, gin.H{
				"error":   "token_exhausted",
				"details": "Download link has reached its usage limit",
			})
		default:
			logging.L(ctx).Error("failed to redeem download token", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"details": "Failed to process download",
			})
		}
		return
	}

	c.Redirect(http.StatusFound, fileURL)
}
