package webhook

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	stripewh "github.com/stripe/stripe-go/v81/webhook"

	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/metrics"
)

const maxPayloadBytes = 64 * 1024

// Handler verifies and dispatches provider webhook deliveries.
type Handler struct {
	processor *Processor
	secret    string
}

func NewHandler(processor *Processor, signingSecret string) *Handler {
	return &Handler{processor: processor, secret: signingSecret}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.Receive)
}

// Receive handles POST /webhooks/stripe.
//
// A 2xx acknowledges the delivery; any other status makes the provider
// retry, so persistence failures return 500 and everything else —
// including events we do not act on — returns 200.
func (h *Handler) Receive(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"details": "unable to read request body",
		})
		return
	}

	event, err := stripewh.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.secret)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		logging.L(c.Request.Context()).Warn("webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature",
			"details": "webhook signature verification failed",
		})
		return
	}

	if err := h.processor.Process(c.Request.Context(), &event); err != nil {
		logging.L(c.Request.Context()).Error("webhook processing failed",
			"event_id", event.ID, "type", event.Type, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": "event processing failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
