// Package webhook exposes the payment-rail callback endpoints. The caller
// must have verified the rail signature before these handlers run; replay
// protection is the verification layer's contract, idempotency is ours.
package webhook

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pawplan/pawplan/internal/engine"
	"github.com/pawplan/pawplan/internal/lifecycle"
)

// Handler reacts to payment-rail success and failure events.
type Handler struct {
	handler *lifecycle.Handler // Payment state machine entry points.
}

// NewHandler constructs a webhook handler.
func NewHandler(h *lifecycle.Handler) *Handler {
	return &Handler{handler: h}
}

// Register mounts the webhook routes.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhook/payment/success", h.PaymentSuccess)
	r.POST("/webhook/payment/failure", h.PaymentFailure)
}

// paymentSuccessRequest captures a verified success event.
type paymentSuccessRequest struct {
	PaymentID   uint64 `json:"payment_id"`   // Engine payment ID.
	ExternalRef string `json:"external_ref"` // Rail charge/intent reference.
}

// PaymentSuccess applies a success signal to a payment.
func (h *Handler) PaymentSuccess(c *gin.Context) {
	var body paymentSuccessRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.PaymentID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment_id is required"})
		return
	}
	if errHandle := h.handler.HandlePaymentSuccess(c.Request.Context(), body.PaymentID, body.ExternalRef); errHandle != nil {
		respondEngineError(c, errHandle)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// paymentFailureRequest captures a verified failure event.
type paymentFailureRequest struct {
	PaymentID uint64 `json:"payment_id"` // Engine payment ID.
	Reason    string `json:"reason"`     // Rail failure description.
}

// PaymentFailure applies a failure signal to a payment.
func (h *Handler) PaymentFailure(c *gin.Context) {
	var body paymentFailureRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.PaymentID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment_id is required"})
		return
	}
	if errHandle := h.handler.HandlePaymentFailure(c.Request.Context(), body.PaymentID, body.Reason); errHandle != nil {
		respondEngineError(c, errHandle)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondEngineError maps the engine error taxonomy onto HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
