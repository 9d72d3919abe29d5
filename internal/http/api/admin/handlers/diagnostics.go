package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pawplan/pawplan/internal/retry"
)

// DiagnosticsHandler exposes operational read-only queries.
type DiagnosticsHandler struct {
	engine *retry.Engine // Retry engine diagnostics.
}

// NewDiagnosticsHandler constructs a diagnostics handler.
func NewDiagnosticsHandler(engine *retry.Engine) *DiagnosticsHandler {
	return &DiagnosticsHandler{engine: engine}
}

// RetrySuccessRate reports how often retried payments ultimately succeed.
func (h *DiagnosticsHandler) RetrySuccessRate(c *gin.Context) {
	rate, retried, errRate := h.engine.RetrySuccessRate(c.Request.Context())
	if errRate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query retry success rate failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"retried_payments":   retried,
		"retry_success_rate": rate,
	})
}
