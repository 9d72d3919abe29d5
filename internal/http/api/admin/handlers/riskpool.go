package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pawplan/pawplan/internal/models"
	"github.com/pawplan/pawplan/internal/riskpool"
)

// RiskPoolHandler exposes ledger balance and recovery endpoints.
type RiskPoolHandler struct {
	ledger *riskpool.Ledger // Risk-pool ledger queries and recovery writes.
}

// NewRiskPoolHandler constructs a risk-pool handler.
func NewRiskPoolHandler(ledger *riskpool.Ledger) *RiskPoolHandler {
	return &RiskPoolHandler{ledger: ledger}
}

// Status returns the pool balance, outstanding guarantees, and coverage.
func (h *RiskPoolHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	balance, errBalance := h.ledger.Balance(ctx)
	if errBalance != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query balance failed"})
		return
	}
	outstanding, errOutstanding := h.ledger.OutstandingGuarantees(ctx)
	if errOutstanding != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query outstanding failed"})
		return
	}
	ratio, defined, errRatio := h.ledger.CoverageRatio(ctx)
	if errRatio != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query coverage failed"})
		return
	}

	resp := gin.H{
		"balance_cents":     balance,
		"outstanding_cents": outstanding,
	}
	if defined {
		resp["coverage_ratio"] = ratio
	}
	c.JSON(http.StatusOK, resp)
}

// recoveryRequest captures a post-default recoupment payload.
type recoveryRequest struct {
	PlanID      uint64  `json:"plan_id"`      // Defaulted plan ID.
	AmountCents int64   `json:"amount_cents"` // Recovered amount.
	Description string  `json:"description"`  // Recovery context for the ledger.
	ActorID     *uint64 `json:"actor_id"`     // Acting admin ID.
}

// RecordRecovery appends a recovery entry for a defaulted plan.
func (h *RiskPoolHandler) RecordRecovery(c *gin.Context) {
	var body recoveryRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.PlanID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plan_id is required"})
		return
	}

	errRecord := h.ledger.RecordRecovery(c.Request.Context(), body.PlanID, body.AmountCents, body.Description, models.ActorTypeAdmin, body.ActorID)
	if errRecord != nil {
		RespondEngineError(c, errRecord)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}
