package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pawplan/pawplan/internal/engine"
	"github.com/pawplan/pawplan/internal/enrollment"
	"github.com/pawplan/pawplan/internal/models"
	"gorm.io/gorm"
)

// PlanHandler manages enrollment and plan administration endpoints.
type PlanHandler struct {
	db           *gorm.DB                 // Database handle for plan reads.
	orchestrator *enrollment.Orchestrator // Enrollment and cancellation entry points.
}

// NewPlanHandler constructs a plan handler.
func NewPlanHandler(db *gorm.DB, orchestrator *enrollment.Orchestrator) *PlanHandler {
	return &PlanHandler{db: db, orchestrator: orchestrator}
}

// enrollRequest captures the payload for enrolling a new plan.
type enrollRequest struct {
	ClinicID         uint64  `json:"clinic_id"`          // Enrolling clinic ID.
	OwnerEmail       string  `json:"owner_email"`        // Owner contact email.
	OwnerName        string  `json:"owner_name"`         // Owner display name.
	OwnerPhone       string  `json:"owner_phone"`        // Owner SMS phone.
	PaymentMethodRef string  `json:"payment_method_ref"` // Rail payment method reference.
	BillAmountCents  int64   `json:"bill_amount_cents"`  // Vet bill in cents.
	StartDate        string  `json:"start_date"`         // Optional RFC3339 deposit due time.
	ActorID          *uint64 `json:"actor_id"`           // Acting clinic/admin ID.
}

// Enroll creates a plan with its payment schedule.
func (h *PlanHandler) Enroll(c *gin.Context) {
	var body enrollRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.ClinicID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clinic_id is required"})
		return
	}

	var start time.Time
	if body.StartDate != "" {
		parsed, errParse := time.Parse(time.RFC3339, body.StartDate)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date format, use RFC3339"})
			return
		}
		start = parsed
	}

	result, errEnroll := h.orchestrator.Enroll(c.Request.Context(), enrollment.EnrollParams{
		ClinicID:         body.ClinicID,
		OwnerEmail:       body.OwnerEmail,
		OwnerName:        body.OwnerName,
		OwnerPhone:       body.OwnerPhone,
		PaymentMethodRef: body.PaymentMethodRef,
		BillAmountCents:  body.BillAmountCents,
		StartDate:        start,
		ActorType:        models.ActorTypeClinic,
		ActorID:          body.ActorID,
	})
	if errEnroll != nil {
		RespondEngineError(c, errEnroll)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"plan_id":     result.PlanID,
		"owner_id":    result.OwnerID,
		"payment_ids": result.PaymentIDs,
	})
}

// cancelRequest captures the payload for cancelling a plan.
type cancelRequest struct {
	Reason  string  `json:"reason"`   // Cancellation reason for the audit trail.
	ActorID *uint64 `json:"actor_id"` // Acting admin ID.
}

// Cancel cancels a plan and writes off its open payments.
func (h *PlanHandler) Cancel(c *gin.Context) {
	planID, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || planID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}
	var body cancelRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errCancel := h.orchestrator.Cancel(c.Request.Context(), planID, models.ActorTypeAdmin, body.ActorID, body.Reason); errCancel != nil {
		RespondEngineError(c, errCancel)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Get returns a plan with its payment rows.
func (h *PlanHandler) Get(c *gin.Context) {
	planID, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || planID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}

	var plan models.Plan
	if errFind := h.db.WithContext(c.Request.Context()).First(&plan, planID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query plan failed"})
		return
	}
	var payments []models.Payment
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("plan_id = ?", plan.ID).
		Order("sequence_num ASC").
		Find(&payments).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query payments failed"})
		return
	}

	c.JSON(http.StatusOK, formatPlan(&plan, payments))
}

// formatPlan renders a plan with its payments for API responses.
func formatPlan(plan *models.Plan, payments []models.Payment) gin.H {
	rows := make([]gin.H, 0, len(payments))
	for _, p := range payments {
		rows = append(rows, gin.H{
			"id":             p.ID,
			"type":           p.Type.String(),
			"sequence_num":   p.SequenceNum,
			"amount_cents":   p.AmountCents,
			"status":         p.Status.String(),
			"scheduled_at":   p.ScheduledAt,
			"processed_at":   p.ProcessedAt,
			"retry_count":    p.RetryCount,
			"failure_reason": p.FailureReason,
		})
	}
	return gin.H{
		"id":                   plan.ID,
		"owner_id":             plan.OwnerID,
		"clinic_id":            plan.ClinicID,
		"total_bill_cents":     plan.TotalBillCents,
		"fee_cents":            plan.FeeCents,
		"total_with_fee_cents": plan.TotalWithFeeCents,
		"deposit_cents":        plan.DepositCents,
		"remaining_cents":      plan.RemainingCents,
		"installment_cents":    plan.InstallmentCents,
		"num_installments":     plan.NumInstallments,
		"status":               plan.Status.String(),
		"next_payment_at":      plan.NextPaymentAt,
		"deposit_paid_at":      plan.DepositPaidAt,
		"completed_at":         plan.CompletedAt,
		"payments":             rows,
	}
}

// RespondEngineError maps the engine error taxonomy onto HTTP statuses.
func RespondEngineError(c *gin.Context, err error) {
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
