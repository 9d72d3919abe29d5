// Package lifecycle advances individual payments on external payment-rail
// signals and moves their plans through activation, completion, and
// write-off. Handlers are idempotent: duplicate webhook delivery of an
// already-terminal payment is a logged no-op.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pawplan/pawplan/internal/audit"
	"github.com/pawplan/pawplan/internal/config"
	"github.com/pawplan/pawplan/internal/db"
	"github.com/pawplan/pawplan/internal/engine"
	"github.com/pawplan/pawplan/internal/models"
	"github.com/pawplan/pawplan/internal/notify"
	"github.com/pawplan/pawplan/internal/payout"
	"github.com/pawplan/pawplan/internal/riskpool"
	"github.com/pawplan/pawplan/internal/softcollect"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler applies success and failure signals to payments.
type Handler struct {
	db       *gorm.DB
	rates    config.Rates
	workflow *softcollect.Workflow
	sender   notify.Sender
	now      func() time.Time
}

// NewHandler constructs a payment lifecycle handler. The workflow and sender
// are optional; without them missed payments skip soft-collection intake and
// completions go unannounced.
func NewHandler(conn *gorm.DB, rates config.Rates, workflow *softcollect.Workflow, sender notify.Sender) *Handler {
	return &Handler{db: conn, rates: rates, workflow: workflow, sender: sender, now: time.Now}
}

// HandlePaymentSuccess marks a payment succeeded and runs its side effects:
// plan activation or completion, the risk-pool contribution, and at-most-one
// payout row. Re-invocation on an already succeeded payment is a no-op.
func (h *Handler) HandlePaymentSuccess(ctx context.Context, paymentID uint64, externalRef string) error {
	if h == nil || h.db == nil {
		return fmt.Errorf("lifecycle: not initialized")
	}

	var owner models.Owner
	var completedPlanID uint64

	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if errFind := db.WithRowLock(tx).First(&payment, paymentID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("lifecycle: payment %d: %w", paymentID, engine.ErrNotFound)
			}
			return fmt.Errorf("lifecycle: find payment: %w", errFind)
		}
		if payment.Status == models.PaymentStatusSucceeded {
			log.WithField("payment_id", payment.ID).Info("lifecycle: payment already succeeded, skipping")
			return nil
		}
		if payment.Status == models.PaymentStatusWrittenOff {
			log.WithField("payment_id", payment.ID).Warn("lifecycle: success signal for written-off payment, skipping")
			return nil
		}

		var plan models.Plan
		if errFind := db.WithRowLock(tx).First(&plan, payment.PlanID).Error; errFind != nil {
			return fmt.Errorf("lifecycle: find plan: %w", errFind)
		}

		now := h.now().UTC()
		oldStatus := payment.Status
		if errUpdate := tx.Model(&models.Payment{}).
			Where("id = ?", payment.ID).
			Updates(map[string]any{
				"status":         models.PaymentStatusSucceeded,
				"processed_at":   now,
				"external_ref":   strings.TrimSpace(externalRef),
				"failure_reason": "",
			}).Error; errUpdate != nil {
			return fmt.Errorf("lifecycle: mark payment succeeded: %w", errUpdate)
		}
		if errAudit := audit.Record(tx, audit.Entry{
			EntityType: "payment",
			EntityID:   payment.ID,
			Action:     "payment_succeeded",
			OldValue:   map[string]any{"status": oldStatus.String()},
			NewValue:   map[string]any{"status": models.PaymentStatusSucceeded.String(), "external_ref": externalRef},
			ActorType:  models.ActorTypeSystem,
		}); errAudit != nil {
			return errAudit
		}

		if errPlan := h.advancePlan(tx, &plan, &payment, now); errPlan != nil {
			return errPlan
		}
		if plan.Status == models.PlanStatusCompleted {
			if errFind := tx.First(&owner, plan.OwnerID).Error; errFind != nil {
				return fmt.Errorf("lifecycle: find owner: %w", errFind)
			}
			completedPlanID = plan.ID
		}

		if errResolve := resolveOpenCollection(tx, plan.ID); errResolve != nil {
			return errResolve
		}

		contribution := int64(math.Round(float64(payment.AmountCents) * h.rates.RiskPoolRate))
		if errPool := riskpool.Record(tx, plan.ID, models.RiskPoolEntryContribution, contribution,
			fmt.Sprintf("payment %d succeeded", payment.ID)); errPool != nil {
			return errPool
		}

		return h.createPayout(tx, &plan, &payment)
	})
	if errTx != nil {
		return errTx
	}

	if completedPlanID != 0 {
		notify.Dispatch(ctx, h.sender, notify.KindPlanCompleted, owner.Email, owner.Phone,
			"Your vet bill plan is fully paid. Thanks for trusting us with it!",
			map[string]any{"plan_id": completedPlanID})
	}
	return nil
}

// advancePlan applies the plan-level transition implied by a succeeded
// payment: deposits activate the plan, the final installment completes it.
func (h *Handler) advancePlan(tx *gorm.DB, plan *models.Plan, payment *models.Payment, now time.Time) error {
	switch payment.Type {
	case models.PaymentTypeDeposit:
		if plan.Status != models.PlanStatusPending && plan.Status != models.PlanStatusDepositPaid {
			return h.refreshNextPayment(tx, plan)
		}
		oldStatus := plan.Status
		if errUpdate := tx.Model(&models.Plan{}).
			Where("id = ?", plan.ID).
			Updates(map[string]any{"status": models.PlanStatusActive, "deposit_paid_at": now}).Error; errUpdate != nil {
			return fmt.Errorf("lifecycle: activate plan: %w", errUpdate)
		}
		plan.Status = models.PlanStatusActive
		if errAudit := audit.Record(tx, audit.Entry{
			EntityType: "plan",
			EntityID:   plan.ID,
			Action:     "plan_activated",
			OldValue:   map[string]any{"status": oldStatus.String()},
			NewValue:   map[string]any{"status": models.PlanStatusActive.String()},
			ActorType:  models.ActorTypeSystem,
		}); errAudit != nil {
			return errAudit
		}
	case models.PaymentTypeInstallment:
		var unpaid int64
		if errCount := tx.Model(&models.Payment{}).
			Where("plan_id = ? AND status <> ?", plan.ID, models.PaymentStatusSucceeded).
			Count(&unpaid).Error; errCount != nil {
			return fmt.Errorf("lifecycle: count unpaid payments: %w", errCount)
		}
		if unpaid > 0 {
			return h.refreshNextPayment(tx, plan)
		}
		oldStatus := plan.Status
		if errUpdate := tx.Model(&models.Plan{}).
			Where("id = ?", plan.ID).
			Updates(map[string]any{"status": models.PlanStatusCompleted, "completed_at": now, "next_payment_at": nil}).Error; errUpdate != nil {
			return fmt.Errorf("lifecycle: complete plan: %w", errUpdate)
		}
		plan.Status = models.PlanStatusCompleted
		if errAudit := audit.Record(tx, audit.Entry{
			EntityType: "plan",
			EntityID:   plan.ID,
			Action:     "plan_completed",
			OldValue:   map[string]any{"status": oldStatus.String()},
			NewValue:   map[string]any{"status": models.PlanStatusCompleted.String()},
			ActorType:  models.ActorTypeSystem,
		}); errAudit != nil {
			return errAudit
		}
	}
	return h.refreshNextPayment(tx, plan)
}

// refreshNextPayment points the plan at its earliest open payment.
func (h *Handler) refreshNextPayment(tx *gorm.DB, plan *models.Plan) error {
	if plan.Status == models.PlanStatusCompleted {
		return nil
	}
	var next models.Payment
	errFind := tx.Where("plan_id = ? AND status IN ?", plan.ID,
		[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusRetried, models.PaymentStatusFailed}).
		Order("scheduled_at ASC").
		First(&next).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return tx.Model(&models.Plan{}).Where("id = ?", plan.ID).Update("next_payment_at", nil).Error
	}
	if errFind != nil {
		return fmt.Errorf("lifecycle: find next payment: %w", errFind)
	}
	return tx.Model(&models.Plan{}).Where("id = ?", plan.ID).Update("next_payment_at", next.ScheduledAt).Error
}

// resolveOpenCollection cancels an open soft collection once money moves
// again. Runs inside the success transaction.
func resolveOpenCollection(tx *gorm.DB, planID uint64) error {
	var collection models.SoftCollection
	errFind := tx.Where("plan_id = ? AND stage IN ?", planID, []models.SoftCollectionStage{
		models.SoftCollectionStageDay1,
		models.SoftCollectionStageDay7,
		models.SoftCollectionStageDay14,
	}).First(&collection).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil
	}
	if errFind != nil {
		return fmt.Errorf("lifecycle: find open collection: %w", errFind)
	}
	if errUpdate := tx.Model(&models.SoftCollection{}).
		Where("id = ?", collection.ID).
		Updates(map[string]any{
			"stage":              models.SoftCollectionStageCancelled,
			"next_escalation_at": nil,
			"notes":              "payment recovered",
		}).Error; errUpdate != nil {
		return fmt.Errorf("lifecycle: cancel soft collection: %w", errUpdate)
	}
	return audit.Record(tx, audit.Entry{
		EntityType: "soft_collection",
		EntityID:   collection.ID,
		Action:     "soft_collection_cancelled",
		OldValue:   map[string]any{"stage": collection.Stage.String()},
		NewValue:   map[string]any{"stage": models.SoftCollectionStageCancelled.String(), "reason": "payment recovered"},
		ActorType:  models.ActorTypeSystem,
	})
}

// createPayout inserts the pending clinic payout for a succeeded payment.
// The unique index on payment_id backs the in-transaction duplicate check;
// a duplicate is a warning, never an error.
func (h *Handler) createPayout(tx *gorm.DB, plan *models.Plan, payment *models.Payment) error {
	var existing models.Payout
	errFind := tx.Where("payment_id = ?", payment.ID).First(&existing).Error
	if errFind == nil {
		log.WithFields(log.Fields{"payment_id": payment.ID, "payout_id": existing.ID}).
			Warn("lifecycle: payout already exists, skipping")
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lifecycle: find payout: %w", errFind)
	}

	breakdown := payout.Calculate(h.rates, payment.AmountCents)
	if !breakdown.Viable() {
		log.WithFields(log.Fields{"payment_id": payment.ID, "transfer_cents": breakdown.TransferCents}).
			Warn("lifecycle: non-positive transfer, skipping payout")
		return nil
	}

	row := models.Payout{
		ClinicID:         plan.ClinicID,
		PlanID:           plan.ID,
		PaymentID:        payment.ID,
		AmountCents:      breakdown.TransferCents,
		ClinicShareCents: breakdown.ClinicShareCents,
		Status:           models.PayoutStatusPending,
	}
	if errCreate := tx.Create(&row).Error; errCreate != nil {
		return fmt.Errorf("lifecycle: insert payout: %w", errCreate)
	}
	return audit.Record(tx, audit.Entry{
		EntityType: "payout",
		EntityID:   row.ID,
		Action:     "payout_created",
		NewValue: map[string]any{
			"payment_id":         payment.ID,
			"amount_cents":       row.AmountCents,
			"clinic_share_cents": row.ClinicShareCents,
		},
		ActorType: models.ActorTypeSystem,
	})
}

// HandlePaymentFailure records a failed attempt, writing the payment off
// once retries are exhausted. Terminal payments are a logged no-op. A newly
// missed payment opens the soft-collection workflow after commit.
func (h *Handler) HandlePaymentFailure(ctx context.Context, paymentID uint64, reason string) error {
	if h == nil || h.db == nil {
		return fmt.Errorf("lifecycle: not initialized")
	}

	var planID uint64
	firstMiss := false

	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if errFind := db.WithRowLock(tx).First(&payment, paymentID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("lifecycle: payment %d: %w", paymentID, engine.ErrNotFound)
			}
			return fmt.Errorf("lifecycle: find payment: %w", errFind)
		}
		if payment.Status.Terminal() {
			log.WithFields(log.Fields{"payment_id": payment.ID, "status": payment.Status.String()}).
				Info("lifecycle: failure signal for terminal payment, skipping")
			return nil
		}

		newStatus := models.PaymentStatusFailed
		if payment.RetryCount >= models.MaxPaymentRetries {
			newStatus = models.PaymentStatusWrittenOff
		}

		oldStatus := payment.Status
		if errUpdate := tx.Model(&models.Payment{}).
			Where("id = ?", payment.ID).
			Updates(map[string]any{"status": newStatus, "failure_reason": reason}).Error; errUpdate != nil {
			return fmt.Errorf("lifecycle: mark payment failed: %w", errUpdate)
		}

		action := "payment_failed"
		if newStatus == models.PaymentStatusWrittenOff {
			action = "payment_written_off"
		}
		if errAudit := audit.Record(tx, audit.Entry{
			EntityType: "payment",
			EntityID:   payment.ID,
			Action:     action,
			OldValue:   map[string]any{"status": oldStatus.String()},
			NewValue: map[string]any{
				"status":         newStatus.String(),
				"failure_reason": reason,
				"retry_count":    payment.RetryCount,
			},
			ActorType: models.ActorTypeSystem,
		}); errAudit != nil {
			return errAudit
		}

		planID = payment.PlanID
		firstMiss = true
		return nil
	})
	if errTx != nil {
		return errTx
	}

	if firstMiss && h.workflow != nil {
		// Initiate is idempotent per plan; repeat failures reuse the record.
		if _, errInitiate := h.workflow.Initiate(ctx, planID); errInitiate != nil {
			log.WithError(errInitiate).WithField("plan_id", planID).Warn("lifecycle: soft collection intake failed")
		}
	}
	return nil
}
