// Package enrollment creates payment plans from a vet bill and owns the
// cancellation path. All writes for one operation share a transaction.
package enrollment

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
	"github.com/pawplan/pawplan/internal/riskpool"
	"github.com/pawplan/pawplan/internal/schedule"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Orchestrator enrolls owners into plans and cancels plans.
type Orchestrator struct {
	db    *gorm.DB
	rates config.Rates
	now   func() time.Time
}

// NewOrchestrator constructs an enrollment orchestrator.
func NewOrchestrator(db *gorm.DB, rates config.Rates) *Orchestrator {
	return &Orchestrator{db: db, rates: rates, now: time.Now}
}

// EnrollParams carries the inputs for a new plan.
type EnrollParams struct {
	ClinicID         uint64
	OwnerEmail       string
	OwnerName        string
	OwnerPhone       string
	PaymentMethodRef string
	BillAmountCents  int64
	StartDate        time.Time // Zero value defaults to now.
	ActorType        models.ActorType
	ActorID          *uint64
}

// EnrollResult identifies the rows created by a successful enrollment.
type EnrollResult struct {
	PlanID     uint64
	OwnerID    uint64
	PaymentIDs []uint64
}

// Enroll creates the owner (find-or-create by email), plan, payment rows,
// and the initial risk-pool contribution in one transaction.
func (o *Orchestrator) Enroll(ctx context.Context, params EnrollParams) (EnrollResult, error) {
	if o == nil || o.db == nil {
		return EnrollResult{}, fmt.Errorf("enrollment: not initialized")
	}
	email := strings.ToLower(strings.TrimSpace(params.OwnerEmail))
	if email == "" {
		return EnrollResult{}, fmt.Errorf("enrollment: owner email is required: %w", engine.ErrValidation)
	}

	start := params.StartDate
	if start.IsZero() {
		start = o.now().UTC()
	}
	sched, errCalc := schedule.Calculate(o.rates, params.BillAmountCents, start)
	if errCalc != nil {
		return EnrollResult{}, errCalc
	}

	var result EnrollResult
	errTx := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var clinic models.Clinic
		if errFind := tx.First(&clinic, params.ClinicID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("enrollment: clinic %d: %w", params.ClinicID, engine.ErrNotFound)
			}
			return fmt.Errorf("enrollment: find clinic: %w", errFind)
		}
		if clinic.Status != models.ClinicStatusActive {
			return fmt.Errorf("enrollment: clinic %d is not active: %w", clinic.ID, engine.ErrInvalidState)
		}

		owner, errOwner := findOrCreateOwner(tx, email, params)
		if errOwner != nil {
			return errOwner
		}

		depositDue := sched.Payments[0].ScheduledAt
		plan := models.Plan{
			OwnerID:           owner.ID,
			ClinicID:          clinic.ID,
			TotalBillCents:    params.BillAmountCents,
			FeeCents:          sched.FeeCents,
			TotalWithFeeCents: sched.TotalWithFeeCents,
			DepositCents:      sched.DepositCents,
			RemainingCents:    sched.RemainingCents,
			InstallmentCents:  sched.InstallmentCents,
			NumInstallments:   sched.NumInstallments,
			Status:            models.PlanStatusPending,
			NextPaymentAt:     &depositDue,
		}
		if errCreate := tx.Create(&plan).Error; errCreate != nil {
			return fmt.Errorf("enrollment: insert plan: %w", errCreate)
		}

		paymentIDs := make([]uint64, 0, len(sched.Payments))
		for _, item := range sched.Payments {
			payment := models.Payment{
				PlanID:      plan.ID,
				Type:        item.Type,
				SequenceNum: item.SequenceNum,
				AmountCents: item.AmountCents,
				Status:      models.PaymentStatusPending,
				ScheduledAt: item.ScheduledAt,
			}
			if errCreate := tx.Create(&payment).Error; errCreate != nil {
				return fmt.Errorf("enrollment: insert payment %d: %w", item.SequenceNum, errCreate)
			}
			paymentIDs = append(paymentIDs, payment.ID)
		}

		contribution := int64(math.Round(float64(sched.TotalWithFeeCents) * o.rates.RiskPoolRate))
		if errPool := riskpool.Record(tx, plan.ID, models.RiskPoolEntryContribution, contribution, "enrollment seed"); errPool != nil {
			return errPool
		}

		if errAudit := audit.Record(tx, audit.Entry{
			EntityType: "plan",
			EntityID:   plan.ID,
			Action:     "plan_created",
			NewValue: map[string]any{
				"status":               plan.Status.String(),
				"total_bill_cents":     plan.TotalBillCents,
				"total_with_fee_cents": plan.TotalWithFeeCents,
				"deposit_cents":        plan.DepositCents,
				"num_installments":     plan.NumInstallments,
			},
			ActorType: params.ActorType,
			ActorID:   params.ActorID,
		}); errAudit != nil {
			return errAudit
		}
		if errAudit := audit.Record(tx, audit.Entry{
			EntityType: "risk_pool_entry",
			EntityID:   plan.ID,
			Action:     "risk_pool_contribution",
			NewValue:   map[string]any{"amount_cents": contribution, "type": "contribution"},
			ActorType:  models.ActorTypeSystem,
		}); errAudit != nil {
			return errAudit
		}

		result = EnrollResult{PlanID: plan.ID, OwnerID: owner.ID, PaymentIDs: paymentIDs}
		return nil
	})
	if errTx != nil {
		return EnrollResult{}, errTx
	}

	log.WithFields(log.Fields{"plan_id": result.PlanID, "owner_id": result.OwnerID}).Info("enrollment: plan created")
	return result, nil
}

// findOrCreateOwner looks up an owner by email, refreshing contact fields
// on a hit and inserting on a miss.
func findOrCreateOwner(tx *gorm.DB, email string, params EnrollParams) (models.Owner, error) {
	var owner models.Owner
	errFind := tx.Where("email = ?", email).First(&owner).Error
	switch {
	case errFind == nil:
		updates := map[string]any{}
		if name := strings.TrimSpace(params.OwnerName); name != "" {
			updates["name"] = name
		}
		if phone := strings.TrimSpace(params.OwnerPhone); phone != "" {
			updates["phone"] = phone
		}
		if ref := strings.TrimSpace(params.PaymentMethodRef); ref != "" {
			updates["payment_method_ref"] = ref
		}
		if len(updates) > 0 {
			if errUpdate := tx.Model(&owner).Updates(updates).Error; errUpdate != nil {
				return models.Owner{}, fmt.Errorf("enrollment: update owner contact: %w", errUpdate)
			}
		}
		return owner, nil
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		owner = models.Owner{
			Email:            email,
			Name:             strings.TrimSpace(params.OwnerName),
			Phone:            strings.TrimSpace(params.OwnerPhone),
			PaymentMethodRef: strings.TrimSpace(params.PaymentMethodRef),
		}
		if errCreate := tx.Create(&owner).Error; errCreate != nil {
			return models.Owner{}, fmt.Errorf("enrollment: insert owner: %w", errCreate)
		}
		return owner, nil
	default:
		return models.Owner{}, fmt.Errorf("enrollment: find owner: %w", errFind)
	}
}

// cancellableStatuses are the plan states a cancellation may start from.
var cancellableStatuses = []models.PlanStatus{
	models.PlanStatusPending,
	models.PlanStatusDepositPaid,
	models.PlanStatusActive,
}

// Cancel transitions a plan to cancelled, writes off its open payments with
// one audit row per payment, and cancels any active soft collection. The
// per-payment audit rows are required for financial traceability; they are
// never collapsed into a bulk event.
func (o *Orchestrator) Cancel(ctx context.Context, planID uint64, actorType models.ActorType, actorID *uint64, reason string) error {
	if o == nil || o.db == nil {
		return fmt.Errorf("enrollment: not initialized")
	}

	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan models.Plan
		if errFind := db.WithRowLock(tx).First(&plan, planID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("enrollment: plan %d: %w", planID, engine.ErrNotFound)
			}
			return fmt.Errorf("enrollment: find plan: %w", errFind)
		}

		cancellable := false
		for _, s := range cancellableStatuses {
			if plan.Status == s {
				cancellable = true
				break
			}
		}
		if !cancellable {
			return fmt.Errorf("enrollment: cancel plan %d in status %s: %w", plan.ID, plan.Status, engine.ErrInvalidState)
		}

		var openPayments []models.Payment
		if errFind := tx.
			Where("plan_id = ? AND status IN ?", plan.ID, []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing}).
			Order("sequence_num ASC").
			Find(&openPayments).Error; errFind != nil {
			return fmt.Errorf("enrollment: find open payments: %w", errFind)
		}
		for _, payment := range openPayments {
			oldStatus := payment.Status
			if errUpdate := tx.Model(&models.Payment{}).
				Where("id = ?", payment.ID).
				Update("status", models.PaymentStatusWrittenOff).Error; errUpdate != nil {
				return fmt.Errorf("enrollment: write off payment %d: %w", payment.ID, errUpdate)
			}
			if errAudit := audit.Record(tx, audit.Entry{
				EntityType: "payment",
				EntityID:   payment.ID,
				Action:     "payment_written_off",
				OldValue:   map[string]any{"status": oldStatus.String()},
				NewValue:   map[string]any{"status": models.PaymentStatusWrittenOff.String(), "reason": "plan cancelled"},
				ActorType:  actorType,
				ActorID:    actorID,
			}); errAudit != nil {
				return errAudit
			}
		}

		var collection models.SoftCollection
		errFindCollection := tx.
			Where("plan_id = ? AND stage NOT IN ?", plan.ID, []models.SoftCollectionStage{models.SoftCollectionStageCompleted, models.SoftCollectionStageCancelled}).
			First(&collection).Error
		if errFindCollection == nil {
			oldStage := collection.Stage
			if errUpdate := tx.Model(&models.SoftCollection{}).
				Where("id = ?", collection.ID).
				Updates(map[string]any{
					"stage":              models.SoftCollectionStageCancelled,
					"next_escalation_at": nil,
					"notes":              "plan cancelled",
				}).Error; errUpdate != nil {
				return fmt.Errorf("enrollment: cancel soft collection %d: %w", collection.ID, errUpdate)
			}
			if errAudit := audit.Record(tx, audit.Entry{
				EntityType: "soft_collection",
				EntityID:   collection.ID,
				Action:     "soft_collection_cancelled",
				OldValue:   map[string]any{"stage": oldStage.String()},
				NewValue:   map[string]any{"stage": models.SoftCollectionStageCancelled.String(), "reason": "plan cancelled"},
				ActorType:  actorType,
				ActorID:    actorID,
			}); errAudit != nil {
				return errAudit
			}
		} else if !errors.Is(errFindCollection, gorm.ErrRecordNotFound) {
			return fmt.Errorf("enrollment: find soft collection: %w", errFindCollection)
		}

		oldStatus := plan.Status
		if errUpdate := tx.Model(&models.Plan{}).
			Where("id = ?", plan.ID).
			Updates(map[string]any{"status": models.PlanStatusCancelled, "next_payment_at": nil}).Error; errUpdate != nil {
			return fmt.Errorf("enrollment: cancel plan: %w", errUpdate)
		}
		return audit.Record(tx, audit.Entry{
			EntityType: "plan",
			EntityID:   plan.ID,
			Action:     "plan_cancelled",
			OldValue:   map[string]any{"status": oldStatus.String()},
			NewValue:   map[string]any{"status": models.PlanStatusCancelled.String(), "reason": reason},
			ActorType:  actorType,
			ActorID:    actorID,
		})
	})
}
