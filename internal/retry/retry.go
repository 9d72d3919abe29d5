// Package retry finds due and failed payments, reschedules retries on a
// payday-aware cadence, and drives exhausted plans into formal default.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pawplan/pawplan/internal/audit"
	"github.com/pawplan/pawplan/internal/db"
	"github.com/pawplan/pawplan/internal/engine"
	"github.com/pawplan/pawplan/internal/models"
	"github.com/pawplan/pawplan/internal/notify"
	"github.com/pawplan/pawplan/internal/riskpool"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// minRetryLead is the shortest allowed gap before a retry attempt.
const minRetryLead = 48 * time.Hour

// Engine schedules retries and escalates exhausted plans.
type Engine struct {
	db     *gorm.DB
	sender notify.Sender
	now    func() time.Time
}

// NewEngine constructs a retry and escalation engine. The sender is
// optional; without it defaults go unannounced.
func NewEngine(conn *gorm.DB, sender notify.Sender) *Engine {
	return &Engine{db: conn, sender: sender, now: time.Now}
}

// IdentifyDuePayments returns payments whose scheduled time has arrived,
// with plan and owner preloaded for the payment rail. Retried payments
// count as due once their payday reschedule lands, so every retry gets a
// fresh charge attempt.
func (e *Engine) IdentifyDuePayments(ctx context.Context) ([]models.Payment, error) {
	if e == nil || e.db == nil {
		return nil, fmt.Errorf("retry: not initialized")
	}
	chargeable := []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusRetried}
	var payments []models.Payment
	errFind := e.db.WithContext(ctx).
		Preload("Plan").
		Preload("Plan.Owner").
		Where("status IN ? AND scheduled_at <= ?", chargeable, e.now().UTC()).
		Order("scheduled_at ASC").
		Find(&payments).Error
	if errFind != nil {
		return nil, fmt.Errorf("retry: find due payments: %w", errFind)
	}
	return payments, nil
}

// NextPaydayAfter returns the first time at least lead after from that
// lands on a likely payday: the 1st or 15th of the month, or a Friday.
// Retrying when the payer is likely to have funds raises success odds.
func NextPaydayAfter(from time.Time, lead time.Duration) time.Time {
	candidate := from.Add(lead)
	for {
		if candidate.Day() == 1 || candidate.Day() == 15 || candidate.Weekday() == time.Friday {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
}

// RetryFailedPayment reschedules one failed payment onto the next likely
// payday. Returns false without error when the payment is not failed or has
// no retries left; those payments belong to the escalation path instead.
func (e *Engine) RetryFailedPayment(ctx context.Context, paymentID uint64) (bool, error) {
	if e == nil || e.db == nil {
		return false, fmt.Errorf("retry: not initialized")
	}

	retried := false
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if errFind := db.WithRowLock(tx).First(&payment, paymentID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("retry: payment %d: %w", paymentID, engine.ErrNotFound)
			}
			return fmt.Errorf("retry: find payment: %w", errFind)
		}
		if payment.Status != models.PaymentStatusFailed || payment.RetryCount >= models.MaxPaymentRetries {
			return nil
		}

		newCount := payment.RetryCount + 1
		nextAttempt := NextPaydayAfter(e.now().UTC(), minRetryLead)

		if errUpdate := tx.Model(&models.Payment{}).
			Where("id = ?", payment.ID).
			Updates(map[string]any{
				"status":         models.PaymentStatusRetried,
				"retry_count":    newCount,
				"failure_reason": "",
				"scheduled_at":   nextAttempt,
			}).Error; errUpdate != nil {
			return fmt.Errorf("retry: reschedule payment: %w", errUpdate)
		}

		retried = true
		// urgency_level feeds downstream notification prioritization.
		return audit.Record(tx, audit.Entry{
			EntityType: "payment",
			EntityID:   payment.ID,
			Action:     "payment_retried",
			OldValue:   map[string]any{"status": payment.Status.String(), "retry_count": payment.RetryCount},
			NewValue: map[string]any{
				"status":        models.PaymentStatusRetried.String(),
				"retry_count":   newCount,
				"scheduled_at":  nextAttempt,
				"urgency_level": newCount,
			},
			ActorType: models.ActorTypeSystem,
		})
	})
	if errTx != nil {
		return false, errTx
	}
	return retried, nil
}

// IdentifyFailedPayments returns failed payments with retries remaining.
func (e *Engine) IdentifyFailedPayments(ctx context.Context) ([]models.Payment, error) {
	if e == nil || e.db == nil {
		return nil, fmt.Errorf("retry: not initialized")
	}
	var payments []models.Payment
	errFind := e.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", models.PaymentStatusFailed, models.MaxPaymentRetries).
		Order("scheduled_at ASC").
		Find(&payments).Error
	if errFind != nil {
		return nil, fmt.Errorf("retry: find failed payments: %w", errFind)
	}
	return payments, nil
}

// IdentifyPlansForEscalation returns distinct active plans holding at least
// one written-off payment. Already defaulted plans are excluded.
func (e *Engine) IdentifyPlansForEscalation(ctx context.Context) ([]uint64, error) {
	if e == nil || e.db == nil {
		return nil, fmt.Errorf("retry: not initialized")
	}
	var planIDs []uint64
	errFind := e.db.WithContext(ctx).
		Model(&models.Payment{}).
		Distinct("payments.plan_id").
		Joins("JOIN plans ON plans.id = payments.plan_id").
		Where("payments.status = ? AND plans.status = ?", models.PaymentStatusWrittenOff, models.PlanStatusActive).
		Pluck("payments.plan_id", &planIDs).Error
	if errFind != nil {
		return nil, fmt.Errorf("retry: find plans for escalation: %w", errFind)
	}
	return planIDs, nil
}

// EscalateDefault moves an active plan into formal default: remaining open
// payments are written off and the risk pool absorbs the unpaid balance as
// a claim. Calling it on an already defaulted plan is a no-op.
func (e *Engine) EscalateDefault(ctx context.Context, planID uint64) error {
	if e == nil || e.db == nil {
		return fmt.Errorf("retry: not initialized")
	}

	var owner models.Owner
	defaulted := false

	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan models.Plan
		if errFind := db.WithRowLock(tx).First(&plan, planID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("retry: plan %d: %w", planID, engine.ErrNotFound)
			}
			return fmt.Errorf("retry: find plan: %w", errFind)
		}
		if plan.Status == models.PlanStatusDefaulted {
			log.WithField("plan_id", plan.ID).Info("retry: plan already defaulted, skipping")
			return nil
		}
		if plan.Status != models.PlanStatusActive {
			return fmt.Errorf("retry: escalate plan %d in status %s: %w", plan.ID, plan.Status, engine.ErrInvalidState)
		}
		if errFind := tx.First(&owner, plan.OwnerID).Error; errFind != nil {
			return fmt.Errorf("retry: find owner: %w", errFind)
		}

		var unpaidCents int64
		if errSum := tx.Model(&models.Payment{}).
			Where("plan_id = ? AND status <> ?", plan.ID, models.PaymentStatusSucceeded).
			Select("COALESCE(SUM(amount_cents), 0)").
			Scan(&unpaidCents).Error; errSum != nil {
			return fmt.Errorf("retry: sum unpaid payments: %w", errSum)
		}

		var openIDs []uint64
		if errFind := tx.Model(&models.Payment{}).
			Where("plan_id = ? AND status NOT IN ?", plan.ID,
				[]models.PaymentStatus{models.PaymentStatusSucceeded, models.PaymentStatusWrittenOff}).
			Pluck("id", &openIDs).Error; errFind != nil {
			return fmt.Errorf("retry: find open payments: %w", errFind)
		}
		if len(openIDs) > 0 {
			if errUpdate := tx.Model(&models.Payment{}).
				Where("id IN ?", openIDs).
				Update("status", models.PaymentStatusWrittenOff).Error; errUpdate != nil {
				return fmt.Errorf("retry: write off open payments: %w", errUpdate)
			}
		}

		if errUpdate := tx.Model(&models.Plan{}).
			Where("id = ?", plan.ID).
			Updates(map[string]any{"status": models.PlanStatusDefaulted, "next_payment_at": nil}).Error; errUpdate != nil {
			return fmt.Errorf("retry: default plan: %w", errUpdate)
		}

		if errPool := riskpool.Record(tx, plan.ID, models.RiskPoolEntryClaim, unpaidCents,
			fmt.Sprintf("default claim for plan %d", plan.ID)); errPool != nil {
			return errPool
		}

		if errAudit := audit.Record(tx, audit.Entry{
			EntityType: "plan",
			EntityID:   plan.ID,
			Action:     "plan_defaulted",
			OldValue:   map[string]any{"status": models.PlanStatusActive.String()},
			NewValue:   map[string]any{"status": models.PlanStatusDefaulted.String(), "unpaid_cents": unpaidCents},
			ActorType:  models.ActorTypeSystem,
		}); errAudit != nil {
			return errAudit
		}
		if errAudit := audit.Record(tx, audit.Entry{
			EntityType: "plan",
			EntityID:   plan.ID,
			Action:     "payments_written_off_on_default",
			NewValue:   map[string]any{"plan_id": plan.ID, "payment_ids": openIDs},
			ActorType:  models.ActorTypeSystem,
		}); errAudit != nil {
			return errAudit
		}
		defaulted = true
		return nil
	})
	if errTx != nil {
		return errTx
	}

	if defaulted {
		notify.Dispatch(ctx, e.sender, notify.KindPlanDefaulted, owner.Email, owner.Phone,
			"Your payment plan has entered default. Please contact us to arrange repayment.",
			map[string]any{"plan_id": planID})
	}
	return nil
}

// RetrySuccessRate reports the fraction of ever-retried payments that
// ultimately succeeded, with the retried population size.
func (e *Engine) RetrySuccessRate(ctx context.Context) (rate float64, retriedCount int64, err error) {
	if e == nil || e.db == nil {
		return 0, 0, fmt.Errorf("retry: not initialized")
	}
	var retried, recovered int64
	if errCount := e.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("retry_count > 0").
		Count(&retried).Error; errCount != nil {
		return 0, 0, fmt.Errorf("retry: count retried payments: %w", errCount)
	}
	if retried == 0 {
		return 0, 0, nil
	}
	if errCount := e.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("retry_count > 0 AND status = ?", models.PaymentStatusSucceeded).
		Count(&recovered).Error; errCount != nil {
		return 0, 0, fmt.Errorf("retry: count recovered payments: %w", errCount)
	}
	return float64(recovered) / float64(retried), retried, nil
}
