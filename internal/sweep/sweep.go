// Package sweep runs the periodic background pass of the lifecycle engine:
// charging due payments, rescheduling failures, escalating exhausted plans,
// advancing soft collections, and settling clinic payouts. Every iteration
// reads its state from the database, so a restart loses nothing.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/pawplan/pawplan/internal/audit"
	"github.com/pawplan/pawplan/internal/lifecycle"
	"github.com/pawplan/pawplan/internal/models"
	"github.com/pawplan/pawplan/internal/rail"
	"github.com/pawplan/pawplan/internal/retry"
	"github.com/pawplan/pawplan/internal/softcollect"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// defaultInterval is used when the config omits the sweep interval.
const defaultInterval = 5 * time.Minute

// Sweeper owns the background pass over due work.
type Sweeper struct {
	db        *gorm.DB
	engine    *retry.Engine
	handler   *lifecycle.Handler
	workflow  *softcollect.Workflow
	processor rail.Rail

	interval time.Duration
}

// NewSweeper constructs a sweeper over the given components.
func NewSweeper(conn *gorm.DB, engine *retry.Engine, handler *lifecycle.Handler, workflow *softcollect.Workflow, processor rail.Rail, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		db:        conn,
		engine:    engine,
		handler:   handler,
		workflow:  workflow,
		processor: processor,
		interval:  interval,
	}
}

// Start runs the sweep loop in the background until the context ends.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("sweep: started (interval=%s)", s.interval)
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sweep: stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				log.WithError(err).Warn("sweep: iteration failed")
			}
		}
	}
}

// RunOnce executes one full sweep pass. Individual item failures are logged
// and skipped so one bad row never starves the rest of the pass.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sweep: not initialized")
	}
	s.chargeDuePayments(ctx)
	s.retryFailedPayments(ctx)
	s.escalateDefaults(ctx)
	s.escalateSoftCollections(ctx)
	s.settlePayouts(ctx)
	return nil
}

// chargeDuePayments hands each due pending payment to the payment rail and
// marks it processing. Outcomes arrive later through the webhook layer; a
// synchronous rail error is recorded as a failure immediately.
func (s *Sweeper) chargeDuePayments(ctx context.Context) {
	due, errFind := s.engine.IdentifyDuePayments(ctx)
	if errFind != nil {
		log.WithError(errFind).Warn("sweep: identify due payments failed")
		return
	}
	for _, payment := range due {
		// Guarded update against the status we read: a concurrent sweep
		// that won the race leaves zero affected rows and we skip the
		// charge. Covers both pending and retried payments.
		res := s.db.WithContext(ctx).Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, payment.Status).
			Update("status", models.PaymentStatusProcessing)
		if res.Error != nil {
			log.WithError(res.Error).WithField("payment_id", payment.ID).Warn("sweep: mark processing failed")
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		customerRef := payment.Plan.Owner.PaymentMethodRef
		var ref string
		var errCharge error
		if payment.Type == models.PaymentTypeDeposit {
			ref, errCharge = s.processor.ChargeDeposit(ctx, customerRef, payment.AmountCents)
		} else {
			ref, errCharge = s.processor.ChargeInstallment(ctx, customerRef, payment.AmountCents)
		}
		if errCharge != nil {
			if errFail := s.handler.HandlePaymentFailure(ctx, payment.ID, errCharge.Error()); errFail != nil {
				log.WithError(errFail).WithField("payment_id", payment.ID).Warn("sweep: record charge failure failed")
			}
			continue
		}
		if errUpdate := s.db.WithContext(ctx).Model(&models.Payment{}).
			Where("id = ?", payment.ID).
			Update("external_ref", ref).Error; errUpdate != nil {
			log.WithError(errUpdate).WithField("payment_id", payment.ID).Warn("sweep: store charge ref failed")
		}
	}
}

// retryFailedPayments reschedules every failed payment with retries left.
func (s *Sweeper) retryFailedPayments(ctx context.Context) {
	failed, errFind := s.engine.IdentifyFailedPayments(ctx)
	if errFind != nil {
		log.WithError(errFind).Warn("sweep: identify failed payments failed")
		return
	}
	for _, payment := range failed {
		if _, errRetry := s.engine.RetryFailedPayment(ctx, payment.ID); errRetry != nil {
			log.WithError(errRetry).WithField("payment_id", payment.ID).Warn("sweep: retry failed")
		}
	}
}

// escalateDefaults moves plans with exhausted payments into formal default.
func (s *Sweeper) escalateDefaults(ctx context.Context) {
	planIDs, errFind := s.engine.IdentifyPlansForEscalation(ctx)
	if errFind != nil {
		log.WithError(errFind).Warn("sweep: identify plans for escalation failed")
		return
	}
	for _, planID := range planIDs {
		if errEscalate := s.engine.EscalateDefault(ctx, planID); errEscalate != nil {
			log.WithError(errEscalate).WithField("plan_id", planID).Warn("sweep: default escalation failed")
		}
	}
}

// escalateSoftCollections advances reminder workflows whose timer elapsed.
func (s *Sweeper) escalateSoftCollections(ctx context.Context) {
	pending, errFind := s.workflow.IdentifyPendingEscalations(ctx)
	if errFind != nil {
		log.WithError(errFind).Warn("sweep: identify pending escalations failed")
		return
	}
	for _, record := range pending {
		if errEscalate := s.workflow.Escalate(ctx, record.ID); errEscalate != nil {
			log.WithError(errEscalate).WithField("collection_id", record.ID).Warn("sweep: soft collection escalation failed")
		}
	}
}

// settlePayouts wires pending clinic payouts through the payment rail and
// records the outcome with an audit entry.
func (s *Sweeper) settlePayouts(ctx context.Context) {
	var payouts []models.Payout
	if errFind := s.db.WithContext(ctx).
		Preload("Clinic").
		Where("status = ?", models.PayoutStatusPending).
		Order("id ASC").
		Find(&payouts).Error; errFind != nil {
		log.WithError(errFind).Warn("sweep: find pending payouts failed")
		return
	}

	for _, row := range payouts {
		ref, errTransfer := s.processor.TransferToClinic(ctx, row.Clinic.AccountRef, row.AmountCents)
		newStatus := models.PayoutStatusSucceeded
		if errTransfer != nil {
			newStatus = models.PayoutStatusFailed
			log.WithError(errTransfer).WithField("payout_id", row.ID).Warn("sweep: clinic transfer failed")
		}

		errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if errUpdate := tx.Model(&models.Payout{}).
				Where("id = ? AND status = ?", row.ID, models.PayoutStatusPending).
				Updates(map[string]any{"status": newStatus, "transfer_ref": ref}).Error; errUpdate != nil {
				return fmt.Errorf("sweep: update payout: %w", errUpdate)
			}
			return audit.Record(tx, audit.Entry{
				EntityType: "payout",
				EntityID:   row.ID,
				Action:     "payout_settled",
				OldValue:   map[string]any{"status": models.PayoutStatusPending.String()},
				NewValue:   map[string]any{"status": newStatus.String(), "transfer_ref": ref},
				ActorType:  models.ActorTypeSystem,
			})
		})
		if errTx != nil {
			log.WithError(errTx).WithField("payout_id", row.ID).Warn("sweep: settle payout failed")
		}
	}
}
