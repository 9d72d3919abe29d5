package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pawplan/pawplan/internal/config"
	dbpkg "github.com/pawplan/pawplan/internal/db"
	"github.com/pawplan/pawplan/internal/engine"
	"github.com/pawplan/pawplan/internal/models"
	"github.com/pawplan/pawplan/internal/notify"
	"github.com/pawplan/pawplan/internal/softcollect"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := dbpkg.AutoMigrateAll(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

// seedPlan creates a clinic, owner, plan and its payment rows matching the
// default rates for a $1,200 bill.
func seedPlan(t *testing.T, conn *gorm.DB, planStatus models.PlanStatus) (models.Plan, []models.Payment) {
	t.Helper()
	clinic := models.Clinic{Name: "Cedar Animal Hospital", AccountRef: "acct_cedar", Status: models.ClinicStatusActive}
	if errCreate := conn.Create(&clinic).Error; errCreate != nil {
		t.Fatalf("create clinic: %v", errCreate)
	}
	owner := models.Owner{Email: "jo@example.com", Phone: "+15550123", PaymentMethodRef: "pm_123"}
	if errCreate := conn.Create(&owner).Error; errCreate != nil {
		t.Fatalf("create owner: %v", errCreate)
	}
	plan := models.Plan{
		OwnerID:           owner.ID,
		ClinicID:          clinic.ID,
		TotalBillCents:    120000,
		FeeCents:          7200,
		TotalWithFeeCents: 127200,
		DepositCents:      31800,
		RemainingCents:    95400,
		InstallmentCents:  15900,
		NumInstallments:   6,
		Status:            planStatus,
	}
	if errCreate := conn.Create(&plan).Error; errCreate != nil {
		t.Fatalf("create plan: %v", errCreate)
	}

	start := time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC)
	payments := make([]models.Payment, 0, 7)
	deposit := models.Payment{PlanID: plan.ID, Type: models.PaymentTypeDeposit, SequenceNum: 0, AmountCents: 31800, Status: models.PaymentStatusPending, ScheduledAt: start}
	if errCreate := conn.Create(&deposit).Error; errCreate != nil {
		t.Fatalf("create deposit: %v", errCreate)
	}
	payments = append(payments, deposit)
	for i := 1; i <= 6; i++ {
		p := models.Payment{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: i, AmountCents: 15900, Status: models.PaymentStatusPending, ScheduledAt: start.AddDate(0, 0, 14*i)}
		if errCreate := conn.Create(&p).Error; errCreate != nil {
			t.Fatalf("create installment %d: %v", i, errCreate)
		}
		payments = append(payments, p)
	}
	return plan, payments
}

func newTestHandler(conn *gorm.DB) *Handler {
	workflow := softcollect.NewWorkflow(conn, notify.LogSender{})
	return NewHandler(conn, config.DefaultRates(), workflow, notify.LogSender{})
}

func TestHandlePaymentSuccess_DepositActivatesPlan(t *testing.T) {
	conn := openTestDB(t)
	plan, payments := seedPlan(t, conn, models.PlanStatusPending)
	h := newTestHandler(conn)

	if errHandle := h.HandlePaymentSuccess(context.Background(), payments[0].ID, "pi_abc"); errHandle != nil {
		t.Fatalf("handle success: %v", errHandle)
	}

	var got models.Plan
	if errFind := conn.First(&got, plan.ID).Error; errFind != nil {
		t.Fatalf("find plan: %v", errFind)
	}
	if got.Status != models.PlanStatusActive {
		t.Fatalf("expected active plan, got %s", got.Status)
	}
	if got.DepositPaidAt == nil {
		t.Fatalf("expected deposit paid timestamp")
	}
	if got.NextPaymentAt == nil || !got.NextPaymentAt.Equal(payments[1].ScheduledAt) {
		t.Fatalf("expected next payment at first installment")
	}

	var payment models.Payment
	if errFind := conn.First(&payment, payments[0].ID).Error; errFind != nil {
		t.Fatalf("find payment: %v", errFind)
	}
	if payment.Status != models.PaymentStatusSucceeded || payment.ProcessedAt == nil || payment.ExternalRef != "pi_abc" {
		t.Fatalf("unexpected payment state: %+v", payment)
	}

	var pool models.RiskPoolEntry
	if errFind := conn.Where("plan_id = ?", plan.ID).First(&pool).Error; errFind != nil {
		t.Fatalf("find pool entry: %v", errFind)
	}
	// 2% of 31800.
	if pool.AmountCents != 636 || pool.Type != models.RiskPoolEntryContribution {
		t.Fatalf("unexpected pool entry: %+v", pool)
	}

	var payoutRow models.Payout
	if errFind := conn.Where("payment_id = ?", payments[0].ID).First(&payoutRow).Error; errFind != nil {
		t.Fatalf("find payout: %v", errFind)
	}
	// 31800 - 954 (half fee) - 636 (risk) = 30210.
	if payoutRow.AmountCents != 30210 || payoutRow.Status != models.PayoutStatusPending {
		t.Fatalf("unexpected payout: %+v", payoutRow)
	}
}

func TestHandlePaymentSuccess_IdempotentSinglePayout(t *testing.T) {
	conn := openTestDB(t)
	_, payments := seedPlan(t, conn, models.PlanStatusPending)
	h := newTestHandler(conn)

	if errHandle := h.HandlePaymentSuccess(context.Background(), payments[0].ID, "pi_abc"); errHandle != nil {
		t.Fatalf("first success: %v", errHandle)
	}
	if errHandle := h.HandlePaymentSuccess(context.Background(), payments[0].ID, "pi_abc"); errHandle != nil {
		t.Fatalf("duplicate success: %v", errHandle)
	}

	var payouts int64
	if errCount := conn.Model(&models.Payout{}).Where("payment_id = ?", payments[0].ID).Count(&payouts).Error; errCount != nil {
		t.Fatalf("count payouts: %v", errCount)
	}
	if payouts != 1 {
		t.Fatalf("expected exactly 1 payout, got %d", payouts)
	}

	var contributions int64
	if errCount := conn.Model(&models.RiskPoolEntry{}).Count(&contributions).Error; errCount != nil {
		t.Fatalf("count pool entries: %v", errCount)
	}
	if contributions != 1 {
		t.Fatalf("expected exactly 1 contribution, got %d", contributions)
	}
}

func TestHandlePaymentSuccess_FinalInstallmentCompletesPlan(t *testing.T) {
	conn := openTestDB(t)
	plan, payments := seedPlan(t, conn, models.PlanStatusActive)
	h := newTestHandler(conn)

	// All but the last installment already succeeded.
	if errUpdate := conn.Model(&models.Payment{}).
		Where("plan_id = ? AND sequence_num < ?", plan.ID, 6).
		Update("status", models.PaymentStatusSucceeded).Error; errUpdate != nil {
		t.Fatalf("seed payments: %v", errUpdate)
	}

	if errHandle := h.HandlePaymentSuccess(context.Background(), payments[6].ID, "pi_final"); errHandle != nil {
		t.Fatalf("handle success: %v", errHandle)
	}

	var got models.Plan
	if errFind := conn.First(&got, plan.ID).Error; errFind != nil {
		t.Fatalf("find plan: %v", errFind)
	}
	if got.Status != models.PlanStatusCompleted {
		t.Fatalf("expected completed plan, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}
	if got.NextPaymentAt != nil {
		t.Fatalf("expected no next payment on completed plan")
	}
}

func TestHandlePaymentSuccess_NotFound(t *testing.T) {
	conn := openTestDB(t)
	h := newTestHandler(conn)
	errHandle := h.HandlePaymentSuccess(context.Background(), 404, "ref")
	if !errors.Is(errHandle, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", errHandle)
	}
}

func TestHandlePaymentSuccess_ResolvesOpenCollection(t *testing.T) {
	conn := openTestDB(t)
	plan, payments := seedPlan(t, conn, models.PlanStatusActive)
	h := newTestHandler(conn)

	next := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	collection := models.SoftCollection{PlanID: plan.ID, Stage: models.SoftCollectionStageDay7, StartedAt: next.AddDate(0, 0, -7), NextEscalationAt: &next}
	if errCreate := conn.Create(&collection).Error; errCreate != nil {
		t.Fatalf("create collection: %v", errCreate)
	}

	if errHandle := h.HandlePaymentSuccess(context.Background(), payments[1].ID, "pi_rec"); errHandle != nil {
		t.Fatalf("handle success: %v", errHandle)
	}

	var got models.SoftCollection
	if errFind := conn.First(&got, collection.ID).Error; errFind != nil {
		t.Fatalf("find collection: %v", errFind)
	}
	if got.Stage != models.SoftCollectionStageCancelled {
		t.Fatalf("expected cancelled collection, got %s", got.Stage)
	}
	if got.NextEscalationAt != nil {
		t.Fatalf("expected cleared escalation timer")
	}
}

func TestHandlePaymentFailure_MarksFailedAndOpensCollection(t *testing.T) {
	conn := openTestDB(t)
	plan, payments := seedPlan(t, conn, models.PlanStatusActive)
	h := newTestHandler(conn)

	if errHandle := h.HandlePaymentFailure(context.Background(), payments[1].ID, "card_declined"); errHandle != nil {
		t.Fatalf("handle failure: %v", errHandle)
	}

	var payment models.Payment
	if errFind := conn.First(&payment, payments[1].ID).Error; errFind != nil {
		t.Fatalf("find payment: %v", errFind)
	}
	if payment.Status != models.PaymentStatusFailed || payment.FailureReason != "card_declined" {
		t.Fatalf("unexpected payment state: %+v", payment)
	}

	var collection models.SoftCollection
	if errFind := conn.Where("plan_id = ?", plan.ID).First(&collection).Error; errFind != nil {
		t.Fatalf("expected soft collection: %v", errFind)
	}
	if collection.Stage != models.SoftCollectionStageDay1 {
		t.Fatalf("expected day-1 stage, got %s", collection.Stage)
	}
}

func TestHandlePaymentFailure_WritesOffAtRetryCap(t *testing.T) {
	conn := openTestDB(t)
	_, payments := seedPlan(t, conn, models.PlanStatusActive)
	h := newTestHandler(conn)

	if errUpdate := conn.Model(&models.Payment{}).
		Where("id = ?", payments[2].ID).
		Updates(map[string]any{"status": models.PaymentStatusRetried, "retry_count": models.MaxPaymentRetries}).Error; errUpdate != nil {
		t.Fatalf("seed payment: %v", errUpdate)
	}

	if errHandle := h.HandlePaymentFailure(context.Background(), payments[2].ID, "insufficient_funds"); errHandle != nil {
		t.Fatalf("handle failure: %v", errHandle)
	}

	var payment models.Payment
	if errFind := conn.First(&payment, payments[2].ID).Error; errFind != nil {
		t.Fatalf("find payment: %v", errFind)
	}
	if payment.Status != models.PaymentStatusWrittenOff {
		t.Fatalf("expected written off, got %s", payment.Status)
	}
}

func TestHandlePaymentFailure_TerminalNoOp(t *testing.T) {
	conn := openTestDB(t)
	_, payments := seedPlan(t, conn, models.PlanStatusActive)
	h := newTestHandler(conn)

	if errHandle := h.HandlePaymentSuccess(context.Background(), payments[1].ID, "pi_x"); errHandle != nil {
		t.Fatalf("success: %v", errHandle)
	}
	if errHandle := h.HandlePaymentFailure(context.Background(), payments[1].ID, "late signal"); errHandle != nil {
		t.Fatalf("expected no-op, got %v", errHandle)
	}

	var payment models.Payment
	if errFind := conn.First(&payment, payments[1].ID).Error; errFind != nil {
		t.Fatalf("find payment: %v", errFind)
	}
	if payment.Status != models.PaymentStatusSucceeded {
		t.Fatalf("terminal status must not change, got %s", payment.Status)
	}
}
