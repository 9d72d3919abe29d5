package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	dbpkg "github.com/pawplan/pawplan/internal/db"
	"github.com/pawplan/pawplan/internal/engine"
	"github.com/pawplan/pawplan/internal/models"
	"github.com/pawplan/pawplan/internal/notify"
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

func seedActivePlan(t *testing.T, conn *gorm.DB) models.Plan {
	t.Helper()
	clinic := models.Clinic{Name: "Harbor Vet", AccountRef: "acct_harbor", Status: models.ClinicStatusActive}
	if errCreate := conn.Create(&clinic).Error; errCreate != nil {
		t.Fatalf("create clinic: %v", errCreate)
	}
	owner := models.Owner{Email: "kai@example.com", PaymentMethodRef: "pm_kai"}
	if errCreate := conn.Create(&owner).Error; errCreate != nil {
		t.Fatalf("create owner: %v", errCreate)
	}
	plan := models.Plan{
		OwnerID:           owner.ID,
		ClinicID:          clinic.ID,
		TotalBillCents:    60000,
		FeeCents:          3600,
		TotalWithFeeCents: 63600,
		DepositCents:      15900,
		RemainingCents:    47700,
		InstallmentCents:  7950,
		NumInstallments:   6,
		Status:            models.PlanStatusActive,
	}
	if errCreate := conn.Create(&plan).Error; errCreate != nil {
		t.Fatalf("create plan: %v", errCreate)
	}
	return plan
}

func TestNextPaydayAfter(t *testing.T) {
	cases := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			// Monday + 48h lands on Wednesday the 9th; next payday is Friday.
			name: "walks forward to friday",
			from: time.Date(2025, 4, 7, 10, 0, 0, 0, time.UTC),
			want: time.Date(2025, 4, 11, 10, 0, 0, 0, time.UTC),
		},
		{
			// Friday the 13th + 48h is Sunday the 15th, a payday itself.
			name: "lands on the fifteenth",
			from: time.Date(2025, 6, 13, 8, 0, 0, 0, time.UTC),
			want: time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC),
		},
		{
			// End of month walks onto the 1st.
			name: "rolls to the first",
			from: time.Date(2025, 4, 28, 12, 0, 0, 0, time.UTC),
			want: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextPaydayAfter(tc.from, minRetryLead)
			if !got.Equal(tc.want) {
				t.Fatalf("NextPaydayAfter(%v) = %v, want %v", tc.from, got, tc.want)
			}
		})
	}
}

func TestNextPaydayAfter_AlwaysRespectsLeadAndPaydays(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 400; i++ {
		got := NextPaydayAfter(from, minRetryLead)
		if got.Sub(from) < minRetryLead {
			t.Fatalf("retry for %v scheduled only %v out", from, got.Sub(from))
		}
		if got.Day() != 1 && got.Day() != 15 && got.Weekday() != time.Friday {
			t.Fatalf("retry for %v lands on non-payday %v", from, got)
		}
		from = from.AddDate(0, 0, 1)
	}
}

func TestRetryFailedPayment_ReschedulesAndCountsUp(t *testing.T) {
	conn := openTestDB(t)
	plan := seedActivePlan(t, conn)

	payment := models.Payment{
		PlanID:        plan.ID,
		Type:          models.PaymentTypeInstallment,
		SequenceNum:   1,
		AmountCents:   7950,
		Status:        models.PaymentStatusFailed,
		RetryCount:    1,
		FailureReason: "card_declined",
		ScheduledAt:   time.Date(2025, 4, 21, 9, 0, 0, 0, time.UTC),
	}
	if errCreate := conn.Create(&payment).Error; errCreate != nil {
		t.Fatalf("create payment: %v", errCreate)
	}

	e := NewEngine(conn, notify.LogSender{})
	e.now = func() time.Time { return time.Date(2025, 4, 21, 10, 0, 0, 0, time.UTC) }

	retried, errRetry := e.RetryFailedPayment(context.Background(), payment.ID)
	if errRetry != nil {
		t.Fatalf("retry: %v", errRetry)
	}
	if !retried {
		t.Fatalf("expected payment to be rescheduled")
	}

	var got models.Payment
	if errFind := conn.First(&got, payment.ID).Error; errFind != nil {
		t.Fatalf("find payment: %v", errFind)
	}
	if got.Status != models.PaymentStatusRetried || got.RetryCount != 2 || got.FailureReason != "" {
		t.Fatalf("unexpected payment state: %+v", got)
	}
	// Monday the 21st + 48h is Wednesday; next payday is Friday the 25th.
	want := time.Date(2025, 4, 25, 10, 0, 0, 0, time.UTC)
	if !got.ScheduledAt.UTC().Equal(want) {
		t.Fatalf("scheduled at %v, want %v", got.ScheduledAt, want)
	}

	var auditRows int64
	if errCount := conn.Model(&models.AuditLogEntry{}).
		Where("entity_type = ? AND entity_id = ? AND action = ?", "payment", payment.ID, "payment_retried").
		Count(&auditRows).Error; errCount != nil {
		t.Fatalf("count audits: %v", errCount)
	}
	if auditRows != 1 {
		t.Fatalf("expected 1 retry audit, got %d", auditRows)
	}
}

func TestRetryFailedPayment_RefusesExhaustedAndNonFailed(t *testing.T) {
	conn := openTestDB(t)
	plan := seedActivePlan(t, conn)

	exhausted := models.Payment{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: 1, AmountCents: 7950, Status: models.PaymentStatusFailed, RetryCount: models.MaxPaymentRetries, ScheduledAt: time.Now()}
	pending := models.Payment{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: 2, AmountCents: 7950, Status: models.PaymentStatusPending, ScheduledAt: time.Now()}
	if errCreate := conn.Create(&exhausted).Error; errCreate != nil {
		t.Fatalf("create exhausted: %v", errCreate)
	}
	if errCreate := conn.Create(&pending).Error; errCreate != nil {
		t.Fatalf("create pending: %v", errCreate)
	}

	e := NewEngine(conn, notify.LogSender{})
	for _, id := range []uint64{exhausted.ID, pending.ID} {
		retried, errRetry := e.RetryFailedPayment(context.Background(), id)
		if errRetry != nil {
			t.Fatalf("retry payment %d: %v", id, errRetry)
		}
		if retried {
			t.Fatalf("payment %d must not be rescheduled", id)
		}
	}

	var got models.Payment
	if errFind := conn.First(&got, exhausted.ID).Error; errFind != nil {
		t.Fatalf("find payment: %v", errFind)
	}
	if got.RetryCount != models.MaxPaymentRetries {
		t.Fatalf("retry count moved past the cap: %d", got.RetryCount)
	}

	if _, errRetry := e.RetryFailedPayment(context.Background(), 9999); !errors.Is(errRetry, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", errRetry)
	}
}

func TestIdentifyDuePayments_IncludesRescheduledRetries(t *testing.T) {
	conn := openTestDB(t)
	plan := seedActivePlan(t, conn)
	e := NewEngine(conn, notify.LogSender{})

	retried := models.Payment{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: 1, AmountCents: 7950, Status: models.PaymentStatusRetried, RetryCount: 1, ScheduledAt: time.Now().Add(-time.Hour)}
	notYet := models.Payment{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: 2, AmountCents: 7950, Status: models.PaymentStatusRetried, RetryCount: 1, ScheduledAt: time.Now().Add(72 * time.Hour)}
	if errCreate := conn.Create(&retried).Error; errCreate != nil {
		t.Fatalf("create retried payment: %v", errCreate)
	}
	if errCreate := conn.Create(&notYet).Error; errCreate != nil {
		t.Fatalf("create future payment: %v", errCreate)
	}

	due, errFind := e.IdentifyDuePayments(context.Background())
	if errFind != nil {
		t.Fatalf("identify due: %v", errFind)
	}
	if len(due) != 1 || due[0].ID != retried.ID {
		t.Fatalf("expected the past-payday retry to be due, got %+v", due)
	}
}

func TestEscalateDefault(t *testing.T) {
	conn := openTestDB(t)
	plan := seedActivePlan(t, conn)

	payments := []models.Payment{
		{PlanID: plan.ID, Type: models.PaymentTypeDeposit, SequenceNum: 0, AmountCents: 15900, Status: models.PaymentStatusSucceeded, ScheduledAt: time.Now()},
		{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: 1, AmountCents: 7950, Status: models.PaymentStatusWrittenOff, ScheduledAt: time.Now()},
		{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: 2, AmountCents: 7950, Status: models.PaymentStatusFailed, ScheduledAt: time.Now()},
		{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: 3, AmountCents: 7950, Status: models.PaymentStatusPending, ScheduledAt: time.Now()},
	}
	for i := range payments {
		if errCreate := conn.Create(&payments[i]).Error; errCreate != nil {
			t.Fatalf("create payment %d: %v", i, errCreate)
		}
	}

	e := NewEngine(conn, notify.LogSender{})

	ids, errFind := e.IdentifyPlansForEscalation(context.Background())
	if errFind != nil {
		t.Fatalf("identify: %v", errFind)
	}
	if len(ids) != 1 || ids[0] != plan.ID {
		t.Fatalf("expected plan %d flagged, got %v", plan.ID, ids)
	}

	if errEscalate := e.EscalateDefault(context.Background(), plan.ID); errEscalate != nil {
		t.Fatalf("escalate: %v", errEscalate)
	}

	var got models.Plan
	if errFind := conn.First(&got, plan.ID).Error; errFind != nil {
		t.Fatalf("find plan: %v", errFind)
	}
	if got.Status != models.PlanStatusDefaulted || got.NextPaymentAt != nil {
		t.Fatalf("unexpected plan state: %+v", got)
	}

	var open int64
	if errCount := conn.Model(&models.Payment{}).
		Where("plan_id = ? AND status NOT IN ?", plan.ID,
			[]models.PaymentStatus{models.PaymentStatusSucceeded, models.PaymentStatusWrittenOff}).
		Count(&open).Error; errCount != nil {
		t.Fatalf("count open payments: %v", errCount)
	}
	if open != 0 {
		t.Fatalf("expected all open payments written off, %d remain", open)
	}

	var claim models.RiskPoolEntry
	if errFind := conn.Where("plan_id = ? AND type = ?", plan.ID, models.RiskPoolEntryClaim).First(&claim).Error; errFind != nil {
		t.Fatalf("find claim: %v", errFind)
	}
	// Everything except the succeeded deposit: 3 * 7950.
	if claim.AmountCents != 23850 {
		t.Fatalf("claim amount %d, want 23850", claim.AmountCents)
	}

	// Second escalation is a no-op and must not duplicate the claim.
	if errEscalate := e.EscalateDefault(context.Background(), plan.ID); errEscalate != nil {
		t.Fatalf("repeat escalate: %v", errEscalate)
	}
	var claims int64
	if errCount := conn.Model(&models.RiskPoolEntry{}).
		Where("plan_id = ? AND type = ?", plan.ID, models.RiskPoolEntryClaim).
		Count(&claims).Error; errCount != nil {
		t.Fatalf("count claims: %v", errCount)
	}
	if claims != 1 {
		t.Fatalf("expected 1 claim, got %d", claims)
	}
}

func TestEscalateDefault_InvalidState(t *testing.T) {
	conn := openTestDB(t)
	plan := seedActivePlan(t, conn)
	if errUpdate := conn.Model(&models.Plan{}).Where("id = ?", plan.ID).
		Update("status", models.PlanStatusPending).Error; errUpdate != nil {
		t.Fatalf("seed plan: %v", errUpdate)
	}

	e := NewEngine(conn, notify.LogSender{})
	errEscalate := e.EscalateDefault(context.Background(), plan.ID)
	if !errors.Is(errEscalate, engine.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", errEscalate)
	}
}

func TestRetrySuccessRate(t *testing.T) {
	conn := openTestDB(t)
	plan := seedActivePlan(t, conn)

	payments := []models.Payment{
		{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: 1, AmountCents: 7950, Status: models.PaymentStatusSucceeded, RetryCount: 1, ScheduledAt: time.Now()},
		{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: 2, AmountCents: 7950, Status: models.PaymentStatusWrittenOff, RetryCount: 3, ScheduledAt: time.Now()},
		{PlanID: plan.ID, Type: models.PaymentTypeInstallment, SequenceNum: 3, AmountCents: 7950, Status: models.PaymentStatusSucceeded, ScheduledAt: time.Now()},
	}
	for i := range payments {
		if errCreate := conn.Create(&payments[i]).Error; errCreate != nil {
			t.Fatalf("create payment %d: %v", i, errCreate)
		}
	}

	e := NewEngine(conn, notify.LogSender{})
	rate, retried, errRate := e.RetrySuccessRate(context.Background())
	if errRate != nil {
		t.Fatalf("rate: %v", errRate)
	}
	if retried != 2 || rate != 0.5 {
		t.Fatalf("rate %f over %d retried, want 0.5 over 2", rate, retried)
	}
}

func TestRetrySuccessRate_NoRetries(t *testing.T) {
	conn := openTestDB(t)
	e := NewEngine(conn, notify.LogSender{})
	rate, retried, errRate := e.RetrySuccessRate(context.Background())
	if errRate != nil {
		t.Fatalf("rate: %v", errRate)
	}
	if rate != 0 || retried != 0 {
		t.Fatalf("expected zero rate and population, got %f over %d", rate, retried)
	}
}
