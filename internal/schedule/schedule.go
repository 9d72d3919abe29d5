// Package schedule computes payment schedules for financed vet bills: a
// platform fee, an up-front deposit, and a fixed number of biweekly
// installments whose amounts sum exactly to the post-fee total.
package schedule

import (
	"fmt"
	"math"
	"time"

	"github.com/pawplan/pawplan/internal/config"
	"github.com/pawplan/pawplan/internal/engine"
	"github.com/pawplan/pawplan/internal/models"
)

// Item is one scheduled payment of a plan.
type Item struct {
	Type        models.PaymentType // Deposit or installment.
	SequenceNum int                // 0 for deposit, 1..N for installments.
	AmountCents int64              // Charge amount.
	ScheduledAt time.Time          // Due time, UTC.
}

// Schedule is the full computed breakdown of a financed bill.
type Schedule struct {
	FeeCents          int64
	TotalWithFeeCents int64
	DepositCents      int64
	RemainingCents    int64
	InstallmentCents  int64
	NumInstallments   int
	Payments          []Item
}

// roundCents rounds a fractional cent amount half away from zero.
func roundCents(v float64) int64 {
	return int64(math.Round(v))
}

// Calculate derives the fee, deposit, and installment schedule for a bill.
// The deposit is rounded against the post-fee total, not the bill; changing
// that order shifts cent-level outputs against stored schedules. The last
// installment absorbs the rounding residual so the amounts sum exactly to
// TotalWithFeeCents.
func Calculate(rates config.Rates, billCents int64, startDate time.Time) (Schedule, error) {
	if billCents < rates.MinBillCents {
		return Schedule{}, fmt.Errorf("schedule: bill %d cents below minimum %d: %w", billCents, rates.MinBillCents, engine.ErrValidation)
	}
	if rates.NumInstallments <= 0 {
		return Schedule{}, fmt.Errorf("schedule: installment count %d: %w", rates.NumInstallments, engine.ErrValidation)
	}
	if startDate.IsZero() {
		startDate = time.Now().UTC()
	}
	startDate = startDate.UTC()

	fee := roundCents(float64(billCents) * rates.FeeRate)
	total := billCents + fee
	deposit := roundCents(float64(total) * rates.DepositRate)
	remaining := total - deposit
	installment := roundCents(float64(remaining) / float64(rates.NumInstallments))

	n := rates.NumInstallments
	payments := make([]Item, 0, 1+n)
	payments = append(payments, Item{
		Type:        models.PaymentTypeDeposit,
		SequenceNum: 0,
		AmountCents: deposit,
		ScheduledAt: startDate,
	})
	for i := 1; i <= n; i++ {
		amount := installment
		if i == n {
			// Residual adjustment keeps the sum exact.
			amount = remaining - int64(n-1)*installment
		}
		payments = append(payments, Item{
			Type:        models.PaymentTypeInstallment,
			SequenceNum: i,
			AmountCents: amount,
			ScheduledAt: startDate.AddDate(0, 0, i*rates.IntervalDays),
		})
	}

	return Schedule{
		FeeCents:          fee,
		TotalWithFeeCents: total,
		DepositCents:      deposit,
		RemainingCents:    remaining,
		InstallmentCents:  installment,
		NumInstallments:   n,
		Payments:          payments,
	}, nil
}
