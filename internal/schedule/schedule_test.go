package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/pawplan/pawplan/internal/config"
	"github.com/pawplan/pawplan/internal/engine"
	"github.com/pawplan/pawplan/internal/models"
)

func TestCalculate_WorkedExample(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := Calculate(config.DefaultRates(), 120000, start)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	if s.FeeCents != 7200 {
		t.Fatalf("expected fee=7200, got %d", s.FeeCents)
	}
	if s.TotalWithFeeCents != 127200 {
		t.Fatalf("expected total=127200, got %d", s.TotalWithFeeCents)
	}
	if s.DepositCents != 31800 {
		t.Fatalf("expected deposit=31800, got %d", s.DepositCents)
	}
	if s.RemainingCents != 95400 {
		t.Fatalf("expected remaining=95400, got %d", s.RemainingCents)
	}
	if s.InstallmentCents != 15900 {
		t.Fatalf("expected installment=15900, got %d", s.InstallmentCents)
	}
	if len(s.Payments) != 7 {
		t.Fatalf("expected 7 payments, got %d", len(s.Payments))
	}
	if s.Payments[0].Type != models.PaymentTypeDeposit || !s.Payments[0].ScheduledAt.Equal(start) {
		t.Fatalf("expected deposit due at start, got %+v", s.Payments[0])
	}
	for i := 1; i <= 6; i++ {
		p := s.Payments[i]
		if p.Type != models.PaymentTypeInstallment || p.SequenceNum != i {
			t.Fatalf("payment %d: unexpected %+v", i, p)
		}
		want := start.AddDate(0, 0, i*14)
		if !p.ScheduledAt.Equal(want) {
			t.Fatalf("payment %d: expected due %s, got %s", i, want, p.ScheduledAt)
		}
	}
}

func TestCalculate_ExactSumAcrossAmounts(t *testing.T) {
	rates := config.DefaultRates()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// Amounts chosen to produce rounding residue plus a dense sweep.
	bills := []int64{5000, 5001, 9999, 10007, 33333, 120000, 123456, 999999}
	for b := int64(5000); b < 5250; b++ {
		bills = append(bills, b)
	}

	for _, bill := range bills {
		s, err := Calculate(rates, bill, start)
		if err != nil {
			t.Fatalf("bill %d: %v", bill, err)
		}
		var sum int64
		for _, p := range s.Payments {
			sum += p.AmountCents
		}
		if sum != s.TotalWithFeeCents {
			t.Fatalf("bill %d: payments sum %d != total %d", bill, sum, s.TotalWithFeeCents)
		}
		if s.DepositCents+s.RemainingCents != s.TotalWithFeeCents {
			t.Fatalf("bill %d: deposit+remaining mismatch", bill)
		}
	}
}

func TestCalculate_BelowMinimum(t *testing.T) {
	_, err := Calculate(config.DefaultRates(), 4999, time.Now().UTC())
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCalculate_DefaultsStartDate(t *testing.T) {
	s, err := Calculate(config.DefaultRates(), 10000, time.Time{})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if s.Payments[0].ScheduledAt.IsZero() {
		t.Fatalf("expected deposit scheduled time to default to now")
	}
}
