package models

import "time"

// PlanStatus represents the lifecycle state of a payment plan.
type PlanStatus int

// PlanStatus constants define plan lifecycle states.
const (
	// PlanStatusPending marks a plan awaiting its deposit.
	PlanStatusPending PlanStatus = 1
	// PlanStatusDepositPaid marks a plan whose deposit cleared.
	PlanStatusDepositPaid PlanStatus = 2
	// PlanStatusActive marks a plan collecting installments.
	PlanStatusActive PlanStatus = 3
	// PlanStatusCompleted marks a plan with every payment succeeded.
	PlanStatusCompleted PlanStatus = 4
	// PlanStatusDefaulted marks a plan written off after exhausted retries.
	PlanStatusDefaulted PlanStatus = 5
	// PlanStatusCancelled marks a plan cancelled before completion.
	PlanStatusCancelled PlanStatus = 6
)

// String returns the plan status name used in logs and audit rows.
func (s PlanStatus) String() string {
	switch s {
	case PlanStatusPending:
		return "pending"
	case PlanStatusDepositPaid:
		return "deposit_paid"
	case PlanStatusActive:
		return "active"
	case PlanStatusCompleted:
		return "completed"
	case PlanStatusDefaulted:
		return "defaulted"
	case PlanStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Plan represents a financed vet bill split into a deposit plus installments.
// DepositCents plus the installment amounts always sums to TotalWithFeeCents
// exactly; the ledger depends on it.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OwnerID uint64 `gorm:"not null;index"`     // Related owner ID.
	Owner   Owner  `gorm:"foreignKey:OwnerID"` // Related owner record.

	ClinicID uint64 `gorm:"not null;index"`      // Related clinic ID.
	Clinic   Clinic `gorm:"foreignKey:ClinicID"` // Related clinic record.

	TotalBillCents    int64 `gorm:"not null"` // Original vet bill amount.
	FeeCents          int64 `gorm:"not null"` // Platform fee on the bill.
	TotalWithFeeCents int64 `gorm:"not null"` // Bill plus fee.
	DepositCents      int64 `gorm:"not null"` // Up-front deposit amount.
	RemainingCents    int64 `gorm:"not null"` // Total minus deposit, spread over installments.
	InstallmentCents  int64 `gorm:"not null"` // Per-installment amount before residual adjustment.
	NumInstallments   int   `gorm:"not null"` // Fixed installment count.

	Status PlanStatus `gorm:"not null;default:1;index"` // Current plan status.

	NextPaymentAt *time.Time // Next scheduled payment time.
	DepositPaidAt *time.Time // When the deposit succeeded.
	CompletedAt   *time.Time // When the final payment succeeded.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
