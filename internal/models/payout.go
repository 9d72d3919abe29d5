package models

import "time"

// PayoutStatus represents the lifecycle state of a clinic payout.
type PayoutStatus int

// PayoutStatus constants define payout lifecycle states.
const (
	// PayoutStatusPending marks a payout awaiting transfer.
	PayoutStatusPending PayoutStatus = 1
	// PayoutStatusSucceeded marks a completed transfer.
	PayoutStatusSucceeded PayoutStatus = 2
	// PayoutStatusFailed marks a transfer attempt that failed.
	PayoutStatusFailed PayoutStatus = 3
)

// String returns the payout status name used in logs and audit rows.
func (s PayoutStatus) String() string {
	switch s {
	case PayoutStatusPending:
		return "pending"
	case PayoutStatusSucceeded:
		return "succeeded"
	case PayoutStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Payout represents the net clinic transfer derived from one succeeded
// payment. The unique index on PaymentID enforces at-most-once creation.
type Payout struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ClinicID uint64 `gorm:"not null;index"`      // Related clinic ID.
	Clinic   Clinic `gorm:"foreignKey:ClinicID"` // Related clinic record.

	PlanID uint64 `gorm:"not null;index"`    // Related plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"` // Related plan record.

	PaymentID uint64  `gorm:"not null;uniqueIndex"` // Source payment ID, at most one payout each.
	Payment   Payment `gorm:"foreignKey:PaymentID"` // Source payment record.

	AmountCents      int64 `gorm:"not null"` // Net transfer amount after deductions.
	ClinicShareCents int64 `gorm:"not null"` // Clinic revenue share portion.

	Status PayoutStatus `gorm:"not null;default:1;index"` // Current payout status.

	TransferRef string `gorm:"type:text"` // Payment rail transfer reference.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
