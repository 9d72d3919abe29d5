package models

import "time"

// PaymentType distinguishes the deposit from recurring installments.
type PaymentType int

// PaymentType constants define payment kinds.
const (
	// PaymentTypeDeposit is the up-front payment due at enrollment.
	PaymentTypeDeposit PaymentType = 1
	// PaymentTypeInstallment is one of the biweekly recurring payments.
	PaymentTypeInstallment PaymentType = 2
)

// String returns the payment type name used in logs and audit rows.
func (t PaymentType) String() string {
	switch t {
	case PaymentTypeDeposit:
		return "deposit"
	case PaymentTypeInstallment:
		return "installment"
	default:
		return "unknown"
	}
}

// PaymentStatus represents the lifecycle state of a single payment.
type PaymentStatus int

// PaymentStatus constants define payment lifecycle states.
const (
	// PaymentStatusPending marks a payment awaiting its scheduled attempt.
	PaymentStatusPending PaymentStatus = 1
	// PaymentStatusProcessing marks a payment handed to the payment rail.
	PaymentStatusProcessing PaymentStatus = 2
	// PaymentStatusSucceeded marks a cleared payment. Terminal.
	PaymentStatusSucceeded PaymentStatus = 3
	// PaymentStatusFailed marks a failed attempt with retries remaining.
	PaymentStatusFailed PaymentStatus = 4
	// PaymentStatusRetried marks a failed payment rescheduled for another attempt.
	PaymentStatusRetried PaymentStatus = 5
	// PaymentStatusWrittenOff marks a payment abandoned as uncollectable. Terminal.
	PaymentStatusWrittenOff PaymentStatus = 6
)

// String returns the payment status name used in logs and audit rows.
func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusPending:
		return "pending"
	case PaymentStatusProcessing:
		return "processing"
	case PaymentStatusSucceeded:
		return "succeeded"
	case PaymentStatusFailed:
		return "failed"
	case PaymentStatusRetried:
		return "retried"
	case PaymentStatusWrittenOff:
		return "written_off"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusWrittenOff
}

// MaxPaymentRetries caps retry attempts per payment.
const MaxPaymentRetries = 3

// Payment represents one scheduled charge of a plan: the deposit
// (sequence 0) or an installment (sequence 1..N).
type Payment struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID uint64 `gorm:"not null;index"`    // Related plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"` // Related plan record.

	Type        PaymentType `gorm:"not null"` // Deposit or installment.
	SequenceNum int         `gorm:"not null"` // 0 for deposit, 1..N for installments.
	AmountCents int64       `gorm:"not null"` // Charge amount.

	Status PaymentStatus `gorm:"not null;default:1;index"` // Current payment status.

	ScheduledAt   time.Time  `gorm:"not null;index"` // When the payment is due.
	ProcessedAt   *time.Time // When the payment reached a terminal success.
	RetryCount    int        `gorm:"not null;default:0"` // Retry attempts so far, capped at MaxPaymentRetries.
	FailureReason string     `gorm:"type:text"`          // Payment rail failure description.
	ExternalRef   string     `gorm:"type:text"`          // Payment rail charge/intent reference.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
