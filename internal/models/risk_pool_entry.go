package models

import "time"

// RiskPoolEntryType classifies movements in the self-insuring risk pool.
type RiskPoolEntryType int

// RiskPoolEntryType constants define ledger entry kinds.
const (
	// RiskPoolEntryContribution adds to the pool on each successful payment.
	RiskPoolEntryContribution RiskPoolEntryType = 1
	// RiskPoolEntryClaim draws from the pool to cover a defaulted plan.
	RiskPoolEntryClaim RiskPoolEntryType = 2
	// RiskPoolEntryRecovery returns post-default recoupment to the pool.
	RiskPoolEntryRecovery RiskPoolEntryType = 3
)

// String returns the entry type name used in logs and audit rows.
func (t RiskPoolEntryType) String() string {
	switch t {
	case RiskPoolEntryContribution:
		return "contribution"
	case RiskPoolEntryClaim:
		return "claim"
	case RiskPoolEntryRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// RiskPoolEntry is one append-only row of the risk-pool ledger. Rows are
// never updated or deleted; the balance is derived by summation.
type RiskPoolEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID uint64 `gorm:"not null;index"`    // Related plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"` // Related plan record.

	Type        RiskPoolEntryType `gorm:"not null;index"` // Contribution, claim, or recovery.
	AmountCents int64             `gorm:"not null"`       // Entry amount, always non-negative.
	Description string            `gorm:"type:text"`      // Human-readable entry context.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
