package models

import "time"

// SoftCollectionStage represents the stage of the friendly reminder workflow.
type SoftCollectionStage int

// SoftCollectionStage constants define the fixed escalation order.
const (
	// SoftCollectionStageDay1 is the initial reminder after a missed payment.
	SoftCollectionStageDay1 SoftCollectionStage = 1
	// SoftCollectionStageDay7 is the one-week follow-up.
	SoftCollectionStageDay7 SoftCollectionStage = 2
	// SoftCollectionStageDay14 is the final notice.
	SoftCollectionStageDay14 SoftCollectionStage = 3
	// SoftCollectionStageCompleted marks a finished workflow. Terminal.
	SoftCollectionStageCompleted SoftCollectionStage = 4
	// SoftCollectionStageCancelled marks an abandoned workflow. Terminal.
	SoftCollectionStageCancelled SoftCollectionStage = 5
)

// String returns the stage name used in logs, audit rows, and notifications.
func (s SoftCollectionStage) String() string {
	switch s {
	case SoftCollectionStageDay1:
		return "day_1_reminder"
	case SoftCollectionStageDay7:
		return "day_7_followup"
	case SoftCollectionStageDay14:
		return "day_14_final"
	case SoftCollectionStageCompleted:
		return "completed"
	case SoftCollectionStageCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the stage admits no further transitions.
func (s SoftCollectionStage) Terminal() bool {
	return s == SoftCollectionStageCompleted || s == SoftCollectionStageCancelled
}

// SoftCollection tracks the time-boxed friendly recovery workflow for a plan
// that missed a payment. At most one non-terminal record exists per plan.
type SoftCollection struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID uint64 `gorm:"not null;index"`    // Related plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"` // Related plan record.

	Stage SoftCollectionStage `gorm:"not null;default:1;index"` // Current workflow stage.

	StartedAt        time.Time  `gorm:"not null"` // When the workflow began.
	LastEscalatedAt  *time.Time // When the stage last advanced.
	NextEscalationAt *time.Time `gorm:"index"` // When the next stage is due, nil when none.

	Notes string `gorm:"type:text"` // Free-form workflow notes, e.g. cancellation reason.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
