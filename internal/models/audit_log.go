package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLogEntry records one state transition alongside the mutation it
// describes, in the same transaction. Append-only.
type AuditLogEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EntityType string `gorm:"type:text;not null;index:idx_audit_entity"` // Entity table name, e.g. "plan".
	EntityID   uint64 `gorm:"not null;index:idx_audit_entity"`           // Entity primary key.

	Action string `gorm:"type:text;not null"` // Transition name, e.g. "plan_defaulted".

	OldValue datatypes.JSON `gorm:"type:jsonb"` // Snapshot before the mutation.
	NewValue datatypes.JSON `gorm:"type:jsonb"` // Snapshot after the mutation.

	ActorType ActorType `gorm:"not null"` // Who performed the action.
	ActorID   *uint64   // Acting owner/clinic/admin ID, nil for system.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
