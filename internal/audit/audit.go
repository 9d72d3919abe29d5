// Package audit writes the append-only audit trail. Every externally
// observable status transition records an entry in the same transaction as
// the mutation it describes, so forensics never require out-of-band logs.
package audit

import (
	"encoding/json"
	"fmt"

	"github.com/pawplan/pawplan/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry describes one audited state transition. OldValue and NewValue are
// arbitrary snapshots marshaled to JSON; nil values are stored as SQL NULL.
type Entry struct {
	EntityType string
	EntityID   uint64
	Action     string
	OldValue   any
	NewValue   any
	ActorType  models.ActorType
	ActorID    *uint64
}

// Record inserts an audit row using the caller's transaction handle, so the
// entry commits or rolls back together with the mutation it describes.
func Record(tx *gorm.DB, e Entry) error {
	if tx == nil {
		return fmt.Errorf("audit: nil transaction")
	}
	if e.EntityType == "" || e.Action == "" {
		return fmt.Errorf("audit: entity type and action are required")
	}
	actor := e.ActorType
	if !actor.Valid() {
		actor = models.ActorTypeSystem
	}

	oldJSON, errOld := marshalSnapshot(e.OldValue)
	if errOld != nil {
		return fmt.Errorf("audit: marshal old value: %w", errOld)
	}
	newJSON, errNew := marshalSnapshot(e.NewValue)
	if errNew != nil {
		return fmt.Errorf("audit: marshal new value: %w", errNew)
	}

	row := models.AuditLogEntry{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		OldValue:   oldJSON,
		NewValue:   newJSON,
		ActorType:  actor,
		ActorID:    e.ActorID,
	}
	if errCreate := tx.Create(&row).Error; errCreate != nil {
		return fmt.Errorf("audit: insert entry: %w", errCreate)
	}
	return nil
}

// marshalSnapshot converts a snapshot value to JSON, passing nil through.
func marshalSnapshot(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, errMarshal := json.Marshal(v)
	if errMarshal != nil {
		return nil, errMarshal
	}
	return datatypes.JSON(raw), nil
}
