// Package softcollect runs the friendly, time-boxed recovery workflow for
// plans that miss a payment. It is independent of formal default: stages
// are reminders, not collections.
package softcollect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pawplan/pawplan/internal/audit"
	"github.com/pawplan/pawplan/internal/db"
	"github.com/pawplan/pawplan/internal/engine"
	"github.com/pawplan/pawplan/internal/models"
	"github.com/pawplan/pawplan/internal/notify"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// escalationInterval is the gap between reminder stages.
const escalationInterval = 7 * 24 * time.Hour

// nonTerminalStages lists the stages that may still transition.
var nonTerminalStages = []models.SoftCollectionStage{
	models.SoftCollectionStageDay1,
	models.SoftCollectionStageDay7,
	models.SoftCollectionStageDay14,
}

// Workflow drives soft-collection records through their stage machine.
type Workflow struct {
	db     *gorm.DB
	sender notify.Sender
	now    func() time.Time
}

// NewWorkflow constructs a soft-collection workflow.
func NewWorkflow(conn *gorm.DB, sender notify.Sender) *Workflow {
	return &Workflow{db: conn, sender: sender, now: time.Now}
}

// Initiate opens a soft collection for a plan at the day-1 reminder stage
// and sends the first reminder. If the plan already has an open collection,
// its id is returned without changes.
func (w *Workflow) Initiate(ctx context.Context, planID uint64) (uint64, error) {
	if w == nil || w.db == nil {
		return 0, fmt.Errorf("softcollect: not initialized")
	}

	var collectionID uint64
	var owner models.Owner
	created := false

	errTx := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan models.Plan
		if errFind := tx.Preload("Owner").First(&plan, planID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("softcollect: plan %d: %w", planID, engine.ErrNotFound)
			}
			return fmt.Errorf("softcollect: find plan: %w", errFind)
		}
		owner = plan.Owner

		var existing models.SoftCollection
		errFindOpen := tx.Where("plan_id = ? AND stage IN ?", planID, nonTerminalStages).First(&existing).Error
		if errFindOpen == nil {
			collectionID = existing.ID
			return nil
		}
		if !errors.Is(errFindOpen, gorm.ErrRecordNotFound) {
			return fmt.Errorf("softcollect: find open collection: %w", errFindOpen)
		}

		now := w.now().UTC()
		next := now.Add(escalationInterval)
		record := models.SoftCollection{
			PlanID:           planID,
			Stage:            models.SoftCollectionStageDay1,
			StartedAt:        now,
			NextEscalationAt: &next,
		}
		if errCreate := tx.Create(&record).Error; errCreate != nil {
			return fmt.Errorf("softcollect: insert collection: %w", errCreate)
		}
		collectionID = record.ID
		created = true

		return audit.Record(tx, audit.Entry{
			EntityType: "soft_collection",
			EntityID:   record.ID,
			Action:     "soft_collection_initiated",
			NewValue:   map[string]any{"stage": record.Stage.String(), "plan_id": planID},
			ActorType:  models.ActorTypeSystem,
		})
	})
	if errTx != nil {
		return 0, errTx
	}

	if created {
		notify.Dispatch(ctx, w.sender, notify.KindSoftCollectionDay1, owner.Email, owner.Phone,
			"A payment on your plan didn't go through. We'll retry automatically - no action needed if you've already updated your card.",
			map[string]any{"plan_id": planID})
	} else {
		log.WithField("plan_id", planID).Info("softcollect: collection already open, skipping")
	}
	return collectionID, nil
}

// nextStage returns the successor stage in the fixed order. Stages never
// skip and never leave a terminal stage.
func nextStage(stage models.SoftCollectionStage) (models.SoftCollectionStage, bool) {
	switch stage {
	case models.SoftCollectionStageDay1:
		return models.SoftCollectionStageDay7, true
	case models.SoftCollectionStageDay7:
		return models.SoftCollectionStageDay14, true
	case models.SoftCollectionStageDay14:
		return models.SoftCollectionStageCompleted, true
	default:
		return stage, false
	}
}

// stageNotification maps a newly entered stage to its outbound message.
func stageNotification(stage models.SoftCollectionStage) (kind, body string) {
	switch stage {
	case models.SoftCollectionStageDay7:
		return notify.KindSoftCollectionDay7, "Friendly reminder: a payment on your vet bill plan is still outstanding. Reply or call us if anything's wrong."
	case models.SoftCollectionStageDay14:
		return notify.KindSoftCollectionDay14, "Final notice: we've been unable to collect a payment on your plan. Please update your payment details."
	default:
		return "", ""
	}
}

// Escalate advances a collection to its next stage. Arriving at the day-7
// follow-up schedules one further escalation; the day-14 final notice has
// no timer, so completion only happens through an explicit call.
func (w *Workflow) Escalate(ctx context.Context, collectionID uint64) error {
	if w == nil || w.db == nil {
		return fmt.Errorf("softcollect: not initialized")
	}

	var owner models.Owner
	var newStage models.SoftCollectionStage
	var planID uint64

	errTx := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.SoftCollection
		if errFind := db.WithRowLock(tx).First(&record, collectionID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("softcollect: collection %d: %w", collectionID, engine.ErrNotFound)
			}
			return fmt.Errorf("softcollect: find collection: %w", errFind)
		}
		if record.Stage.Terminal() {
			return fmt.Errorf("softcollect: escalate collection %d in stage %s: %w", record.ID, record.Stage, engine.ErrInvalidState)
		}

		next, ok := nextStage(record.Stage)
		if !ok {
			return fmt.Errorf("softcollect: no successor for stage %s: %w", record.Stage, engine.ErrInvalidState)
		}

		var plan models.Plan
		if errFind := tx.Preload("Owner").First(&plan, record.PlanID).Error; errFind != nil {
			return fmt.Errorf("softcollect: find plan: %w", errFind)
		}
		owner = plan.Owner
		planID = plan.ID

		now := w.now().UTC()
		updates := map[string]any{
			"stage":             next,
			"last_escalated_at": now,
		}
		if next == models.SoftCollectionStageDay7 {
			updates["next_escalation_at"] = now.Add(escalationInterval)
		} else {
			updates["next_escalation_at"] = nil
		}
		if errUpdate := tx.Model(&models.SoftCollection{}).Where("id = ?", record.ID).Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("softcollect: escalate collection: %w", errUpdate)
		}
		newStage = next

		return audit.Record(tx, audit.Entry{
			EntityType: "soft_collection",
			EntityID:   record.ID,
			Action:     "soft_collection_escalated",
			OldValue:   map[string]any{"stage": record.Stage.String()},
			NewValue:   map[string]any{"stage": next.String()},
			ActorType:  models.ActorTypeSystem,
		})
	})
	if errTx != nil {
		return errTx
	}

	if kind, body := stageNotification(newStage); kind != "" {
		notify.Dispatch(ctx, w.sender, kind, owner.Email, owner.Phone, body, map[string]any{"plan_id": planID})
	}
	return nil
}

// Cancel closes a collection without completing it, recording the reason.
func (w *Workflow) Cancel(ctx context.Context, collectionID uint64, reason string) error {
	if w == nil || w.db == nil {
		return fmt.Errorf("softcollect: not initialized")
	}

	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.SoftCollection
		if errFind := db.WithRowLock(tx).First(&record, collectionID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("softcollect: collection %d: %w", collectionID, engine.ErrNotFound)
			}
			return fmt.Errorf("softcollect: find collection: %w", errFind)
		}
		if record.Stage.Terminal() {
			return fmt.Errorf("softcollect: cancel collection %d in stage %s: %w", record.ID, record.Stage, engine.ErrInvalidState)
		}

		if errUpdate := tx.Model(&models.SoftCollection{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"stage":              models.SoftCollectionStageCancelled,
				"next_escalation_at": nil,
				"notes":              reason,
			}).Error; errUpdate != nil {
			return fmt.Errorf("softcollect: cancel collection: %w", errUpdate)
		}

		return audit.Record(tx, audit.Entry{
			EntityType: "soft_collection",
			EntityID:   record.ID,
			Action:     "soft_collection_cancelled",
			OldValue:   map[string]any{"stage": record.Stage.String()},
			NewValue:   map[string]any{"stage": models.SoftCollectionStageCancelled.String(), "reason": reason},
			ActorType:  models.ActorTypeSystem,
		})
	})
}

// IdentifyPendingEscalations returns open collections whose escalation time
// has arrived.
func (w *Workflow) IdentifyPendingEscalations(ctx context.Context) ([]models.SoftCollection, error) {
	if w == nil || w.db == nil {
		return nil, fmt.Errorf("softcollect: not initialized")
	}
	var records []models.SoftCollection
	errFind := w.db.WithContext(ctx).
		Where("stage IN ? AND next_escalation_at IS NOT NULL AND next_escalation_at <= ?", nonTerminalStages, w.now().UTC()).
		Order("next_escalation_at ASC").
		Find(&records).Error
	if errFind != nil {
		return nil, fmt.Errorf("softcollect: find pending escalations: %w", errFind)
	}
	return records, nil
}
