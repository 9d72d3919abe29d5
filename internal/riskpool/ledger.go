// Package riskpool maintains the append-only ledger of the self-insuring
// reserve: contributions on every successful payment, claims on default,
// and recoveries from post-default collection.
package riskpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/pawplan/pawplan/internal/audit"
	"github.com/pawplan/pawplan/internal/engine"
	"github.com/pawplan/pawplan/internal/models"
	"gorm.io/gorm"
)

// Record appends one ledger entry using the caller's transaction handle.
// Amounts are always non-negative; the entry type carries the sign.
func Record(tx *gorm.DB, planID uint64, entryType models.RiskPoolEntryType, amountCents int64, description string) error {
	if tx == nil {
		return fmt.Errorf("riskpool: nil transaction")
	}
	if planID == 0 {
		return fmt.Errorf("riskpool: missing plan id")
	}
	if amountCents < 0 {
		return fmt.Errorf("riskpool: negative amount %d", amountCents)
	}
	row := models.RiskPoolEntry{
		PlanID:      planID,
		Type:        entryType,
		AmountCents: amountCents,
		Description: description,
	}
	if errCreate := tx.Create(&row).Error; errCreate != nil {
		return fmt.Errorf("riskpool: insert %s entry: %w", entryType, errCreate)
	}
	return nil
}

// Ledger answers balance and coverage queries over the risk-pool entries.
type Ledger struct {
	db *gorm.DB
}

// NewLedger constructs a ledger backed by the given database.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Balance returns contributions minus claims plus recoveries, in cents.
func (l *Ledger) Balance(ctx context.Context) (int64, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("riskpool: not initialized")
	}
	var balance int64
	errSum := l.db.WithContext(ctx).
		Model(&models.RiskPoolEntry{}).
		Select(`COALESCE(SUM(CASE
			WHEN type = ? THEN amount_cents
			WHEN type = ? THEN -amount_cents
			WHEN type = ? THEN amount_cents
			ELSE 0 END), 0)`,
			models.RiskPoolEntryContribution,
			models.RiskPoolEntryClaim,
			models.RiskPoolEntryRecovery).
		Scan(&balance).Error
	if errSum != nil {
		return 0, fmt.Errorf("riskpool: sum balance: %w", errSum)
	}
	return balance, nil
}

// OutstandingGuarantees returns the sum of remaining cents across active
// plans, the denominator of the coverage ratio.
func (l *Ledger) OutstandingGuarantees(ctx context.Context) (int64, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("riskpool: not initialized")
	}
	var outstanding int64
	errSum := l.db.WithContext(ctx).
		Model(&models.Plan{}).
		Where("status = ?", models.PlanStatusActive).
		Select("COALESCE(SUM(remaining_cents), 0)").
		Scan(&outstanding).Error
	if errSum != nil {
		return 0, fmt.Errorf("riskpool: sum outstanding: %w", errSum)
	}
	return outstanding, nil
}

// RecordRecovery appends a recovery entry for a defaulted plan, returning
// post-default recoupment to the pool. Only defaulted plans qualify.
func (l *Ledger) RecordRecovery(ctx context.Context, planID uint64, amountCents int64, description string, actorType models.ActorType, actorID *uint64) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("riskpool: not initialized")
	}
	if amountCents <= 0 {
		return fmt.Errorf("riskpool: recovery amount %d: %w", amountCents, engine.ErrValidation)
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan models.Plan
		if errFind := tx.First(&plan, planID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("riskpool: plan %d: %w", planID, engine.ErrNotFound)
			}
			return fmt.Errorf("riskpool: find plan: %w", errFind)
		}
		if plan.Status != models.PlanStatusDefaulted {
			return fmt.Errorf("riskpool: record recovery for plan %d in status %s: %w", plan.ID, plan.Status, engine.ErrInvalidState)
		}
		if errRecord := Record(tx, plan.ID, models.RiskPoolEntryRecovery, amountCents, description); errRecord != nil {
			return errRecord
		}
		return audit.Record(tx, audit.Entry{
			EntityType: "risk_pool_entry",
			EntityID:   plan.ID,
			Action:     "risk_pool_recovery",
			NewValue:   map[string]any{"amount_cents": amountCents, "description": description},
			ActorType:  actorType,
			ActorID:    actorID,
		})
	})
}

// CoverageRatio returns balance over outstanding guarantees. With no active
// plans the ratio is reported as zero denominator via ok=false.
func (l *Ledger) CoverageRatio(ctx context.Context) (ratio float64, ok bool, err error) {
	balance, errBalance := l.Balance(ctx)
	if errBalance != nil {
		return 0, false, errBalance
	}
	outstanding, errOutstanding := l.OutstandingGuarantees(ctx)
	if errOutstanding != nil {
		return 0, false, errOutstanding
	}
	if outstanding == 0 {
		return 0, false, nil
	}
	return float64(balance) / float64(outstanding), true, nil
}
