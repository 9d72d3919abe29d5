package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WithRowLock adds SELECT ... FOR UPDATE to the query on dialects that
// support row locks. SQLite serializes writers, so the clause is omitted
// there. Guards concurrent sweeps from double-processing the same row.
func WithRowLock(tx *gorm.DB) *gorm.DB {
	if IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
