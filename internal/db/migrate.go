package db

import (
	"fmt"

	"github.com/pawplan/pawplan/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// AutoMigrateAll applies the schema for every engine entity. Exposed for
// test databases that migrate in-memory SQLite directly.
func AutoMigrateAll(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.Owner{},
		&models.Clinic{},
		&models.Plan{},
		&models.Payment{},
		&models.Payout{},
		&models.RiskPoolEntry{},
		&models.SoftCollection{},
		&models.AuditLogEntry{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}

// migratePostgres applies PostgreSQL schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := AutoMigrateAll(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}

	// Partial index keeping the one-active-collection-per-plan lookup cheap.
	if errIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_soft_collections_open
		ON soft_collections (plan_id)
		WHERE stage NOT IN (4, 5)
	`).Error; errIdx != nil {
		return fmt.Errorf("db: create soft collection index: %w", errIdx)
	}

	if errIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_payments_due
		ON payments (scheduled_at)
		WHERE status = 1
	`).Error; errIdx != nil {
		return fmt.Errorf("db: create due payments index: %w", errIdx)
	}

	return nil
}

// migrateSQLite applies the plain schema; SQLite is used for development
// and tests, where the partial indexes are unnecessary.
func migrateSQLite(conn *gorm.DB) error {
	return AutoMigrateAll(conn)
}
