package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database identified by the DSN. Postgres URLs open a
// pgx-backed connection; "sqlite://" prefixed DSNs and bare file paths open
// SQLite, which keeps local development and tests driverless.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	switch {
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"), strings.Contains(trimmed, "host="):
		conn, errOpen := gorm.Open(postgres.Open(trimmed), cfg)
		if errOpen != nil {
			return nil, fmt.Errorf("db: open postgres: %w", errOpen)
		}
		return conn, nil
	default:
		path := strings.TrimPrefix(trimmed, "sqlite://")
		conn, errOpen := gorm.Open(sqlite.Open(path), cfg)
		if errOpen != nil {
			return nil, fmt.Errorf("db: open sqlite: %w", errOpen)
		}
		return conn, nil
	}
}
