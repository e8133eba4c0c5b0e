package db

import (
	"embed"
	"fmt"

	"github.com/GuiaBolso/darwin"
	"github.com/diegoclair/sqlmigrator"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies the embedded schema migrations through a database/sql
// handle borrowed from the pool.
func Migrate(pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("platform/db: pool not initialised")
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	migrator := sqlmigrator.New(sqlDB, darwin.PostgresDialect{})
	if err := migrator.Migrate(migrationFiles, "migrations"); err != nil {
		return fmt.Errorf("platform/db: migrate: %w", err)
	}
	return nil
}
