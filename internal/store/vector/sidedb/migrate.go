// Package sidedb is the relational side-table that tracks which namespaces
// exist for the vector backend (C6): Milvus has no notion of "namespace
// already exists" on its own, so existence/uniqueness is enforced here via
// a primary-key constraint, the same trick
// kaizen/db/sqlite_manager.py uses with sqlite3.IntegrityError.
package sidedb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/muz"
)

//go:embed migrations/*
var migrationFS embed.FS

type MigrateConfig struct {
	Driver     string
	Datasource string
	Table      string
	Values     map[string]string
}

func Migrate(ctx context.Context, db *sql.DB, cfg MigrateConfig) error {
	m := muz.Migrate{
		Path:      "migrations",
		FS:        migrationFS,
		Extension: ".sql",
		Values:    cfg.Values,
	}

	var driver muz.Driver
	switch cfg.Driver {
	case "postgres":
		driver = muz.NewPostgresDriver(db, cfg.Table, slog.Default())
	case "sqlite", "":
		driver = muz.NewSQLiteDriver(db, cfg.Table, slog.Default())
	default:
		return fmt.Errorf("unknown side db driver %q", cfg.Driver)
	}

	if err := m.Migrate(ctx, driver); err != nil {
		return fmt.Errorf("run side db migrations: %w", err)
	}

	return nil
}
