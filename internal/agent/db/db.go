// Package db opens the agent's sqlite database and wires up repositories.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/photosync/internal/agent/checkpoint"
	"github.com/dmitrijs2005/photosync/internal/agent/ledger"
	"github.com/dmitrijs2005/photosync/internal/agent/metadata"
	"github.com/dmitrijs2005/photosync/internal/agent/migrations"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

type Repositories struct {
	DB       *sql.DB
	Ledger   ledger.Repository
	Metadata metadata.Repository
	Progress *checkpoint.Store
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	return &Repositories{
		DB:       db,
		Ledger:   ledger.NewSQLiteRepository(db),
		Metadata: metadata.NewSQLiteRepository(db),
		Progress: checkpoint.NewStore(db),
	}, nil
}
