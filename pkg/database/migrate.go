package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// gooseLogger routes goose output through zap.
type gooseLogger struct {
	sugar *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) { l.sugar.Infof(format, v...) }
func (l gooseLogger) Fatalf(format string, v ...any) { l.sugar.Fatalf(format, v...) }

func prepareGoose(logger *zap.SugaredLogger) error {
	goose.SetBaseFS(migrationsFS)
	if logger != nil {
		goose.SetLogger(gooseLogger{sugar: logger})
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return nil
}

// Migrate applies pending embedded migrations.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	if err := prepareGoose(logger); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := goose.UpContext(runCtx, db, migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrationStatus logs applied and pending migrations.
func MigrationStatus(db *sql.DB, logger *zap.SugaredLogger) error {
	if err := prepareGoose(logger); err != nil {
		return err
	}
	if err := goose.Status(db, migrationsDir); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}
