// Package store opens the agent's local SQLite database, applies schema
// migrations, and bundles the repositories the workers share. This is the
// only mutable state shared between the queue worker, the notification
// reconciler and the foreground CLI.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/fieldline/casesync/internal/agent/migrations"
	"github.com/fieldline/casesync/internal/agent/repositories/attachments"
	"github.com/fieldline/casesync/internal/agent/repositories/notifications"
	"github.com/fieldline/casesync/internal/agent/repositories/records"
)

// Repositories groups the agent-side repositories over one database handle.
type Repositories struct {
	Records       records.Repository
	Attachments   attachments.Repository
	Notifications notifications.Repository
}

// RunMigrations applies the embedded SQLite migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the SQLite file at dsn, enables foreign keys, runs
// migrations, and returns the handle with bound repositories.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, *Repositories, error) {
	// Attachments are deleted via ON DELETE CASCADE, which needs the pragma.
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migration error: %w", err)
	}

	repos := &Repositories{
		Records:       records.NewSQLiteRepository(db),
		Attachments:   attachments.NewSQLiteRepository(db),
		Notifications: notifications.NewSQLiteRepository(db),
	}
	return db, repos, nil
}
