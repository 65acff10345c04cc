// Package store opens the dispatch server's PostgreSQL database, applies the
// embedded migrations and binds the repositories.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/fieldline/casesync/internal/server/migrations"
	"github.com/fieldline/casesync/internal/server/repositories/cases"
	"github.com/fieldline/casesync/internal/server/repositories/notifications"
	"github.com/fieldline/casesync/internal/server/repositories/users"
)

// Store bundles the open database handle with its repositories.
type Store struct {
	db            *sql.DB
	users         users.Repository
	cases         cases.Repository
	notifications notifications.Repository
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() users.Repository { return s.users }

func (s *Store) Cases() cases.Repository { return s.cases }

func (s *Store) Notifications() notifications.Repository { return s.notifications }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	return goose.UpContext(ctx, db, ".")
}

// NewPostgresStore opens dsn with the pgx driver, migrates the schema and
// binds the repositories.
func NewPostgresStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &Store{
		db:            db,
		users:         users.NewPostgresRepository(db),
		cases:         cases.NewPostgresRepository(db),
		notifications: notifications.NewPostgresRepository(db),
	}, nil
}
