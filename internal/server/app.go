// Package server wires the casesync dispatch server: the PostgreSQL store,
// the attachment spool, the archive backend and the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fieldline/casesync/internal/logging"
	"github.com/fieldline/casesync/internal/server/config"
	"github.com/fieldline/casesync/internal/server/httpapi"
	"github.com/fieldline/casesync/internal/server/services"
	"github.com/fieldline/casesync/internal/server/spool"
	"github.com/fieldline/casesync/internal/server/store"
	"github.com/fieldline/casesync/internal/server/storage"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	store       *store.Store
	userService *services.UserService
	caseService *services.CaseService
	api         *httpapi.Server
}

// NewApp opens the database, prepares the spool and archive backend and wires
// the services. An empty S3BaseEndpoint selects the filesystem archiver so a
// development deployment needs no object store.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	st, err := store.NewPostgresStore(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	sp, err := spool.New(c.SpoolDir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("spool init error: %w", err)
	}

	archiver, err := newArchiver(ctx, c)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("archiver init error: %w", err)
	}

	userService := services.NewUserService(st.Users(), c)
	caseService := services.NewCaseService(st.Cases(), st.Notifications(), sp, archiver, c.NotificationPartLimit, logger)
	api := httpapi.NewServer(c.EndpointAddr, userService, caseService, logger)

	return &App{
		config:      c,
		logger:      logger,
		store:       st,
		userService: userService,
		caseService: caseService,
		api:         api,
	}, nil
}

func newArchiver(ctx context.Context, c *config.Config) (storage.Archiver, error) {
	if c.S3BaseEndpoint == "" {
		return storage.NewFSArchiver(c.ArchiveDir)
	}
	return storage.NewS3Archiver(ctx, c)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves the API until a signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting dispatch server", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.api.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error(ctx, "api server stopped", "error", err)
			cancelFunc()
		}
	}()

	wg.Wait()
	app.logger.Info(ctx, "dispatch server stopped")
}

// Close releases the database handle.
func (app *App) Close() {
	_ = app.store.Close()
}

// Register creates an upload account. Used by the register CLI mode; the API
// itself has no self-service registration.
func (app *App) Register(ctx context.Context, username, password string) error {
	_, err := app.userService.Register(ctx, username, password)
	return err
}
