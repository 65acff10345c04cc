// Package agent wires the casesync client: the local record store, the HTTP
// transfer channel, the connectivity probe, the upload queue manager and the
// notification reconciler. It also backs the foreground CLI verbs (enqueue,
// dequeue, status, login) that operate on the same database as the worker.
package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/fieldline/casesync/internal/agent/config"
	"github.com/fieldline/casesync/internal/agent/creds"
	"github.com/fieldline/casesync/internal/agent/events"
	"github.com/fieldline/casesync/internal/agent/mds"
	"github.com/fieldline/casesync/internal/agent/models"
	"github.com/fieldline/casesync/internal/agent/netwatch"
	"github.com/fieldline/casesync/internal/agent/notify"
	"github.com/fieldline/casesync/internal/agent/store"
	engine "github.com/fieldline/casesync/internal/agent/sync"
	"github.com/fieldline/casesync/internal/common"
	"github.com/fieldline/casesync/internal/logging"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	repos      *store.Repositories
	channel    *mds.HTTPChannel
	probe      *netwatch.HTTPProbe
	sink       *events.BufferedSink
	manager    *engine.Manager
	reconciler *notify.Reconciler
}

// NewApp opens the local database and wires every component. Credentials are
// loaded from the credentials file when present; without them the worker
// still starts and stalls on its first validation until a login happens.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, repos, err := store.InitDatabase(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	channel := mds.NewHTTPChannel(c.ServerEndpointAddr, c.BandwidthBytesPerSec, nil)
	probe := netwatch.NewHTTPProbe(c.ServerEndpointAddr, c.OnlineCheckInterval, logger, nil)
	sink := events.NewBufferedSink(events.NewLogSink(logger), 256)

	storedCreds, err := creds.Load(c.CredentialsFile)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		_ = db.Close()
		return nil, fmt.Errorf("credentials load error: %w", err)
	}

	gate := engine.NewCredentialGate(channel, storedCreds, sink, logger)
	uploader := engine.NewChunkedUploader(channel, repos.Attachments,
		c.BandwidthBytesPerSec, c.ChunkTarget, c.ChunkRetryMax, c.ChunkRetryBase, sink, logger)
	manager := engine.NewManager(db, channel, probe, gate, uploader, sink, logger, engine.ManagerConfig{
		PollInterval:             c.OnlineCheckInterval,
		ConnectivityFailureLimit: c.ConnFailureLimit,
	})
	reconciler := notify.NewReconciler(channel, repos.Notifications, c.NotificationPollInterval, sink, logger)

	return &App{
		config:     c,
		logger:     logger,
		db:         db,
		repos:      repos,
		channel:    channel,
		probe:      probe,
		sink:       sink,
		manager:    manager,
		reconciler: reconciler,
	}, nil
}

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the background workers and blocks until a signal arrives or the
// queue manager hits an unrecoverable store error.
func (a *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	a.logger.Info(ctx, "starting agent", "endpoint", a.config.ServerEndpointAddr, "db", a.config.DatabaseDSN)

	a.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.probe.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error(ctx, "queue manager stopped", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error(ctx, "notification reconciler stopped", "error", err)
		}
	}()

	wg.Wait()
	a.logger.Info(ctx, "agent stopped")
}

// Close releases the database handle and flushes buffered events.
func (a *App) Close() {
	a.sink.Close()
	_ = a.db.Close()
}

// Enqueue places a finished record into the upload queue.
func (a *App) Enqueue(ctx context.Context, guid string) error {
	return a.manager.Enqueue(ctx, guid)
}

// Dequeue removes a record from the upload queue. The returned bool reports
// a cancellation still pending on a running transfer.
func (a *App) Dequeue(ctx context.Context, guid string) (bool, error) {
	return a.manager.Dequeue(ctx, guid)
}

// Login validates the given credentials against the dispatch server and, on
// success, persists them for the background worker.
func (a *App) Login(ctx context.Context, username, password string) error {
	c := mds.Credentials{Username: username, Password: password}

	result, err := a.channel.ValidateCredentials(ctx, c)
	if err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}
	if result.Failed() {
		if result.Code == mds.CodeInvalidCredentials {
			return common.ErrInvalidCredentials
		}
		return fmt.Errorf("credential check rejected: %s", result.Code)
	}

	if err := creds.Save(a.config.CredentialsFile, c); err != nil {
		return err
	}
	a.manager.UpdateCredentials(c)
	return nil
}

// Status writes a human-readable queue overview: every record holding a
// queue position in order, then per-status totals.
func (a *App) Status(ctx context.Context, w io.Writer) error {
	positioned, err := a.repos.Records.ListPositioned(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tGUID\tSTATUS\tPROGRESS")
	for _, rec := range positioned {
		progress, err := a.recordProgress(ctx, rec)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", rec.QueuePosition, rec.GUID, rec.QueueStatus, progress)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, status := range []models.QueueStatus{
		models.StatusSuccess, models.StatusFailed, models.StatusStalledBadCredentials,
	} {
		n, err := a.repos.Records.CountByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("count records: %w", err)
		}
		if n > 0 {
			fmt.Fprintf(w, "%s: %d\n", status, n)
		}
	}
	return nil
}

// recordProgress summarizes how much of a record has been transferred.
func (a *App) recordProgress(ctx context.Context, rec *models.Record) (string, error) {
	attaches, err := a.repos.Attachments.ListByRecord(ctx, rec.GUID)
	if err != nil {
		return "", fmt.Errorf("list attachments: %w", err)
	}
	return uploadPercent(rec, attaches), nil
}

// uploadPercent weights the text payload by its byte size against the
// attachment totals, so an uploaded payload is not drowned out by a large
// pending attachment.
func uploadPercent(rec *models.Record, attaches []*models.Attachment) string {
	textBytes := int64(len(rec.Payload))
	if textBytes == 0 {
		textBytes = 1
	}

	sent, total := int64(0), textBytes
	if rec.Uploaded {
		sent = textBytes
	}
	for _, att := range attaches {
		total += att.Size
		sent += att.UploadProgress
	}
	return fmt.Sprintf("%d%%", sent*100/total)
}
