// Package notify polls the dispatch server for notification message parts
// and reassembles them into complete notifications. The server splits long
// messages into numbered fragments that can arrive out of order, across
// polls, and more than once; the reconciler makes one saved notification out
// of them exactly once.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldline/casesync/internal/agent/events"
	"github.com/fieldline/casesync/internal/agent/mds"
	"github.com/fieldline/casesync/internal/agent/models"
	"github.com/fieldline/casesync/internal/agent/repositories/notifications"
	"github.com/fieldline/casesync/internal/logging"
)

// Reconciler accumulates message parts per notification id and persists each
// notification once all its parts are present. Incomplete accumulators are
// held in memory only; a restart re-receives the missing parts on a later
// poll because the cursor is advanced per poll, not per notification.
type Reconciler struct {
	channel  mds.Channel
	repo     notifications.Repository
	sink     events.Sink
	logger   logging.Logger
	interval time.Duration

	cursor  string
	pending map[string]*models.NotificationMessage

	// OnAssembled, when set, observes every newly completed notification.
	OnAssembled func(*notifications.Saved)
}

// NewReconciler builds a reconciler polling at the given interval.
func NewReconciler(channel mds.Channel, repo notifications.Repository,
	interval time.Duration, sink events.Sink, logger logging.Logger) *Reconciler {

	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		channel:  channel,
		repo:     repo,
		sink:     sink,
		logger:   logger.With("component", "notify"),
		interval: interval,
		pending:  map[string]*models.NotificationMessage{},
	}
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on
// the next tick; they never stop the loop.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Poll(ctx); err != nil {
			r.logger.Warn(ctx, "notification poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll fetches parts newer than the current cursor, folds them into the
// per-notification accumulators and persists every notification that became
// complete. The cursor only advances when the fetch succeeds.
func (r *Reconciler) Poll(ctx context.Context) error {
	r.sink.Emit(events.Event{Kind: events.SyncStart})

	parts, next, err := r.channel.FetchNotifications(ctx, r.cursor)
	if err != nil {
		r.sink.Emit(events.Event{Kind: events.SyncFailed, Detail: err.Error()})
		return fmt.Errorf("fetch notifications: %w", err)
	}

	for _, part := range parts {
		if err := r.ingest(ctx, part); err != nil {
			// one bad part never blocks the rest of the batch
			r.logger.Warn(ctx, "dropping malformed notification part",
				"notification", part.NotificationID, "error", err)
		}
	}

	r.cursor = next
	r.sink.Emit(events.Event{Kind: events.SyncFinish})
	return nil
}

func (r *Reconciler) ingest(ctx context.Context, part mds.MessagePart) error {
	index, total, err := part.ParseCount()
	if err != nil {
		return err
	}
	if part.NotificationID == "" {
		return fmt.Errorf("part without notification id")
	}

	msg, ok := r.pending[part.NotificationID]
	if !ok {
		msg = models.NewNotificationMessage(part.NotificationID, part.RecordGUID, part.PatientID, total)
		r.pending[part.NotificationID] = msg
	}
	if total != msg.TotalMessages {
		return fmt.Errorf("part declares %d total parts, first part declared %d", total, msg.TotalMessages)
	}

	if !msg.AddPart(index, part.Text) {
		r.logger.Debug(ctx, "duplicate notification part ignored",
			"notification", part.NotificationID, "index", index)
		return nil
	}

	if !msg.Complete() {
		return nil
	}

	saved := &notifications.Saved{
		NotificationID: msg.NotificationID,
		RecordGUID:     msg.RecordGUID,
		PatientID:      msg.PatientID,
		Message:        msg.Assemble(),
	}
	if err := r.repo.Save(ctx, saved); err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	delete(r.pending, part.NotificationID)

	r.logger.Info(ctx, "notification assembled",
		"notification", saved.NotificationID, "record", saved.RecordGUID, "parts", total)
	if r.OnAssembled != nil {
		r.OnAssembled(saved)
	}
	return nil
}

// PendingCount reports how many notifications are still missing parts.
func (r *Reconciler) PendingCount() int {
	return len(r.pending)
}
