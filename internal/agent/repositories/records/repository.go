// Package records provides the SQLite-backed repository for locally captured
// case records, including the upload queue bookkeeping columns.
package records

import (
	"context"

	"github.com/fieldline/casesync/internal/agent/models"
)

// Repository is the persistence contract for case records.
//
// Queue bookkeeping rules enforced by callers (the queue manager):
//   - queue_position is models.PositionNone unless the status holds a position;
//   - positions among positioned records are dense, starting at 0;
//   - at most one record has StatusInProgress at any time.
type Repository interface {
	CreateOrUpdate(ctx context.Context, r *models.Record) error
	GetByGUID(ctx context.Context, guid string) (*models.Record, error)
	Delete(ctx context.Context, guid string) error

	// ListByStatus returns records with the given status, ordered by
	// queue_position ascending (unpositioned records last, by created_at).
	ListByStatus(ctx context.Context, status models.QueueStatus) ([]*models.Record, error)

	// ListPositioned returns every record holding a queue position,
	// ordered by position ascending.
	ListPositioned(ctx context.Context) ([]*models.Record, error)

	// NextQueued returns the StatusQueued record with the lowest
	// queue_position, or common.ErrNotFound when the queue is drained.
	NextQueued(ctx context.Context) (*models.Record, error)

	// MaxPosition returns the highest queue_position currently held, or
	// models.PositionNone when no record is positioned.
	MaxPosition(ctx context.Context) (int, error)

	// SetQueueState updates queue_status and queue_position together so the
	// two can never drift apart.
	SetQueueState(ctx context.Context, guid string, status models.QueueStatus, position int) error

	// ShiftPositionsAbove decrements the queue_position of every positioned
	// record whose position is greater than pos. Used to keep positions
	// dense after a slot is vacated.
	ShiftPositionsAbove(ctx context.Context, pos int) error

	// SetCancelRequested records or clears a pending dequeue of a record
	// that is mid-transfer. Persisted so the request survives process
	// boundaries: the CLI and the worker daemon share only the database.
	SetCancelRequested(ctx context.Context, guid string, requested bool) error

	// MarkUploaded flags the record's text payload as stored server-side.
	MarkUploaded(ctx context.Context, guid string) error

	// CountByStatus reports how many records hold the given status.
	CountByStatus(ctx context.Context, status models.QueueStatus) (int, error)
}
