// Package attachments provides the SQLite-backed repository for binary
// attachments owned by case records.
package attachments

import (
	"context"

	"github.com/fieldline/casesync/internal/agent/models"
)

// Repository is the persistence contract for attachments. Ordering matters:
// transfer iterates attachments in ascending element id, so list methods
// return them that way.
type Repository interface {
	Add(ctx context.Context, a *models.Attachment) error
	GetByID(ctx context.Context, id int64) (*models.Attachment, error)

	// ListByRecord returns all attachments of a record, ordered by element id.
	ListByRecord(ctx context.Context, recordGUID string) ([]*models.Attachment, error)

	// ListPending returns attachments still needing transfer: file_valid and
	// not yet uploaded, ordered by element id.
	ListPending(ctx context.Context, recordGUID string) ([]*models.Attachment, error)

	// SetProgress records the server-acknowledged byte count. It must only be
	// called with offsets the server has confirmed.
	SetProgress(ctx context.Context, id int64, progress int64) error

	// MarkUploaded flags the attachment complete and pins progress to size.
	MarkUploaded(ctx context.Context, id int64) error

	// MarkFileValid flags the local file as fully written and safe to transfer.
	MarkFileValid(ctx context.Context, id int64) error
}
