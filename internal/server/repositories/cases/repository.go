package cases

import (
	"context"

	"github.com/fieldline/casesync/internal/server/models"
)

// Repository is the persistence contract for uploaded cases and their
// attachment blobs.
type Repository interface {
	// UpsertCase inserts or replaces the text payload of a case.
	UpsertCase(ctx context.Context, c *models.Case) error

	// GetCase returns one case, or common.ErrNotFound.
	GetCase(ctx context.Context, guid string) (*models.Case, error)

	// UpsertBlob registers an attachment transfer for a case, returning the
	// current row. An existing transfer keeps its received counter, so the
	// caller learns where the upload actually stands.
	UpsertBlob(ctx context.Context, caseGUID, elementID string, size int64) (*models.Blob, error)

	// SetBlobReceived advances the acknowledged byte count.
	SetBlobReceived(ctx context.Context, id int64, received int64) error

	// CompleteBlob marks the blob fully received and archived under key.
	CompleteBlob(ctx context.Context, id int64, archiveKey string) error

	// ListBlobs returns the blobs of a case in element order.
	ListBlobs(ctx context.Context, caseGUID string) ([]*models.Blob, error)
}
