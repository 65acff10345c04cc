package notifications

import (
	"context"

	"github.com/fieldline/casesync/internal/server/models"
)

// Repository is the persistence contract for outbound notification parts.
type Repository interface {
	// AddParts appends the parts of one notification.
	AddParts(ctx context.Context, parts []*models.NotificationPart) error

	// ListAfter returns up to limit parts with an ID greater than cursor, in
	// ID order.
	ListAfter(ctx context.Context, cursor int64, limit int) ([]*models.NotificationPart, error)
}
