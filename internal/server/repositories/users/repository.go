package users

import (
	"context"

	"github.com/fieldline/casesync/internal/server/models"
)

// Repository is the persistence contract for user accounts.
type Repository interface {
	// Create inserts a new user.
	Create(ctx context.Context, user *models.User) error

	// FindByUsername returns the user, or common.ErrNotFound.
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}
