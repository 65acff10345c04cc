// Package notifications persists fully assembled dispatch-server messages.
// Partial messages are never stored; the reconciler re-accumulates parts
// from server re-deliveries after a restart.
package notifications

import (
	"context"
	"time"
)

// Saved is one assembled notification as stored locally.
type Saved struct {
	NotificationID string
	RecordGUID     string
	PatientID      string
	Message        string
	ReceivedAt     time.Time
}

// Repository is the persistence contract for assembled notifications.
type Repository interface {
	// Save upserts the assembled message by notification id. Re-assembling
	// the same notification after duplicate deliveries is a no-op overwrite.
	Save(ctx context.Context, n *Saved) error

	GetByID(ctx context.Context, notificationID string) (*Saved, error)
	ListByRecord(ctx context.Context, recordGUID string) ([]*Saved, error)
}
