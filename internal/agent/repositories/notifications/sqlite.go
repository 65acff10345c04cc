package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldline/casesync/internal/common"
	"github.com/fieldline/casesync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save upserts an assembled notification by id.
func (r *SQLiteRepository) Save(ctx context.Context, n *Saved) error {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now().UTC()
	}
	query := `INSERT INTO notifications (notification_id, record_guid, patient_id, message, received_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(notification_id) DO UPDATE SET
				record_guid = excluded.record_guid,
				patient_id = excluded.patient_id,
				message = excluded.message
	`
	_, err := r.db.ExecContext(ctx, query,
		n.NotificationID, n.RecordGUID, n.PatientID, n.Message, n.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert notification: %w", err)
	}
	return nil
}

// GetByID returns one saved notification, or common.ErrNotFound.
func (r *SQLiteRepository) GetByID(ctx context.Context, notificationID string) (*Saved, error) {
	query := `SELECT notification_id, record_guid, patient_id, message, received_at
		FROM notifications WHERE notification_id = ?`
	n := &Saved{}
	err := r.db.QueryRowContext(ctx, query, notificationID).
		Scan(&n.NotificationID, &n.RecordGUID, &n.PatientID, &n.Message, &n.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return n, nil
}

// ListByRecord returns the saved notifications referencing a record.
func (r *SQLiteRepository) ListByRecord(ctx context.Context, recordGUID string) ([]*Saved, error) {
	query := `SELECT notification_id, record_guid, patient_id, message, received_at
		FROM notifications WHERE record_guid = ? ORDER BY received_at`
	rows, err := r.db.QueryContext(ctx, query, recordGUID)
	if err != nil {
		return nil, fmt.Errorf("failed to select notifications: %w", err)
	}
	defer rows.Close()

	var result []*Saved
	for rows.Next() {
		n := &Saved{}
		if err := rows.Scan(&n.NotificationID, &n.RecordGUID, &n.PatientID, &n.Message, &n.ReceivedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
