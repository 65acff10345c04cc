package records

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"context"

	"github.com/fieldline/casesync/internal/agent/models"
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

const recordColumns = `guid, patient_id, payload, finished, uploaded, queue_status, queue_position, cancel_requested, created_at, updated_at`

// CreateOrUpdate upserts a record by guid. Queue columns are written as-is;
// callers go through SetQueueState for state transitions.
func (r *SQLiteRepository) CreateOrUpdate(ctx context.Context, rec *models.Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `INSERT INTO records (guid, patient_id, payload, finished, uploaded, queue_status, queue_position, cancel_requested, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(guid) DO UPDATE SET
				patient_id = excluded.patient_id,
				payload = excluded.payload,
				finished = excluded.finished,
				uploaded = excluded.uploaded,
				updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.GUID, rec.PatientID, rec.Payload, rec.Finished, rec.Uploaded,
		rec.QueueStatus, rec.QueuePosition, rec.CancelRequested, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func scanRecord(row interface{ Scan(...any) error }) (*models.Record, error) {
	rec := &models.Record{}
	err := row.Scan(&rec.GUID, &rec.PatientID, &rec.Payload, &rec.Finished, &rec.Uploaded,
		&rec.QueueStatus, &rec.QueuePosition, &rec.CancelRequested, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetByGUID returns one record, or common.ErrNotFound.
func (r *SQLiteRepository) GetByGUID(ctx context.Context, guid string) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE guid = ?`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, guid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return rec, nil
}

// Delete removes the record; attachments go with it via ON DELETE CASCADE.
func (r *SQLiteRepository) Delete(ctx context.Context, guid string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE guid = ?`, guid)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryRecords(ctx context.Context, query string, args ...any) ([]*models.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByStatus returns records in the given status, positioned ones first in
// position order.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status models.QueueStatus) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE queue_status = ?
		ORDER BY CASE WHEN queue_position < 0 THEN 1 ELSE 0 END, queue_position, created_at`
	return r.queryRecords(ctx, query, status)
}

// ListPositioned returns every record holding a queue position, in order.
func (r *SQLiteRepository) ListPositioned(ctx context.Context) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE queue_position >= 0 ORDER BY queue_position`
	return r.queryRecords(ctx, query)
}

// NextQueued returns the queued record with the lowest position.
func (r *SQLiteRepository) NextQueued(ctx context.Context) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE queue_status = ? AND queue_position >= 0
		ORDER BY queue_position LIMIT 1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, models.StatusQueued))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return rec, nil
}

// MaxPosition returns the highest held queue position, or models.PositionNone.
func (r *SQLiteRepository) MaxPosition(ctx context.Context) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(queue_position) FROM records WHERE queue_position >= 0`).Scan(&max)
	if err != nil {
		return models.PositionNone, fmt.Errorf("failed to select max position: %w", err)
	}
	if !max.Valid {
		return models.PositionNone, nil
	}
	return int(max.Int64), nil
}

// SetQueueState updates queue_status and queue_position in one statement.
func (r *SQLiteRepository) SetQueueState(ctx context.Context, guid string, status models.QueueStatus, position int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET queue_status = ?, queue_position = ?, updated_at = ? WHERE guid = ?`,
		status, position, time.Now().UTC(), guid)
	if err != nil {
		return fmt.Errorf("failed to update queue state: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrNotFound
	}
	return nil
}

// ShiftPositionsAbove closes the gap left at pos by moving every higher
// position down by one.
func (r *SQLiteRepository) ShiftPositionsAbove(ctx context.Context, pos int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE records SET queue_position = queue_position - 1 WHERE queue_position > ?`, pos)
	if err != nil {
		return fmt.Errorf("failed to shift positions: %w", err)
	}
	return nil
}

// SetCancelRequested records or clears a pending mid-transfer dequeue.
func (r *SQLiteRepository) SetCancelRequested(ctx context.Context, guid string, requested bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET cancel_requested = ?, updated_at = ? WHERE guid = ?`,
		requested, time.Now().UTC(), guid)
	if err != nil {
		return fmt.Errorf("failed to set cancel request: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrNotFound
	}
	return nil
}

// MarkUploaded flags the text payload as confirmed stored server-side.
func (r *SQLiteRepository) MarkUploaded(ctx context.Context, guid string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET uploaded = 1, updated_at = ? WHERE guid = ?`, time.Now().UTC(), guid)
	if err != nil {
		return fmt.Errorf("failed to mark record uploaded: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrNotFound
	}
	return nil
}

// CountByStatus reports how many records hold the given status.
func (r *SQLiteRepository) CountByStatus(ctx context.Context, status models.QueueStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE queue_status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}
