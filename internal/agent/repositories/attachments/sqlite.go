package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

const attachmentColumns = `id, record_guid, element_id, path, size, upload_progress, uploaded, file_valid`

// Add inserts a new attachment and fills in its generated id.
func (r *SQLiteRepository) Add(ctx context.Context, a *models.Attachment) error {
	query := `INSERT INTO attachments (record_guid, element_id, path, size, upload_progress, uploaded, file_valid)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		a.RecordGUID, a.ElementID, a.Path, a.Size, a.UploadProgress, a.Uploaded, a.FileValid)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get attachment id: %w", err)
	}
	a.ID = id
	return nil
}

func scanAttachment(row interface{ Scan(...any) error }) (*models.Attachment, error) {
	a := &models.Attachment{}
	err := row.Scan(&a.ID, &a.RecordGUID, &a.ElementID, &a.Path, &a.Size,
		&a.UploadProgress, &a.Uploaded, &a.FileValid)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID returns one attachment, or common.ErrNotFound.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = ?`
	a, err := scanAttachment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) queryAttachments(ctx context.Context, query string, args ...any) ([]*models.Attachment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByRecord returns all attachments of a record in element-id order.
func (r *SQLiteRepository) ListByRecord(ctx context.Context, recordGUID string) ([]*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE record_guid = ? ORDER BY element_id`
	return r.queryAttachments(ctx, query, recordGUID)
}

// ListPending returns valid, not-yet-uploaded attachments in element-id order.
func (r *SQLiteRepository) ListPending(ctx context.Context, recordGUID string) ([]*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments
		WHERE record_guid = ? AND file_valid = 1 AND uploaded = 0 ORDER BY element_id`
	return r.queryAttachments(ctx, query, recordGUID)
}

func (r *SQLiteRepository) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update attachment: %w", err)
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

// SetProgress records the server-acknowledged byte count.
func (r *SQLiteRepository) SetProgress(ctx context.Context, id int64, progress int64) error {
	return r.updateOne(ctx, `UPDATE attachments SET upload_progress = ? WHERE id = ?`, progress, id)
}

// MarkUploaded flags the attachment complete; progress is pinned to size.
func (r *SQLiteRepository) MarkUploaded(ctx context.Context, id int64) error {
	return r.updateOne(ctx, `UPDATE attachments SET uploaded = 1, upload_progress = size WHERE id = ?`, id)
}

// MarkFileValid flags the local file as fully written.
func (r *SQLiteRepository) MarkFileValid(ctx context.Context, id int64) error {
	return r.updateOne(ctx, `UPDATE attachments SET file_valid = 1 WHERE id = ?`, id)
}
