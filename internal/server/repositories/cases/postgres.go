// Package cases provides PostgreSQL-backed persistence for uploaded cases
// and their attachment blobs.
package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fieldline/casesync/internal/common"
	"github.com/fieldline/casesync/internal/dbx"
	"github.com/fieldline/casesync/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// UpsertCase inserts or replaces the case payload. Re-uploads after a client
// retry are expected; the newest payload wins.
func (r *PostgresRepository) UpsertCase(ctx context.Context, c *models.Case) error {
	query := `
		INSERT INTO cases (guid, patient_id, payload, uploaded_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guid)
		DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			payload = EXCLUDED.payload,
			uploaded_by = EXCLUDED.uploaded_by;
	`
	_, err := r.db.ExecContext(ctx, query, c.GUID, c.PatientID, c.Payload, c.UploadedBy)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetCase returns one case, or common.ErrNotFound.
func (r *PostgresRepository) GetCase(ctx context.Context, guid string) (*models.Case, error) {
	query := `SELECT guid, patient_id, payload, uploaded_by, received_at FROM cases WHERE guid = $1`
	c := &models.Case{}
	err := r.db.QueryRowContext(ctx, query, guid).
		Scan(&c.GUID, &c.PatientID, &c.Payload, &c.UploadedBy, &c.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return c, nil
}

// UpsertBlob registers the transfer and returns the current row. The upsert
// refreshes the declared size but never touches the received counter, which
// only SetBlobReceived advances.
func (r *PostgresRepository) UpsertBlob(ctx context.Context, caseGUID, elementID string, size int64) (*models.Blob, error) {
	query := `
		INSERT INTO blobs (case_guid, element_id, size)
		VALUES ($1, $2, $3)
		ON CONFLICT (case_guid, element_id)
		DO UPDATE SET size = EXCLUDED.size
		RETURNING id, case_guid, element_id, size, received, complete, archive_key;
	`
	b := &models.Blob{}
	err := r.db.QueryRowContext(ctx, query, caseGUID, elementID, size).
		Scan(&b.ID, &b.CaseGUID, &b.ElementID, &b.Size, &b.Received, &b.Complete, &b.ArchiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert blob: %w", err)
	}
	return b, nil
}

// SetBlobReceived advances the acknowledged byte count.
func (r *PostgresRepository) SetBlobReceived(ctx context.Context, id int64, received int64) error {
	return r.updateOne(ctx, `UPDATE blobs SET received = $1 WHERE id = $2`, received, id)
}

// CompleteBlob marks the blob done and records its archive location.
func (r *PostgresRepository) CompleteBlob(ctx context.Context, id int64, archiveKey string) error {
	return r.updateOne(ctx,
		`UPDATE blobs SET complete = TRUE, received = size, archive_key = $1 WHERE id = $2`,
		archiveKey, id)
}

func (r *PostgresRepository) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrNotFound
	}
	return nil
}

// ListBlobs returns the blobs of a case in element order.
func (r *PostgresRepository) ListBlobs(ctx context.Context, caseGUID string) ([]*models.Blob, error) {
	query := `SELECT id, case_guid, element_id, size, received, complete, archive_key
		FROM blobs WHERE case_guid = $1 ORDER BY element_id`
	rows, err := r.db.QueryContext(ctx, query, caseGUID)
	if err != nil {
		return nil, fmt.Errorf("failed to select blobs: %w", err)
	}
	defer rows.Close()

	var result []*models.Blob
	for rows.Next() {
		b := &models.Blob{}
		if err := rows.Scan(&b.ID, &b.CaseGUID, &b.ElementID, &b.Size, &b.Received, &b.Complete, &b.ArchiveKey); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
