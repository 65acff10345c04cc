// Package notifications provides PostgreSQL-backed persistence for the
// outbound notification part feed.
package notifications

import (
	"context"
	"fmt"

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

// AddParts appends the parts of one notification, filling in generated IDs.
func (r *PostgresRepository) AddParts(ctx context.Context, parts []*models.NotificationPart) error {
	query := `
		INSERT INTO notification_parts (notification_id, case_guid, patient_id, part_index, part_total, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id;
	`
	for _, p := range parts {
		err := r.db.QueryRowContext(ctx, query,
			p.NotificationID, p.CaseGUID, p.PatientID, p.Index, p.Total, p.Body).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("failed to insert notification part: %w", err)
		}
	}
	return nil
}

// ListAfter returns up to limit parts with an ID greater than cursor.
func (r *PostgresRepository) ListAfter(ctx context.Context, cursor int64, limit int) ([]*models.NotificationPart, error) {
	query := `SELECT id, notification_id, case_guid, patient_id, part_index, part_total, body
		FROM notification_parts WHERE id > $1 ORDER BY id LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select notification parts: %w", err)
	}
	defer rows.Close()

	var result []*models.NotificationPart
	for rows.Next() {
		p := &models.NotificationPart{}
		if err := rows.Scan(&p.ID, &p.NotificationID, &p.CaseGUID, &p.PatientID, &p.Index, &p.Total, &p.Body); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
