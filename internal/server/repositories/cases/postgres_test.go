package cases

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fieldline/casesync/internal/common"
	"github.com/fieldline/casesync/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestUpsertCase_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`INSERT INTO cases .* ON CONFLICT \(guid\).* DO UPDATE SET`)

	mock.ExpectExec(q.String()).
		WithArgs("g1", "patient-1", []byte(`{"answers":[]}`), "chw-017").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertCase(context.Background(), &models.Case{
		GUID:       "g1",
		PatientID:  "patient-1",
		Payload:    []byte(`{"answers":[]}`),
		UploadedBy: "chw-017",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetCase_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM cases WHERE guid = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetCase(context.Background(), "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertBlob_ReturnsExistingProgress(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "case_guid", "element_id", "size", "received", "complete", "archive_key"}).
		AddRow(int64(7), "g1", "e1", int64(10000), int64(4096), false, "")

	mock.ExpectQuery(`INSERT INTO blobs .* ON CONFLICT \(case_guid, element_id\).* RETURNING`).
		WithArgs("g1", "e1", int64(10000)).
		WillReturnRows(rows)

	b, err := repo.UpsertBlob(context.Background(), "g1", "e1", 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ID != 7 || b.Received != 4096 || b.Complete {
		t.Fatalf("unexpected blob: %+v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetBlobReceived_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE blobs SET received = \$1 WHERE id = \$2`).
		WithArgs(int64(8192), int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetBlobReceived(context.Background(), 99, 8192)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteBlob_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE blobs SET complete = TRUE, received = size, archive_key = \$1 WHERE id = \$2`).
		WithArgs("cases/g1/e1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.CompleteBlob(context.Background(), 7, "cases/g1/e1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
