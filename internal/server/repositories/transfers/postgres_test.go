package transfers

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var transferCols = []string{"id", "public_id", "owner_id", "sender_email", "title", "message", "recipient_email",
	"delivery_method", "password_hash", "status", "total_size", "file_count", "download_count",
	"is_encrypted", "source", "expires_at", "created_at", "updated_at"}

func transferRow(id, status string, expires time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(transferCols).AddRow(
		id, "pub-"+id, "owner-1", nil, "Holiday photos", "", "",
		"link", "", status, int64(300), 2, int64(0),
		false, "web", expires, now, now,
	)
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	expires := now.Add(7 * 24 * time.Hour)

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+transfers\b.*RETURNING\s+id,\s*created_at,\s*updated_at\s*$`).
		WithArgs("pub-1", sql.NullString{String: "owner-1", Valid: true}, sql.NullString{}, "Title", "", "",
			"link", "", "pending", false, "web", expires).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("t-1", now, now))

	tr := &models.Transfer{
		PublicID: "pub-1", OwnerID: "owner-1", Title: "Title",
		DeliveryMethod: models.DeliveryLink, Status: models.TransferPending,
		Source: models.SourceWeb, ExpiresAt: expires,
	}
	if err := repo.Create(context.Background(), tr); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if tr.ID != "t-1" {
		t.Fatalf("expected generated id, got %q", tr.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DuplicatePublicID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+transfers`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &models.Transfer{PublicID: "dup"})
	if !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetByPublicID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	expires := time.Now().Add(time.Hour)
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*public_id,.*FROM\s+transfers\s+WHERE\s+public_id\s*=\s*\$1$`).
		WithArgs("pub-t1").
		WillReturnRows(transferRow("t1", "active", expires))

	got, err := repo.GetByPublicID(context.Background(), "pub-t1")
	if err != nil {
		t.Fatalf("GetByPublicID error: %v", err)
	}
	if got.ID != "t1" || got.Status != models.TransferActive || got.OwnerID != "owner-1" || got.SenderEmail != "" {
		t.Fatalf("unexpected transfer: %+v", got)
	}
	if got.FileCount != 2 || got.TotalSize != 300 {
		t.Fatalf("unexpected totals: %+v", got)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+transfers\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)^SELECT\s+id\s+FROM\s+transfers\s+WHERE\s+expires_at\s*<\s*\$1\s+ORDER\s+BY\s+expires_at\s+LIMIT\s+\$2$`).
		WithArgs(now, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	ids, err := repo.ListExpired(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("ListExpired error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestActivate(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
		wantErr  bool
	}{
		{name: "pending becomes active", affected: 1, want: true},
		{name: "already active is a no-op", affected: 0, want: false},
		{name: "corrupt state", affected: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			mock.ExpectExec(`(?s)UPDATE\s+transfers\s+SET\s+status\s*=\s*'active'.*WHERE\s+id\s*=\s*\$1\s+AND\s+status\s*=\s*'pending'`).
				WithArgs("t1", int64(300), 2).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.Activate(context.Background(), "t1", 300, 2)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Activate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdjustTotals_ClampsAtZero(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+transfers\s+SET\s+total_size\s*=\s*GREATEST\(total_size\s*\+\s*\$2,\s*0\),\s*file_count\s*=\s*GREATEST\(file_count\s*\+\s*\$3,\s*0\)`).
		WithArgs("t1", int64(-100), -1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AdjustTotals(context.Background(), "t1", -100, -1); err != nil {
		t.Fatalf("AdjustTotals error: %v", err)
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+transfers\s+SET\s+password_hash\s*=\s*\$2`).
		WithArgs("t1", "$2a$12$new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+transfers\s+SET\s+password_hash\s*=\s*\$2`).
		WithArgs("gone", "$2a$12$new").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdatePasswordHash(context.Background(), "t1", "$2a$12$new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.UpdatePasswordHash(context.Background(), "gone", "$2a$12$new"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	expires := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`(?s)^DELETE\s+FROM\s+transfers\s+WHERE\s+id\s*=\s*\$1\s+RETURNING\s+id,`).
		WithArgs("t1").
		WillReturnRows(transferRow("t1", "active", expires))
	mock.ExpectQuery(`(?s)^DELETE\s+FROM\s+transfers`).
		WithArgs("t1").
		WillReturnError(sql.ErrNoRows)

	got, err := repo.Delete(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if got.ID != "t1" || got.Status != models.TransferActive {
		t.Fatalf("unexpected deleted transfer: %+v", got)
	}

	// a second, concurrent delete sees nothing
	if _, err := repo.Delete(context.Background(), "t1"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
