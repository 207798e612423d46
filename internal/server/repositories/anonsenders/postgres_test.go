package anonsenders

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	cols := []string{"email", "monthly_quota_used", "monthly_transfers_used", "window_started_at", "verified_at", "created_at"}
	mock.ExpectQuery(`FROM\s+anon_senders\s+WHERE\s+email\s*=\s*\$1`).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a@example.com", int64(10), 1, now, now, now))

	a, err := repo.Get(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !a.IsVerified(now) || a.MonthlyTransfersUsed != 1 {
		t.Fatalf("unexpected sender: %+v", a)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+anon_senders`).WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), "x@example.com"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkVerified_Upserts(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(`(?s)INSERT\s+INTO\s+anon_senders.*ON\s+CONFLICT\s+\(email\)\s+DO\s+UPDATE\s+SET\s+verified_at`).
		WithArgs("a@example.com", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkVerified(context.Background(), "a@example.com", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResetWindowIfElapsed(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	q := `(?s)UPDATE\s+anon_senders.*WHERE\s+email\s*=\s*\$1\s+AND\s+window_started_at\s*<=\s*\$3`
	mock.ExpectExec(q).WithArgs("a@example.com", now, now.Add(-models.AnonymousWindow)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("a@example.com", now, now.Add(-models.AnonymousWindow)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reset, err := repo.ResetWindowIfElapsed(context.Background(), "a@example.com", now)
	if err != nil || !reset {
		t.Fatalf("first call: %v %v", reset, err)
	}
	reset, err = repo.ResetWindowIfElapsed(context.Background(), "a@example.com", now)
	if err != nil || reset {
		t.Fatalf("second call: %v %v", reset, err)
	}
}

func TestAddUsage(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+anon_senders\s+SET.*GREATEST\(monthly_quota_used\s*\+\s*\$2,\s*0\)`).
		WithArgs("a@example.com", int64(2048), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+anon_senders`).
		WithArgs("ghost@example.com", int64(1), 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.AddUsage(context.Background(), "a@example.com", 2048, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.AddUsage(context.Background(), "ghost@example.com", 1, 1); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
