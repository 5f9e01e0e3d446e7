package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func expectNextPostClients(mock sqlmock.Sqlmock, ids ...string) {
	rows := sqlmock.NewRows([]string{"id", "city", "timezone"})
	for _, id := range ids {
		rows.AddRow(id, "Azusa", "UTC")
	}
	mock.ExpectQuery(`SELECT id, COALESCE\(city, ''\), timezone`).WillReturnRows(rows)
}

func TestNextPost_AssignsBestHourToday(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	s := NewNextPostScheduler(db, "UTC")
	now := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC) // before 11:00

	expectNextPostClients(mock, "c1")
	mock.ExpectQuery(`WHERE client_id = \$1 AND status = 'draft'`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("post_1"))
	mock.ExpectExec(`SET status = 'scheduled'`).
		WithArgs("post_1", time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("RunOnce err=%v", err)
	}
	if n != 1 {
		t.Fatalf("expected assigned=1 got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestNextPost_RollsToTomorrowWhenHourPassed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	s := NewNextPostScheduler(db, "UTC")
	now := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC) // after 11:00

	expectNextPostClients(mock, "c1")
	mock.ExpectQuery(`WHERE client_id = \$1 AND status = 'draft'`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("post_1"))
	mock.ExpectExec(`SET status = 'scheduled'`).
		WithArgs("post_1", time.Date(2025, 1, 16, 11, 0, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("RunOnce err=%v", err)
	}
	if n != 1 {
		t.Fatalf("expected assigned=1 got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestNextPost_NoDraftsNothingAssigned(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	s := NewNextPostScheduler(db, "UTC")

	expectNextPostClients(mock, "c1")
	mock.ExpectQuery(`WHERE client_id = \$1 AND status = 'draft'`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	n, err := s.RunOnce(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("RunOnce err=%v", err)
	}
	if n != 0 {
		t.Fatalf("expected assigned=0 got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestNextPost_DraftClaimedElsewhereIsNotCounted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	s := NewNextPostScheduler(db, "UTC")
	now := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

	expectNextPostClients(mock, "c1")
	mock.ExpectQuery(`WHERE client_id = \$1 AND status = 'draft'`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("post_1"))
	mock.ExpectExec(`SET status = 'scheduled'`).
		WithArgs("post_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("RunOnce err=%v", err)
	}
	if n != 0 {
		t.Fatalf("expected assigned=0 got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}
