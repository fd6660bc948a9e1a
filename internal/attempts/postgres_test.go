package attempts

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newLogWithMock(t *testing.T) (*PostgresLog, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresLog(db), mock, db
}

const insertQ = `(?s)^INSERT\s+INTO\s+login_attempts\s*\(id,\s*email,\s*ip_address,\s*success,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)$`

func TestRecordNormalizesEmailAndSource(t *testing.T) {
	log, mock, db := newLogWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).
		WithArgs(sqlmock.AnyArg(), "admin@example.com", "203.0.113.5", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertQ).
		WithArgs(sqlmock.AnyArg(), "admin@example.com", nil, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := log.Record(context.Background(), "  Admin@Example.com ", "203.0.113.5", false); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if err := log.Record(context.Background(), "admin@example.com", "", true); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordDBError(t *testing.T) {
	log, mock, db := newLogWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).WillReturnError(errors.New("db down"))

	err := log.Record(context.Background(), "admin@example.com", "", false)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCountFailuresByEmailOrSource(t *testing.T) {
	log, mock, db := newLogWithMock(t)
	defer db.Close()

	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q := `(?s)^SELECT\s+COUNT\(\*\)\s+FROM\s+login_attempts\s+WHERE\s+success\s*=\s*FALSE\s+AND\s+created_at\s*>=\s*\$1\s+AND\s+\(email\s*=\s*\$2\s+OR\s+ip_address\s*=\s*\$3\)$`
	mock.ExpectQuery(q).
		WithArgs(since, "admin@example.com", "203.0.113.5").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := log.CountFailures(context.Background(), "ADMIN@example.com", "203.0.113.5", since)
	if err != nil {
		t.Fatalf("CountFailures error: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCountFailuresWithoutSourceMatchesEmailOnly(t *testing.T) {
	log, mock, db := newLogWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+COUNT\(\*\)\s+FROM\s+login_attempts\s+WHERE\s+success\s*=\s*FALSE\s+AND\s+created_at\s*>=\s*\$1\s+AND\s+email\s*=\s*\$2$`
	mock.ExpectQuery(q).
		WithArgs(sqlmock.AnyArg(), "admin@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	n, err := log.CountFailures(context.Background(), "admin@example.com", "", time.Now())
	if err != nil || n != 0 {
		t.Fatalf("expected 0 failures, got %d err=%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCountFailuresDBError(t *testing.T) {
	log, mock, db := newLogWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("db down"))

	if _, err := log.CountFailures(context.Background(), "a@b.c", "", time.Now()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRecent(t *testing.T) {
	log, mock, db := newLogWithMock(t)
	defer db.Close()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q := `(?s)^SELECT\s+id,\s*email,\s*ip_address,\s*success,\s*created_at\s+FROM\s+login_attempts\s+ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+\$1$`
	mock.ExpectQuery(q).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "ip_address", "success", "created_at"}).
			AddRow("a1", "admin@example.com", "203.0.113.5", false, at).
			AddRow("a2", "admin@example.com", nil, true, at.Add(-time.Minute)))

	got, err := log.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(got))
	}
	if got[0].Source != "203.0.113.5" || got[0].Success {
		t.Fatalf("unexpected first attempt: %+v", got[0])
	}
	if got[1].Source != "" || !got[1].Success {
		t.Fatalf("expected NULL address to map to empty source: %+v", got[1])
	}
}

func TestPurge(t *testing.T) {
	log, mock, db := newLogWithMock(t)
	defer db.Close()

	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+login_attempts\s+WHERE\s+created_at\s*<\s*\$1$`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := log.Purge(context.Background(), before)
	if err != nil || n != 7 {
		t.Fatalf("expected 7 purged, got %d err=%v", n, err)
	}
}
