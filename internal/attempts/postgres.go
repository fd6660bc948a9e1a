package attempts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio/adminauth/internal/dbx"
)

// PostgresLog stores attempts in the login_attempts table.
type PostgresLog struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewPostgresLog returns a log bound to db.
func NewPostgresLog(db dbx.DBTX) *PostgresLog {
	return &PostgresLog{db: db, now: time.Now}
}

// Record appends one attempt.
func (l *PostgresLog) Record(ctx context.Context, email, source string, success bool) error {
	query :=
		`INSERT INTO login_attempts (id, email, ip_address, success, created_at)
		 VALUES ($1, $2, $3, $4, $5)`

	ip := sql.NullString{String: source, Valid: source != ""}
	_, err := l.db.ExecContext(ctx, query, uuid.NewString(), normalizeEmail(email), ip, success, l.now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// CountFailures counts failed attempts since the given time whose email or
// source address matches. An empty source only matches by email.
func (l *PostgresLog) CountFailures(ctx context.Context, email, source string, since time.Time) (int, error) {
	var (
		n   int
		err error
	)
	if source == "" {
		query :=
			`SELECT COUNT(*) FROM login_attempts
			 WHERE success = FALSE AND created_at >= $1 AND email = $2`
		err = l.db.QueryRowContext(ctx, query, since.UTC(), normalizeEmail(email)).Scan(&n)
	} else {
		query :=
			`SELECT COUNT(*) FROM login_attempts
			 WHERE success = FALSE AND created_at >= $1 AND (email = $2 OR ip_address = $3)`
		err = l.db.QueryRowContext(ctx, query, since.UTC(), normalizeEmail(email), source).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Recent returns up to limit attempts, newest first.
func (l *PostgresLog) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	query :=
		`SELECT id, email, ip_address, success, created_at FROM login_attempts
		 ORDER BY created_at DESC
		 LIMIT $1`

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a  Attempt
			ip sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Email, &ip, &a.Success, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		a.Source = ip.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// Purge deletes attempts older than before and returns how many went.
func (l *PostgresLog) Purge(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM login_attempts WHERE created_at < $1`

	res, err := l.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}
