// Package users is the Postgres repository for admin accounts. It
// implements adminauth.UserProvider and the account writes used by the
// admin CLI.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/portfolio/adminauth"
	"github.com/portfolio/adminauth/internal/dbx"
)

// ErrDuplicateEmail is returned by Create when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new admin. The email is stored lowercase.
func (r *PostgresRepository) Create(ctx context.Context, email, passwordHash, mfaSecret string) (adminauth.UserRecord, error) {
	user := adminauth.UserRecord{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		MFASecret:    mfaSecret,
	}

	query :=
		`INSERT INTO users (id, email, password_hash, mfa_secret)
		 VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.PasswordHash, nullable(mfaSecret))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return adminauth.UserRecord{}, ErrDuplicateEmail
		}
		return adminauth.UserRecord{}, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (adminauth.UserRecord, error) {
	query :=
		`SELECT id, email, password_hash, mfa_secret FROM users
		 WHERE email = $1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, normalizeEmail(email)))
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (adminauth.UserRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return adminauth.UserRecord{}, adminauth.ErrUserNotFound
	}

	query :=
		`SELECT id, email, password_hash, mfa_secret FROM users
		 WHERE id = $1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (adminauth.UserRecord, error) {
	var (
		user   adminauth.UserRecord
		secret sql.NullString
	)
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return adminauth.UserRecord{}, adminauth.ErrUserNotFound
		}
		return adminauth.UserRecord{}, fmt.Errorf("db error: %w", err)
	}
	user.MFASecret = secret.String
	return user, nil
}

// SetMFASecret replaces the secret of the user with the given email. An
// empty secret disables the second factor, which also blocks login.
func (r *PostgresRepository) SetMFASecret(ctx context.Context, email, secret string) error {
	query :=
		`UPDATE users SET mfa_secret = $1
		 WHERE email = $2`

	return r.updateOne(ctx, query, nullable(secret), normalizeEmail(email))
}

// SetPasswordHash replaces the password hash of the user with the given
// email.
func (r *PostgresRepository) SetPasswordHash(ctx context.Context, email, hash string) error {
	query :=
		`UPDATE users SET password_hash = $1
		 WHERE email = $2`

	return r.updateOne(ctx, query, hash, normalizeEmail(email))
}

func (r *PostgresRepository) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return adminauth.ErrUserNotFound
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
