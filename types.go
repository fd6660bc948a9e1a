package adminauth

import (
	"context"
	"time"
)

// UserRecord is the read-only view of an admin account the engine needs.
// MFASecret is base32 and may be empty, in which case the account can never
// complete login.
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	MFASecret    string
}

// UserProvider looks up admin accounts. Implementations return
// ErrUserNotFound for unknown users and any other error for infrastructure
// failures.
type UserProvider interface {
	FindByEmail(ctx context.Context, email string) (UserRecord, error)
	FindByID(ctx context.Context, id string) (UserRecord, error)
}

// Mailer sends login mail. Calls happen on the notification worker, never
// on the request path.
type Mailer interface {
	SendMFACode(ctx context.Context, email, code string) error
	SendLoginNotification(ctx context.Context, email, source string) error
}

// AttemptLog records login attempts and counts recent failures. An empty
// source means the client address was unknown and only matches by email.
type AttemptLog interface {
	Record(ctx context.Context, email, source string, success bool) error
	CountFailures(ctx context.Context, email, source string, since time.Time) (int, error)
}

// PasswordVerifier checks a password against a stored hash.
type PasswordVerifier interface {
	Verify(password, hash string) bool
}

// LoginResult is returned after a correct password. The session behind
// Token is not yet MFA verified.
type LoginResult struct {
	Token       string
	ExpiresAt   time.Time
	RequiresMFA bool
}

// MFAResult carries the re-issued token of a fully authenticated session.
type MFAResult struct {
	Token     string
	ExpiresAt time.Time
}

// SessionStatus is the store-backed state reported by Status.
type SessionStatus struct {
	SessionID   string
	UserID      string
	MFAVerified bool
	ExpiresAt   time.Time
}

// AdvisorySession is what the token alone claims. It is only fit for
// routing decisions such as redirects.
type AdvisorySession struct {
	SessionID   string
	UserID      string
	MFAVerified bool
	ExpiresAt   time.Time
}

// VerifiedSession is a session that passed the store check in Authorize.
// Its fields are unexported so only the engine can construct one.
type VerifiedSession struct {
	sessionID string
	userID    string
	expiresAt time.Time
}

// SessionID returns the id of the verified session.
func (v *VerifiedSession) SessionID() string { return v.sessionID }

// UserID returns the id of the authenticated admin.
func (v *VerifiedSession) UserID() string { return v.userID }

// ExpiresAt returns the absolute expiry of the session.
func (v *VerifiedSession) ExpiresAt() time.Time { return v.expiresAt }
