package session

import "time"

// Session is the server-side record behind a session token. MFAVerified
// moves from false to true at most once and never back.
type Session struct {
	ID          string
	UserID      string
	MFAVerified bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether s is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
