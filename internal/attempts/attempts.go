// Package attempts records login attempts and counts recent failures for
// the login rate check. Two backends share the same contract: Postgres keeps
// an append-only audit table, Redis keeps short-lived sorted sets.
package attempts

import (
	"errors"
	"strings"
	"time"
)

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("attempt log unavailable")

// Attempt is one recorded login attempt. Source is empty when the client
// address was unknown.
type Attempt struct {
	ID        string
	Email     string
	Source    string
	Success   bool
	CreatedAt time.Time
}

// DefaultWindow is the trailing window the rate check looks at.
const DefaultWindow = 15 * time.Minute

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
