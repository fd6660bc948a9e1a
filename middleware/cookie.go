package middleware

import (
	"net/http"
	"time"

	"github.com/portfolio/adminauth"
)

// SessionToken returns the session cookie value, or "" when absent.
func SessionToken(r *http.Request, cfg adminauth.CookieConfig) string {
	c, err := r.Cookie(cfg.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

// SetSessionCookie writes token as an HttpOnly cookie expiring with the
// session. Max-Age is the remaining session life rounded up to whole
// seconds, so a fresh session gets the full TTL.
func SetSessionCookie(w http.ResponseWriter, cfg adminauth.CookieConfig, token string, expiresAt time.Time) {
	maxAge := maxAgeFor(time.Until(expiresAt))
	if maxAge <= 0 {
		ClearSessionCookie(w, cfg)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    token,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   maxAge,
		Expires:  expiresAt.UTC(),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

func maxAgeFor(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

// ClearSessionCookie expires the session cookie in the browser.
func ClearSessionCookie(w http.ResponseWriter, cfg adminauth.CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}
