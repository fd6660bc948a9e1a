package middleware

import (
	"net/http"
	"strings"

	"github.com/portfolio/adminauth"
)

// Inspector decodes a session token without touching any store.
type Inspector interface {
	Inspect(token string) (*adminauth.AdvisorySession, error)
	Config() adminauth.Config
}

// Action is what the gatekeeper does with a request.
type Action int

const (
	Allow Action = iota
	RedirectLogin
	ClearAndRedirectLogin
	RedirectMFA
	RedirectProtected
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case ClearAndRedirectLogin:
		return "clear_redirect_login"
	case RedirectMFA:
		return "redirect_mfa"
	case RedirectProtected:
		return "redirect_protected"
	default:
		return "unknown"
	}
}

// Decide applies the redirect table to one request. hasToken reports
// whether a cookie was sent; session is nil when it did not verify.
func Decide(routes adminauth.RoutesConfig, path string, hasToken bool, session *adminauth.AdvisorySession) Action {
	switch {
	case inProtectedArea(routes, path):
		if !hasToken {
			return RedirectLogin
		}
		if session == nil {
			return ClearAndRedirectLogin
		}
		if !session.MFAVerified {
			return RedirectMFA
		}
		return Allow

	case samePath(path, routes.MFA):
		if !hasToken {
			return RedirectLogin
		}
		if session == nil {
			return ClearAndRedirectLogin
		}
		if session.MFAVerified {
			return RedirectProtected
		}
		return Allow

	case samePath(path, routes.Login):
		if session == nil {
			return Allow
		}
		if session.MFAVerified {
			return RedirectProtected
		}
		return RedirectMFA
	}
	return Allow
}

// Gatekeeper redirects page requests according to the advisory token
// state. It never consults the session store, so it must not be the only
// check in front of anything that changes state; use RequireSession.
func Gatekeeper(engine Inspector) func(http.Handler) http.Handler {
	cfg := engine.Config()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r, cfg.Cookie)

			var session *adminauth.AdvisorySession
			if token != "" {
				if s, err := engine.Inspect(token); err == nil {
					session = s
				}
			}

			switch Decide(cfg.Routes, r.URL.Path, token != "", session) {
			case RedirectLogin:
				http.Redirect(w, r, cfg.Routes.Login, http.StatusTemporaryRedirect)
			case ClearAndRedirectLogin:
				ClearSessionCookie(w, cfg.Cookie)
				http.Redirect(w, r, cfg.Routes.Login, http.StatusTemporaryRedirect)
			case RedirectMFA:
				http.Redirect(w, r, cfg.Routes.MFA, http.StatusTemporaryRedirect)
			case RedirectProtected:
				http.Redirect(w, r, cfg.Routes.ProtectedPrefix, http.StatusTemporaryRedirect)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func inProtectedArea(routes adminauth.RoutesConfig, path string) bool {
	prefix := strings.TrimSuffix(routes.ProtectedPrefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func samePath(path, route string) bool {
	return strings.TrimSuffix(path, "/") == strings.TrimSuffix(route, "/")
}
