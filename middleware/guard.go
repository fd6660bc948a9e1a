package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/portfolio/adminauth"
)

// Authorizer performs the store-backed session check.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (*adminauth.VerifiedSession, error)
	Config() adminauth.Config
}

type sessionContextKey struct{}

// SessionFromContext returns the session RequireSession verified for this
// request.
func SessionFromContext(ctx context.Context) (*adminauth.VerifiedSession, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*adminauth.VerifiedSession)
	return s, ok && s != nil
}

// RequireSession rejects requests without a fully authenticated, unrevoked
// session. Missing, invalid and expired sessions get 401, sessions that
// still need the second factor get 403. Store failures also get 401.
func RequireSession(engine Authorizer, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cookie := engine.Config().Cookie

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := engine.Authorize(r.Context(), SessionToken(r, cookie))
			if err != nil {
				status, msg := guardStatus(err)
				if errors.Is(err, adminauth.ErrStoreUnavailable) {
					logger.Error("session check failed", zap.String("path", r.URL.Path), zap.Error(err))
				}
				writeError(w, status, msg)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

const (
	msgUnauthorized   = "Não autorizado"
	msgInvalidSession = "Sessão inválida"
	msgMFARequired    = "Verificação MFA necessária"
	msgExpired        = "Sessão expirada"
)

func guardStatus(err error) (int, string) {
	switch {
	case errors.Is(err, adminauth.ErrMFARequired):
		return http.StatusForbidden, msgMFARequired
	case errors.Is(err, adminauth.ErrSessionExpired):
		return http.StatusUnauthorized, msgExpired
	case errors.Is(err, adminauth.ErrSessionInvalid):
		return http.StatusUnauthorized, msgInvalidSession
	default:
		return http.StatusUnauthorized, msgUnauthorized
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
