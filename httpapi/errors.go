package httpapi

import (
	"errors"
	"net/http"

	"github.com/portfolio/adminauth"
)

// User-facing messages. The dashboard is Portuguese.
const (
	msgMissingFields  = "Email e senha são obrigatórios"
	msgBadBody        = "Requisição inválida"
	msgInvalidCreds   = "Credenciais inválidas"
	msgRateLimited    = "Muitas tentativas. Tente novamente em 15 minutos."
	msgThrottled      = "Muitas requisições. Tente novamente mais tarde."
	msgInvalidCode    = "Código inválido"
	msgCodeRejected   = "Código inválido ou expirado"
	msgNoSession      = "Sessão não encontrada. Faça login novamente."
	msgInvalidSession = "Sessão inválida. Faça login novamente."
	msgMFANotSetUp    = "Usuário não encontrado ou MFA não configurado"
	msgInternal       = "Erro interno do servidor"
	msgCodeSent       = "Código de verificação enviado para seu email"
	msgMFAVerified    = "Verificação concluída"
)

// statusFor maps an engine error to a status and a message safe to show.
// Anything unrecognised is a 500; the cause stays in the log.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, adminauth.ErrRateLimited):
		return http.StatusTooManyRequests, msgRateLimited
	case errors.Is(err, adminauth.ErrInvalidCredentials):
		return http.StatusUnauthorized, msgInvalidCreds
	case errors.Is(err, adminauth.ErrInvalidCodeFormat):
		return http.StatusBadRequest, msgInvalidCode
	case errors.Is(err, adminauth.ErrMFANotConfigured):
		return http.StatusBadRequest, msgMFANotSetUp
	case errors.Is(err, adminauth.ErrInvalidCode):
		return http.StatusUnauthorized, msgCodeRejected
	case errors.Is(err, adminauth.ErrUnauthorized):
		return http.StatusUnauthorized, msgNoSession
	case errors.Is(err, adminauth.ErrSessionInvalid),
		errors.Is(err, adminauth.ErrSessionExpired):
		return http.StatusUnauthorized, msgInvalidSession
	default:
		return http.StatusInternalServerError, msgInternal
	}
}
