package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/portfolio/adminauth"
	"github.com/portfolio/adminauth/internal/throttle"
	"github.com/portfolio/adminauth/middleware"
)

const maxBodyBytes = 4 << 10

// Service is the part of *adminauth.Engine the handlers use.
type Service interface {
	Login(ctx context.Context, email, password, source string) (*adminauth.LoginResult, error)
	VerifyMFA(ctx context.Context, token, code, source string) (*adminauth.MFAResult, error)
	Logout(ctx context.Context, token string) error
	Status(ctx context.Context, token string) (*adminauth.SessionStatus, error)
	Config() adminauth.Config
}

type Handler struct {
	svc     Service
	cookie  adminauth.CookieConfig
	limiter *throttle.Limiter
	logger  *zap.Logger
}

type Option func(*Handler)

// WithThrottle puts a per-source request limit in front of the login and
// code endpoints, and a per-session limit in front of the code endpoint.
// It is independent of the failure-based login limit.
func WithThrottle(l *throttle.Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		cookie: svc.Config().Cookie,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the auth router. Mount it under /api/auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(throttle.Middleware(h.limiter, SourceAddress, denyThrottled, h.logger))
		}
		r.Post("/login", h.Login)

		verify := r
		if h.limiter != nil {
			verify = r.With(throttle.Middleware(h.limiter, h.sessionKey, denyThrottled, h.logger))
		}
		verify.Post("/verify-mfa", h.VerifyMFA)
	})
	r.Post("/logout", h.Logout)
	r.Get("/session", h.Session)

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, msgBadBody)
		return
	}
	if req.Email == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password, SourceAddress(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.SetSessionCookie(w, h.cookie, res.Token, res.ExpiresAt)
	JSON(w, http.StatusOK, loginBody{
		Success:     true,
		RequiresMFA: res.RequiresMFA,
		Message:     msgCodeSent,
	})
}

func (h *Handler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, msgBadBody)
		return
	}

	token := middleware.SessionToken(r, h.cookie)
	res, err := h.svc.VerifyMFA(r.Context(), token, req.Code, SourceAddress(r))
	if err != nil {
		if token == "" && errors.Is(err, adminauth.ErrSessionInvalid) {
			err = adminauth.ErrUnauthorized
		}
		h.fail(w, r, err)
		return
	}

	middleware.SetSessionCookie(w, h.cookie, res.Token, res.ExpiresAt)
	JSON(w, http.StatusOK, successBody{Success: true, Message: msgMFAVerified})
}

// Logout always succeeds and always clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	_ = h.svc.Logout(r.Context(), middleware.SessionToken(r, h.cookie))
	middleware.ClearSessionCookie(w, h.cookie)
	JSON(w, http.StatusOK, successBody{Success: true})
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), middleware.SessionToken(r, h.cookie))
	if err != nil {
		if status, _ := statusFor(err); status == http.StatusUnauthorized {
			JSON(w, http.StatusUnauthorized, sessionBody{Authenticated: false})
			return
		}
		h.fail(w, r, err)
		return
	}

	verified := st.MFAVerified
	JSON(w, http.StatusOK, sessionBody{Authenticated: true, MFAVerified: &verified})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("auth request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	Error(w, status, msg)
}

// sessionKey names the throttle bucket of the session cookie, so code
// guesses are limited however the client address changes.
func (h *Handler) sessionKey(r *http.Request) string {
	token := middleware.SessionToken(r, h.cookie)
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return "sess:" + hex.EncodeToString(sum[:16])
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func denyThrottled(w http.ResponseWriter, _ *http.Request, _ time.Duration) {
	Error(w, http.StatusTooManyRequests, msgThrottled)
}
