package adminauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/portfolio/adminauth/internal/notify"
	"github.com/portfolio/adminauth/jwt"
	"github.com/portfolio/adminauth/session"
	"github.com/portfolio/adminauth/totp"
)

// Engine runs the login state machine: a correct password yields a
// session that is not yet MFA verified, a correct emailed code promotes
// it, and logout or expiry removes it. Engine is safe for concurrent use
// after Build.
type Engine struct {
	config    Config
	users     UserProvider
	attempts  AttemptLog
	verifier  PasswordVerifier
	dummyHash string
	codec     *totp.Codec
	tokens    *jwt.Manager
	sessions  *session.Store
	notifier  *notify.Dispatcher
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func (e *Engine) ready() error {
	if e == nil || e.sessions == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	return nil
}

// Login checks the rate limit, then the password, and on success creates a
// session that still requires the second factor. The MFA code is mailed
// asynchronously. The result always has RequiresMFA set.
func (e *Engine) Login(ctx context.Context, email, password, source string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	email = normalizeEmail(email)
	log := e.logger.With(zap.String("source", source))

	failures, err := e.attempts.CountFailures(ctx, email, source, e.now().Add(-e.config.RateLimit.Window))
	if err != nil {
		e.metrics.Inc(MetricStoreFailure)
		log.Error("rate check failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if failures >= e.config.RateLimit.MaxFailures {
		e.metrics.Inc(MetricLoginRateLimited)
		log.Warn("login rate limited", zap.Int("failures", failures))
		return nil, ErrRateLimited
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Same hashing work as a wrong password for a known email.
			e.verifier.Verify(password, e.dummyHash)
			e.loginFailed(ctx, email, source)
			return nil, ErrInvalidCredentials
		}
		e.metrics.Inc(MetricStoreFailure)
		log.Error("user lookup failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !e.verifier.Verify(password, user.PasswordHash) {
		e.loginFailed(ctx, email, source)
		return nil, ErrInvalidCredentials
	}

	sess, err := e.sessions.Create(ctx, user.ID, false)
	if err != nil {
		e.metrics.Inc(MetricStoreFailure)
		log.Error("session create failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.Inc(MetricSessionCreated)

	token, err := e.tokens.Issue(jwt.Claims{SessionID: sess.ID, UserID: user.ID}, sess.ExpiresAt)
	if err != nil {
		_ = e.sessions.Delete(ctx, sess.ID)
		return nil, fmt.Errorf("issue token: %w", err)
	}

	if user.MFASecret != "" {
		code, err := e.codec.CurrentCode(user.MFASecret)
		if err != nil {
			log.Warn("mfa secret unusable", zap.String("user_id", user.ID), zap.Error(err))
		} else {
			e.enqueue(ctx, notify.Job{Kind: notify.KindMFACode, Email: user.Email, Code: code})
		}
	}

	e.recordAttempt(ctx, email, source, true)
	e.metrics.Inc(MetricLoginSuccess)
	log.Info("password accepted", zap.String("user_id", user.ID), zap.String("session_id", sess.ID))

	return &LoginResult{Token: token, ExpiresAt: sess.ExpiresAt, RequiresMFA: true}, nil
}

func (e *Engine) loginFailed(ctx context.Context, email, source string) {
	e.metrics.Inc(MetricLoginFailure)
	e.recordAttempt(ctx, email, source, false)
}

// recordAttempt never fails the caller. A lost record only makes the rate
// check more permissive.
func (e *Engine) recordAttempt(ctx context.Context, email, source string, success bool) {
	if err := e.attempts.Record(ctx, email, source, success); err != nil {
		e.metrics.Inc(MetricAttemptRecordFailure)
		e.logger.Warn("attempt record failed",
			zap.String("source", source),
			zap.Bool("success", success),
			zap.Error(err),
		)
	}
}

func (e *Engine) enqueue(ctx context.Context, job notify.Job) {
	if e.notifier.Enqueue(ctx, job) {
		e.metrics.Inc(MetricNotificationQueued)
		return
	}
	e.logger.Warn("notification not queued", zap.Stringer("kind", job.Kind))
}

// VerifyMFA checks code against the secret of the token's user and, on a
// match, promotes the session and returns a re-issued token. The code
// length is checked before the token or any store is consulted. Each
// wrong code is counted against the session; once MFA.MaxFailures is
// reached the session is revoked and ErrSessionInvalid is returned.
func (e *Engine) VerifyMFA(ctx context.Context, token, code, source string) (*MFAResult, error) {
	if len(code) != totp.Digits {
		return nil, ErrInvalidCodeFormat
	}
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims := e.tokens.Verify(token)
	if claims == nil {
		return nil, ErrSessionInvalid
	}
	log := e.logger.With(zap.String("user_id", claims.UserID), zap.String("session_id", claims.SessionID))

	current, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, e.sessionError(log, err)
	}
	if current.UserID != claims.UserID {
		log.Warn("session owner mismatch")
		return nil, ErrSessionInvalid
	}

	user, err := e.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrMFANotConfigured
		}
		e.metrics.Inc(MetricStoreFailure)
		log.Error("user lookup failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.MFASecret == "" {
		return nil, ErrMFANotConfigured
	}

	if !e.codec.VerifyCode(code, user.MFASecret) {
		e.metrics.Inc(MetricMFAFailure)
		return nil, e.codeRejected(ctx, log, claims.SessionID, source)
	}

	sess, err := e.sessions.SetMFAVerified(ctx, claims.SessionID)
	if err != nil {
		return nil, e.sessionError(log, err)
	}
	if sess.UserID != claims.UserID {
		log.Warn("session owner mismatch")
		return nil, ErrSessionInvalid
	}

	next, err := e.tokens.Issue(jwt.Claims{SessionID: sess.ID, UserID: sess.UserID, MFAVerified: true}, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	e.enqueue(ctx, notify.Job{Kind: notify.KindLoginNotification, Email: user.Email, Source: source})
	e.metrics.Inc(MetricMFASuccess)
	log.Info("mfa verified", zap.String("source", source))

	return &MFAResult{Token: next, ExpiresAt: sess.ExpiresAt}, nil
}

func (e *Engine) codeRejected(ctx context.Context, log *zap.Logger, sessionID, source string) error {
	failures, err := e.sessions.RecordMFAFailure(ctx, sessionID)
	if err != nil {
		return e.sessionError(log, err)
	}
	if failures < e.config.MFA.MaxFailures {
		log.Info("mfa code rejected", zap.String("source", source), zap.Int("failures", failures))
		return ErrInvalidCode
	}

	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return e.sessionError(log, err)
	}
	log.Warn("mfa attempts exhausted, session revoked", zap.String("source", source), zap.Int("failures", failures))
	return ErrSessionInvalid
}

// sessionError maps a session store failure to ErrSessionInvalid or a
// wrapped ErrStoreUnavailable.
func (e *Engine) sessionError(log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionInvalid
	case errors.Is(err, session.ErrCorrupt):
		log.Warn("corrupt session record", zap.Error(err))
		return ErrSessionInvalid
	default:
		e.metrics.Inc(MetricStoreFailure)
		log.Error("session store failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// Logout deletes the session named by token. It succeeds for missing,
// malformed or already revoked tokens; store errors are only logged.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e.ready() != nil || token == "" {
		return nil
	}
	claims := e.tokens.Verify(token)
	if claims == nil {
		return nil
	}
	if err := e.sessions.Delete(ctx, claims.SessionID); err != nil {
		e.metrics.Inc(MetricStoreFailure)
		e.logger.Error("session delete failed",
			zap.String("session_id", claims.SessionID),
			zap.Error(err),
		)
		return nil
	}
	e.metrics.Inc(MetricLogout)
	e.logger.Info("logged out", zap.String("user_id", claims.UserID), zap.String("session_id", claims.SessionID))
	return nil
}

// Status reports the stored state of the session behind token.
func (e *Engine) Status(ctx context.Context, token string) (*SessionStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims := e.tokens.Verify(token)
	if claims == nil {
		return nil, ErrSessionInvalid
	}
	log := e.logger.With(zap.String("session_id", claims.SessionID))

	sess, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, e.sessionError(log, err)
	}
	if sess.UserID != claims.UserID {
		return nil, ErrSessionInvalid
	}
	return &SessionStatus{
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		MFAVerified: sess.MFAVerified,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

// Inspect decodes token without touching any store. The result is only
// good for routing decisions.
func (e *Engine) Inspect(token string) (*AdvisorySession, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims := e.tokens.Verify(token)
	if claims == nil {
		return nil, ErrSessionInvalid
	}
	return &AdvisorySession{
		SessionID:   claims.SessionID,
		UserID:      claims.UserID,
		MFAVerified: claims.MFAVerified,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Authorize is the authoritative check for protected handlers. Both the
// token and the stored session must say the second factor was passed.
// Store failures deny access.
func (e *Engine) Authorize(ctx context.Context, token string) (*VerifiedSession, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricAuthorizeLatency, time.Since(start)) }()

	v, err := e.authorize(ctx, token)
	if err != nil {
		e.metrics.Inc(MetricAuthorizeDenied)
		return nil, err
	}
	e.metrics.Inc(MetricAuthorizeAllowed)
	return v, nil
}

func (e *Engine) authorize(ctx context.Context, token string) (*VerifiedSession, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims := e.tokens.Verify(token)
	if claims == nil {
		return nil, ErrSessionInvalid
	}
	if !claims.MFAVerified {
		return nil, ErrMFARequired
	}

	sess, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, e.sessionError(e.logger.With(zap.String("session_id", claims.SessionID)), err)
	}
	if sess.UserID != claims.UserID {
		return nil, ErrSessionInvalid
	}
	if !sess.MFAVerified {
		return nil, ErrMFARequired
	}

	return &VerifiedSession{
		sessionID: sess.ID,
		userID:    sess.UserID,
		expiresAt: sess.ExpiresAt,
	}, nil
}

// SweepExpiredSessions removes expired sessions and returns how many were
// deleted.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.sessions.DeleteExpired(ctx)
	if err != nil {
		e.metrics.Inc(MetricStoreFailure)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.Add(MetricSessionsSwept, uint64(n))
	return n, nil
}

// ActiveSessions counts unexpired sessions.
func (e *Engine) ActiveSessions(ctx context.Context) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.sessions.Active(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Ping checks the session store.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return DefaultConfig()
	}
	return cloneConfig(e.config)
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// NotifyDropped reports mail jobs dropped because the queue was full.
func (e *Engine) NotifyDropped() uint64 {
	if e == nil || e.notifier == nil {
		return 0
	}
	return e.notifier.Dropped()
}

// Close drains the notification queue. It does not close the Redis client.
func (e *Engine) Close() {
	if e == nil || e.notifier == nil {
		return
	}
	e.notifier.Close()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
