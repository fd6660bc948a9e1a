package adminauth

import "errors"

var (
	// ErrRateLimited is returned by Login when recent failures for the email
	// or source address reached the configured limit.
	ErrRateLimited = errors.New("too many login attempts")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionInvalid is returned when a token does not verify or its
	// session record is gone.
	ErrSessionInvalid = errors.New("invalid session")
	// ErrMFANotConfigured is returned by VerifyMFA for users without a secret.
	ErrMFANotConfigured = errors.New("mfa not configured")
	// ErrInvalidCode is returned for a well-formed code that does not match.
	ErrInvalidCode = errors.New("invalid mfa code")
	// ErrInvalidCodeFormat is returned for codes that are not six characters.
	ErrInvalidCodeFormat = errors.New("invalid mfa code format")
	// ErrStoreUnavailable wraps infrastructure failures of the session store,
	// the attempt log or the user provider.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnauthorized is returned by Authorize when no token was presented.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMFARequired is returned by Authorize for sessions that have not
	// passed the second factor.
	ErrMFARequired = errors.New("mfa required")
	// ErrSessionExpired is returned by Authorize when the token verifies but
	// the session record is missing or past its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrUserNotFound is returned by UserProvider implementations.
	ErrUserNotFound = errors.New("user not found")
	// ErrEngineNotReady is returned when a method is called on a nil or
	// unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
