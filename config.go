package adminauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/portfolio/adminauth/jwt"
	"github.com/portfolio/adminauth/totp"
)

// Config holds every tunable of the engine. Build it with DefaultConfig,
// override fields, then hand it to Builder.WithConfig. It is treated as
// immutable once the engine is built.
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	Password  PasswordConfig
	MFA       MFAConfig
	RateLimit RateLimitConfig
	Cookie    CookieConfig
	Notify    NotifyConfig
	Metrics   MetricsConfig
	Routes    RoutesConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures session token signing. SigningKey has no default:
// it must be supplied and be at least 32 bytes.
type JWTConfig struct {
	SigningKey []byte
	Issuer     string
	Leeway     time.Duration
	// KeyID and PreviousKeys enable key rotation. PreviousKeys maps kid to
	// retired keys that may still verify live sessions.
	KeyID        string
	PreviousKeys map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the Redis session store.
type SessionConfig struct {
	TTL         time.Duration
	RedisPrefix string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id cost parameters for new hashes.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig configures the emailed one-time code.
type MFAConfig struct {
	Issuer       string
	DecodeMode   totp.DecodeMode
	SecretLength int
	// MaxFailures is how many wrong codes a session may submit before it
	// is revoked and the password step must be repeated.
	MaxFailures int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig bounds failed logins per email or source address.
// A login is allowed while the failure count in Window is below MaxFailures.
type RateLimitConfig struct {
	Window      time.Duration
	MaxFailures int
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig describes the session cookie set by the HTTP layer.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig tunes the asynchronous mail queue.
type NotifyConfig struct {
	BufferSize     int
	DropIfFull     bool
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseBackoff    time.Duration
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig names the dashboard paths the edge gatekeeper guards.
type RoutesConfig struct {
	Login           string
	MFA             string
	ProtectedPrefix string
}

// DefaultConfig returns production defaults with no signing key.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer: "adminauth",
			Leeway: 0,
		},
		Session: SessionConfig{
			TTL:         24 * time.Hour,
			RedisPrefix: "sess",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		MFA: MFAConfig{
			Issuer:       "Portfolio Admin",
			DecodeMode:   totp.Lenient,
			SecretLength: totp.DefaultSecretLength,
			MaxFailures:  5,
		},
		RateLimit: RateLimitConfig{
			Window:      15 * time.Minute,
			MaxFailures: 5,
		},
		Cookie: CookieConfig{
			Name:     "session",
			Path:     "/",
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		},
		Notify: NotifyConfig{
			BufferSize:     64,
			DropIfFull:     true,
			MaxAttempts:    3,
			AttemptTimeout: 10 * time.Second,
			BaseBackoff:    500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Routes: RoutesConfig{
			Login:           "/abacaxi",
			MFA:             "/abacaxi/mfa",
			ProtectedPrefix: "/abacaxi/dashboard",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.SigningKey = cloneBytes(cfg.JWT.SigningKey)
	if cfg.JWT.PreviousKeys != nil {
		out.JWT.PreviousKeys = make(map[string][]byte, len(cfg.JWT.PreviousKeys))
		for kid, key := range cfg.JWT.PreviousKeys {
			out.JWT.PreviousKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid setting. A missing or short signing
// key is always an error.
func (c *Config) Validate() error {
	// JWT
	if err := jwt.ValidateKey(c.JWT.SigningKey); err != nil {
		return err
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if len(c.JWT.PreviousKeys) > 0 && strings.TrimSpace(c.JWT.KeyID) == "" {
		return errors.New("JWT KeyID is required when PreviousKeys is set")
	}
	for kid, key := range c.JWT.PreviousKeys {
		if kid == c.JWT.KeyID {
			return fmt.Errorf("JWT PreviousKeys must not reuse the current KeyID %q", kid)
		}
		if err := jwt.ValidateKey(key); err != nil {
			return fmt.Errorf("JWT PreviousKeys[%q]: %w", kid, err)
		}
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must be set")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// MFA
	if c.MFA.DecodeMode != totp.Lenient && c.MFA.DecodeMode != totp.Strict {
		return errors.New("MFA DecodeMode is invalid")
	}
	if c.MFA.SecretLength < 16 {
		return errors.New("MFA SecretLength must be >= 16")
	}
	if c.MFA.MaxFailures < 1 {
		return errors.New("MFA MaxFailures must be >= 1")
	}

	// Rate limit
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if c.RateLimit.MaxFailures < 1 {
		return errors.New("RateLimit MaxFailures must be >= 1")
	}

	// Cookie
	if strings.TrimSpace(c.Cookie.Name) == "" {
		return errors.New("Cookie Name must be set")
	}
	if !strings.HasPrefix(c.Cookie.Path, "/") {
		return errors.New("Cookie Path must start with /")
	}
	if c.Cookie.SameSite == http.SameSiteNoneMode && !c.Cookie.Secure {
		return errors.New("Cookie SameSite=None requires Secure")
	}

	// Notify
	if c.Notify.BufferSize < 1 {
		return errors.New("Notify BufferSize must be >= 1")
	}
	if c.Notify.MaxAttempts < 1 || c.Notify.MaxAttempts > 10 {
		return errors.New("Notify MaxAttempts must be between 1 and 10")
	}
	if c.Notify.AttemptTimeout <= 0 {
		return errors.New("Notify AttemptTimeout must be > 0")
	}
	if c.Notify.BaseBackoff <= 0 {
		return errors.New("Notify BaseBackoff must be > 0")
	}

	// Routes
	for name, p := range map[string]string{
		"Login":           c.Routes.Login,
		"MFA":             c.Routes.MFA,
		"ProtectedPrefix": c.Routes.ProtectedPrefix,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("Routes %s must start with /", name)
		}
	}
	if c.Routes.Login == c.Routes.MFA {
		return errors.New("Routes Login and MFA must differ")
	}

	return nil
}
