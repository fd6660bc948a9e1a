// Package config builds the daemon configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/portfolio/adminauth"
	"github.com/portfolio/adminauth/httpapi"
	"github.com/portfolio/adminauth/internal/mail"
	"github.com/portfolio/adminauth/totp"
)

const (
	AttemptLogPostgres = "postgres"
	AttemptLogRedis    = "redis"
)

// AppConfig is everything cmd/adminauthd needs to start.
type AppConfig struct {
	Env      string
	HTTPAddr string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AttemptLog       string
	AttemptRetention time.Duration
	SweepInterval    time.Duration

	ThrottleLimit  int
	ThrottleWindow time.Duration

	// TrustedProxies lists the peers (CIDR or address) whose
	// X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies []string

	// FrontendURL is where gated dashboard pages are proxied. Empty
	// disables the page proxy.
	FrontendURL string

	// SMTP is nil when SMTP_HOST is unset.
	SMTP *mail.Config

	Auth adminauth.Config
}

// Development reports whether APP_ENV is "development".
func (c AppConfig) Development() bool {
	return c.Env == "development"
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (AppConfig, bool, error) {
	fromFile := godotenv.Load() == nil
	cfg, err := FromLookup(os.Getenv)
	return cfg, fromFile, err
}

// FromLookup builds the configuration from getenv. Every invalid variable
// is reported in the returned error.
func FromLookup(getenv func(string) string) (AppConfig, error) {
	e := &env{get: getenv}

	cfg := AppConfig{
		Env:              e.str("APP_ENV", "production"),
		HTTPAddr:         e.str("HTTP_ADDR", ":8080"),
		DatabaseURL:      e.required("DATABASE_URL"),
		RedisAddr:        e.required("REDIS_ADDR"),
		RedisPassword:    e.str("REDIS_PASSWORD", ""),
		RedisDB:          e.integer("REDIS_DB", 0),
		AttemptLog:       e.str("ATTEMPT_LOG", AttemptLogPostgres),
		AttemptRetention: e.duration("ATTEMPT_RETENTION", 30*24*time.Hour),
		SweepInterval:    e.duration("SWEEP_INTERVAL", time.Hour),
		ThrottleLimit:    e.integer("THROTTLE_LIMIT", 30),
		ThrottleWindow:   e.duration("THROTTLE_WINDOW", time.Minute),
		FrontendURL:      e.str("FRONTEND_URL", ""),
		TrustedProxies:   e.list("TRUSTED_PROXIES"),
	}
	if _, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies); err != nil {
		e.fail("TRUSTED_PROXIES", err)
	}
	if cfg.FrontendURL != "" {
		if u, err := url.Parse(cfg.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
			e.fail("FRONTEND_URL", errors.New("must be an absolute URL"))
		}
	}
	if cfg.AttemptLog != AttemptLogPostgres && cfg.AttemptLog != AttemptLogRedis {
		e.fail("ATTEMPT_LOG", fmt.Errorf("must be %q or %q", AttemptLogPostgres, AttemptLogRedis))
	}

	auth := adminauth.DefaultConfig()
	auth.JWT.SigningKey = []byte(e.required("JWT_SECRET"))
	auth.JWT.Issuer = e.str("JWT_ISSUER", auth.JWT.Issuer)
	auth.JWT.KeyID = e.str("JWT_KEY_ID", "")
	auth.JWT.PreviousKeys = e.keyMap("JWT_PREVIOUS_KEYS")
	auth.Session.TTL = e.duration("SESSION_TTL", auth.Session.TTL)
	auth.Session.RedisPrefix = e.str("SESSION_PREFIX", auth.Session.RedisPrefix)
	auth.MFA.Issuer = e.str("MFA_ISSUER", auth.MFA.Issuer)
	auth.MFA.MaxFailures = e.integer("MFA_MAX_FAILURES", auth.MFA.MaxFailures)
	if raw := e.str("MFA_DECODE_MODE", ""); raw != "" {
		mode, err := totp.ParseDecodeMode(raw)
		if err != nil {
			e.fail("MFA_DECODE_MODE", err)
		}
		auth.MFA.DecodeMode = mode
	}
	auth.RateLimit.Window = e.duration("RATE_LIMIT_WINDOW", auth.RateLimit.Window)
	auth.RateLimit.MaxFailures = e.integer("RATE_LIMIT_MAX_FAILURES", auth.RateLimit.MaxFailures)
	auth.Cookie.Secure = e.boolean("COOKIE_SECURE", !cfg.Development())
	auth.Cookie.Domain = e.str("COOKIE_DOMAIN", "")
	auth.Metrics.Enabled = e.boolean("METRICS_ENABLED", true)
	cfg.Auth = auth

	if host := e.str("SMTP_HOST", ""); host != "" {
		cfg.SMTP = &mail.Config{
			Host:       host,
			Port:       e.integer("SMTP_PORT", 587),
			Username:   e.str("SMTP_USERNAME", ""),
			Password:   e.str("SMTP_PASSWORD", ""),
			From:       e.required("SMTP_FROM"),
			FromName:   e.str("SMTP_FROM_NAME", "Portfolio Admin"),
			Encryption: e.str("SMTP_ENCRYPTION", "starttls"),
		}
	}

	if err := errors.Join(e.errs...); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Auth.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("auth config: %w", err)
	}
	return cfg, nil
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *env) str(key, fallback string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return fallback
}

func (e *env) required(key string) string {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		e.fail(key, errors.New("is required"))
	}
	return v
}

func (e *env) integer(key string, fallback int) int {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return n
}

func (e *env) boolean(key string, fallback bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return b
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return d
}

// list parses a comma separated value, dropping blank entries.
func (e *env) list(key string) []string {
	var out []string
	for _, item := range strings.Split(e.str(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// keyMap parses "kid1:secret1,kid2:secret2".
func (e *env) keyMap(key string) map[string][]byte {
	raw := e.str(key, "")
	if raw == "" {
		return nil
	}
	out := make(map[string][]byte)
	for i, pair := range strings.Split(raw, ",") {
		kid, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || kid == "" || secret == "" {
			e.fail(key, fmt.Errorf("malformed entry %d", i))
			continue
		}
		out[kid] = []byte(secret)
	}
	return out
}
