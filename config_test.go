package adminauth

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/portfolio/adminauth/jwt"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningKey = []byte(strings.Repeat("s", 32))
	return cfg
}

func TestDefaultConfigNeedsKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, jwt.ErrMissingSigningKey) {
		t.Fatalf("expected ErrMissingSigningKey, got %v", err)
	}
	cfg = validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config with key to validate: %v", err)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Session.TTL != 24*time.Hour {
		t.Fatalf("session ttl = %s", cfg.Session.TTL)
	}
	if cfg.RateLimit.Window != 15*time.Minute || cfg.RateLimit.MaxFailures != 5 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Cookie.Name != "session" || cfg.Cookie.SameSite != http.SameSiteLaxMode || cfg.Cookie.Path != "/" {
		t.Fatalf("unexpected cookie defaults: %+v", cfg.Cookie)
	}
	if cfg.MFA.Issuer != "Portfolio Admin" {
		t.Fatalf("mfa issuer = %q", cfg.MFA.Issuer)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "weak key", mutate: func(c *Config) { c.JWT.SigningKey = []byte("short") }},
		{name: "leeway valid", mutate: func(c *Config) { c.JWT.Leeway = 30 * time.Second }, wantValid: true},
		{name: "leeway too large", mutate: func(c *Config) { c.JWT.Leeway = 3 * time.Minute }},
		{name: "previous keys without kid", mutate: func(c *Config) {
			c.JWT.PreviousKeys = map[string][]byte{"old": []byte(strings.Repeat("o", 32))}
		}},
		{name: "previous keys with kid", mutate: func(c *Config) {
			c.JWT.KeyID = "new"
			c.JWT.PreviousKeys = map[string][]byte{"old": []byte(strings.Repeat("o", 32))}
		}, wantValid: true},
		{name: "previous key reuses kid", mutate: func(c *Config) {
			c.JWT.KeyID = "k"
			c.JWT.PreviousKeys = map[string][]byte{"k": []byte(strings.Repeat("o", 32))}
		}},
		{name: "weak previous key", mutate: func(c *Config) {
			c.JWT.KeyID = "new"
			c.JWT.PreviousKeys = map[string][]byte{"old": []byte("short")}
		}},
		{name: "zero session ttl", mutate: func(c *Config) { c.Session.TTL = 0 }},
		{name: "blank prefix", mutate: func(c *Config) { c.Session.RedisPrefix = " " }},
		{name: "tiny argon memory", mutate: func(c *Config) { c.Password.Memory = 1024 }},
		{name: "short salt", mutate: func(c *Config) { c.Password.SaltLength = 8 }},
		{name: "bad decode mode", mutate: func(c *Config) { c.MFA.DecodeMode = 9 }},
		{name: "short secret", mutate: func(c *Config) { c.MFA.SecretLength = 8 }},
		{name: "zero mfa failures", mutate: func(c *Config) { c.MFA.MaxFailures = 0 }},
		{name: "zero window", mutate: func(c *Config) { c.RateLimit.Window = 0 }},
		{name: "zero max failures", mutate: func(c *Config) { c.RateLimit.MaxFailures = 0 }},
		{name: "blank cookie", mutate: func(c *Config) { c.Cookie.Name = "" }},
		{name: "samesite none insecure", mutate: func(c *Config) {
			c.Cookie.SameSite = http.SameSiteNoneMode
			c.Cookie.Secure = false
		}},
		{name: "insecure cookie for local dev", mutate: func(c *Config) { c.Cookie.Secure = false }, wantValid: true},
		{name: "zero buffer", mutate: func(c *Config) { c.Notify.BufferSize = 0 }},
		{name: "too many attempts", mutate: func(c *Config) { c.Notify.MaxAttempts = 11 }},
		{name: "relative route", mutate: func(c *Config) { c.Routes.MFA = "abacaxi/mfa" }},
		{name: "same login and mfa route", mutate: func(c *Config) { c.Routes.MFA = c.Routes.Login }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.KeyID = "new"
	cfg.JWT.PreviousKeys = map[string][]byte{"old": []byte(strings.Repeat("o", 32))}

	clone := cloneConfig(cfg)
	cfg.JWT.SigningKey[0] = 'x'
	cfg.JWT.PreviousKeys["old"][0] = 'x'

	if clone.JWT.SigningKey[0] != 's' || clone.JWT.PreviousKeys["old"][0] != 'o' {
		t.Fatal("clone shares key memory with the original")
	}
}
