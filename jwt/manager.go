package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinKeyBytes is the shortest HS256 signing key NewManager accepts.
const MinKeyBytes = 32

var (
	// ErrMissingSigningKey is returned when no signing key is configured.
	ErrMissingSigningKey = errors.New("jwt: signing key is required")
	// ErrWeakSigningKey is returned for signing keys shorter than MinKeyBytes.
	ErrWeakSigningKey = errors.New("jwt: signing key must be at least 32 bytes")
)

// Config configures token signing and validation.
type Config struct {
	SigningKey   []byte
	Issuer       string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	// KeyID is written to the kid header of issued tokens. When VerifyKeys
	// is set, tokens are verified with the key named by their kid, which
	// lets a previous key keep validating live sessions during rotation.
	KeyID      string
	VerifyKeys map[string][]byte
}

// Claims is the payload carried in the session cookie. MFAVerified is a
// cache of the session record; authoritative checks consult the store.
type Claims struct {
	SessionID   string `json:"sid"`
	UserID      string `json:"uid"`
	MFAVerified bool   `json:"mfa"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 session tokens. It is immutable after
// NewManager and safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager. There is no default key:
// a missing or short key is an error.
func NewManager(cfg Config) (*Manager, error) {
	if err := ValidateKey(cfg.SigningKey); err != nil {
		return nil, err
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("jwt: invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("jwt: verify key map contains empty kid")
		}
		if err := ValidateKey(key); err != nil {
			return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
		}
	}
	if len(cfg.VerifyKeys) > 0 {
		if cfg.KeyID == "" {
			return nil, errors.New("jwt: KeyID is required when VerifyKeys is set")
		}
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("jwt: KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg, now: time.Now}, nil
}

// ValidateKey reports whether key is usable as an HS256 signing key.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return ErrMissingSigningKey
	}
	if len(key) < MinKeyBytes {
		return ErrWeakSigningKey
	}
	return nil
}

// Issue signs c with iat set to now and exp set to expiresAt.
func (m *Manager) Issue(c Claims, expiresAt time.Time) (string, error) {
	now := m.now()
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(expiresAt)
	c.Issuer = m.config.Issuer

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	return token.SignedString(m.config.SigningKey)
}

// Parse validates algorithm, signature, expiry and issuer and returns the
// claims.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.SessionID == "" || claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing sid or uid", jwt.ErrTokenInvalidClaims)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(m.now().Add(m.config.MaxFutureIAT)) {
		return nil, errors.New("jwt: token iat too far in the future")
	}
	return claims, nil
}

// Verify is Parse with every failure collapsed to nil.
func (m *Manager) Verify(tokenStr string) *Claims {
	if m == nil || tokenStr == "" {
		return nil
	}
	claims, err := m.Parse(tokenStr)
	if err != nil {
		return nil
	}
	return claims
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if m.config.KeyID != "" {
		if kid, _ := t.Header["kid"].(string); kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	return m.config.SigningKey, nil
}
