package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("test-signing-key-0123456789abcdef")

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.SigningKey == nil {
		cfg.SigningKey = testKey
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestNewManagerRequiresStrongKey(t *testing.T) {
	if _, err := NewManager(Config{}); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected ErrMissingSigningKey, got %v", err)
	}
	if _, err := NewManager(Config{SigningKey: []byte("short")}); !errors.Is(err, ErrWeakSigningKey) {
		t.Fatalf("expected ErrWeakSigningKey, got %v", err)
	}
	if _, err := NewManager(Config{SigningKey: []byte(strings.Repeat("k", MinKeyBytes))}); err != nil {
		t.Fatalf("expected %d byte key to be accepted: %v", MinKeyBytes, err)
	}
}

func TestIssueParseRoundTrip(t *testing.T) {
	m := newTestManager(t, Config{Issuer: "adminauth"})
	exp := time.Now().Add(24 * time.Hour).Truncate(time.Second)

	token, err := m.Issue(Claims{SessionID: "s1", UserID: "u1", MFAVerified: true}, exp)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.SessionID != "s1" || claims.UserID != "u1" || !claims.MFAVerified {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(exp) {
		t.Fatalf("exp = %v, want %v", claims.ExpiresAt.Time, exp)
	}
	if claims.IssuedAt == nil {
		t.Fatal("expected iat to be set")
	}
	if m.Verify(token) == nil {
		t.Fatal("Verify rejected a valid token")
	}
}

func TestVerifyRejectsFlippedSignatureByte(t *testing.T) {
	m := newTestManager(t, Config{})
	token, err := m.Issue(Claims{SessionID: "s1", UserID: "u1"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// A character inside the signature carries six full bits, unlike the
	// last one whose low bits are padding.
	i := strings.LastIndex(token, ".") + 10
	flip := byte('A')
	if token[i] == 'A' {
		flip = 'B'
	}
	tampered := token[:i] + string(flip) + token[i+1:]

	if m.Verify(tampered) != nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	m := newTestManager(t, Config{})
	token, err := m.Issue(Claims{SessionID: "s1", UserID: "u1", MFAVerified: false}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	forged, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{
		SessionID:        "s1",
		UserID:           "u1",
		MFAVerified:      true,
		RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("attacker-key-0123456789abcdefghij"))
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}
	parts := strings.Split(token, ".")
	forgedParts := strings.Split(forged, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	if m.Verify(spliced) != nil {
		t.Fatal("expected spliced payload to be rejected")
	}
	if m.Verify(forged) != nil {
		t.Fatal("expected token signed with another key to be rejected")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newTestManager(t, Config{})
	token, err := m.Issue(Claims{SessionID: "s1", UserID: "u1"}, time.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Parse(token); !errors.Is(err, gjwt.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if m.Verify(token) != nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestExpiryFollowsClock(t *testing.T) {
	m := newTestManager(t, Config{})
	now := time.Now()
	token, err := m.Issue(Claims{SessionID: "s1", UserID: "u1"}, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	m.now = func() time.Time { return now.Add(24*time.Hour + time.Second) }
	if m.Verify(token) != nil {
		t.Fatal("expected token to be rejected after its expiry")
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	m := newTestManager(t, Config{})

	claims := Claims{SessionID: "s1", UserID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	hs512, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(hs512); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}

	none, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := m.Parse(none); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestParseRejectsMissingExpiryAndIdentifiers(t *testing.T) {
	m := newTestManager(t, Config{})

	noExp, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{SessionID: "s1", UserID: "u1"}).SignedString(testKey)
	if _, err := m.Parse(noExp); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}

	noSID, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{UserID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString(testKey)
	if _, err := m.Parse(noSID); err == nil {
		t.Fatal("expected token without sid to be rejected")
	}
}

func TestParseRejectsFutureIssuedAt(t *testing.T) {
	m := newTestManager(t, Config{MaxFutureIAT: time.Minute})

	future, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{SessionID: "s1", UserID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(time.Hour)),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
	}}).SignedString(testKey)
	if _, err := m.Parse(future); err == nil {
		t.Fatal("expected far-future iat to be rejected")
	}
}

func TestParseIssuerMismatch(t *testing.T) {
	issuer := newTestManager(t, Config{Issuer: "other"})
	verifier := newTestManager(t, Config{Issuer: "adminauth"})

	token, err := issuer.Issue(Claims{SessionID: "s1", UserID: "u1"}, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if verifier.Verify(token) != nil {
		t.Fatal("expected issuer mismatch to be rejected")
	}
}

func TestKeyRotationWithVerifyKeys(t *testing.T) {
	oldKey := []byte("old-signing-key-0123456789abcdefg")
	newKey := []byte("new-signing-key-0123456789abcdefg")

	before := newTestManager(t, Config{SigningKey: oldKey, KeyID: "k1"})
	oldToken, err := before.Issue(Claims{SessionID: "s1", UserID: "u1"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	after := newTestManager(t, Config{
		SigningKey: newKey,
		KeyID:      "k2",
		VerifyKeys: map[string][]byte{"k1": oldKey, "k2": newKey},
	})
	if after.Verify(oldToken) == nil {
		t.Fatal("expected token signed with the previous key to verify during rotation")
	}
	newToken, err := after.Issue(Claims{SessionID: "s2", UserID: "u1"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if after.Verify(newToken) == nil {
		t.Fatal("expected token signed with the current key to verify")
	}

	retired := newTestManager(t, Config{SigningKey: newKey, KeyID: "k2", VerifyKeys: map[string][]byte{"k2": newKey}})
	if retired.Verify(oldToken) != nil {
		t.Fatal("expected retired kid to be rejected")
	}
}

func TestNewManagerRejectsBadVerifyKeys(t *testing.T) {
	cases := []Config{
		{SigningKey: testKey, KeyID: "k1", VerifyKeys: map[string][]byte{"k1": []byte("short")}},
		{SigningKey: testKey, KeyID: "k1", VerifyKeys: map[string][]byte{"k2": testKey}},
		{SigningKey: testKey, VerifyKeys: map[string][]byte{"k1": testKey}},
		{SigningKey: testKey, KeyID: "k1", VerifyKeys: map[string][]byte{" ": testKey, "k1": testKey}},
		{SigningKey: testKey, Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected config to be rejected", i)
		}
	}
}
