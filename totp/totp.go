package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// Digits is the length of every generated code.
	Digits = 6
	// Period is the TOTP time step in seconds.
	Period = 30
	// Skew is the number of adjacent steps accepted on each side of now.
	Skew = 1
	// DefaultSecretLength is the number of base32 characters GenerateSecret
	// emits when called with a non-positive length.
	DefaultSecretLength = 20

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
)

// CodeLifetime is how long a code stays acceptable, counted from the start
// of the step it was generated in.
const CodeLifetime = Period * (Skew + 1) * time.Second

var (
	// ErrInvalidSecret is returned when a secret cannot be decoded under the
	// configured mode.
	ErrInvalidSecret = errors.New("totp: invalid base32 secret")
	// ErrEmptySecret is returned when a secret decodes to zero bytes.
	ErrEmptySecret = errors.New("totp: empty secret")
)

// DecodeMode selects how base32 secrets are decoded.
type DecodeMode int

const (
	// Lenient uppercases the input, skips characters outside the RFC 4648
	// alphabet and drops trailing bits that do not fill a byte.
	Lenient DecodeMode = iota
	// Strict rejects any character outside the alphabet. Trailing '='
	// padding is accepted.
	Strict
)

// String returns the configuration name of the mode.
func (m DecodeMode) String() string {
	switch m {
	case Lenient:
		return "lenient"
	case Strict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseDecodeMode maps a configuration value to a DecodeMode.
func ParseDecodeMode(s string) (DecodeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return Lenient, nil
	case "strict":
		return Strict, nil
	default:
		return Lenient, fmt.Errorf("totp: unknown decode mode %q", s)
	}
}

// Codec computes and verifies six digit SHA1 TOTP codes for base32 secrets.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	mode DecodeMode
	now  func() time.Time
}

// New returns a Codec using mode for secret decoding.
func New(mode DecodeMode) *Codec {
	return &Codec{mode: mode, now: time.Now}
}

// WithClock returns a copy of c that reads the current time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// Mode reports the decode mode of c.
func (c *Codec) Mode() DecodeMode {
	return c.mode
}

// GenerateSecret returns a random base32 secret of length characters, each
// drawn uniformly from the RFC 4648 alphabet.
func GenerateSecret(length int) (string, error) {
	if length <= 0 {
		length = DefaultSecretLength
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range raw {
		// 256 is a multiple of 32, so the modulo keeps the draw uniform.
		out[i] = alphabet[b%32]
	}
	return string(out), nil
}

// Decode converts a base32 secret into raw key bytes.
func (c *Codec) Decode(secret string) ([]byte, error) {
	var (
		key []byte
		err error
	)
	if c.mode == Strict {
		key, err = decodeStrict(secret)
	} else {
		key = decodeLenient(secret)
	}
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, ErrEmptySecret
	}
	return key, nil
}

func decodeLenient(secret string) []byte {
	var (
		buf  uint32
		bits uint
		out  = make([]byte, 0, len(secret)*5/8)
	)
	for _, r := range strings.ToUpper(secret) {
		idx := strings.IndexRune(alphabet, r)
		if idx < 0 {
			continue
		}
		buf = buf<<5 | uint32(idx)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(buf>>bits))
			buf &= 1<<bits - 1
		}
	}
	return out
}

func decodeStrict(secret string) ([]byte, error) {
	s := strings.TrimRight(strings.ToUpper(strings.TrimSpace(secret)), "=")
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return key, nil
}

// Code returns the code for secret at time t.
func (c *Codec) Code(secret string, t time.Time) (string, error) {
	key, err := c.Decode(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, counterAt(t)), nil
}

// CurrentCode returns the code for secret at the codec's current time.
func (c *Codec) CurrentCode(secret string) (string, error) {
	return c.Code(secret, c.now())
}

// Verify reports whether code matches secret at t or one step either side.
// Input that is not exactly six ASCII digits is rejected before any HMAC is
// computed. Undecodable secrets never verify.
func (c *Codec) Verify(code, secret string, t time.Time) bool {
	if !wellFormed(code) {
		return false
	}
	key, err := c.Decode(secret)
	if err != nil {
		return false
	}
	base := counterAt(t)
	for step := -Skew; step <= Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(key, counter)), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// VerifyCode is Verify at the codec's current time.
func (c *Codec) VerifyCode(code, secret string) bool {
	return c.Verify(code, secret, c.now())
}

// ProvisionURI builds the otpauth URI authenticator apps import.
func ProvisionURI(issuer, account, secret string) string {
	label := url.PathEscape(issuer) + ":" + url.PathEscape(account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("period", strconv.Itoa(Period))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

func counterAt(t time.Time) int64 {
	return t.Unix() / Period
}

func wellFormed(code string) bool {
	if len(code) != Digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func hotp(key []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%0*d", Digits, bin%1_000_000)
}
