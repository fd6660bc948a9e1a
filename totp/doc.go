// Package totp implements the one-time code primitives used for the second
// login factor: base32 secret generation and decoding, RFC 4226 HOTP and
// RFC 6238 TOTP (SHA1, six digits, thirty second steps) and otpauth URIs.
//
// # Decode modes
//
// Secrets provisioned by the previous deployment may contain characters
// outside the RFC 4648 alphabet. [Lenient] decoding skips them and is the
// default; [Strict] rejects them.
//
// # What this package must NOT do
//
//   - Persist secrets or codes.
//   - Track replayed counters. Codes are valid for the whole accepted window.
package totp
