// Package jwt issues and verifies the HS256 session tokens carried in the
// admin session cookie. Tokens are a signed cache of session state; the
// session store remains the source of truth.
package jwt
