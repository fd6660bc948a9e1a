// Package adminauth is the authentication core of the portfolio admin
// dashboard: password login, an emailed one-time code as second factor,
// and JWT session cookies backed by a Redis revocation store.
//
// A login moves through three states. ANONYMOUS becomes PASSWORD_OK after
// [Engine.Login] accepts the password and creates a session whose MFA flag
// is false. PASSWORD_OK becomes AUTHENTICATED after [Engine.VerifyMFA]
// accepts the code and promotes the stored session. [Engine.Logout] or
// expiry returns to ANONYMOUS. Every transition re-issues the token.
//
// # Trust tiers
//
// [Engine.Inspect] decodes the token only and returns an [AdvisorySession],
// which is good enough for redirects at the edge. [Engine.Authorize]
// consults the session store and is the only way to obtain a
// [VerifiedSession]. Protected handlers must use the latter.
//
// # What this package must NOT do
//
//   - Fall back to a built-in signing key. [Config.Validate] rejects a
//     missing or short key.
//   - Send mail on the request path. Codes and notifications go through an
//     asynchronous queue and never change the outcome of a login.
//   - Import httpapi or middleware (no import cycles).
package adminauth
