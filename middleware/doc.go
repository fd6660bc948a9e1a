// Package middleware holds the two HTTP gates of the admin area.
//
// # Gates
//
//   - [Gatekeeper]: page redirects from the token alone (login, MFA step,
//     dashboard). No Redis round trip.
//   - [RequireSession]: the authoritative check for protected handlers. It
//     calls Engine.Authorize and stores the [adminauth.VerifiedSession] in
//     the request context.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to the engine).
//   - Access Redis.
//   - Let a Gatekeeper decision stand in for RequireSession.
package middleware
