// Package session provides the Redis-backed session store that is the source
// of truth for login state.
//
// # Storage layout
//
// Each session is a compact binary record under <prefix>:<id> with a Redis
// TTL matching its remaining lifetime, plus a member of the <prefix>:expiry
// sorted set scored by expiry in unix milliseconds. MFA promotion rewrites
// a single flag byte inside a Lua script so concurrent verifications cannot
// lose the update or extend the lifetime.
//
// # What this package must NOT do
//
//   - Interpret tokens or decide authorization. That belongs to the engine.
//   - Import the root adminauth package.
package session
