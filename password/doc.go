// Package password verifies admin passwords.
//
// # Output format
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes written by the previous deployment are bcrypt ($2a$, $2b$, $2y$).
// [Verifier.Verify] accepts both; [Verifier.NeedsUpgrade] flags bcrypt and
// weaker argon2id parameters so operators can re-provision.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and hashes.
//   - Return errors or panic from Verify. Anything unverifiable is a mismatch.
//   - Log plaintext passwords.
package password
