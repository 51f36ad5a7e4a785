// Package password hashes and verifies user passwords.
//
// New hashes are bcrypt. Stored argon2id hashes in PHC format
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// still verify, and [Hasher.NeedsUpgrade] reports them (and bcrypt hashes
// below the configured cost) so the caller can re-hash after a successful
// login.
//
// This package owns hashing and the minimal length policy only. It never
// stores passwords and never logs them.
package password
