// Package password hashes and verifies account passwords.
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] also verifies bcrypt hashes carried over from older account
// records and reports them through [Hasher.NeedsRehash] so the caller can
// re-hash on the next successful login.
//
// This package owns hashing only. It never stores passwords and never logs
// plaintext or hash parameters.
package password
