// Package password provides the slow one-way hash applied to user passwords
// and to refresh-session secrets.
//
// Hashes are Argon2id in a PHC-style encoding ($argon2id$v=19$m=..,t=..,p=..$salt$key).
// Verify also accepts legacy bcrypt hashes so imported accounts keep working;
// NeedsRehash reports them so the caller can upgrade on the next signin.
//
// Encoded hashes are untrusted input: parameters outside sane bounds are
// rejected before any work is done.
package password
