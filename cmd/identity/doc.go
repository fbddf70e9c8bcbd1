// Package identity owns users and credential verification.
//
// It holds the user model, the user store (memory and Postgres), and the
// Verifier that checks email/password pairs behind a failure lockout. It
// knows nothing about sessions; a successful Validate is the caller's cue to
// start one.
package identity
