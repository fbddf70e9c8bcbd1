// Package session implements rotating refresh sessions.
//
// A signin starts a chain of session records. Every successful refresh
// creates the next record in the chain and revokes its predecessor in one
// atomic step, so at most one record per chain is ever current. Presenting a
// record that was already revoked is treated as token theft: every active
// record of the user is revoked.
//
// Each record carries two deadlines. ExpiresAt slides forward on rotation;
// SessionExpiresAt is fixed when the chain starts and is inherited unchanged
// by every successor.
//
// Persistence sits behind Store (memory, Postgres, Redis). Registry adds
// hashing and id generation on top of a Store; Rotator runs the refresh
// algorithm against a Registry, a user source and an access token issuer.
package session
