// Package access issues and verifies the short-lived bearer tokens handed out
// on signin and on every successful refresh.
//
// Tokens are stateless: nothing is persisted and verification needs only the
// key material. Two formats are supported, HS256 JWT and PASETO v4.public.
// Verification failures carry an internal kind (expired, malformed, not yet
// valid) for logs; callers outside this package only branch on ErrInvalidToken.
package access
