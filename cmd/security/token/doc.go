// Package token holds the primitives behind the refresh-session cookie.
//
// A session cookie carries "<tokenId>.<secret>". The id is public and
// store-assigned; the secret is random, base64url encoded and only ever
// persisted as a slow one-way hash. This package generates secrets, composes
// and splits the composite value, and provides the fast digests used where a
// slow hash is not required (for example lockout keys).
package token
