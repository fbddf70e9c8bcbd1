package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Separator splits the token id from the secret in a composite value.
const Separator = "."

const (
	MinSecretBytes = 16
	MaxSecretBytes = 128

	// DefaultSecretBytes yields 256 bits of entropy.
	DefaultSecretBytes = 32
)

// NewSecret returns n random bytes encoded as unpadded base64url.
// The alphabet never contains Separator.
func NewSecret(n int) (string, error) {
	if n < MinSecretBytes || n > MaxSecretBytes {
		return "", ErrInvalidLength
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Compose builds the cookie value for a session record.
func Compose(id, secret string) string {
	return id + Separator + secret
}

// Split parses a composite value on its first separator.
// A value without a separator, or with an empty half, is ErrMalformed.
func Split(value string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(value, Separator)
	if !ok || id == "" || secret == "" {
		return "", "", ErrMalformed
	}
	return id, secret, nil
}

// Equal compares two strings in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Keyed returns a digest function for identifiers that must not be stored in
// the clear. With an empty key it falls back to plain SHA-256.
func Keyed(key []byte, minBytes int) (func(string) string, error) {
	if len(key) == 0 {
		return HashSHA256Hex, nil
	}
	if len(key) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	k := append([]byte(nil), key...)
	return func(s string) string { return HashHMACSHA256Hex(s, k) }, nil
}
