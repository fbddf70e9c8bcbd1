package token

import "errors"

// Public, stable errors for callers.
var (
	ErrMalformed       = errors.New("malformed session token")
	ErrInvalidLength   = errors.New("secret length out of range")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)
