package password

import "errors"

var (
	ErrPasswordTooShort = errors.New("password: too short")
	ErrPasswordTooLong  = errors.New("password: too long")
	ErrWeakPassword     = errors.New("password: too weak")

	// ErrInvalidHash covers malformed encodings and out-of-bounds parameters.
	ErrInvalidHash   = errors.New("password: invalid hash encoding")
	ErrInvalidSecret = errors.New("password: invalid opaque secret")
)
