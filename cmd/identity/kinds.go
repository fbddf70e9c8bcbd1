package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")

	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrInactive is returned only after a correct password for a disabled account.
	ErrInactive = errors.New("inactive")

	// ErrLockedOut is matched by LockedOutError.
	ErrLockedOut = errors.New("locked_out")
)
