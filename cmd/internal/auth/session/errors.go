package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSession is matched by every token-related failure. It is the
	// only thing callers outside the subsystem should branch on.
	ErrInvalidSession = errors.New("invalid session")

	// ErrTokenExpired is the parent of both expiry kinds.
	ErrTokenExpired = errors.New("session token expired")

	// ErrStoreUnavailable marks backend failures. It never matches ErrInvalidSession.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrRotationConflict is returned by Store.Rotate when the predecessor
	// was revoked concurrently.
	ErrRotationConflict = errors.New("session rotation conflict")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// Failure kinds. Each matches ErrInvalidSession.
var (
	ErrMalformedToken = newKind("malformed", "malformed session token", nil)
	ErrTokenNotFound  = newKind("not_found", "session token not found", nil)
	ErrTokenReused    = newKind("reused", "session token reuse detected", nil)
	ErrSlidingExpired = newKind("expired_sliding", "session token expired", ErrTokenExpired)
	ErrSessionExpired = newKind("expired_session", "session window elapsed", ErrTokenExpired)
	ErrSecretMismatch = newKind("secret_mismatch", "session secret mismatch", nil)
	ErrUserNotFound   = newKind("user_not_found", "session user not found", nil)
	ErrUserInactive   = newKind("user_inactive", "session user inactive", nil)
)

type kindError struct {
	kind   string
	msg    string
	parent error
}

func newKind(kind, msg string, parent error) *kindError {
	return &kindError{kind: kind, msg: msg, parent: parent}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool {
	return target == ErrInvalidSession || (e.parent != nil && target == e.parent)
}

// Kind returns a stable label for logs and metrics.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return "unavailable"
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return "internal"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
