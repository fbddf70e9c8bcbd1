package session

import "time"

// RevocationReason is persisted with a revoked record for audit.
type RevocationReason string

const (
	ReasonRotated        RevocationReason = "rotated"
	ReasonSignedOut      RevocationReason = "signed_out"
	ReasonReuseDetected  RevocationReason = "reuse_detected"
	ReasonExpired        RevocationReason = "expired"
	ReasonSecretMismatch RevocationReason = "secret_mismatch"
	ReasonUserInactive   RevocationReason = "user_inactive"
	ReasonUserNotFound   RevocationReason = "user_not_found"
	ReasonAdmin          RevocationReason = "admin"
)

// Meta is request metadata kept for audit only.
type Meta struct {
	IP        string
	UserAgent string
	DeviceID  string
}

// Record is one link of a rotation chain.
type Record struct {
	ID     string
	UserID string

	// FamilyID is the id of the first record in the chain.
	FamilyID string

	SecretHash string

	CreatedAt        time.Time
	ExpiresAt        time.Time
	SessionExpiresAt time.Time

	RevokedAt        *time.Time
	RevocationReason RevocationReason
	ReplacedByID     *string

	Meta Meta
}

// State is derived at read time; nothing persists it.
type State string

const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

// Revoked reports whether the record has left the active state by revocation.
func (r Record) Revoked() bool { return r.RevokedAt != nil }

// ExpiryKind returns ErrSessionExpired or ErrSlidingExpired when the record
// is past a deadline at now, or nil. The absolute deadline wins when both
// have passed. A deadline equal to now counts as passed.
func (r Record) ExpiryKind(now time.Time) error {
	if !now.Before(r.SessionExpiresAt) {
		return ErrSessionExpired
	}
	if !now.Before(r.ExpiresAt) {
		return ErrSlidingExpired
	}
	return nil
}

func (r Record) State(now time.Time) State {
	switch {
	case r.Revoked():
		return StateRevoked
	case r.ExpiryKind(now) != nil:
		return StateExpired
	default:
		return StateActive
	}
}

func (r Record) clone() Record {
	out := r
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		out.RevokedAt = &t
	}
	if r.ReplacedByID != nil {
		s := *r.ReplacedByID
		out.ReplacedByID = &s
	}
	return out
}
