package session

import (
	"context"
	"time"
)

// Store abstracts persistence for session records.
//
// Every state transition is conditional on the record still being active,
// and each method is atomic on its own. Backend failures are reported as
// ErrStoreUnavailable.
type Store interface {
	// Insert persists a new record.
	Insert(ctx context.Context, rec Record) error

	// FindByID loads a record or returns ErrTokenNotFound.
	FindByID(ctx context.Context, id string) (Record, error)

	// RevokeIfActive sets revoked_at when it is still null. It reports
	// whether this call changed the record; re-revoking is a no-op.
	// An unknown id yields ErrTokenNotFound.
	RevokeIfActive(ctx context.Context, id string, now time.Time, reason RevocationReason) (bool, error)

	// Rotate inserts next and revokes oldID with replaced_by = next.ID as a
	// single unit. If oldID is no longer active nothing is written and
	// ErrRotationConflict is returned.
	Rotate(ctx context.Context, oldID string, next Record, now time.Time) error

	// RevokeAllActiveForUser revokes every active record of the user and
	// returns how many it changed.
	RevokeAllActiveForUser(ctx context.Context, userID string, now time.Time, reason RevocationReason) (int, error)
}
