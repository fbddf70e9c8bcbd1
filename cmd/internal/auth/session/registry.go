package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/cmd/identity/ids"
)

// SecretHasher is the slow one-way hash applied to session secrets.
// password.Config satisfies it.
type SecretHasher interface {
	HashOpaque(secret string) (string, error)
	Verify(encoded, secret string) (bool, error)
}

// Registry exposes the session record operations on top of a Store: it
// assigns ids, hashes secrets and derives deadlines.
type Registry struct {
	store  Store
	hasher SecretHasher
	newID  func(now time.Time) (string, error)
}

// NewRegistry constructs a Registry with ULID record ids.
func NewRegistry(store Store, hasher SecretHasher) *Registry {
	return &Registry{store: store, hasher: hasher, newID: ids.NewULID}
}

// Create starts a new chain: expiresAt = now+ttl and
// sessionExpiresAt = now+window.
func (r *Registry) Create(ctx context.Context, now time.Time, userID, secret string, ttl, window time.Duration, meta Meta) (Record, error) {
	if strings.TrimSpace(userID) == "" {
		return Record{}, errors.New("session: user id required")
	}
	if ttl <= 0 || window <= 0 {
		return Record{}, fmt.Errorf("%w: ttl and window must be positive", ErrConfig)
	}

	rec, err := r.newRecord(now, userID, secret, ttl, meta)
	if err != nil {
		return Record{}, err
	}
	rec.FamilyID = rec.ID
	rec.SessionExpiresAt = now.Add(window)

	if err := r.store.Insert(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Rotate creates the successor of prev in the same chain and revokes prev.
// The successor inherits UserID, FamilyID and SessionExpiresAt.
func (r *Registry) Rotate(ctx context.Context, now time.Time, prev Record, secret string, ttl time.Duration, meta Meta) (Record, error) {
	next, err := r.newRecord(now, prev.UserID, secret, ttl, meta)
	if err != nil {
		return Record{}, err
	}
	next.FamilyID = prev.FamilyID
	next.SessionExpiresAt = prev.SessionExpiresAt

	if err := r.store.Rotate(ctx, prev.ID, next, now); err != nil {
		return Record{}, err
	}
	return next, nil
}

func (r *Registry) newRecord(now time.Time, userID, secret string, ttl time.Duration, meta Meta) (Record, error) {
	hash, err := r.hasher.HashOpaque(secret)
	if err != nil {
		return Record{}, fmt.Errorf("session: hash secret: %w", err)
	}
	id, err := r.newID(now)
	if err != nil {
		return Record{}, fmt.Errorf("session: new id: %w", err)
	}
	return Record{
		ID:         id,
		UserID:     userID,
		SecretHash: hash,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Meta:       meta,
	}, nil
}

// FindByID returns the record or ErrTokenNotFound.
func (r *Registry) FindByID(ctx context.Context, id string) (Record, error) {
	return r.store.FindByID(ctx, id)
}

// VerifySecret compares secret against the record's stored hash.
func (r *Registry) VerifySecret(rec Record, secret string) (bool, error) {
	return r.hasher.Verify(rec.SecretHash, secret)
}

// Revoke revokes one record. Revoking a revoked record is a no-op.
func (r *Registry) Revoke(ctx context.Context, now time.Time, id string, reason RevocationReason) error {
	_, err := r.store.RevokeIfActive(ctx, id, now, reason)
	return err
}

// RevokeAllActiveForUser revokes every active record of userID.
func (r *Registry) RevokeAllActiveForUser(ctx context.Context, now time.Time, userID string, reason RevocationReason) (int, error) {
	return r.store.RevokeAllActiveForUser(ctx, userID, now, reason)
}

// RevokeFamily resolves the owner of anyID and revokes all of that user's
// active records. It is idempotent.
func (r *Registry) RevokeFamily(ctx context.Context, now time.Time, anyID string, reason RevocationReason) (int, error) {
	rec, err := r.store.FindByID(ctx, anyID)
	if err != nil {
		return 0, err
	}
	return r.store.RevokeAllActiveForUser(ctx, rec.UserID, now, reason)
}
