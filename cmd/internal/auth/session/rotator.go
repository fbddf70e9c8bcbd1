package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront/cmd/identity"
	"storefront/cmd/internal/auth/access"
	"storefront/cmd/security/token"
)

// UserReader is the live user lookup consulted on every refresh.
type UserReader interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
}

// Issued is the result of starting or rotating a session.
type Issued struct {
	SessionID        string
	UserID           string
	CookieValue      string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionExpiresAt time.Time
}

// Rotator runs signin issuance, refresh rotation with reuse detection, and
// signout.
type Rotator struct {
	cfg      Config
	registry *Registry
	users    UserReader
	issuer   access.Issuer
	clock    Clock
	log      *slog.Logger
	obs      Observer
}

// RotatorOption configures optional Rotator dependencies.
type RotatorOption func(*Rotator)

// WithLogger sets the logger used for failure kinds and audit lines.
func WithLogger(log *slog.Logger) RotatorOption {
	return func(r *Rotator) {
		if log != nil {
			r.log = log
		}
	}
}

// WithObserver installs a metrics observer.
func WithObserver(obs Observer) RotatorOption {
	return func(r *Rotator) {
		if obs != nil {
			r.obs = obs
		}
	}
}

// NewRotator validates cfg and wires the collaborators.
func NewRotator(cfg Config, registry *Registry, users UserReader, issuer access.Issuer, clock Clock, opts ...RotatorOption) (*Rotator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil || users == nil || issuer == nil {
		return nil, errors.New("session: rotator requires registry, users and issuer")
	}
	if clock == nil {
		clock = SystemClock
	}

	r := &Rotator{
		cfg:      cfg,
		registry: registry,
		users:    users,
		issuer:   issuer,
		clock:    clock,
		log:      slog.Default(),
		obs:      nopObserver{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r, nil
}

// Config returns the policy the Rotator was built with.
func (r *Rotator) Config() Config { return r.cfg }

// Start opens a new chain for an authenticated user (signin, signup).
func (r *Rotator) Start(ctx context.Context, user identity.User, meta Meta) (Issued, error) {
	if !user.IsActive {
		return Issued{}, ErrUserInactive
	}
	now := r.clock.Now()

	secret, err := token.NewSecret(r.cfg.SecretBytes)
	if err != nil {
		return Issued{}, err
	}
	rec, err := r.registry.Create(ctx, now, user.ID, secret, r.cfg.RefreshTTL, r.cfg.SessionWindow, meta)
	if err != nil {
		return Issued{}, err
	}

	out, err := r.issue(user, rec, secret, now)
	if err != nil {
		return Issued{}, err
	}

	r.obs.SessionStarted()
	r.log.Info("auth.session.start", "user_id", user.ID, "session_id", rec.ID, "session_expires_at", rec.SessionExpiresAt)
	return out, nil
}

// Refresh validates the presented cookie value and rotates it.
//
// The returned error matches ErrInvalidSession for every token problem and
// ErrStoreUnavailable when a backend could not be reached.
func (r *Rotator) Refresh(ctx context.Context, cookieValue string, meta Meta) (Issued, error) {
	now := r.clock.Now()

	out, rec, err := r.refresh(ctx, now, cookieValue, meta)
	kind := Kind(err)
	r.obs.RefreshOutcome(kind)
	if err != nil {
		r.log.Warn("auth.refresh.fail", "kind", kind, "session_id", rec.ID, "user_id", rec.UserID, "err", err)
		return Issued{}, err
	}
	r.log.Info("auth.refresh.success", "user_id", out.UserID, "session_id", out.SessionID, "previous_session_id", rec.ID)
	return out, nil
}

func (r *Rotator) refresh(ctx context.Context, now time.Time, cookieValue string, meta Meta) (Issued, Record, error) {
	id, secret, err := token.Split(cookieValue)
	if err != nil {
		return Issued{}, Record{}, ErrMalformedToken
	}

	rec, err := r.registry.FindByID(ctx, id)
	if err != nil {
		return Issued{}, Record{ID: id}, err
	}

	if rec.Revoked() {
		return Issued{}, rec, r.compensate(r.revokeFamily(ctx, now, rec, ReasonReuseDetected), ErrTokenReused)
	}

	if kind := rec.ExpiryKind(now); kind != nil {
		return Issued{}, rec, r.compensate(r.registry.Revoke(ctx, now, rec.ID, ReasonExpired), kind)
	}

	ok, err := r.registry.VerifySecret(rec, secret)
	if err != nil || !ok {
		mismatch := error(ErrSecretMismatch)
		if err != nil {
			// A stored hash that cannot be parsed never verifies.
			mismatch = fmt.Errorf("%w: %w", ErrSecretMismatch, err)
		}
		return Issued{}, rec, r.compensate(r.registry.Revoke(ctx, now, rec.ID, ReasonSecretMismatch), mismatch)
	}

	user, err := r.users.FindByID(ctx, rec.UserID)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return Issued{}, rec, r.compensate(r.revokeFamily(ctx, now, rec, ReasonUserNotFound), ErrUserNotFound)
	case err != nil:
		return Issued{}, rec, unavailable("user lookup", err)
	case !user.IsActive:
		return Issued{}, rec, r.compensate(r.revokeFamily(ctx, now, rec, ReasonUserInactive), ErrUserInactive)
	}

	nextSecret, err := token.NewSecret(r.cfg.SecretBytes)
	if err != nil {
		return Issued{}, rec, err
	}
	next, err := r.registry.Rotate(ctx, now, rec, nextSecret, r.cfg.RefreshTTL, meta)
	if errors.Is(err, ErrRotationConflict) {
		// Lost the race to a concurrent refresh with the same token.
		return Issued{}, rec, r.compensate(r.revokeFamily(ctx, now, rec, ReasonReuseDetected), ErrTokenReused)
	}
	if err != nil {
		return Issued{}, rec, err
	}

	out, err := r.issue(user, next, nextSecret, now)
	if err != nil {
		return Issued{}, rec, err
	}
	return out, rec, nil
}

// Signout revokes the family behind cookieValue. An empty, malformed or
// unknown value is a no-op.
//
// Unlike a bare resolve-and-revoke, the secret is verified first: a known id
// paired with a wrong secret (or an unreadable stored hash) is also a no-op,
// so knowing a session id alone cannot sign its owner out.
func (r *Rotator) Signout(ctx context.Context, cookieValue string) error {
	if cookieValue == "" {
		return nil
	}
	now := r.clock.Now()

	id, secret, err := token.Split(cookieValue)
	if err != nil {
		r.log.Info("auth.signout.ignored", "kind", Kind(ErrMalformedToken))
		return nil
	}

	rec, err := r.registry.FindByID(ctx, id)
	if errors.Is(err, ErrTokenNotFound) {
		r.log.Info("auth.signout.ignored", "kind", Kind(err), "session_id", id)
		return nil
	}
	if err != nil {
		return err
	}

	ok, err := r.registry.VerifySecret(rec, secret)
	if err != nil || !ok {
		r.log.Warn("auth.signout.ignored", "kind", Kind(ErrSecretMismatch), "session_id", id, "user_id", rec.UserID, "err", err)
		return nil
	}

	return r.revokeFamily(ctx, now, rec, ReasonSignedOut)
}

// RevokeAll signs a user out everywhere.
func (r *Rotator) RevokeAll(ctx context.Context, userID string, reason RevocationReason) (int, error) {
	now := r.clock.Now()
	n, err := r.registry.RevokeAllActiveForUser(ctx, now, userID, reason)
	if err != nil {
		return 0, err
	}
	r.obs.FamilyRevoked(reason, n)
	r.log.Info("auth.session.revoke_all", "user_id", userID, "reason", string(reason), "revoked", n)
	return n, nil
}

func (r *Rotator) revokeFamily(ctx context.Context, now time.Time, rec Record, reason RevocationReason) error {
	n, err := r.registry.RevokeAllActiveForUser(ctx, now, rec.UserID, reason)
	if err != nil {
		return err
	}
	r.obs.FamilyRevoked(reason, n)

	level := slog.LevelInfo
	if reason == ReasonReuseDetected {
		level = slog.LevelWarn
	}
	r.log.Log(ctx, level, "auth.session.family_revoked",
		"user_id", rec.UserID,
		"family_id", rec.FamilyID,
		"trigger_session_id", rec.ID,
		"reason", string(reason),
		"revoked", n,
	)
	return nil
}

// compensate returns kind, or both errors when the compensating revocation
// itself failed so the caller sees the store outage first.
func (r *Rotator) compensate(revokeErr error, kind error) error {
	if revokeErr == nil || errors.Is(revokeErr, ErrTokenNotFound) {
		return kind
	}
	return errors.Join(revokeErr, kind)
}

func (r *Rotator) issue(user identity.User, rec Record, secret string, now time.Time) (Issued, error) {
	tok, exp, err := r.issuer.Issue(user.Subject(), now)
	if err != nil {
		return Issued{}, fmt.Errorf("session: issue access token: %w", err)
	}
	return Issued{
		SessionID:        rec.ID,
		UserID:           rec.UserID,
		CookieValue:      token.Compose(rec.ID, secret),
		AccessToken:      tok,
		AccessExpiresAt:  exp,
		RefreshExpiresAt: rec.ExpiresAt,
		SessionExpiresAt: rec.SessionExpiresAt,
	}, nil
}
