package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// PasswordHasher is the slow hash used for passwords. password.Config
// satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	HashOpaque(secret string) (string, error)
	Verify(encoded, plain string) (bool, error)
	NeedsRehash(encoded string) bool
}

type passwordRehasher interface {
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// Verifier validates email/password pairs. Attempt counting lives here and
// nowhere else.
type Verifier struct {
	users   UserStore
	hasher  PasswordHasher
	lockout Lockout
	log     *slog.Logger

	// dummyHash is verified for unknown emails so both paths pay one hash.
	dummyHash string
}

// NewVerifier wires the collaborators. lockout may be nil to disable it.
func NewVerifier(users UserStore, hasher PasswordHasher, lockout Lockout, log *slog.Logger) (*Verifier, error) {
	if users == nil || hasher == nil {
		return nil, errors.New("identity: verifier requires users and hasher")
	}
	if log == nil {
		log = slog.Default()
	}
	if lockout == nil {
		lockout = NewMemoryLockout(LockoutConfig{}, nil)
	}

	dummy, err := hasher.HashOpaque("dummy-password-for-timing-only")
	if err != nil {
		return nil, fmt.Errorf("identity: dummy hash: %w", err)
	}

	return &Verifier{users: users, hasher: hasher, lockout: lockout, log: log, dummyHash: dummy}, nil
}

// Validate returns the user for a correct email/password pair.
//
// Failures: ErrInvalidCredentials (unknown email or wrong password),
// LockedOutError, ErrInactive (correct password, disabled account), or
// ErrUnavailable.
func (v *Verifier) Validate(ctx context.Context, email, password string) (User, error) {
	key := NormalizeEmail(email)
	if key == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	locked, retryAfter, err := v.lockout.Locked(ctx, key)
	if err != nil {
		return User{}, err
	}
	if locked {
		return User{}, LockedOutError{RetryAfter: retryAfter}
	}

	u, err := v.users.FindByEmail(ctx, key)
	if err != nil {
		if !IsNotFound(err) {
			return User{}, err
		}
		_, _ = v.hasher.Verify(v.dummyHash, password)
		return User{}, v.fail(ctx, key)
	}

	ok, err := v.hasher.Verify(u.PasswordHash, password)
	if err != nil {
		v.log.Error("auth.verify.hash.fail", "err", err, "user_id", u.ID)
		return User{}, v.fail(ctx, key)
	}
	if !ok {
		return User{}, v.fail(ctx, key)
	}

	if err := v.lockout.Reset(ctx, key); err != nil {
		v.log.Warn("auth.lockout.reset.fail", "err", err)
	}
	if !u.IsActive {
		return User{}, ErrInactive
	}

	v.maybeRehash(ctx, u, password)
	return u, nil
}

// Enroll hashes password under the policy and creates an active user.
func (v *Verifier) Enroll(ctx context.Context, email, password, firstName, lastName string) (User, error) {
	hash, err := v.hasher.Hash(password)
	if err != nil {
		return User{}, OpError{Op: "identity.Enroll", Kind: ErrInvalidInput, Msg: err.Error()}
	}
	return v.users.Create(ctx, CreateUserInput{
		Email:        strings.TrimSpace(email),
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
	})
}

func (v *Verifier) fail(ctx context.Context, key string) error {
	locked, err := v.lockout.Fail(ctx, key)
	if err != nil {
		return err
	}
	if locked {
		v.log.Warn("auth.lockout.engaged")
	}
	return ErrInvalidCredentials
}

func (v *Verifier) maybeRehash(ctx context.Context, u User, password string) {
	if !v.hasher.NeedsRehash(u.PasswordHash) {
		return
	}
	rh, ok := v.users.(passwordRehasher)
	if !ok {
		return
	}
	hash, err := v.hasher.HashOpaque(password)
	if err != nil {
		return
	}
	if err := rh.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		v.log.Warn("auth.rehash.fail", "err", err, "user_id", u.ID)
	}
}
