package identity

import (
	"context"
	"time"
)

// CreateUserInput describes a signup. PasswordHash is already hashed.
type CreateUserInput struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Now          time.Time
}

// UserStore is the user persistence boundary.
//
// Lookups return ErrNotFound for a missing user and ErrUnavailable when the
// backend cannot be reached.
type UserStore interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, in CreateUserInput) (User, error)
	SetActive(ctx context.Context, id string, active bool) error
}

func (in CreateUserInput) validate(op string) (CreateUserInput, error) {
	in.Email = NormalizeEmail(in.Email)
	if !validEmail(in.Email) {
		return in, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid email"}
	}
	if in.PasswordHash == "" {
		return in, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password hash is required"}
	}
	if len(in.FirstName) > 100 || len(in.LastName) > 100 {
		return in, OpError{Op: op, Kind: ErrInvalidInput, Msg: "name too long"}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}
