package identity

import (
	"strings"
	"time"

	"storefront/cmd/internal/auth/access"
)

// User is a snapshot of an account. Derived values are computed on read.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

// DisplayName joins the name parts, falling back to the email.
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Email
	}
	return name
}

// Status is "active" or "inactive".
func (u User) Status() string {
	if u.IsActive {
		return "active"
	}
	return "inactive"
}

// Subject is the access-token view of the user.
func (u User) Subject() access.Subject {
	return access.Subject{
		UserID:    u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Active:    u.IsActive,
	}
}
