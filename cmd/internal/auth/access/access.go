package access

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is matched by every verification failure.
	ErrInvalidToken = errors.New("invalid access token")

	ErrExpired     = errors.New("token expired")
	ErrMalformed   = errors.New("token malformed")
	ErrNotYetValid = errors.New("token not yet valid")

	// ErrConfig is returned for invalid issuer configuration.
	ErrConfig = errors.New("invalid access token config")
)

// VerifyError reports why a token was rejected.
type VerifyError struct {
	Kind  error
	Cause error
}

func (e *VerifyError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", ErrInvalidToken, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", ErrInvalidToken, e.Kind, e.Cause)
}

func (e *VerifyError) Unwrap() []error { return []error{ErrInvalidToken, e.Kind} }

func verifyErr(kind, cause error) error { return &VerifyError{Kind: kind, Cause: cause} }

// KindLabel returns a stable label for logging a verification failure.
func KindLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}

// Subject is the identity snapshot embedded in a token.
type Subject struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
	Active    bool
}

// Claims is what a verified token asserts.
type Claims struct {
	Subject
	Issuer    string
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time
}

// Issuer signs and verifies access tokens.
type Issuer interface {
	Issue(sub Subject, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (Claims, error)
}

const (
	FormatJWT    = "jwt"
	FormatPaseto = "paseto"
)

// Config selects and parameterizes an Issuer.
type Config struct {
	Format    string
	Issuer    string
	TTL       time.Duration
	ClockSkew time.Duration

	// JWTSecret signs HS256 tokens; at least 32 bytes.
	JWTSecret []byte

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key for v4.public.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns a 15 minute JWT configuration without key material.
func DefaultConfig() Config {
	return Config{
		Format:    FormatJWT,
		Issuer:    "storefront",
		TTL:       15 * time.Minute,
		ClockSkew: 30 * time.Second,
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: issuer required", ErrConfig)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: clock skew must not be negative", ErrConfig)
	}
	return nil
}

// New builds the Issuer named by cfg.Format.
func New(cfg Config) (Issuer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", FormatJWT:
		return NewJWTIssuer(cfg)
	case FormatPaseto:
		return NewPasetoV4Issuer(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrConfig, cfg.Format)
	}
}

// checkWindow applies exp/nbf with skew tolerance. now == exp+skew is expired.
func checkWindow(now, nbf, exp time.Time, skew time.Duration) error {
	if exp.IsZero() {
		return verifyErr(ErrMalformed, errors.New("missing exp"))
	}
	if !now.Before(exp.Add(skew)) {
		return verifyErr(ErrExpired, nil)
	}
	if !nbf.IsZero() && now.Add(skew).Before(nbf) {
		return verifyErr(ErrNotYetValid, nil)
	}
	return nil
}
