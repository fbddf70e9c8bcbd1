package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minJWTSecret = 32

type jwtClaims struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Active     bool   `json:"active"`
	jwt.RegisteredClaims
}

// JWTIssuer issues HS256 tokens.
type JWTIssuer struct {
	issuer string
	ttl    time.Duration
	skew   time.Duration
	secret []byte
}

// NewJWTIssuer validates cfg and copies the secret.
func NewJWTIssuer(cfg Config) (*JWTIssuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(cfg.JWTSecret) < minJWTSecret {
		return nil, fmt.Errorf("%w: jwt secret must be at least %d bytes", ErrConfig, minJWTSecret)
	}
	return &JWTIssuer{
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		skew:   cfg.ClockSkew,
		secret: append([]byte(nil), cfg.JWTSecret...),
	}, nil
}

func (i *JWTIssuer) Issue(sub Subject, now time.Time) (string, time.Time, error) {
	if sub.UserID == "" {
		return "", time.Time{}, errors.New("access: subject id required")
	}

	claims := jwtClaims{
		Email:      sub.Email,
		GivenName:  sub.FirstName,
		FamilyName: sub.LastName,
		Active:     sub.Active,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("access: sign: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (i *JWTIssuer) Verify(token string, now time.Time) (Claims, error) {
	var c jwtClaims
	_, err := jwt.ParseWithClaims(token, &c,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithLeeway(i.skew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, verifyErr(ErrExpired, nil)
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return Claims{}, verifyErr(ErrNotYetValid, nil)
		default:
			return Claims{}, verifyErr(ErrMalformed, err)
		}
	}
	if c.Subject == "" {
		return Claims{}, verifyErr(ErrMalformed, errors.New("missing sub"))
	}

	out := Claims{
		Subject: Subject{
			UserID:    c.Subject,
			Email:     c.Email,
			FirstName: c.GivenName,
			LastName:  c.FamilyName,
			Active:    c.Active,
		},
		Issuer: c.Issuer,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.NotBefore != nil {
		out.NotBefore = c.NotBefore.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
