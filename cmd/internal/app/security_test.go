package app

import (
	"errors"
	"io"
	"testing"
	"time"

	"storefront/cmd/internal/auth/access"
	"storefront/cmd/security/token"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	strong := "0123456789abcdef0123456789abcdef"

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "development without keys", cfg: Config{Env: "development"}},
		{name: "production jwt missing", cfg: Config{Env: "production", AccessTokenFormat: access.FormatJWT}, wantErr: true},
		{name: "production jwt short", cfg: Config{Env: "production", JWTSecret: "short"}, wantErr: true},
		{name: "production jwt ok", cfg: Config{Env: "production", JWTSecret: strong}},
		{name: "production paseto missing", cfg: Config{Env: "production", AccessTokenFormat: access.FormatPaseto}, wantErr: true},
		{
			name:    "production redis lockout without key",
			cfg:     Config{Env: "production", JWTSecret: strong, LockoutBackend: BackendRedis},
			wantErr: true,
		},
		{
			name: "production redis lockout with key",
			cfg:  Config{Env: "production", JWTSecret: strong, LockoutBackend: BackendRedis, LockoutKeySecret: strong},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSecurityConfig(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestAccessConfig_EphemeralKeys(t *testing.T) {
	t.Parallel()

	log := newLogger(io.Discard, "error")
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, format := range []string{access.FormatJWT, access.FormatPaseto} {
		cfg := Config{
			AccessTokenFormat: format,
			AccessTokenIssuer: "storefront",
			AccessTokenTTL:    15 * time.Minute,
		}

		accCfg, err := accessConfig(cfg, log)
		if err != nil {
			t.Fatalf("%s: accessConfig: %v", format, err)
		}
		iss, err := access.New(accCfg)
		if err != nil {
			t.Fatalf("%s: access.New: %v", format, err)
		}

		tok, _, err := iss.Issue(access.Subject{UserID: "u1", Email: "a@example.com", Active: true}, now)
		if err != nil {
			t.Fatalf("%s: Issue: %v", format, err)
		}
		claims, err := iss.Verify(tok, now.Add(time.Minute))
		if err != nil {
			t.Fatalf("%s: Verify: %v", format, err)
		}
		if claims.UserID != "u1" {
			t.Fatalf("%s: sub=%q", format, claims.UserID)
		}
	}
}

func TestAccessConfig_KeepsConfiguredSecret(t *testing.T) {
	t.Parallel()

	secret := "0123456789abcdef0123456789abcdef"
	accCfg, err := accessConfig(Config{JWTSecret: secret}, newLogger(io.Discard, "error"))
	if err != nil {
		t.Fatalf("accessConfig: %v", err)
	}
	if string(accCfg.JWTSecret) != secret {
		t.Fatalf("configured secret replaced")
	}
}

func TestLockoutKeyHasher(t *testing.T) {
	t.Parallel()

	if _, err := lockoutKeyHasher(Config{LockoutKeySecret: "short"}); !errors.Is(err, token.ErrHMACKeyTooShort) {
		t.Fatalf("err=%v want ErrHMACKeyTooShort", err)
	}

	h, err := lockoutKeyHasher(Config{LockoutKeySecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("lockoutKeyHasher: %v", err)
	}
	if got := h("a@example.com"); got == "a@example.com" || len(got) != 64 {
		t.Fatalf("digest=%q", got)
	}
}
