package app

import (
	"crypto/rand"
	"errors"
	"fmt"

	"storefront/cmd/internal/auth/access"
	"storefront/cmd/security/token"

	paseto "aidanwoods.dev/go-paseto"
)

const minKeyBytes = 32

// ValidateSecurityConfig enforces the production key policy at startup.
// Outside production missing keys are replaced by ephemeral ones, see
// accessConfig.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.Production() {
		return nil
	}

	switch cfg.AccessTokenFormat {
	case access.FormatPaseto:
		if cfg.PasetoV4SecretKeyHex == "" {
			return errors.New("security policy: STOREFRONT_PASETO_V4_SECRET_KEY_HEX is required in production")
		}
	default:
		if len(cfg.JWTSecret) < minKeyBytes {
			return fmt.Errorf("security policy: STOREFRONT_JWT_SECRET must be at least %d bytes in production", minKeyBytes)
		}
	}

	if cfg.LockoutBackend == BackendRedis {
		if len(cfg.LockoutKeySecret) < minKeyBytes {
			return fmt.Errorf("security policy: STOREFRONT_LOCKOUT_KEY_SECRET must be at least %d bytes in production", minKeyBytes)
		}
	}
	return nil
}

// accessConfig returns the issuer config, filling in an ephemeral signing
// key when none is configured. Tokens signed with it do not survive a restart.
func accessConfig(cfg Config, log Logger) (access.Config, error) {
	out := cfg.AccessConfig()

	switch cfg.AccessTokenFormat {
	case access.FormatPaseto:
		if out.PasetoV4SecretKeyHex == "" {
			out.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
			log.Warn("security.ephemeral_key", "format", access.FormatPaseto)
		}
	default:
		if len(out.JWTSecret) == 0 {
			key := make([]byte, minKeyBytes)
			if _, err := rand.Read(key); err != nil {
				return access.Config{}, fmt.Errorf("security: ephemeral jwt key: %w", err)
			}
			out.JWTSecret = key
			log.Warn("security.ephemeral_key", "format", access.FormatJWT)
		}
	}
	return out, nil
}

// lockoutKeyHasher digests lockout keys (normalized emails) before they
// reach Redis.
func lockoutKeyHasher(cfg Config) (func(string) string, error) {
	h, err := token.Keyed([]byte(cfg.LockoutKeySecret), minKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("security: STOREFRONT_LOCKOUT_KEY_SECRET: %w", err)
	}
	return h, nil
}
