package session

import (
	"fmt"
	"time"

	"storefront/cmd/security/token"
)

// Config is the immutable policy handed to the Rotator at construction.
type Config struct {
	// RefreshTTL is the sliding lifetime of a single record. It restarts on
	// every rotation and is also the cookie Max-Age.
	RefreshTTL time.Duration

	// SessionWindow caps the whole chain. It is fixed at signin.
	SessionWindow time.Duration

	// SecretBytes is the entropy of each opaque secret.
	SecretBytes int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RefreshTTL:    7 * 24 * time.Hour,
		SessionWindow: 30 * 24 * time.Hour,
		SecretBytes:   token.DefaultSecretBytes,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: refresh ttl must be positive", ErrConfig)
	}
	if c.SessionWindow <= 0 {
		return fmt.Errorf("%w: session window must be positive", ErrConfig)
	}
	if c.SecretBytes < token.MinSecretBytes || c.SecretBytes > token.MaxSecretBytes {
		return fmt.Errorf("%w: secret bytes out of range [%d..%d]", ErrConfig, token.MinSecretBytes, token.MaxSecretBytes)
	}
	return nil
}
