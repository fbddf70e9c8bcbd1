package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Config controls auth API behavior and cookie attributes.
type Config struct {
	// CookieName is the session cookie carrying "<id>.<secret>".
	CookieName   string
	CookieDomain string
	// RefreshPath is both the refresh route and the cookie Path, so the
	// browser attaches the cookie to nothing else.
	RefreshPath    string
	CookieSecure   bool
	CookieSameSite http.SameSite
	// CookieMaxAge is the sliding refresh TTL, never the session window.
	CookieMaxAge time.Duration

	TrustProxy   bool
	MaxBodyBytes int64

	// RetryAfter is advertised on 503 responses.
	RetryAfter time.Duration

	SigninIPMax    int
	SigninIPWindow time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:     "sf_session",
		RefreshPath:    "/auth/refresh",
		CookieSecure:   true,
		CookieSameSite: http.SameSiteStrictMode,
		CookieMaxAge:   7 * 24 * time.Hour,
		MaxBodyBytes:   1 << 20, // 1 MiB
		RetryAfter:     5 * time.Second,
		SigninIPMax:    20,
		SigninIPWindow: 5 * time.Minute,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.CookieName) == "" {
		return errors.New("authapi: cookie name is required")
	}
	if !strings.HasPrefix(c.RefreshPath, "/") || c.RefreshPath == "/" {
		return fmt.Errorf("authapi: refresh path %q must be a dedicated absolute path", c.RefreshPath)
	}
	if c.CookieMaxAge <= 0 {
		return errors.New("authapi: cookie max-age must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("authapi: max body bytes must be positive")
	}
	if c.CookieSameSite == http.SameSiteNoneMode && !c.CookieSecure {
		return errors.New("authapi: SameSite=None requires Secure")
	}
	return nil
}

// ParseSameSite maps "strict", "lax" or "none" to http.SameSite.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("authapi: invalid SameSite %q", s)
	}
}
