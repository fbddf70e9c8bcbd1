package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/cmd/identity"
	"storefront/cmd/internal/auth/access"
	authapi "storefront/cmd/internal/auth/api"
	"storefront/cmd/internal/auth/session"
	"storefront/cmd/security/password"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	envProduction = "production"
)

// Config contains all runtime configuration loaded from the environment and
// an optional .env file.
type Config struct {
	Env      string `mapstructure:"STOREFRONT_ENV"`
	HTTPAddr string `mapstructure:"STOREFRONT_HTTP_ADDR"`
	LogLevel string `mapstructure:"STOREFRONT_LOG_LEVEL"`

	ReadHeaderTimeout time.Duration `mapstructure:"STOREFRONT_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"STOREFRONT_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"STOREFRONT_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"STOREFRONT_HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `mapstructure:"STOREFRONT_HTTP_SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes    int           `mapstructure:"STOREFRONT_HTTP_MAX_HEADER_BYTES"`

	DatabaseURL string `mapstructure:"STOREFRONT_DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"STOREFRONT_DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"STOREFRONT_DB_MIN_CONNS"`

	RedisAddr     string `mapstructure:"STOREFRONT_REDIS_ADDR"`
	RedisPassword string `mapstructure:"STOREFRONT_REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"STOREFRONT_REDIS_DB"`
	RedisPrefix   string `mapstructure:"STOREFRONT_REDIS_PREFIX"`

	// SessionBackend is memory, postgres or redis.
	SessionBackend string `mapstructure:"STOREFRONT_SESSION_BACKEND"`
	// LockoutBackend is memory or redis.
	LockoutBackend string `mapstructure:"STOREFRONT_LOCKOUT_BACKEND"`

	// If true, /readyz returns 503 unless Postgres is configured and reachable.
	ReadinessRequireDB bool `mapstructure:"STOREFRONT_READINESS_REQUIRE_DB"`

	AccessTokenFormat    string        `mapstructure:"STOREFRONT_ACCESS_TOKEN_FORMAT"`
	AccessTokenTTL       time.Duration `mapstructure:"STOREFRONT_ACCESS_TOKEN_TTL"`
	AccessTokenIssuer    string        `mapstructure:"STOREFRONT_ACCESS_TOKEN_ISSUER"`
	JWTSecret            string        `mapstructure:"STOREFRONT_JWT_SECRET"`
	PasetoV4SecretKeyHex string        `mapstructure:"STOREFRONT_PASETO_V4_SECRET_KEY_HEX"`
	ClockSkew            time.Duration `mapstructure:"STOREFRONT_CLOCK_SKEW"`

	RefreshTTL    time.Duration `mapstructure:"STOREFRONT_REFRESH_TTL"`
	SessionWindow time.Duration `mapstructure:"STOREFRONT_SESSION_WINDOW"`
	SecretBytes   int           `mapstructure:"STOREFRONT_SECRET_BYTES"`
	// SweepInterval is how often fully expired Postgres records are deleted;
	// zero disables the sweeper.
	SweepInterval time.Duration `mapstructure:"STOREFRONT_SESSION_SWEEP_INTERVAL"`

	CookieName     string `mapstructure:"STOREFRONT_COOKIE_NAME"`
	CookieDomain   string `mapstructure:"STOREFRONT_COOKIE_DOMAIN"`
	CookieSameSite string `mapstructure:"STOREFRONT_COOKIE_SAMESITE"`
	CookieSecure   bool   `mapstructure:"STOREFRONT_COOKIE_SECURE"`
	RefreshPath    string `mapstructure:"STOREFRONT_REFRESH_PATH"`
	MaxBodyBytes   int64  `mapstructure:"STOREFRONT_MAX_BODY_BYTES"`
	TrustProxy     bool   `mapstructure:"STOREFRONT_TRUST_PROXY"`

	LockoutThreshold int           `mapstructure:"STOREFRONT_LOCKOUT_THRESHOLD"`
	LockoutWindow    time.Duration `mapstructure:"STOREFRONT_LOCKOUT_WINDOW"`
	// LockoutKeySecret keys the digest applied to lockout keys in Redis.
	LockoutKeySecret string `mapstructure:"STOREFRONT_LOCKOUT_KEY_SECRET"`

	SigninIPMax    int           `mapstructure:"STOREFRONT_SIGNIN_IP_MAX"`
	SigninIPWindow time.Duration `mapstructure:"STOREFRONT_SIGNIN_IP_WINDOW"`

	// Password carries the Argon2id cost and password policy
	// (STOREFRONT_ARGON2_*, STOREFRONT_PASSWORD_*).
	Password password.Config `mapstructure:"-"`
}

// LoadConfig reads .env (if present), then the environment, and validates
// the result. Environment variables override .env.
func LoadConfig() (Config, error) {
	return loadConfig(".env")
}

func loadConfig(envFile string) (Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // missing .env is fine
	}

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()

	pw, err := password.FromLookup(func(key string) (string, bool) {
		if !v.IsSet(key) {
			return "", false
		}
		return v.GetString(key), true
	})
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Password = pw

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	sessDef := session.DefaultConfig()
	apiDef := authapi.DefaultConfig()
	accDef := access.DefaultConfig()
	lockDef := identity.DefaultLockoutConfig()

	v.SetDefault("STOREFRONT_ENV", "development")
	v.SetDefault("STOREFRONT_HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("STOREFRONT_LOG_LEVEL", "info")

	v.SetDefault("STOREFRONT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	v.SetDefault("STOREFRONT_HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("STOREFRONT_HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("STOREFRONT_HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("STOREFRONT_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("STOREFRONT_HTTP_MAX_HEADER_BYTES", 1<<20)

	v.SetDefault("STOREFRONT_DATABASE_URL", "")
	v.SetDefault("STOREFRONT_DB_MAX_CONNS", 10)
	v.SetDefault("STOREFRONT_DB_MIN_CONNS", 0)

	v.SetDefault("STOREFRONT_REDIS_ADDR", "")
	v.SetDefault("STOREFRONT_REDIS_PASSWORD", "")
	v.SetDefault("STOREFRONT_REDIS_DB", 0)
	v.SetDefault("STOREFRONT_REDIS_PREFIX", "storefront")

	v.SetDefault("STOREFRONT_SESSION_BACKEND", "")
	v.SetDefault("STOREFRONT_LOCKOUT_BACKEND", "")
	v.SetDefault("STOREFRONT_READINESS_REQUIRE_DB", false)

	v.SetDefault("STOREFRONT_ACCESS_TOKEN_FORMAT", accDef.Format)
	v.SetDefault("STOREFRONT_ACCESS_TOKEN_TTL", accDef.TTL)
	v.SetDefault("STOREFRONT_ACCESS_TOKEN_ISSUER", accDef.Issuer)
	v.SetDefault("STOREFRONT_JWT_SECRET", "")
	v.SetDefault("STOREFRONT_PASETO_V4_SECRET_KEY_HEX", "")
	v.SetDefault("STOREFRONT_CLOCK_SKEW", accDef.ClockSkew)

	v.SetDefault("STOREFRONT_REFRESH_TTL", sessDef.RefreshTTL)
	v.SetDefault("STOREFRONT_SESSION_WINDOW", sessDef.SessionWindow)
	v.SetDefault("STOREFRONT_SECRET_BYTES", sessDef.SecretBytes)
	v.SetDefault("STOREFRONT_SESSION_SWEEP_INTERVAL", time.Hour)

	v.SetDefault("STOREFRONT_COOKIE_NAME", apiDef.CookieName)
	v.SetDefault("STOREFRONT_COOKIE_DOMAIN", "")
	v.SetDefault("STOREFRONT_COOKIE_SAMESITE", "strict")
	v.SetDefault("STOREFRONT_COOKIE_SECURE", true)
	v.SetDefault("STOREFRONT_REFRESH_PATH", apiDef.RefreshPath)
	v.SetDefault("STOREFRONT_MAX_BODY_BYTES", apiDef.MaxBodyBytes)
	v.SetDefault("STOREFRONT_TRUST_PROXY", false)

	v.SetDefault("STOREFRONT_LOCKOUT_THRESHOLD", lockDef.Threshold)
	v.SetDefault("STOREFRONT_LOCKOUT_WINDOW", lockDef.Window)
	v.SetDefault("STOREFRONT_LOCKOUT_KEY_SECRET", "")

	v.SetDefault("STOREFRONT_SIGNIN_IP_MAX", apiDef.SigninIPMax)
	v.SetDefault("STOREFRONT_SIGNIN_IP_WINDOW", apiDef.SigninIPWindow)
}

// normalize lowercases enum-like fields and picks backends when unset:
// postgres sessions when a database is configured, memory otherwise.
func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.AccessTokenFormat = strings.ToLower(strings.TrimSpace(c.AccessTokenFormat))
	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
	c.LockoutBackend = strings.ToLower(strings.TrimSpace(c.LockoutBackend))

	if c.SessionBackend == "" {
		c.SessionBackend = BackendMemory
		if c.DatabaseURL != "" {
			c.SessionBackend = BackendPostgres
		}
	}
	if c.LockoutBackend == "" {
		c.LockoutBackend = BackendMemory
		if c.RedisAddr != "" {
			c.LockoutBackend = BackendRedis
		}
	}
}

// Production reports whether the runtime runs with production policy.
func (c Config) Production() bool { return c.Env == envProduction }

// Validate checks cross-field rules and the derived component configs.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: STOREFRONT_HTTP_ADDR must be set")
	}

	switch c.SessionBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: STOREFRONT_SESSION_BACKEND=postgres requires STOREFRONT_DATABASE_URL")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("config: STOREFRONT_SESSION_BACKEND=redis requires STOREFRONT_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("config: unknown STOREFRONT_SESSION_BACKEND %q", c.SessionBackend)
	}

	switch c.LockoutBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("config: STOREFRONT_LOCKOUT_BACKEND=redis requires STOREFRONT_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("config: unknown STOREFRONT_LOCKOUT_BACKEND %q", c.LockoutBackend)
	}

	if c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return errors.New("config: STOREFRONT_DB_MIN_CONNS must be within [0..STOREFRONT_DB_MAX_CONNS]")
	}

	if c.Production() && !c.CookieSecure {
		return errors.New("config: STOREFRONT_COOKIE_SECURE must not be false when STOREFRONT_ENV=production")
	}

	if err := c.SessionConfig().Validate(); err != nil {
		return err
	}
	apiCfg, err := c.APIConfig()
	if err != nil {
		return err
	}
	if err := apiCfg.Validate(); err != nil {
		return err
	}
	if c.LockoutThreshold < 0 || c.LockoutWindow < 0 {
		return errors.New("config: lockout threshold and window must not be negative")
	}
	return nil
}

// SessionConfig derives the rotator policy.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		RefreshTTL:    c.RefreshTTL,
		SessionWindow: c.SessionWindow,
		SecretBytes:   c.SecretBytes,
	}
}

// AccessConfig derives the access issuer config. Key material is attached
// by the caller after the security policy has been applied.
func (c Config) AccessConfig() access.Config {
	return access.Config{
		Format:               c.AccessTokenFormat,
		Issuer:               c.AccessTokenIssuer,
		TTL:                  c.AccessTokenTTL,
		ClockSkew:            c.ClockSkew,
		JWTSecret:            []byte(c.JWTSecret),
		PasetoV4SecretKeyHex: c.PasetoV4SecretKeyHex,
	}
}

// APIConfig derives the HTTP controller config. The cookie Max-Age always
// follows the refresh TTL.
func (c Config) APIConfig() (authapi.Config, error) {
	sameSite, err := authapi.ParseSameSite(c.CookieSameSite)
	if err != nil {
		return authapi.Config{}, fmt.Errorf("config: STOREFRONT_COOKIE_SAMESITE: %w", err)
	}

	out := authapi.DefaultConfig()
	out.CookieName = c.CookieName
	out.CookieDomain = c.CookieDomain
	out.RefreshPath = c.RefreshPath
	out.CookieSecure = c.CookieSecure
	out.CookieSameSite = sameSite
	out.CookieMaxAge = c.RefreshTTL
	out.TrustProxy = c.TrustProxy
	out.MaxBodyBytes = c.MaxBodyBytes
	out.SigninIPMax = c.SigninIPMax
	out.SigninIPWindow = c.SigninIPWindow
	return out, nil
}

// LockoutConfig derives the credential lockout policy.
func (c Config) LockoutConfig() identity.LockoutConfig {
	return identity.LockoutConfig{Threshold: c.LockoutThreshold, Window: c.LockoutWindow}
}
