package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the interactive-login baseline: 64 MiB, 3 passes,
// parallelism clamped to [1..4].
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// Lookup returns the raw value of key and whether it was set.
type Lookup func(key string) (string, bool)

// setting binds one configuration key to the field it overrides.
type setting struct {
	key   string
	apply func(cfg *Config, raw string) error
}

var settings = []setting{
	{"STOREFRONT_PASSWORD_MIN_LEN", func(cfg *Config, raw string) (err error) {
		cfg.Policy.MinLength, err = parseIntIn(raw, 1, 1024)
		return err
	}},
	{"STOREFRONT_PASSWORD_MAX_LEN", func(cfg *Config, raw string) (err error) {
		cfg.Policy.MaxLength, err = parseIntIn(raw, 1, 4096)
		return err
	}},
	{"STOREFRONT_PASSWORD_REJECT_VERY_WEAK", func(cfg *Config, raw string) (err error) {
		cfg.Policy.RejectVeryWeak, err = strconv.ParseBool(strings.TrimSpace(raw))
		return err
	}},
	{"STOREFRONT_ARGON2_MEMORY_KIB", func(cfg *Config, raw string) (err error) {
		cfg.Params.MemoryKiB, err = parseUint32In(raw, 8*1024, 1024*1024) // 8 MiB .. 1 GiB
		return err
	}},
	{"STOREFRONT_ARGON2_ITERATIONS", func(cfg *Config, raw string) (err error) {
		cfg.Params.Iterations, err = parseUint32In(raw, 1, 20)
		return err
	}},
	{"STOREFRONT_ARGON2_PARALLELISM", func(cfg *Config, raw string) error {
		u, err := parseUint32In(raw, 1, math.MaxUint8)
		if err != nil {
			return err
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
		return nil
	}},
	{"STOREFRONT_ARGON2_SALT_LEN", func(cfg *Config, raw string) (err error) {
		cfg.Params.SaltLength, err = parseUint32In(raw, 8, 64)
		return err
	}},
	{"STOREFRONT_ARGON2_KEY_LEN", func(cfg *Config, raw string) (err error) {
		cfg.Params.KeyLength, err = parseUint32In(raw, 16, 64)
		return err
	}},
}

// Keys lists every key FromLookup understands.
func Keys() []string {
	out := make([]string, 0, len(settings))
	for _, s := range settings {
		out = append(out, s.key)
	}
	return out
}

// FromEnv loads config from the process environment.
func FromEnv() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup starts from DefaultConfig and applies every key lookup reports
// as set. Empty values are treated as unset.
func FromLookup(lookup Lookup) (Config, error) {
	cfg := DefaultConfig()

	for _, s := range settings {
		raw, ok := lookup(s.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := s.apply(&cfg, raw); err != nil {
			return Config{}, fmt.Errorf("%s: %w", s.key, err)
		}
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)", cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func parseIntIn(raw string, minVal, maxVal int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}

func parseUint32In(raw string, minVal, maxVal uint32) (uint32, error) {
	u, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	if uint32(u) < minVal || uint32(u) > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return uint32(u), nil
}
