package password

import (
	"strings"
	"testing"
)

func mapLookup(m map[string]string) Lookup {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := FromLookup(mapLookup(nil))
	if err != nil {
		t.Fatalf("FromLookup error: %v", err)
	}

	def := DefaultConfig()
	if cfg != def {
		t.Fatalf("got %+v want defaults %+v", cfg, def)
	}
}

func TestFromLookup_Override(t *testing.T) {
	t.Parallel()

	cfg, err := FromLookup(mapLookup(map[string]string{
		"STOREFRONT_PASSWORD_MIN_LEN":          "10",
		"STOREFRONT_PASSWORD_MAX_LEN":          "200",
		"STOREFRONT_PASSWORD_REJECT_VERY_WEAK": "true",
		"STOREFRONT_ARGON2_MEMORY_KIB":         "32768",
		"STOREFRONT_ARGON2_ITERATIONS":         "4",
		"STOREFRONT_ARGON2_PARALLELISM":        "2",
		"STOREFRONT_ARGON2_SALT_LEN":           "24",
		"STOREFRONT_ARGON2_KEY_LEN":            " 32 ",
	}))
	if err != nil {
		t.Fatalf("FromLookup error: %v", err)
	}

	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 || !cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != 24 || cfg.Params.KeyLength != 32 {
		t.Fatalf("len override failed: %+v", cfg.Params)
	}
}

func TestFromLookup_EmptyIsUnset(t *testing.T) {
	t.Parallel()

	cfg, err := FromLookup(mapLookup(map[string]string{"STOREFRONT_ARGON2_ITERATIONS": "  "}))
	if err != nil {
		t.Fatalf("FromLookup error: %v", err)
	}
	if cfg.Params.Iterations != DefaultConfig().Params.Iterations {
		t.Fatalf("iterations=%d", cfg.Params.Iterations)
	}
}

func TestFromLookup_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]map[string]string{
		"min above max":   {"STOREFRONT_PASSWORD_MIN_LEN": "20", "STOREFRONT_PASSWORD_MAX_LEN": "10"},
		"memory too low":  {"STOREFRONT_ARGON2_MEMORY_KIB": "1024"},
		"not a number":    {"STOREFRONT_ARGON2_ITERATIONS": "three"},
		"bad bool":        {"STOREFRONT_PASSWORD_REJECT_VERY_WEAK": "maybe"},
		"parallelism 300": {"STOREFRONT_ARGON2_PARALLELISM": "300"},
	}

	for name, env := range cases {
		if _, err := FromLookup(mapLookup(env)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestFromEnv_ReadsProcessEnvironment(t *testing.T) {
	t.Setenv("STOREFRONT_PASSWORD_MIN_LEN", "14")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Policy.MinLength != 14 {
		t.Fatalf("min length=%d want 14", cfg.Policy.MinLength)
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	keys := Keys()
	if len(keys) != 8 {
		t.Fatalf("keys=%d want 8", len(keys))
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, "STOREFRONT_") {
			t.Fatalf("unexpected key %q", k)
		}
	}
}
