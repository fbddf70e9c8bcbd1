package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// commonPasswords are rejected outright when RejectVeryWeak is on.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"123456":      {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"11111111":    {},
	"letmein":     {},
	"iloveyou":    {},
	"storefront":  {},
}

// weakRules are cheap structural checks. Each reports true for a weak
// password; none of them estimates entropy.
var weakRules = []func(s string) bool{
	func(s string) bool { return s == "" },
	singleRune,
	func(s string) bool { return allDigits(s) && utf8.RuneCountInString(s) < 12 },
	func(s string) bool {
		_, ok := commonPasswords[strings.ToLower(s)]
		return ok
	},
}

// Validate checks password length in runes and, when enabled, the weak
// pattern rules. It does not mutate input.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}

	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	for _, weak := range weakRules {
		if weak(s) {
			return true
		}
	}
	return false
}

func singleRune(s string) bool {
	first, _ := utf8.DecodeRuneInString(s)
	for _, r := range s {
		if r != first {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
