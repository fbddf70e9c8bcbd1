package identity

import (
	"context"
	"sync"
	"time"
)

// Lockout counts failed credential checks per key. Threshold failures inside
// Window lock the key until the window lapses.
type Lockout interface {
	// Locked reports whether key is locked and for how much longer.
	Locked(ctx context.Context, key string) (bool, time.Duration, error)

	// Fail records a failure and reports whether the key is now locked.
	Fail(ctx context.Context, key string) (bool, error)

	// Reset clears the counter after a successful check.
	Reset(ctx context.Context, key string) error
}

// LockoutConfig holds the lockout policy.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
}

// DefaultLockoutConfig locks after 5 failures for 15 minutes.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{Threshold: 5, Window: 15 * time.Minute}
}

func (c LockoutConfig) enabled() bool { return c.Threshold > 0 && c.Window > 0 }

type lockoutEntry struct {
	count   int
	resetAt time.Time
}

// MemoryLockout is an in-process Lockout.
type MemoryLockout struct {
	cfg LockoutConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]lockoutEntry
}

// NewMemoryLockout creates a MemoryLockout. now may be nil.
func NewMemoryLockout(cfg LockoutConfig, now func() time.Time) *MemoryLockout {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryLockout{cfg: cfg, now: now, entries: make(map[string]lockoutEntry)}
}

func (l *MemoryLockout) Locked(_ context.Context, key string) (bool, time.Duration, error) {
	if !l.cfg.enabled() {
		return false, 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.live(key)
	if !ok || e.count < l.cfg.Threshold {
		return false, 0, nil
	}
	return true, e.resetAt.Sub(l.now()), nil
}

func (l *MemoryLockout) Fail(_ context.Context, key string) (bool, error) {
	if !l.cfg.enabled() {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.live(key)
	if !ok {
		e = lockoutEntry{resetAt: l.now().Add(l.cfg.Window)}
	}
	e.count++
	l.entries[key] = e
	return e.count >= l.cfg.Threshold, nil
}

func (l *MemoryLockout) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// live returns the entry for key unless its window has lapsed.
func (l *MemoryLockout) live(key string) (lockoutEntry, bool) {
	e, ok := l.entries[key]
	if !ok {
		return lockoutEntry{}, false
	}
	if !l.now().Before(e.resetAt) {
		delete(l.entries, key)
		return lockoutEntry{}, false
	}
	return e, true
}
