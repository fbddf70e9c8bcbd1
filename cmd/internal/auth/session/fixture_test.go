package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront/cmd/identity"
	"storefront/cmd/internal/auth/access"
	"storefront/cmd/security/password"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingStore records how many lookups reach the backend.
type countingStore struct {
	Store
	finds atomic.Int64
}

func (s *countingStore) FindByID(ctx context.Context, id string) (Record, error) {
	s.finds.Add(1)
	return s.Store.FindByID(ctx, id)
}

// failingStore fails every call with a backend error.
type failingStore struct{}

func (failingStore) Insert(context.Context, Record) error {
	return unavailable("insert", io.ErrUnexpectedEOF)
}

func (failingStore) FindByID(context.Context, string) (Record, error) {
	return Record{}, unavailable("find", io.ErrUnexpectedEOF)
}

func (failingStore) RevokeIfActive(context.Context, string, time.Time, RevocationReason) (bool, error) {
	return false, unavailable("revoke", io.ErrUnexpectedEOF)
}

func (failingStore) Rotate(context.Context, string, Record, time.Time) error {
	return unavailable("rotate", io.ErrUnexpectedEOF)
}

func (failingStore) RevokeAllActiveForUser(context.Context, string, time.Time, RevocationReason) (int, error) {
	return 0, unavailable("revoke_all", io.ErrUnexpectedEOF)
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	outcomes []string
	revoked  map[RevocationReason]int
}

func (o *recordingObserver) SessionStarted() {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) RefreshOutcome(kind string) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, kind)
	o.mu.Unlock()
}

func (o *recordingObserver) FamilyRevoked(reason RevocationReason, n int) {
	o.mu.Lock()
	if o.revoked == nil {
		o.revoked = map[RevocationReason]int{}
	}
	o.revoked[reason] += n
	o.mu.Unlock()
}

func cheapHasher() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params = password.Argon2idParams{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func testIssuer(t *testing.T) access.Issuer {
	t.Helper()

	cfg := access.DefaultConfig()
	cfg.JWTSecret = []byte("0123456789abcdef0123456789abcdef")
	iss, err := access.New(cfg)
	if err != nil {
		t.Fatalf("access.New: %v", err)
	}
	return iss
}

type rotatorFixture struct {
	store   *countingStore
	users   *identity.MemoryStore
	clock   *fakeClock
	obs     *recordingObserver
	rotator *Rotator
	user    identity.User
}

func newRotatorFixture(t *testing.T, cfg Config) *rotatorFixture {
	t.Helper()
	return newRotatorFixtureWithStore(t, cfg, NewMemoryStore())
}

func newRotatorFixtureWithStore(t *testing.T, cfg Config, backend Store) *rotatorFixture {
	t.Helper()

	f := &rotatorFixture{
		store: &countingStore{Store: backend},
		users: identity.NewMemoryStore(),
		clock: newFakeClock(),
		obs:   &recordingObserver{},
	}

	u, err := f.users.Create(context.Background(), identity.CreateUserInput{
		Email:        "grace@example.com",
		FirstName:    "Grace",
		LastName:     "Hopper",
		PasswordHash: "unused",
		Now:          testEpoch,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	f.user = u

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := NewRotator(cfg, NewRegistry(f.store, cheapHasher()), f.users, testIssuer(t), f.clock,
		WithLogger(log), WithObserver(f.obs))
	if err != nil {
		t.Fatalf("NewRotator: %v", err)
	}
	f.rotator = r
	return f
}

func (f *rotatorFixture) start(t *testing.T) Issued {
	t.Helper()

	out, err := f.rotator.Start(context.Background(), f.user, Meta{IP: "203.0.113.7", UserAgent: "test/1.0"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return out
}

func (f *rotatorFixture) record(t *testing.T, id string) Record {
	t.Helper()

	rec, err := f.store.Store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	return rec
}

func shortConfig() Config {
	return Config{RefreshTTL: 15 * time.Minute, SessionWindow: 8 * time.Hour, SecretBytes: 32}
}
