package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"storefront/cmd/identity"
	"storefront/cmd/identity/ids"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when STOREFRONT_DATABASE_URL is set and the
// schema has been migrated. In non-CI runs, unreachable Postgres skips them.

func TestPostgresStore_Contract(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(ctx, t)

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("identity.NewPostgresStore: %v", err)
	}
	store, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	runStoreContract(t,
		func(*testing.T) Store { return store },
		func(t *testing.T) string { return mustCreateUser(ctx, t, pool, users) },
	)
}

func TestPostgresStore_RotatorEndToEnd(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(ctx, t)

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("identity.NewPostgresStore: %v", err)
	}
	store, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	uid := mustCreateUser(ctx, t, pool, users)
	user, err := users.FindByID(ctx, uid)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}

	clock := newFakeClock()
	clock.Set(time.Now().UTC().Truncate(time.Microsecond))
	rot, err := NewRotator(shortConfig(), NewRegistry(store, cheapHasher()), users, testIssuer(t), clock)
	if err != nil {
		t.Fatalf("NewRotator: %v", err)
	}

	first, err := rot.Start(ctx, user, Meta{IP: "192.0.2.10", UserAgent: "storefront-test/1.0"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(time.Minute)
	second, err := rot.Refresh(ctx, first.CookieValue, Meta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := rot.Refresh(ctx, first.CookieValue, Meta{}); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected reuse, got %v", err)
	}
	if _, err := rot.Refresh(ctx, second.CookieValue, Meta{}); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected family revoked, got %v", err)
	}

	n, err := store.DeleteExpired(ctx, second.SessionExpiresAt.Add(time.Second))
	if err != nil || n < 2 {
		t.Fatalf("DeleteExpired = %d, %v", n, err)
	}
}

func TestPostgresStore_WithSchemaRejectsBadIdent(t *testing.T) {
	if err := WithSchema(`storefront"; DROP TABLE x; --`)(&PostgresStore{}); err == nil {
		t.Fatalf("expected invalid identifier error")
	}
}

func integrationPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("STOREFRONT_DATABASE_URL")
	if dbURL == "" {
		t.Skip("STOREFRONT_DATABASE_URL is not set; skipping Postgres integration test")
	}

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (STOREFRONT_DATABASE_URL set): %v", err)
		}
		t.Fatalf("pool.Ping: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func mustCreateUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, users *identity.PostgresStore) string {
	t.Helper()

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	u, err := users.Create(ctx, identity.CreateUserInput{
		Email:        strings.ToLower(id) + "@example.test",
		FirstName:    "Session",
		LastName:     "Test",
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM storefront.users WHERE id = $1`, u.ID)
	})
	return u.ID
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
