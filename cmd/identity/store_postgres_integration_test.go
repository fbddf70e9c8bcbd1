package identity

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"storefront/cmd/identity/ids"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when STOREFRONT_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_CreateFindAndConflict(t *testing.T) {
	ctx := context.Background()
	pool := mustPGXPool(ctx, t)
	store, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	suffix, _ := ids.NewULID(time.Now().UTC())
	email := "Pg." + strings.ToLower(suffix) + "@Example.test"

	u, err := store.Create(ctx, CreateUserInput{Email: email, FirstName: " Ada ", LastName: "Lovelace", PasswordHash: "hash-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), `DELETE FROM storefront.users WHERE id = $1`, u.ID) })

	if u.FirstName != "Ada" || u.Email != NormalizeEmail(email) {
		t.Fatalf("unexpected user %+v", u)
	}

	byEmail, err := store.FindByEmail(ctx, strings.ToUpper(email))
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if byEmail.ID != u.ID || byEmail.PasswordHash != "hash-1" || !byEmail.IsActive {
		t.Fatalf("unexpected lookup %+v", byEmail)
	}

	if _, err := store.Create(ctx, CreateUserInput{Email: email, PasswordHash: "hash-2"}); !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := store.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if err := store.UpdatePasswordHash(ctx, u.ID, "hash-3"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	byID, err := store.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if byID.IsActive || byID.PasswordHash != "hash-3" {
		t.Fatalf("updates not visible: %+v", byID)
	}

	if _, err := store.FindByID(ctx, "01HNOPENOPENOPENOPENOPENOP"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.SetActive(ctx, "01HNOPENOPENOPENOPENOPENOP", true); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func mustPGXPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
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

func shouldSkipIntegration(err error) bool {
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
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp")
}
