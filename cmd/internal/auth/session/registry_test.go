package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRegistry_CreateAndRotate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := NewRegistry(store, cheapHasher())

	root, err := reg.Create(ctx, testEpoch, "u1", "first-secret", 15*time.Minute, 8*time.Hour, Meta{DeviceID: "d"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(root.ID) != 26 || root.FamilyID != root.ID {
		t.Fatalf("unexpected root %+v", root)
	}
	if strings.Contains(root.SecretHash, "first-secret") {
		t.Fatalf("secret stored in plaintext")
	}
	if ok, err := reg.VerifySecret(root, "first-secret"); err != nil || !ok {
		t.Fatalf("VerifySecret = %v, %v", ok, err)
	}
	if ok, _ := reg.VerifySecret(root, "other"); ok {
		t.Fatalf("wrong secret verified")
	}

	later := testEpoch.Add(10 * time.Minute)
	next, err := reg.Rotate(ctx, later, root, "second-secret", 15*time.Minute, Meta{})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if next.FamilyID != root.ID || !next.SessionExpiresAt.Equal(root.SessionExpiresAt) {
		t.Fatalf("successor did not inherit chain: %+v", next)
	}
	if !next.ExpiresAt.Equal(later.Add(15 * time.Minute)) {
		t.Fatalf("sliding deadline = %v", next.ExpiresAt)
	}

	if _, err := reg.Rotate(ctx, later, root, "third", 15*time.Minute, Meta{}); !errors.Is(err, ErrRotationConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRegistry_CreateRejectsBadInput(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), cheapHasher())

	if _, err := reg.Create(context.Background(), testEpoch, " ", "s", time.Minute, time.Hour, Meta{}); err == nil {
		t.Fatalf("expected user id error")
	}
	if _, err := reg.Create(context.Background(), testEpoch, "u", "s", 0, time.Hour, Meta{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := reg.Create(context.Background(), testEpoch, "u", "", time.Minute, time.Hour, Meta{}); err == nil {
		t.Fatalf("expected empty secret error")
	}
}

func TestRegistry_RevokeFamily(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMemoryStore(), cheapHasher())

	a, _ := reg.Create(ctx, testEpoch, "u1", "sa", time.Minute, time.Hour, Meta{})
	b, _ := reg.Create(ctx, testEpoch, "u1", "sb", time.Minute, time.Hour, Meta{})

	n, err := reg.RevokeFamily(ctx, testEpoch, a.ID, ReasonAdmin)
	if err != nil || n != 2 {
		t.Fatalf("RevokeFamily = %d, %v", n, err)
	}
	n, err = reg.RevokeFamily(ctx, testEpoch, b.ID, ReasonAdmin)
	if err != nil || n != 0 {
		t.Fatalf("second RevokeFamily = %d, %v", n, err)
	}
	if _, err := reg.RevokeFamily(ctx, testEpoch, "missing", ReasonAdmin); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := reg.Revoke(ctx, testEpoch, a.ID, ReasonAdmin); err != nil {
		t.Fatalf("Revoke on revoked record: %v", err)
	}
}
