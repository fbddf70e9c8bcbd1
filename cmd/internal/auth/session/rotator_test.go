package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/cmd/identity"
	"storefront/cmd/security/password"
)

func TestRotator_StartThenRefresh_Succeeds(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	ctx := context.Background()

	first := f.start(t)
	if first.AccessToken == "" || !strings.HasPrefix(first.CookieValue, first.SessionID+".") {
		t.Fatalf("unexpected issue result %+v", first)
	}
	if !first.SessionExpiresAt.Equal(testEpoch.Add(8 * time.Hour)) {
		t.Fatalf("session deadline = %v", first.SessionExpiresAt)
	}

	f.clock.Advance(5 * time.Minute)
	second, err := f.rotator.Refresh(ctx, first.CookieValue, Meta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.SessionID == first.SessionID || second.CookieValue == first.CookieValue {
		t.Fatalf("refresh did not rotate")
	}
	if !second.RefreshExpiresAt.Equal(f.clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("sliding deadline = %v", second.RefreshExpiresAt)
	}
	if !second.SessionExpiresAt.Equal(first.SessionExpiresAt) {
		t.Fatalf("session deadline moved: %v -> %v", first.SessionExpiresAt, second.SessionExpiresAt)
	}

	old := f.record(t, first.SessionID)
	if old.RevocationReason != ReasonRotated || old.ReplacedByID == nil || *old.ReplacedByID != second.SessionID {
		t.Fatalf("predecessor not linked: %+v", old)
	}
	next := f.record(t, second.SessionID)
	if next.FamilyID != first.SessionID || next.State(f.clock.Now()) != StateActive {
		t.Fatalf("successor wrong: %+v", next)
	}
}

func TestRotator_ReuseRevokesWholeChain(t *testing.T) {
	f := newRotatorFixture(t, Config{RefreshTTL: 900000 * time.Millisecond, SessionWindow: 28800000 * time.Millisecond, SecretBytes: 32})
	ctx := context.Background()

	first := f.start(t)
	second, err := f.rotator.Refresh(ctx, first.CookieValue, Meta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	_, err = f.rotator.Refresh(ctx, first.CookieValue, Meta{})
	if !errors.Is(err, ErrTokenReused) || !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected reuse, got %v", err)
	}

	_, err = f.rotator.Refresh(ctx, second.CookieValue, Meta{})
	if !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected rotated token to be dead after reuse, got %v", err)
	}
	if got := f.record(t, second.SessionID).RevocationReason; got != ReasonReuseDetected {
		t.Fatalf("successor reason = %q", got)
	}
	if f.obs.revoked[ReasonReuseDetected] != 1 {
		t.Fatalf("observer revoked = %v", f.obs.revoked)
	}
}

func TestRotator_ReuseRevokesOtherChainsOfUser(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	ctx := context.Background()

	laptop := f.start(t)
	phone := f.start(t)

	if _, err := f.rotator.Refresh(ctx, laptop.CookieValue, Meta{}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := f.rotator.Refresh(ctx, laptop.CookieValue, Meta{}); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected reuse, got %v", err)
	}
	if _, err := f.rotator.Refresh(ctx, phone.CookieValue, Meta{}); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected phone chain revoked, got %v", err)
	}
}

func TestRotator_SlidingBoundary(t *testing.T) {
	cases := []struct {
		name    string
		offset  time.Duration
		wantErr error
	}{
		{name: "one millisecond before", offset: 15*time.Minute - time.Millisecond},
		{name: "exactly at deadline", offset: 15 * time.Minute, wantErr: ErrSlidingExpired},
		{name: "after deadline", offset: 15*time.Minute + time.Second, wantErr: ErrSlidingExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRotatorFixture(t, shortConfig())
			first := f.start(t)

			f.clock.Advance(tc.offset)
			_, err := f.rotator.Refresh(context.Background(), first.CookieValue, Meta{})
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Refresh: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) || !errors.Is(err, ErrTokenExpired) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if got := f.record(t, first.SessionID).RevocationReason; got != ReasonExpired {
				t.Fatalf("expired record reason = %q", got)
			}
		})
	}
}

func TestRotator_SessionWindowWinsOverSliding(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	ctx := context.Background()

	cur := f.start(t)
	deadline := cur.SessionExpiresAt

	// Keep the chain alive right up to the window.
	for f.clock.Now().Add(10 * time.Minute).Before(deadline) {
		f.clock.Advance(10 * time.Minute)
		next, err := f.rotator.Refresh(ctx, cur.CookieValue, Meta{})
		if err != nil {
			t.Fatalf("Refresh at %v: %v", f.clock.Now(), err)
		}
		cur = next
	}
	if !cur.RefreshExpiresAt.After(deadline) {
		t.Fatalf("expected sliding deadline beyond window: %v vs %v", cur.RefreshExpiresAt, deadline)
	}

	f.clock.Set(deadline.Add(time.Second))
	_, err := f.rotator.Refresh(ctx, cur.CookieValue, Meta{})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if Kind(err) != "expired_session" {
		t.Fatalf("kind = %q", Kind(err))
	}
	if !f.record(t, cur.SessionID).Revoked() {
		t.Fatalf("expired record not revoked")
	}
}

func TestRotator_MalformedSkipsStore(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())

	for _, v := range []string{"justsomegarbage", "", ".", "abc.", ".abc"} {
		_, err := f.rotator.Refresh(context.Background(), v, Meta{})
		if !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("%q: expected malformed, got %v", v, err)
		}
	}
	if n := f.store.finds.Load(); n != 0 {
		t.Fatalf("store consulted %d times", n)
	}
}

func TestRotator_UnknownID(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())

	_, err := f.rotator.Refresh(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ.secret", Meta{})
	if !errors.Is(err, ErrTokenNotFound) || !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRotator_SecretMismatchRevokesRecord(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	first := f.start(t)

	_, err := f.rotator.Refresh(context.Background(), first.SessionID+".not-the-secret", Meta{})
	if !errors.Is(err, ErrSecretMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if got := f.record(t, first.SessionID).RevocationReason; got != ReasonSecretMismatch {
		t.Fatalf("reason = %q", got)
	}

	// The genuine holder now looks like a replay.
	if _, err := f.rotator.Refresh(context.Background(), first.CookieValue, Meta{}); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected reuse after mismatch, got %v", err)
	}
}

func TestRotator_UnreadableHashRevokesRecord(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	ctx := context.Background()
	now := f.clock.Now()

	rec := Record{
		ID:               "01HZZZZZZZZZZZZZZZZZZZZBAD",
		UserID:           f.user.ID,
		FamilyID:         "01HZZZZZZZZZZZZZZZZZZZZBAD",
		SecretHash:       "not-a-phc-string",
		CreatedAt:        now,
		ExpiresAt:        now.Add(15 * time.Minute),
		SessionExpiresAt: now.Add(8 * time.Hour),
	}
	if err := f.store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := f.rotator.Signout(ctx, rec.ID+".secret"); err != nil {
		t.Fatalf("Signout: %v", err)
	}
	if f.record(t, rec.ID).Revoked() {
		t.Fatal("signout with unverifiable secret revoked the record")
	}

	_, err := f.rotator.Refresh(ctx, rec.ID+".secret", Meta{})
	if !errors.Is(err, ErrSecretMismatch) || !errors.Is(err, password.ErrInvalidHash) {
		t.Fatalf("expected mismatch wrapping invalid hash, got %v", err)
	}
	if got := Kind(err); got != "secret_mismatch" {
		t.Fatalf("kind = %q", got)
	}
	if got := f.record(t, rec.ID).RevocationReason; got != ReasonSecretMismatch {
		t.Fatalf("reason = %q", got)
	}
}

func TestRotator_InactiveUserRevokesFamily(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	first := f.start(t)

	if err := f.users.SetActive(context.Background(), f.user.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	_, err := f.rotator.Refresh(context.Background(), first.CookieValue, Meta{})
	if !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
	if got := f.record(t, first.SessionID).RevocationReason; got != ReasonUserInactive {
		t.Fatalf("reason = %q", got)
	}
}

func TestRotator_StartRejectsInactiveUser(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())

	u := f.user
	u.IsActive = false
	if _, err := f.rotator.Start(context.Background(), u, Meta{}); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
	if f.store.Store.(*MemoryStore).Len() != 0 {
		t.Fatalf("record persisted for inactive user")
	}
}

func TestRotator_UnknownUserRevokesFamily(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())

	ghost := identity.User{ID: "01HGHOSTGHOSTGHOSTGHOSTGHO", Email: "ghost@example.com", IsActive: true}
	first, err := f.rotator.Start(context.Background(), ghost, Meta{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err = f.rotator.Refresh(context.Background(), first.CookieValue, Meta{})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if !f.record(t, first.SessionID).Revoked() {
		t.Fatalf("record not revoked")
	}
}

func TestRotator_StoreUnavailable(t *testing.T) {
	f := newRotatorFixtureWithStore(t, shortConfig(), failingStore{})

	_, err := f.rotator.Refresh(context.Background(), "abc.def", Meta{})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if errors.Is(err, ErrInvalidSession) {
		t.Fatalf("backend failure must not look like an invalid session")
	}
	if Kind(err) != "unavailable" {
		t.Fatalf("kind = %q", Kind(err))
	}

	if _, err := f.rotator.Start(context.Background(), f.user, Meta{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Start: expected unavailable, got %v", err)
	}
}

func TestRotator_SignoutIdempotent(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	ctx := context.Background()

	first := f.start(t)
	second, err := f.rotator.Refresh(ctx, first.CookieValue, Meta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := f.rotator.Signout(ctx, second.CookieValue); err != nil {
		t.Fatalf("Signout: %v", err)
	}
	after := f.record(t, second.SessionID)
	if after.RevocationReason != ReasonSignedOut {
		t.Fatalf("reason = %q", after.RevocationReason)
	}

	if err := f.rotator.Signout(ctx, second.CookieValue); err != nil {
		t.Fatalf("second Signout: %v", err)
	}
	again := f.record(t, second.SessionID)
	if !again.RevokedAt.Equal(*after.RevokedAt) || again.RevocationReason != after.RevocationReason {
		t.Fatalf("second signout changed state: %+v -> %+v", after, again)
	}

	if _, err := f.rotator.Refresh(ctx, second.CookieValue, Meta{}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("refresh after signout: %v", err)
	}
}

func TestRotator_SignoutIgnoresJunk(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	first := f.start(t)

	for _, v := range []string{"", "garbage", "01HZZZZZZZZZZZZZZZZZZZZZZZ.x", first.SessionID + ".wrong"} {
		if err := f.rotator.Signout(context.Background(), v); err != nil {
			t.Fatalf("Signout(%q): %v", v, err)
		}
	}
	if f.record(t, first.SessionID).Revoked() {
		t.Fatalf("signout with a wrong secret revoked the session")
	}
}

func TestRotator_RevokeAll(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	a := f.start(t)
	b := f.start(t)

	n, err := f.rotator.RevokeAll(context.Background(), f.user.ID, ReasonAdmin)
	if err != nil || n != 2 {
		t.Fatalf("RevokeAll = %d, %v", n, err)
	}
	for _, id := range []string{a.SessionID, b.SessionID} {
		if got := f.record(t, id).RevocationReason; got != ReasonAdmin {
			t.Fatalf("%s reason = %q", id, got)
		}
	}
}

func TestRotator_ConcurrentRefreshSingleWinner(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	first := f.start(t)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rotator.Refresh(context.Background(), first.CookieValue, Meta{})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrTokenReused) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if wins > 1 {
		t.Fatalf("%d concurrent refreshes succeeded", wins)
	}
}

func TestRotator_ObserverOutcomes(t *testing.T) {
	f := newRotatorFixture(t, shortConfig())
	first := f.start(t)

	_, _ = f.rotator.Refresh(context.Background(), first.CookieValue, Meta{})
	_, _ = f.rotator.Refresh(context.Background(), "garbage", Meta{})

	if f.obs.started != 1 {
		t.Fatalf("started = %d", f.obs.started)
	}
	want := []string{"ok", "malformed"}
	if len(f.obs.outcomes) != len(want) {
		t.Fatalf("outcomes = %v", f.obs.outcomes)
	}
	for i := range want {
		if f.obs.outcomes[i] != want[i] {
			t.Fatalf("outcomes = %v", f.obs.outcomes)
		}
	}
}

func TestNewRotator_Validates(t *testing.T) {
	if _, err := NewRotator(Config{}, nil, nil, nil, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	reg := NewRegistry(NewMemoryStore(), cheapHasher())
	if _, err := NewRotator(DefaultConfig(), reg, nil, nil, nil); err == nil {
		t.Fatalf("expected missing collaborators error")
	}
}
