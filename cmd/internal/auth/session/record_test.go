package session

import (
	"testing"
	"time"
)

func TestRecord_ExpiryKind(t *testing.T) {
	rec := Record{
		ExpiresAt:        testEpoch.Add(15 * time.Minute),
		SessionExpiresAt: testEpoch.Add(time.Hour),
	}

	cases := []struct {
		at   time.Time
		want error
	}{
		{testEpoch, nil},
		{rec.ExpiresAt.Add(-time.Millisecond), nil},
		{rec.ExpiresAt, ErrSlidingExpired},
		{rec.SessionExpiresAt, ErrSessionExpired},
	}
	for _, tc := range cases {
		if got := rec.ExpiryKind(tc.at); got != tc.want {
			t.Fatalf("ExpiryKind(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}

	// Absolute deadline wins when both have passed.
	short := Record{ExpiresAt: testEpoch.Add(time.Hour), SessionExpiresAt: testEpoch.Add(time.Minute)}
	if got := short.ExpiryKind(testEpoch.Add(2 * time.Hour)); got != ErrSessionExpired {
		t.Fatalf("expected session expiry, got %v", got)
	}
}

func TestRecord_State(t *testing.T) {
	rec := Record{ExpiresAt: testEpoch.Add(time.Minute), SessionExpiresAt: testEpoch.Add(time.Hour)}
	if rec.State(testEpoch) != StateActive {
		t.Fatalf("expected active")
	}
	if rec.State(testEpoch.Add(2*time.Minute)) != StateExpired {
		t.Fatalf("expected expired")
	}
	revoked := testEpoch
	rec.RevokedAt = &revoked
	if rec.State(testEpoch) != StateRevoked {
		t.Fatalf("expected revoked")
	}
}
