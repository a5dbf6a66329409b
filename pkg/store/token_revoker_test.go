package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryTokenRevokerUserCutoffMonotonic(t *testing.T) {
	r := NewMemoryTokenRevoker()
	first := time.Now().UTC().Add(-time.Minute)
	second := time.Now().UTC()

	if err := r.RevokeUser("user-1", first); err != nil {
		t.Fatalf("revoke user first: %v", err)
	}
	if err := r.RevokeUser("user-1", first.Add(-time.Minute)); err != nil {
		t.Fatalf("revoke user older cutoff: %v", err)
	}
	got, err := r.RevokedAfter("user-1")
	if err != nil {
		t.Fatalf("revoked after first: %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("expected first cutoff to be kept, got %v", got)
	}

	if err := r.RevokeUser("user-1", second); err != nil {
		t.Fatalf("revoke user second: %v", err)
	}
	got, err = r.RevokedAfter("user-1")
	if err != nil {
		t.Fatalf("revoked after second: %v", err)
	}
	if !got.Equal(second) {
		t.Fatalf("expected newest cutoff, got %v", got)
	}
}

func TestMemoryTokenRevokerExpires(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("jti-0", 0); err != nil {
		t.Fatalf("revoke zero ttl: %v", err)
	}
	if revoked, _ := r.IsRevoked("jti-0"); revoked {
		t.Fatalf("zero ttl should not revoke")
	}
	if err := r.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, _ := r.IsRevoked("jti-1"); !revoked {
		t.Fatalf("expected jti-1 to be revoked")
	}
}

func TestMemoryTokenRevokerPrunesExpiredOnRevoke(t *testing.T) {
	r := NewMemoryTokenRevoker()
	r.tokens["stale-1"] = time.Now().Add(-time.Minute)
	r.tokens["stale-2"] = time.Now().Add(-time.Second)
	if err := r.Revoke("fresh", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(r.tokens) != 1 {
		t.Fatalf("expected only the fresh entry, got %v", r.tokens)
	}
	if revoked, _ := r.IsRevoked("fresh"); !revoked {
		t.Fatalf("expected fresh to be revoked")
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisTokenRevoker(mr.Addr(), "")
	t.Cleanup(func() { _ = r.Close() })

	if err := r.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got revoked=%v err=%v", revoked, err)
	}
	mr.FastForward(2 * time.Minute)
	revoked, err = r.IsRevoked("jti-1")
	if err != nil || revoked {
		t.Fatalf("expected revocation to expire, got revoked=%v err=%v", revoked, err)
	}
}

func TestRedisTokenRevokerUserCutoffMonotonic(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisTokenRevoker(mr.Addr(), "")
	t.Cleanup(func() { _ = r.Close() })

	got, err := r.RevokedAfter("42")
	if err != nil || !got.IsZero() {
		t.Fatalf("expected no cutoff, got %v err=%v", got, err)
	}

	first := time.UnixMilli(time.Now().Add(-time.Minute).UnixMilli()).UTC()
	if err := r.RevokeUser("42", first); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if err := r.RevokeUser("42", first.Add(-time.Hour)); err != nil {
		t.Fatalf("revoke user older: %v", err)
	}
	got, err = r.RevokedAfter("42")
	if err != nil {
		t.Fatalf("revoked after: %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("expected %v to be kept, got %v", first, got)
	}

	second := first.Add(30 * time.Second)
	if err := r.RevokeUser("42", second); err != nil {
		t.Fatalf("revoke user newer: %v", err)
	}
	got, _ = r.RevokedAfter("42")
	if !got.Equal(second) {
		t.Fatalf("expected newest cutoff %v, got %v", second, got)
	}
}

func TestJWTSessionStoreWithRedisRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisTokenRevoker(mr.Addr(), "")
	t.Cleanup(func() { _ = r.Close() })
	store := newRSStoreWithOptions(t, "redis-revoker", r, JWTOptions{})

	token, err := store.NewSession("9")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := store.GetUserIDByToken(token); err != nil || !ok {
		t.Fatalf("expected valid token, ok=%v err=%v", ok, err)
	}
	if err := store.RevokeUserSessions("9", time.Now().UTC()); err != nil {
		t.Fatalf("revoke user sessions: %v", err)
	}
	if _, ok, err := store.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected token revoked by user cutoff, ok=%v err=%v", ok, err)
	}
}
