package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"crmauth/cmd/internal/auth/tokens"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newFixture(t *testing.T) (*Service, *tokens.Service, *MemoryStore, *clock) {
	t.Helper()

	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tok, err := tokens.NewService(context.Background(), tokens.DefaultConfig(), tokens.NewMemorySecretStore(), tokens.WithClock(clk.now))
	if err != nil {
		t.Fatalf("tokens.NewService: %v", err)
	}
	store := NewMemoryStore()
	return NewService(store, tok, nil).WithClock(clk.now), tok, store, clk
}

func issueAccess(t *testing.T, tok *tokens.Service) string {
	t.Helper()
	iss, err := tok.Issue(tokens.TypeAccess, tokens.User{ID: "u-1", Role: "sales_agent"}, tokens.Meta{}, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return iss.Token
}

func TestRevokeThenIsRevoked(t *testing.T) {
	ctx := context.Background()
	svc, tok, store, _ := newFixture(t)
	raw := issueAccess(t, tok)

	if revoked, err := svc.IsRevoked(ctx, raw); err != nil || revoked {
		t.Fatalf("fresh token: revoked=%v err=%v", revoked, err)
	}

	ok, err := svc.Revoke(ctx, raw)
	if err != nil || !ok {
		t.Fatalf("Revoke: ok=%v err=%v", ok, err)
	}
	if revoked, err := svc.IsRevoked(ctx, raw); err != nil || !revoked {
		t.Fatalf("after revoke: revoked=%v err=%v", revoked, err)
	}

	// Second revoke is idempotent.
	if ok, err := svc.Revoke(ctx, raw); err != nil || !ok {
		t.Fatalf("second Revoke: ok=%v err=%v", ok, err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one entry, got %d", store.Len())
	}
}

func TestRevokeStoresHashNotToken(t *testing.T) {
	ctx := context.Background()
	svc, tok, store, _ := newFixture(t)
	raw := issueAccess(t, tok)

	if _, err := svc.Revoke(ctx, raw); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	for h, e := range store.entries {
		if h == raw || len(h) != 64 {
			t.Fatalf("expected sha256 hex key, got %q", h)
		}
		if e.UserID != "u-1" {
			t.Fatalf("expected user id, got %q", e.UserID)
		}
	}
}

func TestRevokeUndecodableToken(t *testing.T) {
	ctx := context.Background()
	svc, tok, store, _ := newFixture(t)

	refresh, err := tok.Issue(tokens.TypeRefresh, tokens.User{ID: "u-1"}, tokens.Meta{}, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for _, raw := range []string{"garbage", refresh.Token} {
		ok, err := svc.Revoke(ctx, raw)
		if err != nil || ok {
			t.Fatalf("Revoke(%q): ok=%v err=%v", raw, ok, err)
		}
	}
	if store.Len() != 0 {
		t.Fatalf("expected no entries, got %d", store.Len())
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	svc, tok, store, clk := newFixture(t)

	early := issueAccess(t, tok)
	clk.t = clk.t.Add(10 * time.Minute)
	late := issueAccess(t, tok)

	for _, raw := range []string{early, late} {
		if _, err := svc.Revoke(ctx, raw); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
	}

	// early expires at +15m, late at +25m.
	clk.t = clk.t.Add(6 * time.Minute)
	if revoked, _ := svc.IsRevoked(ctx, early); revoked {
		t.Fatalf("expired entry must not count as revoked")
	}

	n, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 || store.Len() != 1 {
		t.Fatalf("expected 1 swept and 1 left, got swept=%d left=%d", n, store.Len())
	}
	if revoked, _ := svc.IsRevoked(ctx, late); !revoked {
		t.Fatalf("unexpired entry must survive the sweep")
	}
}

type failingStore struct{ err error }

func (f failingStore) Insert(context.Context, Entry) error { return f.err }
func (f failingStore) Exists(context.Context, string, time.Time) (bool, error) {
	return false, f.err
}
func (f failingStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, f.err }

func TestStorageFailuresPropagate(t *testing.T) {
	ctx := context.Background()
	_, tok, _, _ := newFixture(t)
	boom := errors.New("db down")
	svc := NewService(failingStore{err: boom}, tok, nil)

	if ok, err := svc.Revoke(ctx, issueAccess(t, tok)); ok || !errors.Is(err, boom) {
		t.Fatalf("Revoke: ok=%v err=%v", ok, err)
	}
	if _, err := svc.IsRevoked(ctx, "x"); !errors.Is(err, boom) {
		t.Fatalf("IsRevoked: %v", err)
	}
	if _, err := svc.Sweep(ctx); !errors.Is(err, boom) {
		t.Fatalf("Sweep: %v", err)
	}
}

func TestRevokeAsRefresh(t *testing.T) {
	ctx := context.Background()
	svc, tok, _, _ := newFixture(t)

	refresh, err := tok.Issue(tokens.TypeRefresh, tokens.User{ID: "u-1"}, tokens.Meta{}, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	ok, err := svc.RevokeAs(ctx, refresh.Token, tokens.TypeRefresh)
	if err != nil || !ok {
		t.Fatalf("RevokeAs: ok=%v err=%v", ok, err)
	}
	if revoked, _ := svc.IsRevoked(ctx, refresh.Token); !revoked {
		t.Fatalf("refresh token must be blacklisted")
	}
}
