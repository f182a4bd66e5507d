package tokens

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testUser = User{
	ID:           "u-42",
	Username:     "maria",
	Email:        "maria@example.com",
	DisplayName:  "Maria Lopez",
	Role:         "sales_agent",
	Capabilities: []string{"leads.read", "leads.write"},
}

var testMeta = Meta{IP: "203.0.113.7", UserAgent: "crm-console/1.0"}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, mutate func(*Config)) (*Service, *testClock) {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	svc, err := NewService(context.Background(), cfg, NewMemorySecretStore(), WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, clk
}

func mustIssue(t *testing.T, svc *Service, typ Type) Issued {
	t.Helper()
	iss, err := svc.Issue(typ, testUser, testMeta, "sess-1")
	if err != nil {
		t.Fatalf("Issue(%s): %v", typ, err)
	}
	return iss
}

func TestRoundTrip(t *testing.T) {
	svc, _ := newTestService(t, nil)

	for _, typ := range Types {
		iss := mustIssue(t, svc, typ)

		got, err := svc.Decode(iss.Token, typ, testMeta.IP)
		if err != nil {
			t.Fatalf("Decode(%s): %v", typ, err)
		}
		if got.Type != typ || got.Subject != testUser.ID || got.Issuer != "crm" {
			t.Fatalf("unexpected registered claims: %+v", got)
		}
		if got.User.Username != testUser.Username || got.User.Role != testUser.Role {
			t.Fatalf("user snapshot mismatch: %+v", got.User)
		}
		if strings.Join(got.User.Capabilities, ",") != "leads.read,leads.write" {
			t.Fatalf("capabilities mismatch: %v", got.User.Capabilities)
		}
		if got.Meta != testMeta || got.SessionID != "sess-1" {
			t.Fatalf("meta/sid mismatch: %+v %q", got.Meta, got.SessionID)
		}
		if got.ID == "" {
			t.Fatalf("expected jti")
		}
		if !got.ExpiresAt.Time.Equal(iss.ExpiresAt) {
			t.Fatalf("exp mismatch: %v vs %v", got.ExpiresAt.Time, iss.ExpiresAt)
		}
	}
}

func TestIssuePairAccessExpiresFirst(t *testing.T) {
	svc, _ := newTestService(t, nil)

	access, refresh, err := svc.IssuePair(testUser, testMeta, "sess-1")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if !access.ExpiresAt.Before(refresh.ExpiresAt) {
		t.Fatalf("access exp %v must precede refresh exp %v", access.ExpiresAt, refresh.ExpiresAt)
	}
	if access.Claims.ID == refresh.Claims.ID {
		t.Fatalf("jti must differ between access and refresh")
	}
}

func TestTypeIsolation(t *testing.T) {
	svc, _ := newTestService(t, nil)

	access := mustIssue(t, svc, TypeAccess)
	refresh := mustIssue(t, svc, TypeRefresh)

	if _, err := svc.Decode(access.Token, TypeRefresh, ""); !errors.Is(err, ErrWrongType) {
		t.Fatalf("access as refresh: expected ErrWrongType, got %v", err)
	}
	if _, err := svc.Decode(refresh.Token, TypeAccess, ""); !errors.Is(err, ErrWrongType) {
		t.Fatalf("refresh as access: expected ErrWrongType, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	svc, clk := newTestService(t, nil)
	access := mustIssue(t, svc, TypeAccess)

	clk.Advance(15*time.Minute - time.Second)
	if _, err := svc.Decode(access.Token, TypeAccess, ""); err != nil {
		t.Fatalf("expected valid just before exp, got %v", err)
	}

	clk.Advance(time.Second)
	if _, err := svc.Decode(access.Token, TypeAccess, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at exp, got %v", err)
	}
}

func TestExpiryLeeway(t *testing.T) {
	svc, clk := newTestService(t, func(c *Config) { c.Leeway = time.Minute })
	access := mustIssue(t, svc, TypeAccess)

	clk.Advance(15*time.Minute + 30*time.Second)
	if _, err := svc.Decode(access.Token, TypeAccess, ""); err != nil {
		t.Fatalf("expected leeway to accept token, got %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := svc.Decode(access.Token, TypeAccess, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired past leeway, got %v", err)
	}
}

func TestExpiredWinsOverWrongType(t *testing.T) {
	svc, clk := newTestService(t, nil)
	access := mustIssue(t, svc, TypeAccess)

	clk.Advance(time.Hour)
	if _, err := svc.Decode(access.Token, TypeRefresh, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRotateInvalidatesOutstandingTokens(t *testing.T) {
	svc, _ := newTestService(t, nil)
	access := mustIssue(t, svc, TypeAccess)
	refresh := mustIssue(t, svc, TypeRefresh)

	if err := svc.Rotate(context.Background(), TypeAccess); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if _, err := svc.Decode(access.Token, TypeAccess, ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature after rotation, got %v", err)
	}
	if _, err := svc.Decode(refresh.Token, TypeRefresh, ""); err != nil {
		t.Fatalf("refresh tokens must survive access rotation, got %v", err)
	}
	if _, err := svc.Decode(mustIssue(t, svc, TypeAccess).Token, TypeAccess, ""); err != nil {
		t.Fatalf("new access token must verify, got %v", err)
	}
}

func TestReloadPicksUpRotationFromAnotherInstance(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySecretStore()

	a, err := NewService(ctx, DefaultConfig(), store)
	if err != nil {
		t.Fatalf("NewService a: %v", err)
	}
	b, err := NewService(ctx, DefaultConfig(), store)
	if err != nil {
		t.Fatalf("NewService b: %v", err)
	}

	if err := a.Rotate(ctx, TypeAccess); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	iss, err := a.Issue(TypeAccess, testUser, testMeta, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := b.Decode(iss.Token, TypeAccess, ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected stale instance to reject, got %v", err)
	}
	if err := b.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := b.Decode(iss.Token, TypeAccess, ""); err != nil {
		t.Fatalf("expected reloaded instance to accept, got %v", err)
	}
}

func TestIPMismatchPolicy(t *testing.T) {
	logSvc, _ := newTestService(t, nil)
	if _, err := logSvc.Decode(mustIssue(t, logSvc, TypeAccess).Token, TypeAccess, "198.51.100.9"); err != nil {
		t.Fatalf("log policy must accept, got %v", err)
	}

	rejectSvc, _ := newTestService(t, func(c *Config) { c.IPPolicy = IPPolicyReject })
	tok := mustIssue(t, rejectSvc, TypeAccess).Token
	if _, err := rejectSvc.Decode(tok, TypeAccess, "198.51.100.9"); !errors.Is(err, ErrIPMismatch) {
		t.Fatalf("reject policy: expected ErrIPMismatch, got %v", err)
	}
	if _, err := rejectSvc.Decode(tok, TypeAccess, ""); err != nil {
		t.Fatalf("unknown client ip must not be compared, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty issuer", func(c *Config) { c.Issuer = " " }},
		{"zero access ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"access not shorter", func(c *Config) { c.AccessTTL = c.RefreshTTL }},
		{"negative leeway", func(c *Config) { c.Leeway = -time.Second }},
		{"bad ip policy", func(c *Config) { c.IPPolicy = "block" }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", tc.name, err)
		}
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	if got := KindOf(ErrExpired); got != KindExpired {
		t.Fatalf("KindOf(ErrExpired)=%q", got)
	}
	if got := KindOf(errors.New("boom")); got != KindInvalid {
		t.Fatalf("KindOf(other)=%q", got)
	}
	wrapped := jwt.ErrTokenExpired
	if got := KindOf(wrapped); got != KindInvalid {
		t.Fatalf("library errors must not leak kinds, got %q", got)
	}
}
