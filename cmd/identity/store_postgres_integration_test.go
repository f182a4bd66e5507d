package identity

import (
	"context"
	"testing"
	"time"

	"crmauth/cmd/identity/ids"
	"crmauth/cmd/internal/testdb"
)

func TestPostgresDirectory_CreateAuthenticateCapabilities(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()

	store, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	d := NewDirectory(store, testPasswordConfig(), nil)

	suffix := ids.MustULID(testNow())
	username := "it_" + suffix
	role := "it_role_" + suffix
	t.Cleanup(func() {
		bg := context.Background()
		_, _ = pool.Exec(bg, `DELETE FROM crm.users WHERE username = $1`, NormalizeLogin(username))
		_, _ = pool.Exec(bg, `DELETE FROM crm.role_capabilities WHERE role = $1`, NormalizeRole(role))
	})

	u, err := d.CreateUser(ctx, CreateUserInput{
		Username: username,
		Email:    username + "@example.com",
		Role:     role,
		Password: "pipeline-2026",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if _, err := d.CreateUser(ctx, CreateUserInput{Username: username, Role: role, Password: "pipeline-2026"}); !IsConflict(err) {
		t.Fatalf("expected username conflict, got %v", err)
	}

	got, err := d.Authenticate(ctx, username+"@EXAMPLE.com", "pipeline-2026")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("expected %s, got %s", u.ID, got.ID)
	}

	if err := d.SetRoleCapabilities(ctx, role, []string{"leads.write", "leads.read"}); err != nil {
		t.Fatalf("SetRoleCapabilities: %v", err)
	}
	caps, err := d.Capabilities(ctx, role)
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if len(caps) != 2 || caps[0] != "leads.read" || caps[1] != "leads.write" {
		t.Fatalf("unexpected caps: %v", caps)
	}
}

func testNow() time.Time { return time.Now().UTC() }
