package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Seed is the development users file.
//
//	{
//	  "roles": {"sales_agent": ["leads.read", "leads.write"]},
//	  "users": [{"username": "maria", "password": "...", "role": "sales_agent"}]
//	}
type Seed struct {
	Roles map[string][]string `json:"roles"`
	Users []SeedUser          `json:"users"`
}

// SeedUser is one user entry in a Seed.
type SeedUser struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Password    string `json:"password"`
}

// LoadSeedFile reads and applies a seed file through d. Existing users are
// skipped.
func LoadSeedFile(ctx context.Context, d *Directory, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("parse seed: %w", err)
	}
	return ApplySeed(ctx, d, seed)
}

// ApplySeed creates the roles and users in seed. It returns how many users
// were created.
func ApplySeed(ctx context.Context, d *Directory, seed Seed) (int, error) {
	for role, caps := range seed.Roles {
		if err := d.SetRoleCapabilities(ctx, role, caps); err != nil {
			return 0, fmt.Errorf("seed role %q: %w", role, err)
		}
	}

	created := 0
	for _, su := range seed.Users {
		_, err := d.CreateUser(ctx, CreateUserInput{
			Username:    su.Username,
			Email:       su.Email,
			DisplayName: su.DisplayName,
			Role:        su.Role,
			Password:    su.Password,
		})
		if IsConflict(err) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed user %q: %w", su.Username, err)
		}
		created++
	}
	return created, nil
}
