package policy

import (
	"context"
	"slices"
	"strings"
)

// AllowList admits a fixed set of roles.
type AllowList struct {
	roles map[string]struct{}
}

// NewAllowList builds an AllowList. Role names are compared case-insensitively.
func NewAllowList(roles []string) *AllowList {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r = normalizeRole(r); r != "" {
			set[r] = struct{}{}
		}
	}
	return &AllowList{roles: set}
}

// AllowLogin reports whether role is on the list.
func (a *AllowList) AllowLogin(_ context.Context, role string) (bool, error) {
	_, ok := a.roles[normalizeRole(role)]
	return ok, nil
}

// Roles returns the admitted roles, sorted.
func (a *AllowList) Roles() []string {
	out := make([]string, 0, len(a.roles))
	for r := range a.roles {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

func normalizeRole(r string) string {
	return strings.ToLower(strings.TrimSpace(r))
}
