package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
)

// RegoQuery is the decision the login policy must define.
const RegoQuery = "data.crm.auth.allow_login"

// DefaultRegoModule admits exactly the configured roles.
const DefaultRegoModule = `package crm.auth

default allow_login := false

allow_login if {
	input.role in input.allowed_roles
}
`

// RegoPolicy evaluates login admission with an OPA Rego module. The module
// sees input.role and input.allowed_roles.
type RegoPolicy struct {
	query   rego.PreparedEvalQuery
	allowed []string
}

// NewRegoPolicy compiles module (DefaultRegoModule when empty).
func NewRegoPolicy(ctx context.Context, module string, allowed []string) (*RegoPolicy, error) {
	if module == "" {
		module = DefaultRegoModule
	}
	q, err := rego.New(
		rego.Query(RegoQuery),
		rego.Module("crm_auth.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile login policy: %w", err)
	}
	return &RegoPolicy{query: q, allowed: NewAllowList(allowed).Roles()}, nil
}

// LoadRegoPolicy reads the module from path.
func LoadRegoPolicy(ctx context.Context, path string, allowed []string) (*RegoPolicy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read login policy: %w", err)
	}
	return NewRegoPolicy(ctx, string(src), allowed)
}

// AllowLogin evaluates the policy for role. An undefined decision denies.
func (p *RegoPolicy) AllowLogin(ctx context.Context, role string) (bool, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{
		"role":          normalizeRole(role),
		"allowed_roles": p.allowed,
	}))
	if err != nil {
		return false, fmt.Errorf("evaluate login policy: %w", err)
	}
	return rs.Allowed(), nil
}
