package tokens

import (
	"fmt"
	"strings"
	"time"
)

// IPPolicy decides what happens when a token is presented from an IP other
// than the one it was issued to.
type IPPolicy string

const (
	// IPPolicyLog records the mismatch and accepts the token.
	IPPolicyLog IPPolicy = "log"
	// IPPolicyReject fails decoding with ErrIPMismatch.
	IPPolicyReject IPPolicy = "reject"
)

// ParseIPPolicy parses a policy name; empty means IPPolicyLog.
func ParseIPPolicy(s string) (IPPolicy, error) {
	switch p := IPPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return IPPolicyLog, nil
	case IPPolicyLog, IPPolicyReject:
		return p, nil
	default:
		return "", fmt.Errorf("%w: ip policy %q", ErrConfig, s)
	}
}

// Config controls token issuance and verification.
type Config struct {
	// Issuer is written to and required in the "iss" claim.
	Issuer string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Leeway tolerates clock skew in the expiry check.
	Leeway time.Duration

	IPPolicy IPPolicy
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:     "crm",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		IPPolicy:   IPPolicyLog,
	}
}

// Validate checks the configuration. Access tokens must expire before refresh
// tokens issued at the same login.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: issuer is empty", ErrConfig)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("%w: access ttl %s must be shorter than refresh ttl %s", ErrConfig, c.AccessTTL, c.RefreshTTL)
	}
	if c.Leeway < 0 {
		return fmt.Errorf("%w: negative leeway", ErrConfig)
	}
	if _, err := ParseIPPolicy(string(c.IPPolicy)); err != nil {
		return err
	}
	return nil
}
