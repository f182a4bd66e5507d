package app

import (
	"errors"

	"crmauth/cmd/security/token"
)

// ValidateSecurityConfig enforces the token hashing policy at startup.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// The key is used as raw bytes; 32 matches the HMAC-SHA256 block output.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: CRM_REQUIRE_TOKEN_HMAC=true but CRM_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: CRM_REQUIRE_TOKEN_HMAC=true but CRM_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HasherFromEnv().Keyed() {
		return errors.New("security policy: CRM_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return nil
}
