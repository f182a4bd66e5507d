package session

import (
	"fmt"
	"time"

	"crmauth/cmd/security/token"
)

// Config defines tracker tuning.
type Config struct {
	// IdleTimeout is how long an active session may go without a heartbeat
	// before Sweep ends it.
	IdleTimeout time.Duration

	// PresenceWindow bounds ListActive to sessions seen this recently.
	PresenceWindow time.Duration

	// TokenBytes is the entropy of a session token.
	TokenBytes int
}

// DefaultConfig returns the standard presence settings.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    30 * time.Minute,
		PresenceWindow: 5 * time.Minute,
		TokenBytes:     32,
	}
}

// Validate returns ErrConfig for unusable settings.
func (c Config) Validate() error {
	if c.IdleTimeout <= 0 || c.PresenceWindow <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrConfig)
	}
	if c.PresenceWindow > c.IdleTimeout {
		return fmt.Errorf("%w: presence window %s exceeds idle timeout %s", ErrConfig, c.PresenceWindow, c.IdleTimeout)
	}
	if c.TokenBytes < 32 || c.TokenBytes > token.MaxOpaqueBytes {
		return fmt.Errorf("%w: token bytes must be in [32,%d]", ErrConfig, token.MaxOpaqueBytes)
	}
	return nil
}
