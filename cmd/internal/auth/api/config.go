package authapi

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfig is returned by Config.Validate.
var ErrConfig = errors.New("invalid auth api config")

// Config controls the auth HTTP surface.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// LoginPerMinute and LoginBurst size the per-IP token bucket on /login.
	LoginPerMinute int
	LoginBurst     int

	AdminRoles []string

	PresencePushInterval time.Duration
	WSOriginPatterns     []string
	WSWriteTimeout       time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:         1 << 20, // 1 MiB
		LoginPerMinute:       10,
		LoginBurst:           5,
		AdminRoles:           []string{"administrator"},
		PresencePushInterval: 10 * time.Second,
		WSWriteTimeout:       5 * time.Second,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: max body bytes must be positive", ErrConfig)
	case c.LoginPerMinute < 0 || c.LoginBurst < 0:
		return fmt.Errorf("%w: login rate must not be negative", ErrConfig)
	case c.LoginPerMinute > 0 && c.LoginBurst == 0:
		return fmt.Errorf("%w: login burst must be positive when a rate is set", ErrConfig)
	case len(c.AdminRoles) == 0:
		return fmt.Errorf("%w: at least one admin role is required", ErrConfig)
	case c.PresencePushInterval < time.Second:
		return fmt.Errorf("%w: presence push interval must be at least 1s", ErrConfig)
	case c.WSWriteTimeout <= 0:
		return fmt.Errorf("%w: websocket write timeout must be positive", ErrConfig)
	}
	return nil
}
