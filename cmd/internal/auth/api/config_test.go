package authapi

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}

	tests := map[string]func(*Config){
		"body":       func(c *Config) { c.MaxBodyBytes = 0 },
		"burst":      func(c *Config) { c.LoginBurst = 0 },
		"negative":   func(c *Config) { c.LoginPerMinute = -1 },
		"admins":     func(c *Config) { c.AdminRoles = nil },
		"push":       func(c *Config) { c.PresencePushInterval = 10 * time.Millisecond },
		"ws timeout": func(c *Config) { c.WSWriteTimeout = 0 },
	}
	for name, mutate := range tests {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", name, err)
		}
	}
}
