package client

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrConfig is returned for invalid client settings.
var ErrConfig = errors.New("invalid client config")

// Config controls a Client.
type Config struct {
	BaseURL string

	// RequestTimeout bounds every HTTP call, RefreshTimeout the refresh call.
	RequestTimeout time.Duration
	RefreshTimeout time.Duration

	UserAgent string
}

// DefaultConfig returns defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		RequestTimeout: 30 * time.Second,
		RefreshTimeout: 30 * time.Second,
		UserAgent:      "crmauth-client/1",
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: base url must be absolute", ErrConfig)
	}
	if c.RequestTimeout <= 0 || c.RefreshTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrConfig)
	}
	return nil
}
