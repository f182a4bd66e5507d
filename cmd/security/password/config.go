package password

import (
	"fmt"
	"runtime"
)

// Argon2idParams controls hashing cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32 `mapstructure:"memory_kib"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_len"`
	KeyLength   uint32 `mapstructure:"key_len"`
}

// Policy bounds acceptable passwords.
type Policy struct {
	MinLength      int  `mapstructure:"min_len"`
	MaxLength      int  `mapstructure:"max_len"`
	RejectVeryWeak bool `mapstructure:"reject_very_weak"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams `mapstructure:",squash"`
	Policy Policy         `mapstructure:",squash"`
}

// DefaultConfig returns interactive-login cost settings.
func DefaultConfig() Config {
	lanes := runtime.NumCPU()
	if lanes < 1 {
		lanes = 1
	}
	if lanes > 4 {
		lanes = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 12,
			MaxLength: 256,
		},
	}
}

// Check validates the configuration.
func (c Config) Check() error {
	p := c.Params
	switch {
	case p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("%w: memory_kib %d out of range [8192..1048576]", ErrConfig, p.MemoryKiB)
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("%w: iterations %d out of range [1..20]", ErrConfig, p.Iterations)
	case p.Parallelism < 1 || p.Parallelism > 64:
		return fmt.Errorf("%w: parallelism %d out of range [1..64]", ErrConfig, p.Parallelism)
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("%w: salt_len %d out of range [8..64]", ErrConfig, p.SaltLength)
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("%w: key_len %d out of range [16..64]", ErrConfig, p.KeyLength)
	}
	if c.Policy.MinLength < 1 || c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf("%w: min_len %d / max_len %d", ErrConfig, c.Policy.MinLength, c.Policy.MaxLength)
	}
	return nil
}
