package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	authapi "crmauth/cmd/internal/auth/api"
	"crmauth/cmd/internal/auth/session"
	"crmauth/cmd/internal/auth/tokens"
	"crmauth/cmd/internal/jobs"
)

// ErrConfig is returned when the runtime configuration is unusable.
var ErrConfig = errors.New("invalid config")

// Config contains all runtime configuration. Keys are environment variable
// names; an optional .env file in the working directory is read first and
// the environment overrides it.
type Config struct {
	HTTPAddr  string `mapstructure:"CRM_HTTP_ADDR"`
	LogLevel  string `mapstructure:"CRM_LOG_LEVEL"`
	LogFormat string `mapstructure:"CRM_LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `mapstructure:"CRM_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"CRM_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"CRM_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"CRM_HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `mapstructure:"CRM_HTTP_SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes    int           `mapstructure:"CRM_HTTP_MAX_HEADER_BYTES"`

	CORSAllowedOrigins   []string `mapstructure:"CRM_CORS_ALLOWED_ORIGINS"`
	CORSAllowCredentials bool     `mapstructure:"CRM_CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `mapstructure:"CRM_CORS_MAX_AGE_SECONDS"`

	DatabaseURL string `mapstructure:"CRM_DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"CRM_DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"CRM_DB_MIN_CONNS"`
	AutoMigrate bool   `mapstructure:"CRM_AUTO_MIGRATE"`

	// ReadinessRequireDB makes /readyz fail unless a database is configured
	// and reachable.
	ReadinessRequireDB bool `mapstructure:"CRM_READINESS_REQUIRE_DB"`

	AuthIssuer         string        `mapstructure:"CRM_AUTH_ISSUER"`
	AccessTTL          time.Duration `mapstructure:"CRM_AUTH_ACCESS_TTL"`
	RefreshTTL         time.Duration `mapstructure:"CRM_AUTH_REFRESH_TTL"`
	ClockLeeway        time.Duration `mapstructure:"CRM_AUTH_CLOCK_LEEWAY"`
	IPPolicy           string        `mapstructure:"CRM_AUTH_IP_POLICY"`
	AllowedRoles       []string      `mapstructure:"CRM_AUTH_ALLOWED_ROLES"`
	AdminRoles         []string      `mapstructure:"CRM_AUTH_ADMIN_ROLES"`
	PolicyFile         string        `mapstructure:"CRM_AUTH_POLICY_FILE"`
	PermissionCacheTTL time.Duration `mapstructure:"CRM_AUTH_PERMISSION_CACHE_TTL"`
	TrustProxy         bool          `mapstructure:"CRM_AUTH_TRUST_PROXY"`
	LoginRate          int           `mapstructure:"CRM_AUTH_LOGIN_RATE"`
	LoginBurst         int           `mapstructure:"CRM_AUTH_LOGIN_BURST"`
	MaxBodyBytes       int64         `mapstructure:"CRM_AUTH_MAX_BODY_BYTES"`

	SessionIdleTimeout    time.Duration `mapstructure:"CRM_SESSION_IDLE_TIMEOUT"`
	SessionPresenceWindow time.Duration `mapstructure:"CRM_SESSION_PRESENCE_WINDOW"`
	PresencePushInterval  time.Duration `mapstructure:"CRM_PRESENCE_PUSH_INTERVAL"`
	WSOriginPatterns      []string      `mapstructure:"CRM_WS_ORIGIN_PATTERNS"`

	SweepRevocationInterval time.Duration `mapstructure:"CRM_SWEEP_REVOCATION_INTERVAL"`
	SweepSessionInterval    time.Duration `mapstructure:"CRM_SWEEP_SESSION_INTERVAL"`
	SecretReloadInterval    time.Duration `mapstructure:"CRM_SECRET_RELOAD_INTERVAL"`

	// DevUsersFile seeds the in-memory credential directory.
	DevUsersFile string `mapstructure:"CRM_DEV_USERS_FILE"`

	OTelEndpoint string `mapstructure:"CRM_OTEL_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"CRM_OTEL_INSECURE"`

	// RequireTokenHMAC refuses to start unless CRM_TOKEN_HMAC_KEY is set, so
	// session tokens are stored as keyed hashes.
	RequireTokenHMAC bool `mapstructure:"CRM_REQUIRE_TOKEN_HMAC"`
}

func setDefaults(v *viper.Viper) {
	tc := tokens.DefaultConfig()
	sc := session.DefaultConfig()
	ac := authapi.DefaultConfig()
	iv := jobs.DefaultIntervals()

	v.SetDefault("CRM_HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("CRM_LOG_LEVEL", "info")
	v.SetDefault("CRM_LOG_FORMAT", "json")

	v.SetDefault("CRM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	v.SetDefault("CRM_HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("CRM_HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("CRM_HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("CRM_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("CRM_HTTP_MAX_HEADER_BYTES", 1<<20)

	v.SetDefault("CRM_CORS_ALLOWED_ORIGINS", []string{})
	v.SetDefault("CRM_CORS_ALLOW_CREDENTIALS", false)
	v.SetDefault("CRM_CORS_MAX_AGE_SECONDS", 600)

	v.SetDefault("CRM_DATABASE_URL", "")
	v.SetDefault("CRM_DB_MAX_CONNS", 10)
	v.SetDefault("CRM_DB_MIN_CONNS", 0)
	v.SetDefault("CRM_AUTO_MIGRATE", false)
	v.SetDefault("CRM_READINESS_REQUIRE_DB", false)

	v.SetDefault("CRM_AUTH_ISSUER", tc.Issuer)
	v.SetDefault("CRM_AUTH_ACCESS_TTL", tc.AccessTTL)
	v.SetDefault("CRM_AUTH_REFRESH_TTL", tc.RefreshTTL)
	v.SetDefault("CRM_AUTH_CLOCK_LEEWAY", tc.Leeway)
	v.SetDefault("CRM_AUTH_IP_POLICY", string(tc.IPPolicy))
	v.SetDefault("CRM_AUTH_ALLOWED_ROLES", []string{"administrator", "sales_manager", "sales_agent", "support"})
	v.SetDefault("CRM_AUTH_ADMIN_ROLES", ac.AdminRoles)
	v.SetDefault("CRM_AUTH_POLICY_FILE", "")
	v.SetDefault("CRM_AUTH_PERMISSION_CACHE_TTL", 5*time.Minute)
	v.SetDefault("CRM_AUTH_TRUST_PROXY", ac.TrustProxy)
	v.SetDefault("CRM_AUTH_LOGIN_RATE", ac.LoginPerMinute)
	v.SetDefault("CRM_AUTH_LOGIN_BURST", ac.LoginBurst)
	v.SetDefault("CRM_AUTH_MAX_BODY_BYTES", ac.MaxBodyBytes)

	v.SetDefault("CRM_SESSION_IDLE_TIMEOUT", sc.IdleTimeout)
	v.SetDefault("CRM_SESSION_PRESENCE_WINDOW", sc.PresenceWindow)
	v.SetDefault("CRM_PRESENCE_PUSH_INTERVAL", ac.PresencePushInterval)
	v.SetDefault("CRM_WS_ORIGIN_PATTERNS", []string{})

	v.SetDefault("CRM_SWEEP_REVOCATION_INTERVAL", iv.Revocation)
	v.SetDefault("CRM_SWEEP_SESSION_INTERVAL", iv.Sessions)
	v.SetDefault("CRM_SECRET_RELOAD_INTERVAL", iv.Secrets)

	v.SetDefault("CRM_DEV_USERS_FILE", "")
	v.SetDefault("CRM_OTEL_ENDPOINT", "")
	v.SetDefault("CRM_OTEL_INSECURE", false)
	v.SetDefault("CRM_REQUIRE_TOKEN_HMAC", false)
}

// LoadConfig reads .env (if present) and the environment into a validated
// Config. A missing .env is ignored.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	cfg.CORSAllowedOrigins = cleanList(cfg.CORSAllowedOrigins)
	cfg.AllowedRoles = cleanList(cfg.AllowedRoles)
	cfg.AdminRoles = cleanList(cfg.AdminRoles)
	cfg.WSOriginPatterns = cleanList(cfg.WSOriginPatterns)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings owned by the runtime and by every component
// config derived from them.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: CRM_HTTP_ADDR must be set", ErrConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: CRM_LOG_FORMAT must be json or text, got %q", ErrConfig, c.LogFormat)
	}
	if c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("%w: CRM_DB_MIN_CONNS must be between 0 and CRM_DB_MAX_CONNS", ErrConfig)
	}
	if c.AutoMigrate && c.DatabaseURL == "" {
		return fmt.Errorf("%w: CRM_AUTO_MIGRATE requires CRM_DATABASE_URL", ErrConfig)
	}
	if len(c.AllowedRoles) == 0 && c.PolicyFile == "" {
		return fmt.Errorf("%w: CRM_AUTH_ALLOWED_ROLES is empty", ErrConfig)
	}
	if c.PermissionCacheTTL <= 0 {
		return fmt.Errorf("%w: CRM_AUTH_PERMISSION_CACHE_TTL must be positive", ErrConfig)
	}
	if c.SweepRevocationInterval < 0 || c.SweepSessionInterval < 0 || c.SecretReloadInterval < 0 {
		return fmt.Errorf("%w: job intervals must not be negative", ErrConfig)
	}

	tc, err := c.Tokens()
	if err != nil {
		return err
	}
	if err := tc.Validate(); err != nil {
		return err
	}
	if err := c.Session().Validate(); err != nil {
		return err
	}
	return c.AuthAPI().Validate()
}

// Tokens derives the token service config.
func (c Config) Tokens() (tokens.Config, error) {
	p, err := tokens.ParseIPPolicy(c.IPPolicy)
	if err != nil {
		return tokens.Config{}, fmt.Errorf("%w: CRM_AUTH_IP_POLICY: %w", ErrConfig, err)
	}
	return tokens.Config{
		Issuer:     c.AuthIssuer,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
		Leeway:     c.ClockLeeway,
		IPPolicy:   p,
	}, nil
}

// Session derives the presence tracker config.
func (c Config) Session() session.Config {
	sc := session.DefaultConfig()
	sc.IdleTimeout = c.SessionIdleTimeout
	sc.PresenceWindow = c.SessionPresenceWindow
	return sc
}

// AuthAPI derives the HTTP surface config.
func (c Config) AuthAPI() authapi.Config {
	ac := authapi.DefaultConfig()
	ac.TrustProxy = c.TrustProxy
	ac.MaxBodyBytes = c.MaxBodyBytes
	ac.LoginPerMinute = c.LoginRate
	ac.LoginBurst = c.LoginBurst
	ac.AdminRoles = slices.Clone(c.AdminRoles)
	ac.PresencePushInterval = c.PresencePushInterval
	ac.WSOriginPatterns = slices.Clone(c.WSOriginPatterns)
	return ac
}

// Intervals derives the maintenance job schedule.
func (c Config) Intervals() jobs.Intervals {
	return jobs.Intervals{
		Revocation:  c.SweepRevocationInterval,
		Sessions:    c.SweepSessionInterval,
		SessionIdle: c.SessionIdleTimeout,
		Secrets:     c.SecretReloadInterval,
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		// A single env value "a,b" may arrive unsplit.
		for part := range strings.SplitSeq(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
