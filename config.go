package authgate

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MinSecretLength is the shortest accepted HMAC secret, in bytes.
const MinSecretLength = 32

// Environment selects production or development behavior. Development
// deployments may expose error detail to clients.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
)

// Config is the complete engine configuration. Start from DefaultConfig
// and override fields; Build validates the result.
type Config struct {
	JWT           JWTConfig
	Lockout       LockoutConfig
	PasswordReset PasswordResetConfig
	Password      PasswordConfig
	Cookie        CookieConfig
	Revocation    RevocationConfig
	RateLimit     RateLimitConfig
	Timeouts      TimeoutConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Environment   Environment
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds the two HS256 secrets and token lifetimes.
type JWTConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
LOGIN / PASSWORD CONFIG
====================================
*/

// LockoutConfig controls the failed-login lock.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

type PasswordResetConfig struct {
	TokenTTL time.Duration
	// ResetURL is the front-end page that accepts the token. The token is
	// appended as the "token" query parameter.
	ResetURL string
}

type PasswordConfig struct {
	BcryptCost           int
	MinLength            int
	UpgradeLegacyOnLogin bool
}

/*
====================================
TRANSPORT CONFIG
====================================
*/

// CookieConfig shapes the refresh-token cookie. HttpOnly and SameSite=Strict
// are not configurable.
type CookieConfig struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

/*
====================================
REDIS-BACKED FEATURES
====================================
*/

type RevocationConfig struct {
	Enabled   bool
	KeyPrefix string
}

type RateLimitConfig struct {
	Enabled          bool
	LoginMaxAttempts int
	LoginWindow      time.Duration
	ResetMaxRequests int
	ResetWindow      time.Duration
}

// TimeoutConfig bounds each backend call made during an auth decision.
type TimeoutConfig struct {
	Store      time.Duration
	Revocation time.Duration
}

/*
====================================
OBSERVABILITY
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults. Secrets are left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authgate",
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  time.Hour,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL: 30 * time.Minute,
		},
		Password: PasswordConfig{
			BcryptCost:           12,
			MinLength:            8,
			UpgradeLegacyOnLogin: true,
		},
		Cookie: CookieConfig{
			Name:   "refreshToken",
			Path:   "/auth",
			Secure: true,
		},
		Revocation: RevocationConfig{
			Enabled:   false,
			KeyPrefix: "rvk",
		},
		RateLimit: RateLimitConfig{
			Enabled:          false,
			LoginMaxAttempts: 20,
			LoginWindow:      15 * time.Minute,
			ResetMaxRequests: 5,
			ResetWindow:      time.Hour,
		},
		Timeouts: TimeoutConfig{
			Store:      2 * time.Second,
			Revocation: 250 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Environment: EnvProduction,
	}
}

// Development reports whether error detail may be shown to clients.
func (c Config) Development() bool {
	return c.Environment == EnvDevelopment
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = cloneBytes(cfg.JWT.AccessSecret)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the engine cannot run safely with.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.AccessSecret) == 0 || len(c.JWT.RefreshSecret) == 0 {
		return errors.New("JWT AccessSecret and RefreshSecret are required")
	}
	if len(c.JWT.AccessSecret) < MinSecretLength || len(c.JWT.RefreshSecret) < MinSecretLength {
		return errors.New("JWT secrets must be at least 32 bytes")
	}
	if string(c.JWT.AccessSecret) == string(c.JWT.RefreshSecret) {
		return errors.New("JWT AccessSecret and RefreshSecret must differ")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be greater than AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Passwords
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	if c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost {
		return errors.New("Password BcryptCost out of range")
	}
	if c.Password.MinLength < 1 || c.Password.MinLength > 72 {
		return errors.New("Password MinLength must be between 1 and 72")
	}

	// Cookie
	if strings.TrimSpace(c.Cookie.Name) == "" {
		return errors.New("Cookie Name is required")
	}
	if !strings.HasPrefix(c.Cookie.Path, "/") {
		return errors.New("Cookie Path must start with /")
	}
	if !c.Cookie.Secure && !c.Development() {
		return errors.New("Cookie Secure may only be disabled in development")
	}

	// Redis-backed features
	if c.Revocation.Enabled && strings.TrimSpace(c.Revocation.KeyPrefix) == "" {
		return errors.New("Revocation KeyPrefix is required when revocation is enabled")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.LoginMaxAttempts < 0 || c.RateLimit.ResetMaxRequests < 0 {
			return errors.New("RateLimit maxima must be >= 0")
		}
		if c.RateLimit.LoginMaxAttempts > 0 && c.RateLimit.LoginWindow <= 0 {
			return errors.New("RateLimit LoginWindow must be > 0")
		}
		if c.RateLimit.ResetMaxRequests > 0 && c.RateLimit.ResetWindow <= 0 {
			return errors.New("RateLimit ResetWindow must be > 0")
		}
	}

	// Timeouts
	if c.Timeouts.Store < 0 || c.Timeouts.Revocation < 0 {
		return errors.New("Timeouts must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	switch c.Environment {
	case EnvProduction, EnvDevelopment:
	default:
		return errors.New("Environment must be production or development")
	}

	return nil
}
