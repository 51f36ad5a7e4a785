// Package config loads the authgate service configuration: defaults, then
// an optional YAML file, then AUTHGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/erpcore/authgate"
	"github.com/erpcore/authgate/internal/logger"
	"github.com/erpcore/authgate/internal/telemetry"
)

// EnvPrefix is prepended to every environment key; "jwt.access_ttl" is read
// from AUTHGATE_JWT_ACCESS_TTL.
const EnvPrefix = "AUTHGATE"

// Config is the full service configuration.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`

	// DatabaseURL is the Postgres DSN for the credential store.
	DatabaseURL string `mapstructure:"database_url"`
	// RedisURL is optional. Without it revocation and rate limiting are off.
	RedisURL string `mapstructure:"redis_url"`

	HTTP      HTTPConfig       `mapstructure:"http"`
	Kafka     KafkaConfig      `mapstructure:"kafka"`
	Logging   logger.Config    `mapstructure:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`

	JWT           JWTConfig           `mapstructure:"jwt"`
	Lockout       LockoutConfig       `mapstructure:"lockout"`
	PasswordReset PasswordResetConfig `mapstructure:"password_reset"`
	Password      PasswordConfig      `mapstructure:"password"`
	Cookie        CookieConfig        `mapstructure:"cookie"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Timeouts      TimeoutConfig       `mapstructure:"timeouts"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
}

// KafkaConfig enables the Kafka audit sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	ClientID     string        `mapstructure:"client_id"`
	RequiredAcks string        `mapstructure:"required_acks"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type JWTConfig struct {
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	Issuer        string        `mapstructure:"issuer"`
	Leeway        time.Duration `mapstructure:"leeway"`
}

type LockoutConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

type PasswordResetConfig struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	ResetURL string        `mapstructure:"reset_url"`
}

type PasswordConfig struct {
	BcryptCost           int  `mapstructure:"bcrypt_cost"`
	MinLength            int  `mapstructure:"min_length"`
	UpgradeLegacyOnLogin bool `mapstructure:"upgrade_legacy_on_login"`
}

type CookieConfig struct {
	Name   string `mapstructure:"name"`
	Path   string `mapstructure:"path"`
	Domain string `mapstructure:"domain"`
	Secure bool   `mapstructure:"secure"`
}

type RateLimitConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	LoginMaxAttempts int           `mapstructure:"login_max_attempts"`
	LoginWindow      time.Duration `mapstructure:"login_window"`
	ResetMaxRequests int           `mapstructure:"reset_max_requests"`
	ResetWindow      time.Duration `mapstructure:"reset_window"`
}

type TimeoutConfig struct {
	Store      time.Duration `mapstructure:"store"`
	Revocation time.Duration `mapstructure:"revocation"`
}

type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	LatencyHistograms bool `mapstructure:"latency_histograms"`
}

// defaults mirrors authgate.DefaultConfig plus the service settings. Every
// key must appear here for its environment variable to be picked up.
func defaults() map[string]any {
	d := authgate.DefaultConfig()
	return map[string]any{
		"service_name": "authgate",
		"version":      "dev",
		"environment":  string(d.Environment),
		"database_url": "",
		"redis_url":    "",

		"http.addr":             ":8080",
		"http.read_timeout":     "10s",
		"http.write_timeout":    "15s",
		"http.idle_timeout":     "60s",
		"http.shutdown_timeout": "10s",
		"http.trust_proxy":      false,

		"kafka.brokers":       []string{},
		"kafka.topic":         "authgate.audit",
		"kafka.client_id":     "authgate",
		"kafka.required_acks": "all",
		"kafka.timeout":       "5s",

		"logging.level": "info",
		"logging.dev":   false,

		"telemetry.endpoint":      "",
		"telemetry.insecure":      true,
		"telemetry.sampler_ratio": 1.0,
		"telemetry.timeout":       "5s",

		"jwt.access_secret":  "",
		"jwt.refresh_secret": "",
		"jwt.access_ttl":     d.JWT.AccessTTL,
		"jwt.refresh_ttl":    d.JWT.RefreshTTL,
		"jwt.issuer":         d.JWT.Issuer,
		"jwt.leeway":         d.JWT.Leeway,

		"lockout.threshold": d.Lockout.Threshold,
		"lockout.duration":  d.Lockout.Duration,

		"password_reset.token_ttl": d.PasswordReset.TokenTTL,
		"password_reset.reset_url": d.PasswordReset.ResetURL,

		"password.bcrypt_cost":             d.Password.BcryptCost,
		"password.min_length":              d.Password.MinLength,
		"password.upgrade_legacy_on_login": d.Password.UpgradeLegacyOnLogin,

		"cookie.name":   d.Cookie.Name,
		"cookie.path":   d.Cookie.Path,
		"cookie.domain": d.Cookie.Domain,
		"cookie.secure": d.Cookie.Secure,

		"rate_limit.enabled":            d.RateLimit.Enabled,
		"rate_limit.login_max_attempts": d.RateLimit.LoginMaxAttempts,
		"rate_limit.login_window":       d.RateLimit.LoginWindow,
		"rate_limit.reset_max_requests": d.RateLimit.ResetMaxRequests,
		"rate_limit.reset_window":       d.RateLimit.ResetWindow,

		"timeouts.store":      d.Timeouts.Store,
		"timeouts.revocation": d.Timeouts.Revocation,

		"audit.enabled":      d.Audit.Enabled,
		"audit.buffer_size":  d.Audit.BufferSize,
		"audit.drop_if_full": d.Audit.DropIfFull,

		"metrics.enabled":            d.Metrics.Enabled,
		"metrics.latency_histograms": d.Metrics.EnableLatencyHistograms,
	}
}

// Load reads path (optional) and the environment into a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := decode(v.AllSettings(), &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func decode(input map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToBoolHook,
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func stringToBoolHook(f, t reflect.Kind, data any) (any, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(strings.TrimSpace(data.(string)))
	}
	return data, nil
}

// Validate checks the service settings and the engine configuration they
// produce.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if c.RateLimit.Enabled && c.RedisURL == "" {
		return errors.New("rate_limit.enabled requires redis_url")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when brokers are set")
	}
	engine := c.Engine()
	if err := engine.Validate(); err != nil {
		return err
	}
	return nil
}

// Engine converts the loaded settings into an authgate.Config. Revocation is
// enabled exactly when a Redis URL is configured.
func (c *Config) Engine() authgate.Config {
	cfg := authgate.DefaultConfig()

	cfg.JWT.AccessSecret = []byte(c.JWT.AccessSecret)
	cfg.JWT.RefreshSecret = []byte(c.JWT.RefreshSecret)
	cfg.JWT.AccessTTL = c.JWT.AccessTTL
	cfg.JWT.RefreshTTL = c.JWT.RefreshTTL
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Leeway = c.JWT.Leeway

	cfg.Lockout.Threshold = c.Lockout.Threshold
	cfg.Lockout.Duration = c.Lockout.Duration

	cfg.PasswordReset.TokenTTL = c.PasswordReset.TokenTTL
	cfg.PasswordReset.ResetURL = c.PasswordReset.ResetURL

	cfg.Password.BcryptCost = c.Password.BcryptCost
	cfg.Password.MinLength = c.Password.MinLength
	cfg.Password.UpgradeLegacyOnLogin = c.Password.UpgradeLegacyOnLogin

	cfg.Cookie.Name = c.Cookie.Name
	cfg.Cookie.Path = c.Cookie.Path
	cfg.Cookie.Domain = c.Cookie.Domain
	cfg.Cookie.Secure = c.Cookie.Secure

	cfg.Revocation.Enabled = c.RedisURL != ""

	cfg.RateLimit.Enabled = c.RateLimit.Enabled
	cfg.RateLimit.LoginMaxAttempts = c.RateLimit.LoginMaxAttempts
	cfg.RateLimit.LoginWindow = c.RateLimit.LoginWindow
	cfg.RateLimit.ResetMaxRequests = c.RateLimit.ResetMaxRequests
	cfg.RateLimit.ResetWindow = c.RateLimit.ResetWindow

	cfg.Timeouts.Store = c.Timeouts.Store
	cfg.Timeouts.Revocation = c.Timeouts.Revocation

	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Audit.BufferSize = c.Audit.BufferSize
	cfg.Audit.DropIfFull = c.Audit.DropIfFull

	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.LatencyHistograms

	cfg.Environment = authgate.Environment(strings.ToLower(c.Environment))
	return cfg
}

// Dev reports whether the service runs in development mode.
func (c *Config) Dev() bool {
	return strings.EqualFold(c.Environment, string(authgate.EnvDevelopment))
}
