package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. TENANTAUTH_SERVER_PORT.
const EnvPrefix = "TENANTAUTH"

// Config represents the runtime configuration for the tenantauth server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Email       EmailConfig       `mapstructure:"email"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	BasePath  string `mapstructure:"base_path"`

	// AllowedOrigins lists extra websocket origins besides same-host and loopback.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends. The database is used when Redis is disabled.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PoolSize int           `mapstructure:"pool_size"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT      JWTSettings      `mapstructure:"jwt"`
	Session  SessionSettings  `mapstructure:"session"`
	APIKey   APIKeySettings   `mapstructure:"api_key"`
	Password PasswordSettings `mapstructure:"password"`
	Throttle ThrottleSettings `mapstructure:"throttle"`
	Tokens   TokenSettings    `mapstructure:"tokens"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// SessionSettings configures refresh tokens and session lifetimes.
type SessionSettings struct {
	RefreshTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	RefreshLength int           `mapstructure:"refresh_token_length"`
}

// APIKeySettings names the header carrying organization API keys.
type APIKeySettings struct {
	Header string `mapstructure:"header"`
}

// PasswordSettings bounds accepted password lengths.
type PasswordSettings struct {
	MinLength int `mapstructure:"min_length"`
	MaxLength int `mapstructure:"max_length"`
}

// ThrottleSettings sets per-minute request budgets.
type ThrottleSettings struct {
	AnonymousPerMinute int `mapstructure:"anonymous_per_minute"`
	UserPerMinute      int `mapstructure:"user_per_minute"`
}

// TokenSettings configures the signed account tokens mailed to users.
type TokenSettings struct {
	Algorithm           string        `mapstructure:"algorithm"`
	Secret              string        `mapstructure:"secret"`
	VerificationTTL     time.Duration `mapstructure:"account_verification_ttl"`
	PasswordRecoveryTTL time.Duration `mapstructure:"password_recovery_ttl"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP                SMTPConfig         `mapstructure:"smtp"`
	Branding            BrandingConfig     `mapstructure:"branding"`
	TemplateDir         string             `mapstructure:"template_dir"`
	AccountVerification EmailPurposeConfig `mapstructure:"account_verification"`
	PasswordRecovery    EmailPurposeConfig `mapstructure:"password_recovery"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// BrandingConfig is rendered into every email.
type BrandingConfig struct {
	LogoURL   string `mapstructure:"logo_url"`
	Signature string `mapstructure:"signature"`
}

// EmailPurposeConfig describes one kind of account email.
type EmailPurposeConfig struct {
	Subject       string `mapstructure:"subject"`
	PlainTemplate string `mapstructure:"plain_template"`
	HTMLTemplate  string `mapstructure:"html_template"`
	URL           string `mapstructure:"url"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	SessionSchedule    string `mapstructure:"session_schedule"`
	AuditSchedule      string `mapstructure:"audit_schedule"`
	CacheSchedule      string `mapstructure:"cache_schedule"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// A missing config file is not an error; defaults and environment overrides apply.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// LoadConfigFile reads configuration from an explicit file path.
func LoadConfigFile(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(file)

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", file, err)
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.base_path", "/api/v1")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/tenantauth.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.username", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.mysql.host", "")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.database", "")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.redis.pool_size", 10)

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "tenantauth")
	v.SetDefault("auth.jwt.access_token_ttl", "24h")
	v.SetDefault("auth.session.refresh_token_ttl", "168h")
	v.SetDefault("auth.session.refresh_token_length", 48)
	v.SetDefault("auth.api_key.header", "Api-Key")
	v.SetDefault("auth.password.min_length", 10)
	v.SetDefault("auth.password.max_length", 60)
	v.SetDefault("auth.throttle.anonymous_per_minute", 60)
	v.SetDefault("auth.throttle.user_per_minute", 360)
	v.SetDefault("auth.tokens.algorithm", "HS256")
	v.SetDefault("auth.tokens.secret", "")
	v.SetDefault("auth.tokens.account_verification_ttl", "24h")
	v.SetDefault("auth.tokens.password_recovery_ttl", "15m")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")
	v.SetDefault("email.branding.logo_url", "")
	v.SetDefault("email.branding.signature", "")
	v.SetDefault("email.template_dir", "")
	v.SetDefault("email.account_verification.subject", "Verify your account {{ .Username }}")
	v.SetDefault("email.account_verification.plain_template", "account_verification.txt")
	v.SetDefault("email.account_verification.html_template", "account_verification.html")
	v.SetDefault("email.account_verification.url", "")
	v.SetDefault("email.password_recovery.subject", "Recovery your password {{ .Username }}")
	v.SetDefault("email.password_recovery.plain_template", "password_recovery.txt")
	v.SetDefault("email.password_recovery.html_template", "password_recovery.html")
	v.SetDefault("email.password_recovery.url", "")

	v.SetDefault("maintenance.session_schedule", "@hourly")
	v.SetDefault("maintenance.audit_schedule", "@daily")
	v.SetDefault("maintenance.cache_schedule", "@hourly")
	v.SetDefault("maintenance.audit_retention_days", 90)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}

	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite", "postgres", "postgresql", "mysql", "mariadb":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Auth.Password.MinLength > 0 && c.Auth.Password.MaxLength > 0 &&
		c.Auth.Password.MinLength > c.Auth.Password.MaxLength {
		return errors.New("config: auth.password.min_length exceeds max_length")
	}
	if c.Email.SMTP.Enabled && strings.TrimSpace(c.Email.SMTP.Host) == "" {
		return errors.New("config: email.smtp.host is required when smtp is enabled")
	}
	for key, secret := range map[string]string{
		"auth.jwt.secret":    c.Auth.JWT.Secret,
		"auth.tokens.secret": c.Auth.Tokens.Secret,
	} {
		if n := SecretByteLength(secret); n > 0 && n < minSecretBytes {
			return fmt.Errorf("config: %s must be at least %d bytes", key, minSecretBytes)
		}
	}
	return c.Cache.validate()
}
