// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Commission CommissionConfig `mapstructure:"commission"`
	Activation ActivationConfig `mapstructure:"activation"`
	FX         FXConfig         `mapstructure:"fx"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Withdrawal WithdrawalConfig `mapstructure:"withdrawal"`
	Reaper     ReaperConfig     `mapstructure:"reaper"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	// URL, when set, takes precedence over the individual fields.
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// LedgerConfig holds ledger and commission fan-out policy.
type LedgerConfig struct {
	Currency          string        `mapstructure:"currency"`
	FreezePeriod      time.Duration `mapstructure:"freeze_period"`
	MaxNetworkLevels  int           `mapstructure:"max_network_levels"`
	PlanID            string        `mapstructure:"plan_id"`
	CommissionWorkers int           `mapstructure:"commission_workers"`
	ListDefaultLimit  int           `mapstructure:"list_default_limit"`
	ListMaxLimit      int           `mapstructure:"list_max_limit"`
}

// CommissionConfig holds commission eligibility policy.
type CommissionConfig struct {
	// ActivationPolicy is one of none, buyer, ancestor.
	ActivationPolicy string `mapstructure:"activation_policy"`
}

// ActivationConfig holds monthly activation settings.
type ActivationConfig struct {
	RequiredMinor int64         `mapstructure:"required_minor"`
	Timezone      string        `mapstructure:"timezone"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// Location resolves the configured timezone, falling back to UTC.
func (a *ActivationConfig) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FXConfig holds the gateway-currency to ledger-currency rate.
type FXConfig struct {
	// Rate is gateway currency units per one ledger currency unit.
	Rate string `mapstructure:"rate"`
	// Policy is settlement (rate at webhook time) or order (rate snapshot on the order).
	Policy string `mapstructure:"policy"`
	// GatewayPlaces is the number of decimals sent to the gateway. KZT is
	// charged in whole tenge.
	GatewayPlaces int32 `mapstructure:"gateway_places"`
}

// DecimalRate parses Rate.
func (f *FXConfig) DecimalRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(f.Rate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid fx rate %q: %w", f.Rate, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("fx rate must be positive, got %s", rate)
	}
	return rate, nil
}

// GatewayConfig holds payment gateway credentials and URLs.
type GatewayConfig struct {
	Name        string        `mapstructure:"name"`
	APIURL      string        `mapstructure:"api_url"`
	MerchantID  string        `mapstructure:"merchant_id"`
	APIKey      string        `mapstructure:"api_key"`
	SecretKey   string        `mapstructure:"secret_key"`
	Currency    string        `mapstructure:"currency"`
	AppURL      string        `mapstructure:"app_url"`
	CallbackURL string        `mapstructure:"callback_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WithdrawalConfig holds withdrawal settings.
type WithdrawalConfig struct {
	FeeMinor int64 `mapstructure:"fee_minor"`
}

// ReaperConfig holds frozen-funds release settings.
type ReaperConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// JobsConfig holds cron schedules for periodic jobs.
type JobsConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	AutoWithdrawSchedule  string        `mapstructure:"auto_withdraw_schedule"`
	FrozenReleaseSchedule string        `mapstructure:"frozen_release_schedule"`
	Timeout               time.Duration `mapstructure:"timeout"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// RedisConfig holds the activation cache connection. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// RabbitMQConfig holds the event broker connection. Empty URL disables it.
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. GATEWAY_SECRET_KEY, DATABASE_HOST, LEDGER_FREEZE_PERIOD
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional - env vars can provide all config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.Ledger.MaxNetworkLevels < 1 {
		return fmt.Errorf("ledger.max_network_levels must be >= 1, got %d", c.Ledger.MaxNetworkLevels)
	}
	if c.Ledger.FreezePeriod < 0 {
		return fmt.Errorf("ledger.freeze_period must not be negative")
	}
	if strings.TrimSpace(c.Gateway.SecretKey) == "" {
		return fmt.Errorf("gateway.secret_key is required to verify payment callbacks")
	}
	if _, err := c.FX.DecimalRate(); err != nil {
		return err
	}
	if c.FX.GatewayPlaces < 0 || c.FX.GatewayPlaces > 4 {
		return fmt.Errorf("fx.gateway_places must be between 0 and 4, got %d", c.FX.GatewayPlaces)
	}
	switch c.FX.Policy {
	case "settlement", "order":
	default:
		return fmt.Errorf("fx.policy must be settlement or order, got %q", c.FX.Policy)
	}
	switch c.Commission.ActivationPolicy {
	case "none", "buyer", "ancestor":
	default:
		return fmt.Errorf("commission.activation_policy must be none, buyer or ancestor, got %q", c.Commission.ActivationPolicy)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "ledger")
	v.SetDefault("database.name", "ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("ledger.currency", "USD")
	v.SetDefault("ledger.freeze_period", "336h")
	v.SetDefault("ledger.max_network_levels", 10)
	v.SetDefault("ledger.plan_id", "default")
	v.SetDefault("ledger.commission_workers", 4)
	v.SetDefault("ledger.list_default_limit", 50)
	v.SetDefault("ledger.list_max_limit", 200)

	v.SetDefault("commission.activation_policy", "none")

	// $40.00
	v.SetDefault("activation.required_minor", 4000)
	v.SetDefault("activation.timezone", "UTC")
	v.SetDefault("activation.cache_ttl", "60s")

	v.SetDefault("fx.rate", "450")
	v.SetDefault("fx.policy", "settlement")
	v.SetDefault("fx.gateway_places", 0)

	v.SetDefault("gateway.name", "freedompay")
	v.SetDefault("gateway.api_url", "https://api.freedompay.kz")
	v.SetDefault("gateway.currency", "KZT")
	v.SetDefault("gateway.timeout", "30s")

	v.SetDefault("withdrawal.fee_minor", 0)

	v.SetDefault("reaper.batch_size", 1000)

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.auto_withdraw_schedule", "0 3 * * *")
	v.SetDefault("jobs.frozen_release_schedule", "*/15 * * * *")
	v.SetDefault("jobs.timeout", "5m")

	v.SetDefault("redis.prefix", "ledger")

	v.SetDefault("rabbitmq.exchange", "ledger_events")

	// AutomaticEnv only resolves keys viper already knows, so credentials
	// that normally come from the environment are bound explicitly.
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}
}

var envOnlyKeys = []string{
	"database.password",
	"gateway.merchant_id",
	"gateway.api_key",
	"gateway.secret_key",
	"gateway.app_url",
	"gateway.callback_url",
	"auth.jwt_secret",
	"auth.issuer",
	"redis.addr",
	"redis.password",
	"redis.db",
	"rabbitmq.url",
}
