// Package config loads process configuration from defaults, an optional
// YAML file, a .env file and TRADEGUARD_* environment variables, in
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/wakala/tradeguard/internal/currency"
	"github.com/wakala/tradeguard/internal/disputes"
	"github.com/wakala/tradeguard/internal/retry"
	"github.com/wakala/tradeguard/internal/rules"
)

const EnvPrefix = "TRADEGUARD"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Disputes DisputesConfig `mapstructure:"disputes"`
	Currency CurrencyConfig `mapstructure:"currency"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Retry    RetryConfig    `mapstructure:"retry"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RulesConfig struct {
	EscalationFactor string `mapstructure:"escalation_factor"`
	EscalationMinRun int    `mapstructure:"escalation_min_run"`
	OffHoursStart    int    `mapstructure:"off_hours_start"`
	OffHoursEnd      int    `mapstructure:"off_hours_end"`
	Timezone         string `mapstructure:"timezone"`
	// File is an optional YAML rule set imported at startup.
	File string `mapstructure:"file"`
}

// DisputesConfig amounts are in Currency.Base.
type DisputesConfig struct {
	HighPriorityAmount      string `mapstructure:"high_priority_amount"`
	MediumPriorityAmount    string `mapstructure:"medium_priority_amount"`
	HighValueAmount         string `mapstructure:"high_value_amount"`
	RepeatOffenderThreshold int    `mapstructure:"repeat_offender_threshold"`
}

type CurrencyConfig struct {
	Base string `mapstructure:"base"`
	// Rates are units per one unit of a common reference. Keys are
	// case-insensitive.
	Rates map[string]string `mapstructure:"rates"`
}

type NotifyConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.path", "tradeguard.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rules.escalation_factor", "1.5")
	v.SetDefault("rules.escalation_min_run", 3)
	v.SetDefault("rules.off_hours_start", 0)
	v.SetDefault("rules.off_hours_end", 5)
	v.SetDefault("rules.timezone", "UTC")
	v.SetDefault("rules.file", "")

	v.SetDefault("disputes.high_priority_amount", "10000")
	v.SetDefault("disputes.medium_priority_amount", "1000")
	v.SetDefault("disputes.high_value_amount", "5000")
	v.SetDefault("disputes.repeat_offender_threshold", 2)

	v.SetDefault("currency.base", "USD")
	v.SetDefault("currency.rates", currency.DefaultRates)

	v.SetDefault("notify.queue_size", 256)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "5ms")
	v.SetDefault("retry.max_delay", "100ms")
}

// Load reads configuration. path may be empty, in which case config.yaml in
// the working directory is used when present. A missing .env is ignored.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value that the services would otherwise reject at
// construction time.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	if _, err := c.DisputeConfig(); err != nil {
		return err
	}
	if _, err := c.Converter(); err != nil {
		return fmt.Errorf("currency: %w", err)
	}
	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify.queue_size must be positive, got %d", c.Notify.QueueSize)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// EngineConfig converts the rules section for rules.NewEngine.
func (c *Config) EngineConfig() (rules.Config, error) {
	factor, err := decimal.NewFromString(c.Rules.EscalationFactor)
	if err != nil {
		return rules.Config{}, fmt.Errorf("rules.escalation_factor: %w", err)
	}
	loc, err := time.LoadLocation(c.Rules.Timezone)
	if err != nil {
		return rules.Config{}, fmt.Errorf("rules.timezone: %w", err)
	}
	rc := rules.Config{
		EscalationFactor: factor,
		EscalationMinRun: c.Rules.EscalationMinRun,
		OffHoursStart:    c.Rules.OffHoursStart,
		OffHoursEnd:      c.Rules.OffHoursEnd,
		Location:         loc,
	}
	if err := rules.ValidateConfig(rc); err != nil {
		return rules.Config{}, fmt.Errorf("rules: %w", err)
	}
	return rc, nil
}

// DisputeConfig converts the disputes section for disputes.NewService.
func (c *Config) DisputeConfig() (disputes.Config, error) {
	amounts := map[string]string{
		"high_priority_amount":   c.Disputes.HighPriorityAmount,
		"medium_priority_amount": c.Disputes.MediumPriorityAmount,
		"high_value_amount":      c.Disputes.HighValueAmount,
	}
	parsed := make(map[string]decimal.Decimal, len(amounts))
	for key, raw := range amounts {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return disputes.Config{}, fmt.Errorf("disputes.%s: %w", key, err)
		}
		if !d.IsPositive() {
			return disputes.Config{}, fmt.Errorf("disputes.%s must be positive", key)
		}
		parsed[key] = d
	}
	if !parsed["high_priority_amount"].GreaterThan(parsed["medium_priority_amount"]) {
		return disputes.Config{}, errors.New("disputes.high_priority_amount must exceed medium_priority_amount")
	}
	if c.Disputes.RepeatOffenderThreshold <= 0 {
		return disputes.Config{}, fmt.Errorf("disputes.repeat_offender_threshold must be positive, got %d",
			c.Disputes.RepeatOffenderThreshold)
	}
	return disputes.Config{
		HighPriorityAmount:      parsed["high_priority_amount"],
		MediumPriorityAmount:    parsed["medium_priority_amount"],
		HighValueAmount:         parsed["high_value_amount"],
		RepeatOffenderThreshold: c.Disputes.RepeatOffenderThreshold,
	}, nil
}

func (c *Config) Converter() (*currency.Converter, error) {
	return currency.NewConverter(c.Currency.Base, c.Currency.Rates)
}

func (c *Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
	}
}
