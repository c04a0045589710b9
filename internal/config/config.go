// Package config provides configuration management using viper.
// It supports loading from YAML files, an optional .env file and
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Referral ReferralConfig `mapstructure:"referral"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Admin    AdminConfig    `mapstructure:"admin"`
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// ReferralConfig holds referral crediting configuration.
type ReferralConfig struct {
	BonusCents  int64  `mapstructure:"bonus_cents"`
	StartPrefix string `mapstructure:"start_prefix"`
}

// TelegramConfig holds Telegram bot and initData verification configuration.
// BotToken doubles as the initData signing secret; leaving it empty
// disables both verification and the bot.
type TelegramConfig struct {
	BotToken      string        `mapstructure:"bot_token"`
	BotEnabled    bool          `mapstructure:"bot_enabled"`
	AdminChatID   int64         `mapstructure:"admin_chat_id"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	WebhookListen string        `mapstructure:"webhook_listen"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// APIConfig holds HTTP API access configuration.
type APIConfig struct {
	Key string `mapstructure:"key"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DSN returns the PostgreSQL connection string.
// An explicit URL takes precedence over the individual parts.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables still win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., TELEGRAM_BOT_TOKEN, REFERRAL_BONUS_CENTS, DATABASE_HOST
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Referral.BonusCents <= 0 {
		return fmt.Errorf("referral.bonus_cents must be positive, got %d", c.Referral.BonusCents)
	}
	if strings.TrimSpace(c.Referral.StartPrefix) == "" {
		return errors.New("referral.start_prefix must not be empty")
	}
	return nil
}

// setDefaults sets default configuration values.
// Every key gets a default so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "referral")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "referral")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// 50 cents = 0.5 USDT per credited referral
	v.SetDefault("referral.bonus_cents", 50)
	v.SetDefault("referral.start_prefix", "ref")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.bot_enabled", true)
	v.SetDefault("telegram.admin_chat_id", 0)
	v.SetDefault("telegram.notify_timeout", "5s")
	v.SetDefault("telegram.webhook_url", "")
	v.SetDefault("telegram.webhook_listen", ":8443")
	v.SetDefault("telegram.webhook_secret", "")

	v.SetDefault("admin.ids", []int64{})

	v.SetDefault("api.key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// VerificationEnabled reports whether initData signatures are checked.
func (c *Config) VerificationEnabled() bool {
	return c.Telegram.BotToken != ""
}

// BotEnabled reports whether the Telegram bot should be started.
func (c *Config) BotEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.BotEnabled
}

// NotificationsEnabled reports whether admin notifications are sent.
func (c *Config) NotificationsEnabled() bool {
	return c.BotEnabled() && c.Telegram.AdminChatID != 0
}
