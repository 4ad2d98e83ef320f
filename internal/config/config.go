// Package config loads and validates application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig              `mapstructure:"app"`
	Database       DatabaseConfig         `mapstructure:"database"`
	Redis          RedisConfig            `mapstructure:"redis"`
	LLM            LLMConfig              `mapstructure:"llm"`
	MarketData     MarketDataConfig       `mapstructure:"market_data"`
	Trading        TradingConfig          `mapstructure:"trading"`
	Communications CommunicationsConfig   `mapstructure:"communications"`
	Notifications  NotificationsConfig    `mapstructure:"notifications"`
	Reflection     ReflectionConfig       `mapstructure:"reflection"`
	Paths          PathsConfig            `mapstructure:"paths"`
	API            APIConfig              `mapstructure:"api"`
	Alerts         AlertsConfig           `mapstructure:"alerts"`
	Monitoring     MonitoringConfig       `mapstructure:"monitoring"`
	AgentModels    map[string]ModelConfig `mapstructure:"agent_models"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name          string `mapstructure:"name"`
	ConfigName    string `mapstructure:"config_name"` // namespace for persisted state
	ConfigVersion string `mapstructure:"config_version"`
	Environment   string `mapstructure:"environment"` // development, staging, production
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings for the pgvector memory store.
// An empty host disables the database-backed store and falls back to the
// in-process store.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the market-data cache
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      int    `mapstructure:"ttl"` // seconds
}

// ModelConfig identifies a concrete model on a concrete provider
type ModelConfig struct {
	Model    string `mapstructure:"model"`
	Provider string `mapstructure:"provider"`
}

// LLMConfig contains model gateway settings
type LLMConfig struct {
	DefaultModel    string            `mapstructure:"default_model"`
	DefaultProvider string            `mapstructure:"default_provider"`
	Temperature     float64           `mapstructure:"temperature"`
	MaxTokens       int               `mapstructure:"max_tokens"`
	MaxRetries      int               `mapstructure:"max_retries"`
	Timeout         int               `mapstructure:"timeout"` // ms
	Endpoints       map[string]string `mapstructure:"endpoints"`
}

// MarketDataConfig contains settings for the market data provider
type MarketDataConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Timeout           int    `mapstructure:"timeout"` // ms
}

// TradingConfig contains trading session settings
type TradingConfig struct {
	Mode              string   `mapstructure:"mode"` // "signal" or "portfolio"
	Tickers           []string `mapstructure:"tickers"`
	AnalystTypes      []string `mapstructure:"analyst_types"`
	InitialCash       float64  `mapstructure:"initial_cash"`
	MarginRequirement float64  `mapstructure:"margin_requirement"`
	IsLiveMode        bool     `mapstructure:"is_live_mode"`
	MaxWorkers        int      `mapstructure:"max_workers"`
	EnableRound2      bool     `mapstructure:"enable_round2"`
}

// CommunicationsConfig controls the post-analysis communication loop
type CommunicationsConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	MaxCycles int  `mapstructure:"max_cycles"`
	MaxRounds int  `mapstructure:"max_rounds"`
	MaxChars  int  `mapstructure:"max_chars"`
	LogToFile bool `mapstructure:"log_to_file"`
}

// NotificationsConfig controls inter-agent broadcast notifications.
// With an empty nats_url the hub runs an embedded in-process NATS
// server when embedded is set, or no mirror at all otherwise.
type NotificationsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Embedded bool   `mapstructure:"embedded"`
	NATSURL  string `mapstructure:"nats_url"`
}

// ReflectionConfig controls the post-day memory review
type ReflectionConfig struct {
	ReviewMode string `mapstructure:"review_mode"` // "individual_review" or "central_review"
}

// PathsConfig contains filesystem locations for persisted state
type PathsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// APIConfig contains the status API settings
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// AlertsConfig contains end-of-day alert settings
type AlertsConfig struct {
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
	MetricsPort   int  `mapstructure:"metrics_port"`
}

// ValidAnalystTypes is the closed set of analyst personas
var ValidAnalystTypes = []string{"fundamental", "technical", "sentiment", "valuation", "comprehensive"}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("QUANTDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
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

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "QuantDesk")
	v.SetDefault("app.config_name", "default")
	v.SetDefault("app.config_version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "quantdesk")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 300)

	v.SetDefault("llm.default_model", "gpt-4o")
	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.timeout", 60000)

	v.SetDefault("market_data.base_url", "https://api.financialdatasets.ai")
	v.SetDefault("market_data.requests_per_minute", 120)
	v.SetDefault("market_data.timeout", 30000)

	v.SetDefault("trading.mode", "signal")
	v.SetDefault("trading.tickers", []string{"AAPL", "MSFT"})
	v.SetDefault("trading.analyst_types", []string{"fundamental", "technical", "sentiment", "valuation"})
	v.SetDefault("trading.initial_cash", 100000.0)
	v.SetDefault("trading.margin_requirement", 0.0)
	v.SetDefault("trading.is_live_mode", false)
	v.SetDefault("trading.max_workers", 4)
	v.SetDefault("trading.enable_round2", true)

	v.SetDefault("communications.enabled", true)
	v.SetDefault("communications.max_cycles", 2)
	v.SetDefault("communications.max_rounds", 1)
	v.SetDefault("communications.max_chars", 400)
	v.SetDefault("communications.log_to_file", true)

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.embedded", true)
	v.SetDefault("notifications.nats_url", "")

	v.SetDefault("reflection.review_mode", "individual_review")

	v.SetDefault("paths.base_dir", "./data")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	v.SetDefault("alerts.telegram_enabled", false)

	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.metrics_port", 9091)
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Trading.Mode != "signal" && c.Trading.Mode != "portfolio" {
		return fmt.Errorf("trading.mode must be \"signal\" or \"portfolio\", got %q", c.Trading.Mode)
	}
	if c.Trading.InitialCash < 0 {
		return fmt.Errorf("trading.initial_cash must be >= 0, got %f", c.Trading.InitialCash)
	}
	if c.Trading.MarginRequirement < 0 || c.Trading.MarginRequirement > 1 {
		return fmt.Errorf("trading.margin_requirement must be in [0,1], got %f", c.Trading.MarginRequirement)
	}
	if c.Communications.MaxCycles < 1 {
		return fmt.Errorf("communications.max_cycles must be >= 1, got %d", c.Communications.MaxCycles)
	}
	if c.Communications.MaxChars <= 0 {
		return fmt.Errorf("communications.max_chars must be > 0, got %d", c.Communications.MaxChars)
	}
	if c.Reflection.ReviewMode != "individual_review" && c.Reflection.ReviewMode != "central_review" {
		return fmt.Errorf("reflection.review_mode must be \"individual_review\" or \"central_review\", got %q", c.Reflection.ReviewMode)
	}
	if c.Trading.MaxWorkers < 1 {
		return fmt.Errorf("trading.max_workers must be >= 1, got %d", c.Trading.MaxWorkers)
	}
	for _, at := range c.Trading.AnalystTypes {
		valid := false
		for _, known := range ValidAnalystTypes {
			if at == known {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("unknown analyst type %q (valid: %v)", at, ValidAnalystTypes)
		}
	}
	if err := CheckConfigVersion(c.App.ConfigVersion); err != nil {
		return err
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the status API listen address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetTimeout returns the LLM timeout as time.Duration
func (c *LLMConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetTimeout returns the market-data timeout as time.Duration
func (c *MarketDataConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}
