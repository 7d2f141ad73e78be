package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the SDK configuration.
type Config struct {
	APIHost        string `mapstructure:"api_host"`
	CallAPIHost    string `mapstructure:"call_api_host"`
	ChatSocketHost string `mapstructure:"chat_socket_host"`

	Locale     string `mapstructure:"locale"`
	SDKVersion string `mapstructure:"sdk_version"`
	Login      string `mapstructure:"login"`

	AppLogin     string `mapstructure:"app_login"`
	AppPassword  string `mapstructure:"app_password"`
	RefreshToken string `mapstructure:"refresh_token"`

	Token          string `mapstructure:"token"`
	UserToken      string `mapstructure:"user_token"`
	ConsultationID string `mapstructure:"consultation_id"`

	TypingQuietInterval time.Duration `mapstructure:"typing_quiet_interval"`
	SocketRetryDelay    time.Duration `mapstructure:"socket_retry_delay"`
	SocketMaxRetries    int           `mapstructure:"socket_max_retries"`
	HistoryPageSize     int           `mapstructure:"history_page_size"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`

	ReachabilityInterval time.Duration `mapstructure:"reachability_interval"`
	ReachabilityTarget   string        `mapstructure:"reachability_target"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from a .env file (if present), DRSDK_* environment
// variables and built-in defaults. Environment variables take precedence over
// .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DRSDK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every value at its default.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_host", "https://telemed-dr.ru/api/v1/")
	v.SetDefault("call_api_host", "https://test-api.drtelemed.ru/api/v1/")
	v.SetDefault("chat_socket_host", "telemed-dr.ru")
	v.SetDefault("locale", "ru")
	v.SetDefault("sdk_version", "go-sdk")
	v.SetDefault("login", "test")
	v.SetDefault("app_login", "")
	v.SetDefault("app_password", "")
	v.SetDefault("refresh_token", "")
	v.SetDefault("token", "")
	v.SetDefault("user_token", "")
	v.SetDefault("consultation_id", "")
	v.SetDefault("typing_quiet_interval", "5s")
	v.SetDefault("socket_retry_delay", "5s")
	v.SetDefault("socket_max_retries", 5)
	v.SetDefault("history_page_size", 20)
	v.SetDefault("ping_interval", "30s")
	v.SetDefault("reachability_interval", "3s")
	v.SetDefault("reachability_target", "telemed-dr.ru:443")
	v.SetDefault("log_level", "info")
}

func (c *Config) validate() error {
	if c.SocketMaxRetries < 0 {
		return fmt.Errorf("DRSDK_SOCKET_MAX_RETRIES must not be negative")
	}
	if c.HistoryPageSize <= 0 {
		return fmt.Errorf("DRSDK_HISTORY_PAGE_SIZE must be positive")
	}
	if c.TypingQuietInterval <= 0 || c.SocketRetryDelay <= 0 {
		return fmt.Errorf("typing quiet interval and socket retry delay must be positive")
	}
	return nil
}

// RequireSession checks the credentials needed to open a session from the
// command line.
func (c *Config) RequireSession() error {
	if c.Token == "" {
		return fmt.Errorf("DRSDK_TOKEN environment variable is required")
	}
	if c.UserToken == "" {
		return fmt.Errorf("DRSDK_USER_TOKEN environment variable is required")
	}
	if c.ConsultationID == "" {
		return fmt.Errorf("DRSDK_CONSULTATION_ID environment variable is required")
	}
	return nil
}
