package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Site     SiteConfig     `mapstructure:"site"`
	Parser   ParserConfig   `mapstructure:"parser"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds the metrics endpoint address
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// SiteConfig holds the resource marketplace connection settings
type SiteConfig struct {
	BaseURL              string   `mapstructure:"base_url"`
	ListPath             string   `mapstructure:"list_path"`
	UserAgent            string   `mapstructure:"user_agent"`
	Timeout              int      `mapstructure:"timeout"`
	MaxRetries           int      `mapstructure:"max_retries"`
	MaxRequestsPerSecond int      `mapstructure:"max_requests_per_second"`
	MaxPageWorkers       int      `mapstructure:"max_page_workers"`
	Proxies              []string `mapstructure:"proxies"`
	ValidateProxies      bool     `mapstructure:"validate_proxies"`
}

// ParserConfig controls list item extraction
type ParserConfig struct {
	FetchIcons      bool   `mapstructure:"fetch_icons"`
	Timezone        string `mapstructure:"timezone"`
	MaxWorkers      int    `mapstructure:"max_workers"`
	MinSaveInterval int    `mapstructure:"min_save_interval"`
	MaxItemRetries  int    `mapstructure:"max_item_retries"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// RedisConfig holds Redis connection details
type RedisConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	Database      int    `mapstructure:"database"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	StreamPrefix  string `mapstructure:"stream_prefix"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	MinIdleTime   int    `mapstructure:"min_idle_time"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Location resolves the configured timezone; titles on listing pages carry no zone of their own.
func (c ParserConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid parser timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from YAML file with environment variable overrides
func Load() (*Config, error) {
	return load(viper.New(), ".")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the workers cannot run with
func (c *Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url cannot be empty")
	}
	if !strings.Contains(c.Site.ListPath, "%d") {
		return fmt.Errorf("site.list_path must contain a %%d page placeholder")
	}
	if c.Parser.MaxWorkers <= 0 {
		return fmt.Errorf("parser.max_workers must be positive")
	}
	if c.Parser.MinSaveInterval <= 0 {
		return fmt.Errorf("parser.min_save_interval must be positive")
	}
	if _, err := c.Parser.Location(); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.host", "localhost")

	v.SetDefault("site.base_url", "https://www.spigotmc.org/")
	v.SetDefault("site.list_path", "resources/?page=%d")
	v.SetDefault("site.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("site.timeout", 30)
	v.SetDefault("site.max_retries", 3)
	v.SetDefault("site.max_requests_per_second", 2)
	v.SetDefault("site.max_page_workers", 4)
	v.SetDefault("site.proxies", []string{})
	v.SetDefault("site.validate_proxies", true)

	v.SetDefault("parser.fetch_icons", true)
	v.SetDefault("parser.timezone", "local")
	v.SetDefault("parser.max_workers", 10)
	v.SetDefault("parser.min_save_interval", 10)
	v.SetDefault("parser.max_item_retries", 5)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "spiget")
	v.SetDefault("database.user", "spiget_user")
	v.SetDefault("database.password", "spiget_pass")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.key_prefix", "spiget:")
	v.SetDefault("redis.stream_prefix", "spiget:stream:")
	v.SetDefault("redis.consumer_group", "spiget_consumer")
	v.SetDefault("redis.min_idle_time", 120)

	v.SetDefault("log.level", "info")
}
