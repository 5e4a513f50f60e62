package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Fetcher  FetcherConfig
	Crawler  CrawlerConfig
	Export   ExportConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// FetcherConfig controls the relay-rotating page fetcher. Relay entries are
// URL templates with a single %s verb receiving the encoded target URL.
type FetcherConfig struct {
	Relays       []string
	Timeout      time.Duration
	MinBodyBytes int
}

type CrawlerConfig struct {
	MaxPages  int
	PageDelay time.Duration
	BatchSize int
}

// ExportConfig carries the demo-mode export limiter settings. When DemoMode
// is off the exporter runs ungated.
type ExportConfig struct {
	DemoMode  bool
	DemoLimit int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Fetcher: FetcherConfig{
			Relays:       getStringSliceOrDefault("FETCHER_RELAYS", defaultRelays()),
			Timeout:      getDurationOrDefault("FETCHER_TIMEOUT", 20*time.Second),
			MinBodyBytes: getIntOrDefault("FETCHER_MIN_BODY_BYTES", 500),
		},
		Crawler: CrawlerConfig{
			MaxPages:  getIntOrDefault("CRAWLER_MAX_PAGES", 10),
			PageDelay: getDurationOrDefault("CRAWLER_PAGE_DELAY", 1500*time.Millisecond),
			BatchSize: getIntOrDefault("CRAWLER_BATCH_SIZE", 5),
		},
		Export: ExportConfig{
			DemoMode:  getBoolOrDefault("EXPORT_DEMO_MODE", false),
			DemoLimit: getIntOrDefault("EXPORT_DEMO_LIMIT", 2),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "promscraper"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Fetcher.Relays) == 0 {
		return fmt.Errorf("FETCHER_RELAYS must contain at least one relay template")
	}
	for _, relay := range c.Fetcher.Relays {
		if !strings.Contains(relay, "%s") {
			return fmt.Errorf("relay template %q is missing the %%s target placeholder", relay)
		}
	}
	if c.Crawler.MaxPages < 1 {
		return fmt.Errorf("CRAWLER_MAX_PAGES must be at least 1")
	}
	if c.Crawler.BatchSize < 1 {
		return fmt.Errorf("CRAWLER_BATCH_SIZE must be at least 1")
	}
	if c.Fetcher.MinBodyBytes < 0 {
		return fmt.Errorf("FETCHER_MIN_BODY_BYTES cannot be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func defaultRelays() []string {
	return []string{
		"https://api.allorigins.win/raw?url=%s",
		"https://api.codetabs.com/v1/proxy?quest=%s",
		"https://corsproxy.io/?%s",
	}
}
