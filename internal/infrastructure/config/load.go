package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeoutStr = "10s"
	cfg.Server.WriteTimeoutStr = "0s"
	cfg.Server.ShutdownTimeoutStr = "30s"
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	cfg.Server.RateLimit = 50
	cfg.Server.RateBurst = 100

	cfg.DataMode = "live"
	cfg.Store.HistorySize = 1000

	cfg.Fanout.Workers = 8
	cfg.Fanout.DeliverTimeoutStr = "2s"

	cfg.Stream.BufferSize = 64
	cfg.Stream.SSETimeoutStr = "5m"
	cfg.Stream.KeepAliveStr = "15s"

	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topic = "stock-prices"
	cfg.Kafka.GroupID = "stock-consumer-group"
	cfg.Kafka.MaxRetries = 5
	cfg.Kafka.RetryBackoffStr = "500ms"

	cfg.Generator.Symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "TSLA"}
	cfg.Generator.InitialPrice = 150
	cfg.Generator.MaxChange = 5
	cfg.Generator.IntervalStr = "1s"

	cfg.Redis.Host = "localhost"
	cfg.Redis.Port = 6379
	cfg.Redis.TTLStr = "1h"

	cfg.PostgreSQL.Host = "localhost"
	cfg.PostgreSQL.Port = 5432
	cfg.PostgreSQL.User = "stockstream"
	cfg.PostgreSQL.Database = "stockstream"
	cfg.PostgreSQL.SSLMode = "disable"
	cfg.PostgreSQL.AggregationIntervalStr = "1m"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return &cfg
}

// LoadConfig reads path over the defaults. A missing file is not an error.
// A .env file in the working directory is loaded first; real environment
// variables win over it and over the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// Применяем переменные окружения (переопределяют значения из файла)
	applyEnvOverrides(cfg)

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseDurations() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", c.Server.ReadTimeoutStr, &c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeoutStr, &c.Server.WriteTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeoutStr, &c.Server.ShutdownTimeout},
		{"fanout.deliver_timeout", c.Fanout.DeliverTimeoutStr, &c.Fanout.DeliverTimeout},
		{"stream.sse_timeout", c.Stream.SSETimeoutStr, &c.Stream.SSETimeout},
		{"stream.keep_alive", c.Stream.KeepAliveStr, &c.Stream.KeepAlive},
		{"kafka.retry_backoff", c.Kafka.RetryBackoffStr, &c.Kafka.RetryBackoff},
		{"generator.interval", c.Generator.IntervalStr, &c.Generator.Interval},
		{"redis.ttl", c.Redis.TTLStr, &c.Redis.TTL},
		{"postgresql.aggregation_interval", c.PostgreSQL.AggregationIntervalStr, &c.PostgreSQL.AggregationInterval},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Store.HistorySize <= 0 {
		return fmt.Errorf("store.history_size must be positive, got %d", c.Store.HistorySize)
	}
	if c.Stream.BufferSize <= 0 {
		return fmt.Errorf("stream.buffer_size must be positive, got %d", c.Stream.BufferSize)
	}
	if c.DataMode != "live" && c.DataMode != "test" {
		return fmt.Errorf("data_mode must be live or test, got %q", c.DataMode)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka is enabled but brokers or topic are missing")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATA_MODE"); v != "" {
		cfg.DataMode = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Kafka
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		cfg.Kafka.GroupID = v
	}

	// Redis
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// PostgreSQL
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.PostgreSQL.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.PostgreSQL.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.PostgreSQL.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.PostgreSQL.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.PostgreSQL.Database = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgreSQL.Host, c.PostgreSQL.Port, c.PostgreSQL.User,
		c.PostgreSQL.Password, c.PostgreSQL.Database, c.PostgreSQL.SSLMode,
	)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
