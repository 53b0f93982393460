package config

import "time"

type Config struct {
	Server struct {
		Port               int           `yaml:"port"`
		ReadTimeoutStr     string        `yaml:"read_timeout"`
		WriteTimeoutStr    string        `yaml:"write_timeout"`
		ShutdownTimeoutStr string        `yaml:"shutdown_timeout"`
		AllowedOrigins     []string      `yaml:"allowed_origins"`
		RateLimit          float64       `yaml:"rate_limit"`
		RateBurst          int           `yaml:"rate_burst"`
		ReadTimeout        time.Duration `yaml:"-"`
		WriteTimeout       time.Duration `yaml:"-"`
		ShutdownTimeout    time.Duration `yaml:"-"`
	} `yaml:"server"`

	DataMode string `yaml:"data_mode"`

	Store struct {
		HistorySize int `yaml:"history_size"`
	} `yaml:"store"`

	Fanout struct {
		Workers           int           `yaml:"workers"`
		DeliverTimeoutStr string        `yaml:"deliver_timeout"`
		DeliverTimeout    time.Duration `yaml:"-"`
	} `yaml:"fanout"`

	Stream struct {
		BufferSize    int           `yaml:"buffer_size"`
		SSETimeoutStr string        `yaml:"sse_timeout"`
		KeepAliveStr  string        `yaml:"keep_alive"`
		SSETimeout    time.Duration `yaml:"-"`
		KeepAlive     time.Duration `yaml:"-"`
	} `yaml:"stream"`

	Kafka struct {
		Enabled         bool          `yaml:"enabled"`
		Brokers         []string      `yaml:"brokers"`
		Topic           string        `yaml:"topic"`
		GroupID         string        `yaml:"group_id"`
		MaxRetries      int           `yaml:"max_retries"`
		RetryBackoffStr string        `yaml:"retry_backoff"`
		RetryBackoff    time.Duration `yaml:"-"`
	} `yaml:"kafka"`

	Exchanges []struct {
		Name    string `yaml:"name"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		Enabled bool   `yaml:"enabled"`
	} `yaml:"exchanges"`

	Generator struct {
		Symbols      []string      `yaml:"symbols"`
		InitialPrice float64       `yaml:"initial_price"`
		MaxChange    float64       `yaml:"max_change"`
		IntervalStr  string        `yaml:"interval"`
		Interval     time.Duration `yaml:"-"`
	} `yaml:"generator"`

	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Host     string        `yaml:"host"`
		Port     int           `yaml:"port"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTLStr   string        `yaml:"ttl"`
		TTL      time.Duration `yaml:"-"`
	} `yaml:"redis"`

	PostgreSQL struct {
		Enabled                bool          `yaml:"enabled"`
		Host                   string        `yaml:"host"`
		Port                   int           `yaml:"port"`
		User                   string        `yaml:"user"`
		Password               string        `yaml:"password"`
		Database               string        `yaml:"database"`
		SSLMode                string        `yaml:"sslmode"`
		AggregationIntervalStr string        `yaml:"aggregation_interval"`
		AggregationInterval    time.Duration `yaml:"-"`
	} `yaml:"postgresql"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}
