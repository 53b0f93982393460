package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Store.HistorySize)
	assert.Equal(t, "stock-prices", cfg.Kafka.Topic)
	assert.Equal(t, 5*time.Minute, cfg.Stream.SSETimeout)
	assert.Equal(t, 2*time.Second, cfg.Fanout.DeliverTimeout)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:3001"}, cfg.Server.AllowedOrigins)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
data_mode: test
store:
  history_size: 50
kafka:
  enabled: false
generator:
  symbols: [IBM, ORCL]
  interval: 250ms
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "test", cfg.DataMode)
	assert.Equal(t, 50, cfg.Store.HistorySize)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"IBM", "ORCL"}, cfg.Generator.Symbols)
	assert.Equal(t, 250*time.Millisecond, cfg.Generator.Interval)
	// нетронутые секции остаются по умолчанию
	assert.Equal(t, 64, cfg.Stream.BufferSize)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9090\n")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("POSTGRES_DB", "prices")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "cache:6379", cfg.RedisAddr())
	assert.Contains(t, cfg.PostgresDSN(), "dbname=prices")
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad duration": "fanout:\n  deliver_timeout: soon\n",
		"bad mode":     "data_mode: replay\n",
		"bad history":  "store:\n  history_size: 0\n",
		"bad yaml":     "server: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}
