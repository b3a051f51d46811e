package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullYAML = `
server:
  host: "127.0.0.1"
  port: 9191
  shutdown_timeout: 20s
telegram_api:
  api_id: 12345
  api_hash: "hash1"
  connect_timeout: 45s
bot:
  token: "123456:ABC-DEF"
  media_max_size_mb: 10
database:
  driver: "postgres"
  dsn: "host=localhost user=greeter dbname=greeter"
delivery:
  poll_interval: 3s
  affinity_ttl: 0s
  affinity_cleanup_interval: 10m
  strategy: "round_robin"
intake:
  enabled: false
logging:
  level: "debug"
  format: "text"
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}

func TestLoadFromYAML(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		path := createTempConfigFile(t, fullYAML)
		cfg := Default()
		err := loadFromYAML(path, cfg)
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9191, cfg.Server.Port)
		assert.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "127.0.0.1:9191", cfg.Address())

		assert.Equal(t, 12345, cfg.TelegramAPI.APIID)
		assert.Equal(t, "hash1", cfg.TelegramAPI.APIHash)
		assert.Equal(t, 45*time.Second, cfg.TelegramAPI.ConnectTimeout)

		assert.Equal(t, "123456:ABC-DEF", cfg.Bot.Token)
		assert.Equal(t, 10, cfg.Bot.MediaMaxSizeMB)
		assert.Equal(t, "postgres", cfg.Database.Driver)

		assert.Equal(t, 3*time.Second, cfg.Delivery.PollInterval)
		assert.Equal(t, time.Duration(0), cfg.Delivery.AffinityTTL)
		assert.Equal(t, 10*time.Minute, cfg.Delivery.AffinityCleanupInterval)
		assert.Equal(t, "round_robin", cfg.Delivery.Strategy)
		assert.False(t, cfg.Intake.Enabled)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "text", cfg.Logging.Format)
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := createTempConfigFile(t, "telegram_api:\n  api_id: 1\n")
		cfg := Default()
		require.NoError(t, loadFromYAML(path, cfg))

		assert.Equal(t, 1, cfg.TelegramAPI.APIID)
		assert.Equal(t, DefaultPollInterval, cfg.Delivery.PollInterval)
		assert.Equal(t, DefaultStrategy, cfg.Delivery.Strategy)
		assert.True(t, cfg.Intake.Enabled)
	})

	t.Run("file not found", func(t *testing.T) {
		cfg := Default()
		err := loadFromYAML("non_existent_file.yml", cfg)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := createTempConfigFile(t, "invalid yaml: {")
		cfg := Default()
		err := loadFromYAML(path, cfg)
		assert.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("env fallback without file", func(t *testing.T) {
		t.Setenv("API_ID", "777")
		t.Setenv("API_HASH", "envhash")
		t.Setenv("BOT_TOKEN", "1:token")
		t.Setenv("POLL_INTERVAL", "2s")
		t.Setenv("INTAKE_ENABLED", "false")
		t.Setenv("SERVER_PORT", "0")

		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
		require.NoError(t, err)

		assert.Equal(t, 777, cfg.TelegramAPI.APIID)
		assert.Equal(t, "envhash", cfg.TelegramAPI.APIHash)
		assert.Equal(t, "1:token", cfg.Bot.Token)
		assert.Equal(t, 2*time.Second, cfg.Delivery.PollInterval)
		assert.False(t, cfg.Intake.Enabled)
		assert.Equal(t, 0, cfg.Server.Port)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid env value", func(t *testing.T) {
		t.Setenv("API_ID", "not-a-number")
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
		assert.Error(t, err)
	})

	t.Run("secrets from env override file", func(t *testing.T) {
		t.Setenv("BOT_TOKEN", "999:override")
		cfg, err := LoadConfig(createTempConfigFile(t, fullYAML))
		require.NoError(t, err)

		assert.Equal(t, "999:override", cfg.Bot.Token)
		assert.Equal(t, "hash1", cfg.TelegramAPI.APIHash)
	})
}

func TestValidate(t *testing.T) {
	validConfig := func(t *testing.T) *Config {
		cfg := Default()
		err := loadFromYAML(createTempConfigFile(t, fullYAML), cfg)
		require.NoError(t, err)
		return cfg
	}

	testCases := []struct {
		name    string
		mutator func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"server disabled", func(c *Config) { c.Server.Port = 0 }, false},
		{"sqlite driver", func(c *Config) { c.Database.Driver = "sqlite" }, false},
		{"invalid api_id", func(c *Config) { c.TelegramAPI.APIID = 0 }, true},
		{"empty api_hash", func(c *Config) { c.TelegramAPI.APIHash = "" }, true},
		{"invalid connect timeout", func(c *Config) { c.TelegramAPI.ConnectTimeout = 0 }, true},
		{"empty bot token", func(c *Config) { c.Bot.Token = "" }, true},
		{"invalid media size", func(c *Config) { c.Bot.MediaMaxSizeMB = 0 }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, true},
		{"invalid poll interval", func(c *Config) { c.Delivery.PollInterval = 0 }, true},
		{"negative affinity ttl", func(c *Config) { c.Delivery.AffinityTTL = -time.Second }, true},
		{"unknown strategy", func(c *Config) { c.Delivery.Strategy = "weighted" }, true},
		{"invalid port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"invalid shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, true},
		{"invalid logging level", func(c *Config) { c.Logging.Level = "wrong" }, true},
		{"invalid logging format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutator(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
