// Package config предоставляет управление конфигурацией приложения
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Server содержит конфигурацию служебного HTTP-сервера (health, metrics).
type Server struct {
	Host string `json:"host" yaml:"host"`
	// Port 0 отключает сервер.
	Port            int           `json:"port" yaml:"port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// TelegramAPI содержит учетные данные приложения MTProto, общие для всех identity.
type TelegramAPI struct {
	APIID          int           `json:"api_id" yaml:"api_id"`
	APIHash        string        `json:"api_hash" yaml:"api_hash"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// Bot содержит конфигурацию Bot API, в котором хранятся медиа шаблонов.
type Bot struct {
	Token          string `json:"token" yaml:"token"`
	MediaMaxSizeMB int    `json:"media_max_size_mb" yaml:"media_max_size_mb"`
}

// Database содержит конфигурацию хранилища.
type Database struct {
	Driver string `json:"driver" yaml:"driver"` // postgres, sqlite
	DSN    string `json:"dsn" yaml:"dsn"`
}

// Delivery содержит конфигурацию движка доставки.
type Delivery struct {
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	// AffinityTTL - срок жизни привязки пользователя к identity, 0 - без ограничений.
	AffinityTTL             time.Duration `json:"affinity_ttl" yaml:"affinity_ttl"`
	AffinityCleanupInterval time.Duration `json:"affinity_cleanup_interval" yaml:"affinity_cleanup_interval"`
	Strategy                string        `json:"strategy" yaml:"strategy"` // random, round_robin
}

// Intake содержит конфигурацию приема событий чатов через Bot API.
type Intake struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Logging содержит конфигурацию логирования
type Logging struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// Config содержит конфигурацию приложения
type Config struct {
	Server      Server      `json:"server" yaml:"server"`
	TelegramAPI TelegramAPI `json:"telegram_api" yaml:"telegram_api"`
	Bot         Bot         `json:"bot" yaml:"bot"`
	Database    Database    `json:"database" yaml:"database"`
	Delivery    Delivery    `json:"delivery" yaml:"delivery"`
	Intake      Intake      `json:"intake" yaml:"intake"`
	Logging     Logging     `json:"logging" yaml:"logging"`
}

// LoadConfig загружает конфигурацию из .env файла, YAML-файла path и переменных окружения.
// Если YAML-файла нет, используются только переменные окружения.
// Секреты из окружения (API_HASH, BOT_TOKEN, DB_DSN) имеют приоритет над файлом.
func LoadConfig(path string) (*Config, error) {
	// Отсутствие .env файла - нормальная ситуация.
	_ = godotenv.Load()

	cfg := Default()

	err := loadFromYAML(path, cfg)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		if err := loadFromEnv(cfg); err != nil {
			return nil, fmt.Errorf("не удалось загрузить конфигурацию из env: %w", err)
		}
	default:
		return nil, err
	}

	applySecretsFromEnv(cfg)
	return cfg, nil
}

// loadFromYAML загружает конфигурацию из YAML-файла поверх значений cfg
func loadFromYAML(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("не удалось прочитать файл конфигурации %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("не удалось разобрать YAML конфигурацию: %w", err)
	}
	return nil
}

// loadFromEnv загружает конфигурацию из переменных окружения поверх значений cfg
func loadFromEnv(cfg *Config) error {
	var err error

	if v := getEnv("API_ID", ""); v != "" {
		if cfg.TelegramAPI.APIID, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("недопустимый API_ID: %w", err)
		}
	}
	cfg.TelegramAPI.APIHash = getEnv("API_HASH", cfg.TelegramAPI.APIHash)
	cfg.Bot.Token = getEnv("BOT_TOKEN", cfg.Bot.Token)
	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("DB_DSN", cfg.Database.DSN)
	cfg.Delivery.Strategy = getEnv("SELECTION_STRATEGY", cfg.Delivery.Strategy)
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	if v := getEnv("SERVER_PORT", ""); v != "" {
		if cfg.Server.Port, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("недопустимый SERVER_PORT: %w", err)
		}
	}
	if v := getEnv("POLL_INTERVAL", ""); v != "" {
		if cfg.Delivery.PollInterval, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("недопустимый POLL_INTERVAL: %w", err)
		}
	}
	if v := getEnv("AFFINITY_TTL", ""); v != "" {
		if cfg.Delivery.AffinityTTL, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("недопустимый AFFINITY_TTL: %w", err)
		}
	}
	if v := getEnv("INTAKE_ENABLED", ""); v != "" {
		if cfg.Intake.Enabled, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("недопустимый INTAKE_ENABLED: %w", err)
		}
	}

	return nil
}

func applySecretsFromEnv(cfg *Config) {
	cfg.TelegramAPI.APIHash = getEnv("API_HASH", cfg.TelegramAPI.APIHash)
	cfg.Bot.Token = getEnv("BOT_TOKEN", cfg.Bot.Token)
	cfg.Database.DSN = getEnv("DB_DSN", cfg.Database.DSN)
}

// Address возвращает адрес сервера в формате "host:port"
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate проверяет, являются ли значения конфигурации допустимыми
func (c *Config) Validate() error {
	if c.TelegramAPI.APIID <= 0 {
		return fmt.Errorf("telegram_api.api_id должно быть положительным целым числом")
	}
	if c.TelegramAPI.APIHash == "" {
		return fmt.Errorf("telegram_api.api_hash не может быть пустым")
	}
	if c.TelegramAPI.ConnectTimeout <= 0 {
		return fmt.Errorf("telegram_api.connect_timeout должно быть положительным")
	}

	if c.Bot.Token == "" {
		return fmt.Errorf("bot.token не может быть пустым")
	}
	if c.Bot.MediaMaxSizeMB <= 0 {
		return fmt.Errorf("bot.media_max_size_mb должно быть положительным")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver должен быть одним из: postgres, sqlite")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn не может быть пустым")
	}

	if c.Delivery.PollInterval <= 0 {
		return fmt.Errorf("delivery.poll_interval должно быть положительным")
	}
	if c.Delivery.AffinityTTL < 0 {
		return fmt.Errorf("delivery.affinity_ttl должно быть неотрицательным (0 для бессрочных привязок)")
	}
	switch c.Delivery.Strategy {
	case "random", "round_robin":
	default:
		return fmt.Errorf("delivery.strategy должен быть одним из: random, round_robin")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port должен быть действительным номером порта (0-65535, 0 отключает сервер)")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout должно быть положительным")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// all good
	default:
		return fmt.Errorf("logging.level должен быть одним из: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format должен быть одним из: json, text")
	}

	return nil
}

// getEnv извлекает значение переменной окружения или возвращает значение по умолчанию, если она не установлена
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
