package config

import "time"

// Default values for configuration.
const (
	// Server defaults
	DefaultServerHost      = "0.0.0.0"
	DefaultServerPort      = 9090
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	// Telegram API defaults
	DefaultConnectTimeout = 30 * time.Second

	// Database defaults
	DefaultDatabaseDriver = "sqlite"
	DefaultDatabaseDSN    = "greeter.db"

	// Delivery defaults
	DefaultPollInterval            = 5 * time.Second
	DefaultAffinityTTL             = 24 * time.Hour
	DefaultAffinityCleanupInterval = 1 * time.Hour
	DefaultStrategy                = "random"

	// Media defaults
	DefaultMediaMaxSizeMB = 20

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() *Config {
	return &Config{
		Server: Server{
			Host:            DefaultServerHost,
			Port:            DefaultServerPort,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		TelegramAPI: TelegramAPI{
			ConnectTimeout: DefaultConnectTimeout,
		},
		Bot: Bot{
			MediaMaxSizeMB: DefaultMediaMaxSizeMB,
		},
		Database: Database{
			Driver: DefaultDatabaseDriver,
			DSN:    DefaultDatabaseDSN,
		},
		Delivery: Delivery{
			PollInterval:            DefaultPollInterval,
			AffinityTTL:             DefaultAffinityTTL,
			AffinityCleanupInterval: DefaultAffinityCleanupInterval,
			Strategy:                DefaultStrategy,
		},
		Intake: Intake{
			Enabled: true,
		},
		Logging: Logging{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
