package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gotd/td/session"
	"gorm.io/gorm/logger"

	"tg-greeter/internal/adapters/intake"
	"tg-greeter/internal/adapters/media"
	"tg-greeter/internal/cache"
	"tg-greeter/internal/core/services"
	"tg-greeter/internal/domain"
	"tg-greeter/internal/log"
	"tg-greeter/internal/metrics"
	"tg-greeter/internal/pkg/config"
	"tg-greeter/internal/server"
	"tg-greeter/internal/storage"
	"tg-greeter/internal/telegram/pool"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}

// run инкапсулирует всю логику инициализации и запуска диспетчера.
func run() error {
	configPath := flag.String("config", "config.yml", "Path to YAML config")
	flag.Parse()

	// 1. Загрузка конфигурации
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// Логгер еще не инициализирован, выводим в stderr
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Инициализация логгера с маскировкой токенов
	logger := log.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	// 3. Валидация конфигурации (после инициализации логгера)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	metrics.Init()
	if err := tgbotapi.SetLogger(log.NewTGBotAPIAdapter(logger)); err != nil {
		return fmt.Errorf("failed to set bot api logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Хранилище
	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN,
		storage.WithLogger(logger.With("component", "storage")),
		storage.WithSQLLogLevel(sqlLogLevel(cfg.Logging.Level)),
	)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.AutoMigrate(); err != nil {
		return err
	}

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}
	if len(accounts) == 0 {
		slog.Warn("No sending identities configured, run the login tool first")
	}

	// 5. Пул identity. Диспетчер не изменяет учетные записи,
	// поэтому обновления сессий остаются в памяти. Узнанные access hash сохраняются.
	identities, err := pool.Open(ctx, accounts,
		pool.WithTelegramClients(cfg.TelegramAPI.APIID, cfg.TelegramAPI.APIHash, func(acc domain.Account) session.Storage {
			return storage.NewSessionStorage(acc.AuthMaterial)
		}),
		pool.WithPeerStore(store),
		pool.WithConnectTimeout(cfg.TelegramAPI.ConnectTimeout),
		pool.WithStrategy(pool.StrategyByName(cfg.Delivery.Strategy)),
		pool.WithLogger(logger.With("component", "pool")),
	)
	if err != nil {
		return fmt.Errorf("failed to open identity pool: %w", err)
	}
	defer identities.Close()

	// 6. Bot API: источник медиа и событий чатов
	botAPI, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("failed to create bot api client: %w", err)
	}
	slog.Info("Bot API authorized", "bot", botAPI.Self.UserName)

	fetcher := media.NewBotFetcher(botAPI,
		media.WithMaxSize(int64(cfg.Bot.MediaMaxSizeMB)<<20),
		media.WithLogger(logger.With("component", "media")),
	)

	affinity := cache.NewAffinityStore(cfg.Delivery.AffinityTTL)
	affinity.StartCleanupTicker(ctx, cfg.Delivery.AffinityCleanupInterval)

	engine := services.NewDeliveryService(store, identities,
		services.NewResolver(logger.With("component", "resolver")),
		fetcher,
		services.WithPollInterval(cfg.Delivery.PollInterval),
		services.WithAffinity(affinity),
		services.WithLogger(logger.With("component", "delivery")),
	)

	// 7. Запуск фоновых процессов
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil {
			slog.Error("Delivery loop failed", "error", err)
			stop()
		}
	}()

	if cfg.Intake.Enabled {
		listener := intake.NewListener(botAPI, store, logger.With("component", "intake"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			listener.Start(ctx)
		}()
	}

	var srv *server.Server
	if cfg.Server.Port > 0 {
		srv = server.New(cfg, identities, engine)
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("Starting ops server", "addr", cfg.Address())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("Signal received, shutting down...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
	}

	// Дожидаемся завершения текущей записи очереди, затем закрываем сессии.
	wg.Wait()

	slog.Info("Application exited gracefully")
	return nil
}

func sqlLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "error":
		return logger.Error
	default:
		return logger.Warn
	}
}
