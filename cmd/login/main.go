// Команда login выполняет интерактивный вход отправляющей identity
// и сохраняет ее сессию в хранилище диспетчера.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/telegram/auth"

	"tg-greeter/internal/domain"
	"tg-greeter/internal/log"
	"tg-greeter/internal/pkg/config"
	"tg-greeter/internal/pkg/term"
	"tg-greeter/internal/storage"
	"tg-greeter/internal/telegram"
)

func main() {
	if err := run(); err != nil {
		slog.Error("login failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		phone      string
		identityID string
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "config.yml", "Path to YAML config")
	flag.StringVar(&phone, "phone", "", "Phone number of the identity (prompted if empty)")
	flag.StringVar(&identityID, "identity", "", "Existing identity to re-login; a new one is created if empty")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Time allowed for the interactive login")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := log.NewLogger(os.Stderr, cfg.Logging.Level, "text")
	slog.SetDefault(logger)

	if cfg.TelegramAPI.APIID <= 0 || cfg.TelegramAPI.APIHash == "" {
		return fmt.Errorf("telegram_api.api_id и telegram_api.api_hash обязательны")
	}

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, storage.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.AutoMigrate(); err != nil {
		return err
	}

	isNew := identityID == ""
	if isNew {
		identityID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Сессия накапливается в памяти и записывается в учетную запись только после успешного входа.
	sessionStorage := storage.NewSessionStorage(nil)
	client := telegram.NewClient(telegram.Config{
		APIID:          cfg.TelegramAPI.APIID,
		APIHash:        cfg.TelegramAPI.APIHash,
		IdentityID:     identityID,
		SessionStorage: sessionStorage,
	},
		telegram.WithLogger(logger.With("client_id", identityID)),
		telegram.WithPeerStore(store),
		telegram.WithAuthFlow(auth.NewFlow(term.NewTerminal(phone), auth.SendCodeOptions{})),
	)

	client.Start(ctx)
	defer client.Close()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.WaitReady(waitCtx); err != nil {
		return fmt.Errorf("identity did not become ready: %w", err)
	}

	self := client.Self()
	displayName := strings.TrimSpace(self.FirstName + " " + self.LastName)
	if self.Username != "" {
		displayName = "@" + self.Username
	}

	if isNew {
		err = store.CreateAccount(ctx, domain.Account{
			IdentityID:   identityID,
			DisplayName:  displayName,
			AuthMaterial: sessionStorage.Data(),
		})
	} else {
		err = store.UpdateAuthMaterial(ctx, identityID, sessionStorage.Data())
	}
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	slog.Info("Identity saved", "identity_id", identityID, "display_name", displayName, "self_id", self.ID)
	fmt.Println(identityID)
	return nil
}
