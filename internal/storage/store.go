package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tg-greeter/internal/domain"
	"tg-greeter/internal/ports"
)

var (
	_ ports.QueueStore = (*Store)(nil)
	_ ports.EventQueue = (*Store)(nil)
	_ ports.PeerStore  = (*Store)(nil)
)

// Option определяет функциональную опцию для конфигурации хранилища.
type Option func(*options)

type options struct {
	log      *slog.Logger
	logLevel logger.LogLevel
}

// WithLogger устанавливает логгер хранилища.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithSQLLogLevel устанавливает уровень логирования SQL-запросов gorm.
func WithSQLLogLevel(level logger.LogLevel) Option {
	return func(o *options) {
		o.logLevel = level
	}
}

// Store - хранилище учетных записей, шаблонов и очереди доставок поверх gorm.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open подключается к базе данных. driver: postgres или sqlite.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	o := options{log: slog.Default(), logLevel: logger.Warn}
	for _, opt := range opts {
		opt(&o)
	}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(o.logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	o.log.Info("Connected to database", "driver", driver)
	return &Store{db: db, log: o.log}, nil
}

// AutoMigrate создает или обновляет схему.
func (s *Store) AutoMigrate() error {
	err := s.db.AutoMigrate(
		&Account{},
		&ChatConfig{},
		&WelcomeMessage{},
		&MemberLeftMessage{},
		&QueuedDelivery{},
		&KnownPeer{},
	)
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	s.log.Info("Database migration completed")
	return nil
}

// DB возвращает соединение gorm для административных операций.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close закрывает соединение с базой данных.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ListPending возвращает все записи очереди в порядке поступления.
func (s *Store) ListPending(ctx context.Context) ([]domain.Delivery, error) {
	var rows []QueuedDelivery
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list queued deliveries: %w", err)
	}

	result := make([]domain.Delivery, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

// GetTemplate загружает шаблон вместе с identity, разрешенными конфигурацией его чата.
func (s *Store) GetTemplate(ctx context.Context, kind domain.TemplateKind, id uint) (domain.Template, error) {
	db := s.db.WithContext(ctx).Preload("ChatConfig.Accounts")

	var (
		content MessageContent
		cfg     ChatConfig
		err     error
	)
	switch kind {
	case domain.KindWelcome:
		var m WelcomeMessage
		err = db.First(&m, id).Error
		content, cfg = m.MessageContent, m.ChatConfig
	case domain.KindLeft:
		var m MemberLeftMessage
		err = db.First(&m, id).Error
		content, cfg = m.MessageContent, m.ChatConfig
	default:
		return domain.Template{}, fmt.Errorf("%w: unknown kind %q", domain.ErrTemplateNotFound, kind)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Template{}, fmt.Errorf("%w: %s template %d", domain.ErrTemplateNotFound, kind, id)
	}
	if err != nil {
		return domain.Template{}, fmt.Errorf("load %s template %d: %w", kind, id, err)
	}

	return domain.Template{
		ID:                id,
		Kind:              kind,
		Text:              content.Text,
		Caption:           content.Caption,
		Media:             content.media(),
		AllowedIdentities: allowedIdentities(cfg),
	}, nil
}

// Delete удаляет запись очереди в отдельной транзакции.
func (s *Store) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&QueuedDelivery{}, id).Error; err != nil {
			return fmt.Errorf("delete queued delivery %d: %w", id, err)
		}
		return nil
	})
}

// ListAccounts возвращает все отправляющие учетные записи.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var rows []Account
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	result := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

// CreateAccount сохраняет новую учетную запись.
func (s *Store) CreateAccount(ctx context.Context, acc domain.Account) error {
	row := Account{
		IdentityID:   acc.IdentityID,
		DisplayName:  acc.DisplayName,
		AuthMaterial: acc.AuthMaterial,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create account %s: %w", acc.IdentityID, err)
	}
	return nil
}

// UpdateAuthMaterial перезаписывает данные сессии учетной записи.
func (s *Store) UpdateAuthMaterial(ctx context.Context, identityID string, data []byte) error {
	res := s.db.WithContext(ctx).Model(&Account{}).
		Where("identity_id = ?", identityID).
		Update("auth_material", data)
	if res.Error != nil {
		return fmt.Errorf("update auth material of %s: %w", identityID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s not found", identityID)
	}
	return nil
}

// EnqueueForEvent ставит в очередь по одной доставке на каждый шаблон конфигурации чата.
// Чат сопоставляется по ID в формате Bot API или по названию. Для
// ненастроенного чата ничего не делает.
func (s *Store) EnqueueForEvent(ctx context.Context, ev domain.ChatEvent) (int, error) {
	keys := []string{strconv.FormatInt(ev.ChatID, 10)}
	if ev.ChatTitle != "" {
		keys = append(keys, ev.ChatTitle)
	}

	var cfg ChatConfig
	err := s.db.WithContext(ctx).
		Preload("WelcomeMessages").
		Preload("MemberLeftMessages").
		Where("chat IN ?", keys).
		Order("id").
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find chat config for %d: %w", ev.ChatID, err)
	}

	var rows []QueuedDelivery
	switch ev.Kind {
	case domain.KindWelcome:
		for _, m := range cfg.WelcomeMessages {
			rows = append(rows, QueuedDelivery{
				UserID:           ev.UserID,
				ChatID:           &ev.ChatID,
				WelcomeMessageID: &m.ID,
			})
		}
	case domain.KindLeft:
		for _, m := range cfg.MemberLeftMessages {
			rows = append(rows, QueuedDelivery{
				UserID:              ev.UserID,
				MemberLeftMessageID: &m.ID,
			})
		}
	default:
		return 0, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("enqueue deliveries for chat %d: %w", ev.ChatID, err)
	}
	return len(rows), nil
}

// LoadPeers возвращает сохраненных пользователей и чаты identity.
func (s *Store) LoadPeers(ctx context.Context, identityID string) ([]domain.Contact, []domain.Chat, error) {
	var rows []KnownPeer
	if err := s.db.WithContext(ctx).Where("identity_id = ?", identityID).Order("id").Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("load known peers of %s: %w", identityID, err)
	}

	var (
		users []domain.Contact
		chats []domain.Chat
	)
	for _, r := range rows {
		switch r.Kind {
		case peerKindUser:
			users = append(users, r.contact())
		case peerKindChat:
			chats = append(chats, r.chat())
		}
	}
	return users, chats, nil
}

// SavePeers сохраняет пользователей и чаты identity, обновляя уже известные записи.
func (s *Store) SavePeers(ctx context.Context, identityID string, users []domain.Contact, chats []domain.Chat) error {
	rows := make([]KnownPeer, 0, len(users)+len(chats))
	for _, u := range users {
		rows = append(rows, knownUser(identityID, u))
	}
	for _, c := range chats {
		rows = append(rows, knownChat(identityID, c))
	}
	if len(rows) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_id"}, {Name: "kind"}, {Name: "peer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mtproto_id", "chat_type", "access_hash", "username", "title", "updated_at"}),
	}).CreateInBatches(&rows, 100).Error
	if err != nil {
		return fmt.Errorf("save known peers of %s: %w", identityID, err)
	}
	return nil
}
