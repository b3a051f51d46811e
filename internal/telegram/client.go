package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	"tg-greeter/internal/ports"
)

var (
	// ErrFloodWaitActive возвращается, когда клиент не может выполнить запрос из-за активного ограничения FLOOD_WAIT.
	ErrFloodWaitActive = errors.New("client is in flood wait")
	// ErrNotRunning возвращается, когда фоновый процесс клиента уже завершился.
	ErrNotRunning = errors.New("telegram client is not running")
	// floodWaitRegex используется для парсинга длительности ожидания из сообщения об ошибке.
	floodWaitRegex = regexp.MustCompile(`FLOOD_WAIT \((\d+)\)`)
)

// telegramAPI представляет необработанные методы API, которые мы используем.
type telegramAPI interface {
	UsersGetUsers(ctx context.Context, request []tg.InputUserClass) ([]tg.UserClass, error)
	MessagesGetChats(ctx context.Context, id []int64) (tg.MessagesChatsClass, error)
	MessagesGetFullChat(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error)
	MessagesGetDialogs(ctx context.Context, request *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
	ChannelsGetChannels(ctx context.Context, id []tg.InputChannelClass) (tg.MessagesChatsClass, error)
	ChannelsGetParticipants(ctx context.Context, request *tg.ChannelsGetParticipantsRequest) (tg.ChannelsChannelParticipantsClass, error)
	MessagesSendMessage(ctx context.Context, request *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error)
	MessagesSendMedia(ctx context.Context, request *tg.MessagesSendMediaRequest) (tg.UpdatesClass, error)
	HelpGetConfig(ctx context.Context) (*tg.Config, error)
}

// fileUploader загружает байты файла на сервера Telegram.
type fileUploader interface {
	FromBytes(ctx context.Context, name string, b []byte) (tg.InputFileClass, error)
}

// telegramAuth представляет клиент аутентификации.
type telegramAuth interface {
	auth.FlowClient
}

// telegramRunner определяет зависимости от клиента gotd.
// Это позволяет создавать моки в тестах.
type telegramRunner interface {
	Run(ctx context.Context, f func(ctx context.Context) error) error
	API() telegramAPI
	Auth() telegramAuth
	Uploader() fileUploader
}

// prodRunner является оберткой вокруг реального *telegram.Client для удовлетворения интерфейса telegramRunner.
type prodRunner struct {
	*telegram.Client
}

func (p *prodRunner) API() telegramAPI {
	return p.Client.API()
}

func (p *prodRunner) Auth() telegramAuth {
	return p.Client.Auth()
}

func (p *prodRunner) Uploader() fileUploader {
	return uploader.NewUploader(p.Client.API())
}

// authFlow определяет интерфейс для процесса аутентификации.
type authFlow interface {
	Run(ctx context.Context, client auth.FlowClient) error
}

// Client - живая MTProto-сессия одной отправляющей identity.
// Инкапсулирует запуск, проверку авторизации, обработку FLOOD_WAIT и кэш сущностей.
type Client struct {
	id          string
	displayName string
	tgRunner    telegramRunner
	authFlow    authFlow
	isTerminal  func(fd int) bool
	clock       func() time.Time
	log         *slog.Logger
	peers       *peerCache
	peerStore   ports.PeerStore
	randomID    func() (int64, error)

	mu             sync.RWMutex
	unhealthyUntil time.Time
	self           *tg.User

	startOnce sync.Once
	cancel    context.CancelFunc
	ready     chan struct{}
	done      chan struct{}
	runErr    error
}

// Config содержит конфигурацию для создания нового клиента.
type Config struct {
	APIID       int
	APIHash     string
	IdentityID  string
	DisplayName string
	// SessionStorage хранит ключи авторизации. Если не задан, сессия живет только в памяти.
	SessionStorage session.Storage
}

// ClientOption определяет функциональную опцию для конфигурации клиента.
type ClientOption func(*Client)

// WithLogger устанавливает логгер для клиента.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithAuthFlow включает интерактивную аутентификацию, если сессия недействительна.
func WithAuthFlow(f auth.Flow) ClientOption {
	return func(c *Client) {
		c.authFlow = f
	}
}

// WithPeerStore включает сохранение узнанных пользователей и чатов между перезапусками.
func WithPeerStore(store ports.PeerStore) ClientOption {
	return func(c *Client) {
		c.peerStore = store
	}
}

// NewClient создает новый экземпляр Client.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	var storage session.Storage = new(session.StorageMemory)
	if cfg.SessionStorage != nil {
		storage = cfg.SessionStorage
	}

	c := &Client{
		id:          cfg.IdentityID,
		displayName: cfg.DisplayName,
		isTerminal:  func(fd int) bool { return term.IsTerminal(fd) },
		clock:       time.Now,
		log:         slog.Default(),
		peers:       newPeerCache(),
		randomID:    cryptoRandomID,
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}

	// Диспетчер обновлений наполняет кэш сущностей пользователями и чатами,
	// с которыми identity взаимодействует.
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, _ *tg.UpdateNewMessage) error {
		c.peers.learnEntities(e)
		c.persistPeers(ctx)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, _ *tg.UpdateNewChannelMessage) error {
		c.peers.learnEntities(e)
		c.persistPeers(ctx)
		return nil
	})

	tgClient := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  dispatcher,
	})
	c.tgRunner = &prodRunner{Client: tgClient}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ID возвращает identity_id учетной записи.
func (c *Client) ID() string {
	return c.id
}

// DisplayName возвращает отображаемое имя учетной записи.
func (c *Client) DisplayName() string {
	return c.displayName
}

// Self возвращает пользователя, под которым авторизована сессия.
// До готовности клиента возвращает nil.
func (c *Client) Self() *tg.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Start запускает фоновый процесс клиента, включая проверку авторизации.
// Должен быть вызван один раз перед использованием клиента.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		go func() {
			c.log.InfoContext(ctx, "Starting telegram client background runner", "client_id", c.id)
			err := c.tgRunner.Run(runCtx, func(runCtx context.Context) error {
				self, err := c.authorize(runCtx)
				if err != nil {
					return err
				}

				c.mu.Lock()
				c.self = self
				c.mu.Unlock()

				c.restorePeers(runCtx)

				// Первичное наполнение кэша сущностей из списка диалогов.
				if err := c.refreshDialogs(runCtx); err != nil {
					c.log.WarnContext(runCtx, "Initial dialogs load failed", "client_id", c.id, "error", err)
				}

				c.log.InfoContext(runCtx, "Telegram client authenticated and ready", "client_id", c.id, "self_id", self.ID)
				close(c.ready)

				// Держим соединение активным, пока не завершится контекст.
				<-runCtx.Done()
				return runCtx.Err()
			})

			if err != nil && !errors.Is(err, context.Canceled) {
				c.log.ErrorContext(ctx, "Telegram client background runner exited with error", "client_id", c.id, "error", err)
			} else {
				c.log.InfoContext(ctx, "Telegram client background runner stopped", "client_id", c.id)
			}

			c.runErr = err
			close(c.done)
		}()
	})
}

// authorize проверяет сессию и, если это разрешено, проходит интерактивную аутентификацию.
func (c *Client) authorize(ctx context.Context) (*tg.User, error) {
	self, err := c.fetchSelf(ctx)
	if err == nil {
		return self, nil
	}

	// Если ошибка - это ожидаемое отсутствие сессии, логируем кратко.
	if strings.Contains(err.Error(), "AUTH_KEY_UNREGISTERED") {
		c.log.WarnContext(ctx, "Session check failed", "client_id", c.id, "reason", "AUTH_KEY_UNREGISTERED")
	} else {
		c.log.WarnContext(ctx, "Session check failed", "client_id", c.id, "error", err)
	}

	if c.authFlow == nil {
		return nil, fmt.Errorf("%w: session is not authorized: %v", errIdentity, err)
	}
	if !c.isTerminal(int(os.Stdout.Fd())) {
		return nil, fmt.Errorf("session is invalid and cannot perform interactive auth in non-terminal: %w", err)
	}
	if authErr := c.authFlow.Run(ctx, c.tgRunner.Auth()); authErr != nil {
		return nil, fmt.Errorf("interactive auth failed: %w", authErr)
	}
	c.log.InfoContext(ctx, "Interactive auth successful, session saved", "client_id", c.id)

	return c.fetchSelf(ctx)
}

func (c *Client) fetchSelf(ctx context.Context) (*tg.User, error) {
	users, err := c.tgRunner.API().UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUserSelf{}})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, errors.New("empty self response")
	}
	self, ok := users[0].(*tg.User)
	if !ok {
		return nil, fmt.Errorf("unexpected self type %T", users[0])
	}
	return self, nil
}

// WaitReady блокируется до готовности клиента, его завершения или отмены ctx.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		if c.runErr != nil {
			return c.runErr
		}
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close останавливает фоновый процесс клиента и дожидается его завершения.
func (c *Client) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// restorePeers загружает сохраненные в прошлых запусках access hash.
func (c *Client) restorePeers(ctx context.Context) {
	if c.peerStore == nil {
		return
	}
	users, chats, err := c.peerStore.LoadPeers(ctx, c.id)
	if err != nil {
		c.log.WarnContext(ctx, "Failed to load known peers", "client_id", c.id, "error", err)
		return
	}
	c.peers.restore(users, chats)
	c.log.DebugContext(ctx, "Known peers restored", "client_id", c.id, "users", len(users), "chats", len(chats))
}

// persistPeers сохраняет новые и изменившиеся записи кэша сущностей.
// Ошибка хранилища не прерывает операцию: записи останутся помеченными до следующей попытки.
func (c *Client) persistPeers(ctx context.Context) {
	if c.peerStore == nil {
		return
	}
	users, chats := c.peers.takeDirty()
	if len(users) == 0 && len(chats) == 0 {
		return
	}
	if err := c.peerStore.SavePeers(ctx, c.id, users, chats); err != nil {
		c.peers.markDirty(users, chats)
		c.log.WarnContext(ctx, "Failed to save known peers", "client_id", c.id, "users", len(users), "chats", len(chats), "error", err)
	}
}

// Health проверяет работоспособность клиента.
// Если активен FLOOD_WAIT, возвращает ошибку.
// В противном случае выполняет легковесный запрос к API.
func (c *Client) Health(ctx context.Context) error {
	if err := c.checkHealthStatus(); err != nil {
		return err
	}

	return c.do(ctx, func(ctx context.Context) error {
		_, err := c.tgRunner.API().HelpGetConfig(ctx)
		return err
	})
}

// do выполняет операцию с учетом FLOOD_WAIT и состояния фонового процесса.
func (c *Client) do(ctx context.Context, f func(ctx context.Context) error) error {
	if err := c.checkHealthStatus(); err != nil {
		c.log.DebugContext(ctx, "Client is unhealthy, aborting 'do'", "client_id", c.id, "error", err)
		return err
	}

	select {
	case <-c.done:
		return fmt.Errorf("%w: %w", errIdentity, ErrNotRunning)
	default:
	}

	opErr := f(ctx)
	if opErr != nil {
		c.handleError(opErr)

		// Также проверяем, не отвалился ли сам клиент.
		select {
		case <-c.done:
			return fmt.Errorf("%w: client stopped (operation error: %v)", errIdentity, opErr)
		default:
		}
	}

	return opErr
}

// checkHealthStatus проверяет, не находится ли клиент в состоянии FLOOD_WAIT.
func (c *Client) checkHealthStatus() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.unhealthyUntil.IsZero() && c.clock().Before(c.unhealthyUntil) {
		return fmt.Errorf("%w: active until %v", ErrFloodWaitActive, c.unhealthyUntil)
	}
	return nil
}

// handleError обрабатывает ошибки, ищет FLOOD_WAIT и обновляет состояние клиента.
func (c *Client) handleError(err error) {
	if waitDuration, ok := parseFloodWait(err); ok {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.unhealthyUntil = c.clock().Add(waitDuration)
		c.log.Warn("Client got FLOOD_WAIT, set unhealthy", "client_id", c.id, "wait_duration", waitDuration, "until", c.unhealthyUntil)
	}
}

// parseFloodWait извлекает длительность ожидания из ошибки.
func parseFloodWait(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}

	matches := floodWaitRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0, false
	}

	seconds, convErr := strconv.Atoi(matches[1])
	if convErr != nil {
		return 0, false
	}

	return time.Duration(seconds) * time.Second, true
}
