package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/session"

	"tg-greeter/internal/domain"
	"tg-greeter/internal/ports"
	"tg-greeter/internal/telegram"
)

var (
	_ ports.IdentityPool = (*Pool)(nil)
	_ managedSession     = (*telegram.Client)(nil)
)

// ErrNoCandidates возвращается стратегией, когда выбирать не из кого.
var ErrNoCandidates = errors.New("no candidates available")

// healthChecker - сессия, умеющая проверить свое соединение.
type healthChecker interface {
	Health(ctx context.Context) error
}

// managedSession - сессия, жизненным циклом которой управляет пул.
type managedSession interface {
	ports.Session
	healthChecker
	Start(ctx context.Context)
	WaitReady(ctx context.Context) error
	Close()
}

// IdentityHealth - состояние одной identity пула.
type IdentityHealth struct {
	ID          string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	Healthy     bool   `json:"healthy"`
	Error       string `json:"error,omitempty"`
}

// SessionFactory создает сессию для учетной записи.
type SessionFactory func(acc domain.Account) managedSession

// Option определяет функциональную опцию для конфигурации пула.
type Option func(*Pool)

// WithTelegramClients - опция для создания MTProto-сессий.
// storage возвращает хранилище ключей авторизации для учетной записи.
func WithTelegramClients(apiID int, apiHash string, storage func(acc domain.Account) session.Storage) Option {
	return func(p *Pool) {
		p.factory = func(acc domain.Account) managedSession {
			opts := []telegram.ClientOption{telegram.WithLogger(p.log.With("client_id", acc.IdentityID))}
			if p.peers != nil {
				opts = append(opts, telegram.WithPeerStore(p.peers))
			}
			return telegram.NewClient(telegram.Config{
				APIID:          apiID,
				APIHash:        apiHash,
				IdentityID:     acc.IdentityID,
				DisplayName:    acc.DisplayName,
				SessionStorage: storage(acc),
			}, opts...)
		}
	}
}

// WithPeerStore - опция для сохранения узнанных сессиями пользователей и чатов.
func WithPeerStore(store ports.PeerStore) Option {
	return func(p *Pool) {
		p.peers = store
	}
}

// WithSessionFactory - опция для подмены фабрики сессий (используется в тестах).
func WithSessionFactory(f SessionFactory) Option {
	return func(p *Pool) {
		if f != nil {
			p.factory = f
		}
	}
}

// WithConnectTimeout - опция для установки таймаута подключения одной сессии.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.connectTimeout = d
		}
	}
}

// WithStrategy - опция для установки стратегии выбора identity.
func WithStrategy(s ports.Strategy) Option {
	return func(p *Pool) {
		if s != nil {
			p.strategy = s
		}
	}
}

// WithLogger - опция для установки логгера.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// Pool хранит готовые сессии отправляющих identity на время жизни процесса.
// Пул не переподключает сессии: умершая сессия обнаруживается вызывающей стороной.
type Pool struct {
	mu       sync.RWMutex
	sessions []ports.Session
	managed  []managedSession
	strategy ports.Strategy
	log      *slog.Logger

	factory        SessionFactory
	peers          ports.PeerStore
	connectTimeout time.Duration
	healthTimeout  time.Duration
}

func newPool(opts []Option) *Pool {
	p := &Pool{
		strategy:       NewRandomStrategy(),
		connectTimeout: 30 * time.Second,
		healthTimeout:  5 * time.Second,
		log:            slog.Default().With("component", "pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open устанавливает по одной сессии на каждую учетную запись.
// Учетные записи, не прошедшие аутентификацию, логируются и в пул не попадают.
func Open(ctx context.Context, accounts []domain.Account, opts ...Option) (*Pool, error) {
	p := newPool(opts)
	if p.factory == nil {
		return nil, errors.New("pool: no session factory configured")
	}

	// Запускаем все сессии сразу, чтобы подключение шло параллельно.
	started := make([]managedSession, 0, len(accounts))
	for _, acc := range accounts {
		s := p.factory(acc)
		s.Start(ctx)
		started = append(started, s)
	}

	for _, s := range started {
		waitCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
		err := s.WaitReady(waitCtx)
		cancel()
		if err != nil {
			p.log.WarnContext(ctx, "Identity failed to authenticate, leaving it out of the pool", "client_id", s.ID(), "error", err)
			s.Close()
			continue
		}
		p.managed = append(p.managed, s)
		p.sessions = append(p.sessions, s)
		p.log.InfoContext(ctx, "Identity added to pool", "client_id", s.ID(), "display_name", s.DisplayName())
	}

	p.log.InfoContext(ctx, "Identity pool opened", "ready", len(p.sessions), "accounts", len(accounts))
	return p, nil
}

// New создает пул из уже готовых сессий.
func New(sessions []ports.Session, opts ...Option) *Pool {
	p := newPool(opts)
	p.sessions = append([]ports.Session(nil), sessions...)
	return p
}

// Enumerate возвращает сессии пула, ограниченные списком allowed, в порядке пула.
// Пустой allowed означает весь пул.
func (p *Pool) Enumerate(allowed []string) []ports.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(allowed) == 0 {
		return append([]ports.Session(nil), p.sessions...)
	}

	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	result := make([]ports.Session, 0, len(allowed))
	for _, s := range p.sessions {
		if _, ok := set[s.ID()]; ok {
			result = append(result, s)
		}
	}
	return result
}

// PickRandom выбирает кандидата, не входящего в excluded.
func (p *Pool) PickRandom(candidates []ports.Session, excluded map[string]struct{}) (ports.Session, error) {
	remaining := make([]ports.Session, 0, len(candidates))
	for _, s := range candidates {
		if _, ok := excluded[s.ID()]; !ok {
			remaining = append(remaining, s)
		}
	}

	p.mu.RLock()
	strategy := p.strategy
	p.mu.RUnlock()

	s, err := strategy.Next(remaining)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCandidatesExhausted, err)
	}
	return s, nil
}

// Size возвращает количество готовых identity.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Health опрашивает каждую identity пула легковесным запросом.
// Сессии без проверки соединения считаются работоспособными.
func (p *Pool) Health(ctx context.Context) []IdentityHealth {
	sessions := p.Enumerate(nil)

	result := make([]IdentityHealth, 0, len(sessions))
	for _, s := range sessions {
		h := IdentityHealth{ID: s.ID(), DisplayName: s.DisplayName(), Healthy: true}
		if checker, ok := s.(healthChecker); ok {
			checkCtx, cancel := context.WithTimeout(ctx, p.healthTimeout)
			err := checker.Health(checkCtx)
			cancel()
			if err != nil {
				h.Healthy = false
				h.Error = err.Error()
				p.log.WarnContext(ctx, "Identity health check failed", "client_id", s.ID(), "error", err)
			}
		}
		result = append(result, h)
	}
	return result
}

// Close закрывает все сессии пула.
func (p *Pool) Close() {
	p.mu.Lock()
	managed := p.managed
	p.managed = nil
	p.sessions = nil
	p.mu.Unlock()

	p.log.Info("closing identity pool...", "sessions", len(managed))
	for _, s := range managed {
		s.Close()
	}
	p.log.Info("identity pool closed")
}
