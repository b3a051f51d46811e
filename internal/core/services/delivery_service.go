package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tg-greeter/internal/domain"
	"tg-greeter/internal/metrics"
	"tg-greeter/internal/ports"
)

// Config хранит конфигурацию для DeliveryService.
type Config struct {
	// PollInterval - пауза между проходами по очереди.
	PollInterval time.Duration
}

// Option - функциональная опция для настройки DeliveryService.
type Option func(*DeliveryService)

// WithPollInterval устанавливает интервал опроса очереди.
func WithPollInterval(d time.Duration) Option {
	return func(s *DeliveryService) {
		if d > 0 {
			s.config.PollInterval = d
		}
	}
}

// WithAffinity включает привязку пользователя к последней успешной identity.
func WithAffinity(c ports.AffinityCache) Option {
	return func(s *DeliveryService) {
		s.affinity = c
	}
}

// WithLogger устанавливает логгер для сервиса.
func WithLogger(l *slog.Logger) Option {
	return func(s *DeliveryService) {
		if l != nil {
			s.log = l
		}
	}
}

// Stats - итоги одного прохода по очереди.
type Stats struct {
	Pending     int `json:"pending"`
	Delivered   int `json:"delivered"`
	Abandoned   int `json:"abandoned"`
	SendFailed  int `json:"send_failed"`
	Interrupted int `json:"interrupted"`
	// DeleteFailed - записи с терминальным итогом, которые не удалось удалить.
	DeleteFailed int `json:"delete_failed"`
}

func (st *Stats) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeDelivered:
		st.Delivered++
	case domain.OutcomeAbandoned:
		st.Abandoned++
	case domain.OutcomeSendFailed:
		st.SendFailed++
	case domain.OutcomeInterrupted:
		st.Interrupted++
	}
}

// DeliveryService разбирает очередь доставок по одной записи за раз.
// Один экземпляр рассчитан на одного воркера: записи не обрабатываются параллельно.
type DeliveryService struct {
	queue    ports.QueueStore
	pool     ports.IdentityPool
	resolver ports.TargetResolver
	media    ports.MediaFetcher
	affinity ports.AffinityCache
	config   Config
	log      *slog.Logger

	mu       sync.RWMutex
	lastPass Stats
	lastAt   time.Time
}

// NewDeliveryService создает новый DeliveryService с использованием функциональных опций.
func NewDeliveryService(
	queue ports.QueueStore,
	pool ports.IdentityPool,
	resolver ports.TargetResolver,
	media ports.MediaFetcher,
	opts ...Option,
) *DeliveryService {
	s := &DeliveryService{
		queue:    queue,
		pool:     pool,
		resolver: resolver,
		media:    media,
		config: Config{
			PollInterval: 5 * time.Second,
		},
		log: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run опрашивает очередь до отмены ctx. Первый проход выполняется сразу.
func (s *DeliveryService) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "Delivery loop started", "poll_interval", s.config.PollInterval)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		st := s.ProcessPending(ctx)
		if st.Pending > 0 {
			s.log.InfoContext(ctx, "Queue pass finished",
				"pending", st.Pending,
				"delivered", st.Delivered,
				"abandoned", st.Abandoned,
				"send_failed", st.SendFailed,
				"interrupted", st.Interrupted,
				"delete_failed", st.DeleteFailed,
			)
		}

		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "Delivery loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessPending выполняет один проход по всем текущим записям очереди.
func (s *DeliveryService) ProcessPending(ctx context.Context) Stats {
	var st Stats

	metrics.PoolIdentities.Set(float64(s.pool.Size()))

	pending, err := s.queue.ListPending(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to list pending deliveries", "error", err)
		return st
	}
	st.Pending = len(pending)
	metrics.QueuePending.Set(float64(len(pending)))
	defer s.remember(&st)

	for _, d := range pending {
		if ctx.Err() != nil {
			break
		}

		outcome := s.Process(ctx, d)
		st.add(outcome)
		metrics.Deliveries.WithLabelValues(string(outcome)).Inc()

		if !outcome.Terminal() {
			continue
		}
		if err := s.queue.Delete(ctx, d.ID); err != nil {
			// Запись остается в очереди и будет обработана повторно.
			st.DeleteFailed++
			s.log.ErrorContext(ctx, "Failed to remove processed delivery", "delivery_id", d.ID, "outcome", outcome, "error", err)
		}
	}

	return st
}

func (s *DeliveryService) remember(st *Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPass = *st
	s.lastAt = time.Now()
}

// LastPass возвращает итоги последнего завершенного прохода и время его окончания.
// Нулевое время означает, что проходов еще не было.
func (s *DeliveryService) LastPass() (Stats, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPass, s.lastAt
}

// Process обрабатывает одну запись очереди и возвращает ее итог.
// Очередь не изменяется: удаление выполняет ProcessPending.
func (s *DeliveryService) Process(ctx context.Context, d domain.Delivery) domain.Outcome {
	log := s.log.With("delivery_id", d.ID, "user_id", d.TargetUserID, "kind", d.Kind)

	if err := d.Validate(); err != nil {
		log.WarnContext(ctx, "Abandoning malformed delivery", "error", err)
		return domain.OutcomeAbandoned
	}

	tpl, err := s.queue.GetTemplate(ctx, d.Kind, d.TemplateID)
	if err != nil {
		if errors.Is(err, domain.ErrTemplateNotFound) {
			log.WarnContext(ctx, "Abandoning delivery", "template_id", d.TemplateID, "reason", err)
			return domain.OutcomeAbandoned
		}
		log.ErrorContext(ctx, "Failed to load template, will retry", "template_id", d.TemplateID, "error", err)
		return s.failure(ctx)
	}

	content, ok := tpl.Content()
	if !ok {
		log.WarnContext(ctx, "Abandoning delivery", "template_id", tpl.ID, "reason", domain.ErrEmptyTemplate)
		return domain.OutcomeAbandoned
	}

	session, contact, err := s.findTarget(ctx, log, d, tpl.AllowedIdentities)
	if err != nil {
		if ctx.Err() != nil {
			return domain.OutcomeInterrupted
		}
		log.InfoContext(ctx, "Abandoning delivery", "reason", err)
		return domain.OutcomeAbandoned
	}

	if err := s.send(ctx, session, contact, content); err != nil {
		log.ErrorContext(ctx, "Failed to send, will retry", "client_id", session.ID(), "error", err)
		return s.failure(ctx)
	}

	if s.affinity != nil {
		s.affinity.Put(d.TargetUserID, session.ID())
	}
	log.InfoContext(ctx, "Delivered", "client_id", session.ID(), "template_id", tpl.ID, "media", content.Media)
	return domain.OutcomeDelivered
}

// failure возвращает итог для записи, которая остается в очереди.
func (s *DeliveryService) failure(ctx context.Context) domain.Outcome {
	if ctx.Err() != nil {
		return domain.OutcomeInterrupted
	}
	return domain.OutcomeSendFailed
}

// findTarget перебирает кандидатов, пока одна из identity не найдет пользователя.
// Возвращает domain.ErrChatUnreachable или domain.ErrCandidatesExhausted, если
// запись следует отбросить.
func (s *DeliveryService) findTarget(ctx context.Context, log *slog.Logger, d domain.Delivery, allowed []string) (ports.Session, domain.Contact, error) {
	candidates := s.pool.Enumerate(allowed)
	excluded := make(map[string]struct{}, len(candidates))

	for {
		if err := ctx.Err(); err != nil {
			return nil, domain.Contact{}, err
		}

		session, err := s.pick(d.TargetUserID, candidates, excluded)
		if err != nil {
			return nil, domain.Contact{}, fmt.Errorf("tried %d of %d identities: %w", len(excluded), len(candidates), err)
		}

		contact, err := s.resolver.Resolve(ctx, session, d.TargetUserID, d.TargetChatID)
		switch {
		case err == nil:
			return session, contact, nil
		case errors.Is(err, domain.ErrChatUnreachable):
			return nil, domain.Contact{}, err
		case errors.Is(err, domain.ErrTargetNotFound):
			log.DebugContext(ctx, "Identity cannot see target", "client_id", session.ID(), "error", err)
		case errors.Is(err, domain.ErrIdentityUnreachable):
			log.WarnContext(ctx, "Identity is unreachable, skipping", "client_id", session.ID(), "error", err)
		default:
			log.WarnContext(ctx, "Unexpected error while resolving target, skipping identity", "client_id", session.ID(), "error", err)
		}

		excluded[session.ID()] = struct{}{}
		if s.affinity != nil {
			if id, ok := s.affinity.Get(d.TargetUserID); ok && id == session.ID() {
				s.affinity.Forget(d.TargetUserID)
			}
		}
	}
}

// pick предпочитает identity, которая в прошлый раз достигла пользователя.
func (s *DeliveryService) pick(userID int64, candidates []ports.Session, excluded map[string]struct{}) (ports.Session, error) {
	if s.affinity != nil {
		if id, ok := s.affinity.Get(userID); ok {
			if _, tried := excluded[id]; !tried {
				for _, c := range candidates {
					if c.ID() == id {
						return c, nil
					}
				}
			}
		}
	}
	return s.pool.PickRandom(candidates, excluded)
}

// send отправляет текст или первый заполненный медиа-слот шаблона.
func (s *DeliveryService) send(ctx context.Context, session ports.Session, to domain.Contact, content domain.Content) error {
	if content.IsText() {
		return session.SendMessage(ctx, to, content.Text)
	}

	file, err := s.media.Fetch(ctx, content.Media, content.FileID)
	if err != nil {
		return err
	}
	return session.SendFile(ctx, to, file, content.Caption)
}
