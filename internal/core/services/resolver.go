package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tg-greeter/internal/domain"
	"tg-greeter/internal/metrics"
	"tg-greeter/internal/ports"
)

// Resolver находит дескриптор пользователя через сессию конкретной identity.
// Сервис не хранит состояние и безопасен для одновременного использования.
type Resolver struct {
	log *slog.Logger
}

// NewResolver создает новый Resolver.
func NewResolver(log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{log: log}
}

// Resolve возвращает дескриптор пользователя userID.
//
// Без chatID (прощание) пользователь ищется напрямую: покинувшего чат
// участника нельзя найти в списке участников. С chatID (приветствие) чат
// загружается через identity, затем список участников просматривается до
// первого совпадения в порядке, заданном платформой.
func (r *Resolver) Resolve(ctx context.Context, s ports.Session, userID int64, chatID *int64) (domain.Contact, error) {
	var (
		contact domain.Contact
		err     error
	)
	if chatID == nil {
		contact, err = r.resolveDirect(ctx, s, userID)
	} else {
		contact, err = r.resolveInChat(ctx, s, userID, *chatID)
	}
	metrics.ResolveAttempts.WithLabelValues(resolveResult(err)).Inc()
	return contact, err
}

func (r *Resolver) resolveDirect(ctx context.Context, s ports.Session, userID int64) (domain.Contact, error) {
	contact, err := s.GetEntity(ctx, userID)
	if err != nil {
		return domain.Contact{}, err
	}
	return contact, nil
}

func (r *Resolver) resolveInChat(ctx context.Context, s ports.Session, userID, chatID int64) (domain.Contact, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		// ErrChatUnreachable проходит как есть: решение об отказе принимает движок.
		return domain.Contact{}, err
	}

	members, err := s.GetParticipants(ctx, chat)
	if err != nil {
		// Чат уже загружен: отказ в списке участников касается только этой identity.
		if errors.Is(err, domain.ErrChatUnreachable) {
			return domain.Contact{}, fmt.Errorf("%w: list participants of %d: %v", domain.ErrTargetNotFound, chatID, err)
		}
		return domain.Contact{}, fmt.Errorf("list participants of %d: %w", chatID, err)
	}

	for _, m := range members {
		if m.UserID == userID {
			return m, nil
		}
	}

	r.log.DebugContext(ctx, "Target is not among chat participants",
		"client_id", s.ID(), "user_id", userID, "chat_id", chatID, "participants", len(members))
	return domain.Contact{}, fmt.Errorf("%w: user %d is not a participant of %d", domain.ErrTargetNotFound, userID, chatID)
}

func resolveResult(err error) string {
	switch {
	case err == nil:
		return "found"
	case errors.Is(err, domain.ErrTargetNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrChatUnreachable):
		return "chat_unreachable"
	default:
		return "error"
	}
}
