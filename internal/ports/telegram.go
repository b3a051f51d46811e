package ports

import (
	"context"

	"tg-greeter/internal/domain"
)

// Session определяет публичный интерфейс живой сессии отправляющей identity.
type Session interface {
	// ID возвращает identity_id учетной записи.
	ID() string
	DisplayName() string
	// GetEntity ищет пользователя напрямую по его ID.
	GetEntity(ctx context.Context, userID int64) (domain.Contact, error)
	// GetChat загружает чат по ID в формате Bot API.
	GetChat(ctx context.Context, chatID int64) (domain.Chat, error)
	// GetParticipants возвращает участников чата в порядке, заданном платформой.
	GetParticipants(ctx context.Context, chat domain.Chat) ([]domain.Contact, error)
	SendMessage(ctx context.Context, to domain.Contact, text string) error
	SendFile(ctx context.Context, to domain.Contact, file domain.File, caption string) error
}

// IdentityPool определяет интерфейс пула отправляющих identity.
type IdentityPool interface {
	// Enumerate возвращает участников пула, ограниченных списком allowed.
	// Пустой allowed означает весь пул.
	Enumerate(allowed []string) []Session
	// PickRandom выбирает кандидата, которого нет в excluded.
	// Возвращает domain.ErrCandidatesExhausted, если кандидатов не осталось.
	PickRandom(candidates []Session, excluded map[string]struct{}) (Session, error)
	Size() int
	Close()
}

// Strategy определяет интерфейс для стратегии выбора identity.
type Strategy interface {
	Next(sessions []Session) (Session, error)
}

// PeerStore сохраняет access hash пользователей и чатов, которые узнала identity,
// чтобы они переживали перезапуск процесса.
type PeerStore interface {
	LoadPeers(ctx context.Context, identityID string) ([]domain.Contact, []domain.Chat, error)
	SavePeers(ctx context.Context, identityID string, users []domain.Contact, chats []domain.Chat) error
}
