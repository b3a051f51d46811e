package ports

import (
	"context"

	"tg-greeter/internal/domain"
)

// QueueStore определяет интерфейс хранилища очереди доставок.
type QueueStore interface {
	// ListPending возвращает все текущие записи очереди.
	ListPending(ctx context.Context) ([]domain.Delivery, error)
	// GetTemplate загружает шаблон указанного вида по ID.
	GetTemplate(ctx context.Context, kind domain.TemplateKind, id uint) (domain.Template, error)
	// Delete удаляет запись и фиксирует транзакцию.
	Delete(ctx context.Context, id uint) error
}

// MediaFetcher получает содержимое медиа по его ID в хостинге контента.
type MediaFetcher interface {
	Fetch(ctx context.Context, kind domain.MediaKind, fileID string) (domain.File, error)
}

// TargetResolver находит дескриптор пользователя через конкретную identity.
type TargetResolver interface {
	Resolve(ctx context.Context, s Session, userID int64, chatID *int64) (domain.Contact, error)
}

// AffinityCache запоминает identity, последней успешно достигшую пользователя.
type AffinityCache interface {
	Get(userID int64) (string, bool)
	Put(userID int64, identityID string)
	Forget(userID int64)
}

// EventQueue ставит доставки в очередь по наблюдаемым событиям чата.
type EventQueue interface {
	EnqueueForEvent(ctx context.Context, ev domain.ChatEvent) (int, error)
}
