package storage

import (
	"context"
	"sync"

	"github.com/gotd/td/session"
)

// SessionStorage реализует session.Storage поверх auth_material учетной записи.
// Обновления сессии остаются в памяти: в учетную запись их записывает
// только утилита входа через Data после успешной аутентификации.
type SessionStorage struct {
	mu   sync.Mutex
	data []byte
}

// NewSessionStorage создает хранилище сессии, изначально содержащее data.
func NewSessionStorage(data []byte) *SessionStorage {
	return &SessionStorage{data: append([]byte(nil), data...)}
}

// LoadSession возвращает сохраненные данные сессии.
func (s *SessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

// StoreSession запоминает данные сессии.
func (s *SessionStorage) StoreSession(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

// Data возвращает текущие данные сессии.
func (s *SessionStorage) Data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}
