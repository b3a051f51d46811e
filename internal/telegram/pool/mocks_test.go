package pool

import (
	"context"
	"errors"
	"sync/atomic"

	"tg-greeter/internal/domain"
)

// fakeSession - это мок-реализация managedSession для использования в тестах.
type fakeSession struct {
	id        string
	readyErr  error
	healthErr error

	started atomic.Bool
	closed  atomic.Bool
}

func newFakeSession(id string, readyErr error) *fakeSession {
	return &fakeSession{id: id, readyErr: readyErr}
}

func (f *fakeSession) ID() string          { return f.id }
func (f *fakeSession) DisplayName() string { return "name-" + f.id }

func (f *fakeSession) Start(ctx context.Context) { f.started.Store(true) }

func (f *fakeSession) WaitReady(ctx context.Context) error {
	if !f.started.Load() {
		return errors.New("not started")
	}
	return f.readyErr
}

func (f *fakeSession) Close() { f.closed.Store(true) }

func (f *fakeSession) Health(ctx context.Context) error { return f.healthErr }

func (f *fakeSession) GetEntity(ctx context.Context, userID int64) (domain.Contact, error) {
	return domain.Contact{}, domain.ErrTargetNotFound
}

func (f *fakeSession) GetChat(ctx context.Context, chatID int64) (domain.Chat, error) {
	return domain.Chat{}, domain.ErrChatUnreachable
}

func (f *fakeSession) GetParticipants(ctx context.Context, chat domain.Chat) ([]domain.Contact, error) {
	return nil, nil
}

func (f *fakeSession) SendMessage(ctx context.Context, to domain.Contact, text string) error {
	return nil
}

func (f *fakeSession) SendFile(ctx context.Context, to domain.Contact, file domain.File, caption string) error {
	return nil
}

type stubPeerStore struct{}

func (s *stubPeerStore) LoadPeers(ctx context.Context, identityID string) ([]domain.Contact, []domain.Chat, error) {
	return nil, nil, nil
}

func (s *stubPeerStore) SavePeers(ctx context.Context, identityID string, users []domain.Contact, chats []domain.Chat) error {
	return nil
}
