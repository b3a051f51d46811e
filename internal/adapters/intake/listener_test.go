package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-greeter/internal/domain"
)

// mockEventQueue - это мок для ports.EventQueue.
type mockEventQueue struct {
	mu     sync.Mutex
	events []domain.ChatEvent
	err    error
}

func (m *mockEventQueue) EnqueueForEvent(ctx context.Context, ev domain.ChatEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.events = append(m.events, ev)
	return 1, nil
}

func (m *mockEventQueue) received() []domain.ChatEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatEvent(nil), m.events...)
}

// fakeUpdates отдает обновления из канала.
type fakeUpdates struct {
	ch      chan tgbotapi.Update
	config  tgbotapi.UpdateConfig
	stopped chan struct{}
}

func (f *fakeUpdates) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	f.config = config
	return f.ch
}

func (f *fakeUpdates) StopReceivingUpdates() {
	close(f.stopped)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	group   = tgbotapi.Chat{ID: -100200, Type: "supergroup", Title: "Book club"}
	channel = tgbotapi.Chat{ID: -100300, Type: "channel", Title: "News"}
)

func TestEventsFromUpdate(t *testing.T) {
	tests := []struct {
		name   string
		update tgbotapi.Update
		want   []domain.ChatEvent
	}{
		{
			name: "новые участники группы",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat: &group,
				NewChatMembers: []tgbotapi.User{
					{ID: 1},
					{ID: 2, IsBot: true},
					{ID: 3},
				},
			}},
			want: []domain.ChatEvent{
				{Kind: domain.KindWelcome, ChatID: -100200, ChatTitle: "Book club", UserID: 1},
				{Kind: domain.KindWelcome, ChatID: -100200, ChatTitle: "Book club", UserID: 3},
			},
		},
		{
			name: "участник покинул группу",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat:           &group,
				LeftChatMember: &tgbotapi.User{ID: 9},
			}},
			want: []domain.ChatEvent{{Kind: domain.KindLeft, ChatID: -100200, ChatTitle: "Book club", UserID: 9}},
		},
		{
			name: "подписка на канал",
			update: tgbotapi.Update{ChatMember: &tgbotapi.ChatMemberUpdated{
				Chat:          channel,
				OldChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 5}, Status: "left"},
				NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 5}, Status: "member"},
			}},
			want: []domain.ChatEvent{{Kind: domain.KindWelcome, ChatID: -100300, ChatTitle: "News", UserID: 5}},
		},
		{
			name: "отписка от канала",
			update: tgbotapi.Update{ChatMember: &tgbotapi.ChatMemberUpdated{
				Chat:          channel,
				OldChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 5}, Status: "member"},
				NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 5}, Status: "kicked"},
			}},
			want: []domain.ChatEvent{{Kind: domain.KindLeft, ChatID: -100300, ChatTitle: "News", UserID: 5}},
		},
		{
			name: "смена прав в канале не является событием",
			update: tgbotapi.Update{ChatMember: &tgbotapi.ChatMemberUpdated{
				Chat:          channel,
				OldChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 5}, Status: "member"},
				NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 5}, Status: "administrator"},
			}},
		},
		{
			name: "chat_member группы дублирует служебное сообщение",
			update: tgbotapi.Update{ChatMember: &tgbotapi.ChatMemberUpdated{
				Chat:          group,
				OldChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 5}, Status: "left"},
				NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 5}, Status: "member"},
			}},
		},
		{
			name: "заявка на вступление",
			update: tgbotapi.Update{ChatJoinRequest: &tgbotapi.ChatJoinRequest{
				Chat: channel,
				From: tgbotapi.User{ID: 77},
			}},
			want: []domain.ChatEvent{{Kind: domain.KindWelcome, ChatID: -100300, ChatTitle: "News", UserID: 77}},
		},
		{
			name:   "обычное сообщение",
			update: tgbotapi.Update{Message: &tgbotapi.Message{Chat: &group, Text: "hello"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eventsFromUpdate(tt.update))
		})
	}
}

func TestListener_Start(t *testing.T) {
	queue := &mockEventQueue{}
	src := &fakeUpdates{ch: make(chan tgbotapi.Update, 2), stopped: make(chan struct{})}
	l := newListener(src, queue, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()

	src.ch <- tgbotapi.Update{Message: &tgbotapi.Message{Chat: &group, LeftChatMember: &tgbotapi.User{ID: 9}}}
	require.Eventually(t, func() bool { return len(queue.received()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	<-src.stopped
	assert.ElementsMatch(t, allowedUpdates, src.config.AllowedUpdates)
}

func TestListener_EnqueueErrorDoesNotStop(t *testing.T) {
	queue := &mockEventQueue{err: errors.New("database is locked")}
	l := newListener(&fakeUpdates{}, queue, discardLogger())

	assert.NotPanics(t, func() {
		l.handleUpdate(context.Background(), tgbotapi.Update{ChatJoinRequest: &tgbotapi.ChatJoinRequest{Chat: channel, From: tgbotapi.User{ID: 1}}})
	})
	assert.Empty(t, queue.received())
}
