package intake

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-greeter/internal/domain"
	"tg-greeter/internal/metrics"
	"tg-greeter/internal/ports"
)

// allowedUpdates - типы обновлений, на которые подписывается бот.
// chat_member нужно запрашивать явно, иначе Bot API его не присылает.
var allowedUpdates = []string{"message", "chat_member", "chat_join_request"}

// updatesSource определяет методы Bot API для получения обновлений.
type updatesSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Listener наблюдает за вступлениями и выходами участников через Bot API
// и ставит доставки в очередь. Других записей он не делает.
type Listener struct {
	api    updatesSource
	queue  ports.EventQueue
	logger *slog.Logger
}

// NewListener создает новый Listener.
func NewListener(api *tgbotapi.BotAPI, queue ports.EventQueue, logger *slog.Logger) *Listener {
	return newListener(api, queue, logger)
}

func newListener(api updatesSource, queue ports.EventQueue, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		api:    api,
		queue:  queue,
		logger: logger,
	}
}

// Start запускает основной цикл обработки обновлений от Telegram.
func (l *Listener) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = allowedUpdates

	updates := l.api.GetUpdatesChan(u)
	l.logger.Info("Intake listener started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Context cancelled, stopping intake listener...")
			l.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			l.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate ставит в очередь доставки для всех событий обновления.
func (l *Listener) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	for _, ev := range eventsFromUpdate(update) {
		metrics.IntakeEvents.WithLabelValues(string(ev.Kind)).Inc()

		logger := l.logger.With(
			slog.Int64("chat_id", ev.ChatID),
			slog.Int64("user_id", ev.UserID),
			slog.String("kind", string(ev.Kind)),
		)

		n, err := l.queue.EnqueueForEvent(ctx, ev)
		if err != nil {
			logger.Error("failed to enqueue deliveries", slog.String("error", err.Error()))
			continue
		}
		if n == 0 {
			logger.Debug("chat is not configured, event ignored")
			continue
		}
		logger.Info("deliveries enqueued", slog.Int("count", n))
	}
}

// eventsFromUpdate извлекает события вступления и выхода из обновления.
//
// Группы присылают служебные сообщения new_chat_members/left_chat_member,
// поэтому chat_member учитывается только для каналов, чтобы не дублировать события.
func eventsFromUpdate(update tgbotapi.Update) []domain.ChatEvent {
	var events []domain.ChatEvent

	if msg := update.Message; msg != nil && msg.Chat != nil {
		for _, u := range msg.NewChatMembers {
			if u.IsBot {
				continue
			}
			events = append(events, chatEvent(domain.KindWelcome, *msg.Chat, u.ID))
		}
		if u := msg.LeftChatMember; u != nil && !u.IsBot {
			events = append(events, chatEvent(domain.KindLeft, *msg.Chat, u.ID))
		}
	}

	if cm := update.ChatMember; cm != nil && cm.Chat.IsChannel() && cm.NewChatMember.User != nil {
		oldStatus, newStatus := cm.OldChatMember.Status, cm.NewChatMember.Status
		userID := cm.NewChatMember.User.ID
		switch {
		case oldStatus == newStatus:
		case newStatus == "member" && !isMemberStatus(oldStatus):
			events = append(events, chatEvent(domain.KindWelcome, cm.Chat, userID))
		case (cm.NewChatMember.HasLeft() || cm.NewChatMember.WasKicked()) && isMemberStatus(oldStatus):
			events = append(events, chatEvent(domain.KindLeft, cm.Chat, userID))
		}
	}

	if req := update.ChatJoinRequest; req != nil {
		events = append(events, chatEvent(domain.KindWelcome, req.Chat, req.From.ID))
	}

	return events
}

func isMemberStatus(status string) bool {
	switch status {
	case "creator", "administrator", "member", "restricted":
		return true
	default:
		return false
	}
}

func chatEvent(kind domain.TemplateKind, chat tgbotapi.Chat, userID int64) domain.ChatEvent {
	return domain.ChatEvent{
		Kind:      kind,
		ChatID:    chat.ID,
		ChatTitle: chat.Title,
		UserID:    userID,
	}
}
