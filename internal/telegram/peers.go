package telegram

import (
	"sync"

	"github.com/gotd/td/tg"

	"tg-greeter/internal/domain"
)

// Смещение, которым Bot API кодирует ID каналов и супергрупп: -100XXXXXXXXXX.
const channelIDOffset = 1_000_000_000_000

// peerCache хранит access hash пользователей и чатов, известных сессии.
// Без access hash MTProto не позволяет адресовать пользователя или канал.
// Новые и изменившиеся записи помечаются для сохранения в PeerStore.
type peerCache struct {
	mu    sync.RWMutex
	users map[int64]domain.Contact
	chats map[int64]domain.Chat // ключ - ID в формате Bot API

	dirtyUsers map[int64]struct{}
	dirtyChats map[int64]struct{}
}

func newPeerCache() *peerCache {
	return &peerCache{
		users:      make(map[int64]domain.Contact),
		chats:      make(map[int64]domain.Chat),
		dirtyUsers: make(map[int64]struct{}),
		dirtyChats: make(map[int64]struct{}),
	}
}

func (p *peerCache) user(id int64) (domain.Contact, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[id]
	return u, ok
}

func (p *peerCache) chat(botAPIID int64) (domain.Chat, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.chats[botAPIID]
	return c, ok
}

// restore загружает ранее сохраненные записи. Уже известные сессии записи
// свежее сохраненных и не перезаписываются.
func (p *peerCache) restore(users []domain.Contact, chats []domain.Chat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range users {
		if _, known := p.users[u.UserID]; !known {
			p.users[u.UserID] = u
		}
	}
	for _, c := range chats {
		if _, known := p.chats[c.ID]; !known {
			p.chats[c.ID] = c
		}
	}
}

// takeDirty возвращает записи, изменившиеся с прошлого вызова, и сбрасывает пометки.
func (p *peerCache) takeDirty() ([]domain.Contact, []domain.Chat) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users := make([]domain.Contact, 0, len(p.dirtyUsers))
	for id := range p.dirtyUsers {
		users = append(users, p.users[id])
		delete(p.dirtyUsers, id)
	}
	chats := make([]domain.Chat, 0, len(p.dirtyChats))
	for id := range p.dirtyChats {
		chats = append(chats, p.chats[id])
		delete(p.dirtyChats, id)
	}
	return users, chats
}

// markDirty возвращает пометки записям, которые не удалось сохранить.
func (p *peerCache) markDirty(users []domain.Contact, chats []domain.Chat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range users {
		p.dirtyUsers[u.UserID] = struct{}{}
	}
	for _, c := range chats {
		p.dirtyChats[c.ID] = struct{}{}
	}
}

// learnUsers запоминает пользователей с известным access hash.
func (p *peerCache) learnUsers(users []tg.UserClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			p.putUserLocked(user)
		}
	}
}

func (p *peerCache) putUserLocked(user *tg.User) {
	hash, ok := user.GetAccessHash()
	if !ok {
		return
	}
	// min-конструкторы содержат неполный access hash и не перезаписывают полный.
	prev, known := p.users[user.ID]
	if known && user.Min {
		return
	}
	contact := contactFromUser(user, hash)
	if known && prev == contact {
		return
	}
	p.users[user.ID] = contact
	p.dirtyUsers[user.ID] = struct{}{}
}

func (p *peerCache) putChatLocked(c tg.ChatClass) {
	chat, ok := chatFromClass(c)
	if !ok {
		return
	}
	if prev, known := p.chats[chat.ID]; known && prev == chat {
		return
	}
	p.chats[chat.ID] = chat
	p.dirtyChats[chat.ID] = struct{}{}
}

// learnChats запоминает обычные группы и каналы.
func (p *peerCache) learnChats(chats []tg.ChatClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range chats {
		p.putChatLocked(c)
	}
}

func (p *peerCache) learnEntities(e tg.Entities) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, user := range e.Users {
		p.putUserLocked(user)
	}
	for _, c := range e.Chats {
		p.putChatLocked(c)
	}
	for _, c := range e.Channels {
		p.putChatLocked(c)
	}
}

func contactFromUser(user *tg.User, hash int64) domain.Contact {
	return domain.Contact{
		UserID:     user.ID,
		AccessHash: hash,
		Username:   user.Username,
	}
}

// chatFromClass преобразует чат MTProto в доменную модель с ID в формате Bot API.
// Недоступные (forbidden) и пустые чаты не возвращаются.
func chatFromClass(c tg.ChatClass) (domain.Chat, bool) {
	switch chat := c.(type) {
	case *tg.Chat:
		if chat.Deactivated || chat.Left {
			return domain.Chat{}, false
		}
		return domain.Chat{
			ID:     -chat.ID,
			Type:   domain.ChatBasic,
			PeerID: chat.ID,
			Title:  chat.Title,
		}, true
	case *tg.Channel:
		hash, ok := chat.GetAccessHash()
		if !ok || chat.Left {
			return domain.Chat{}, false
		}
		return domain.Chat{
			ID:         -(channelIDOffset + chat.ID),
			Type:       domain.ChatChannel,
			PeerID:     chat.ID,
			AccessHash: hash,
			Title:      chat.Title,
		}, true
	default:
		return domain.Chat{}, false
	}
}

// splitBotAPIChatID раскладывает ID чата из Bot API на тип и ID MTProto.
func splitBotAPIChatID(id int64) (domain.ChatType, int64, bool) {
	switch {
	case id <= -channelIDOffset:
		return domain.ChatChannel, -id - channelIDOffset, true
	case id < 0:
		return domain.ChatBasic, -id, true
	default:
		return 0, 0, false
	}
}

func chatsFromMessagesChats(res tg.MessagesChatsClass) []tg.ChatClass {
	switch r := res.(type) {
	case *tg.MessagesChats:
		return r.Chats
	case *tg.MessagesChatsSlice:
		return r.Chats
	default:
		return nil
	}
}
