package telegram

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tg-greeter/internal/domain"
)

const (
	dialogsPageSize      = 100
	participantsPageSize = 200
)

var errIdentity = domain.ErrIdentityUnreachable

// Коды RPC-ошибок, означающие, что сама сессия больше не работоспособна.
var identityErrorCodes = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"AUTH_KEY_PERM_EMPTY",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
}

var userErrorCodes = []string{
	"USER_ID_INVALID",
	"PEER_ID_INVALID",
	"INPUT_USER_DEACTIVATED",
}

var chatErrorCodes = []string{
	"CHANNEL_PRIVATE",
	"CHANNEL_INVALID",
	"CHAT_ID_INVALID",
	"CHAT_FORBIDDEN",
	"CHAT_ADMIN_REQUIRED",
	"PEER_ID_INVALID",
}

// Отказ в списке участников касается только этой identity: другая сессия
// с правами администратора или без скрытого списка может найти получателя.
var participantErrorCodes = []string{
	"CHAT_ADMIN_REQUIRED",
	"CHANNEL_PRIVATE",
	"CHAT_FORBIDDEN",
	"CHAT_ID_INVALID",
	"CHANNEL_INVALID",
}

// classify сопоставляет RPC-ошибку с доменной таксономией.
// Неизвестные ошибки возвращаются как есть.
func classify(err error, codes []string, sentinel error) error {
	switch {
	case err == nil:
		return nil
	case tgerr.Is(err, identityErrorCodes...):
		return fmt.Errorf("%w: %w", domain.ErrIdentityUnreachable, err)
	case tgerr.Is(err, codes...):
		return fmt.Errorf("%w: %w", sentinel, err)
	default:
		return err
	}
}

// GetEntity ищет пользователя напрямую через сессию. Пользователь, которого
// сессия никогда не видела, не может быть адресован и считается не найденным.
func (c *Client) GetEntity(ctx context.Context, userID int64) (domain.Contact, error) {
	cached, ok := c.peers.user(userID)
	if !ok {
		return domain.Contact{}, fmt.Errorf("%w: user %d is unknown to identity %s", domain.ErrTargetNotFound, userID, c.id)
	}

	c.log.DebugContext(ctx, "Executing API call: UsersGetUsers", "client_id", c.id, "user_id", userID)
	var users []tg.UserClass
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().UsersGetUsers(ctx, []tg.InputUserClass{
			&tg.InputUser{UserID: userID, AccessHash: cached.AccessHash},
		})
		if err == nil {
			users = res
		}
		return err
	})
	if err != nil {
		return domain.Contact{}, classify(err, userErrorCodes, domain.ErrTargetNotFound)
	}

	c.peers.learnUsers(users)
	c.persistPeers(ctx)
	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok || user.ID != userID {
			continue
		}
		if contact, ok := c.peers.user(userID); ok {
			return contact, nil
		}
	}

	return domain.Contact{}, fmt.Errorf("%w: user %d returned no entity", domain.ErrTargetNotFound, userID)
}

// GetChat загружает чат через сессию. ID ожидается в формате Bot API.
func (c *Client) GetChat(ctx context.Context, chatID int64) (domain.Chat, error) {
	chatType, peerID, ok := splitBotAPIChatID(chatID)
	if !ok {
		return domain.Chat{}, fmt.Errorf("%w: %d is not a group or channel id", domain.ErrChatUnreachable, chatID)
	}

	var chats []tg.ChatClass
	var err error
	switch chatType {
	case domain.ChatBasic:
		chats, err = c.getBasicChat(ctx, peerID)
	default:
		chats, err = c.getChannel(ctx, chatID, peerID)
	}
	if err != nil {
		return domain.Chat{}, err
	}

	c.peers.learnChats(chats)
	c.persistPeers(ctx)
	if chat, ok := c.peers.chat(chatID); ok {
		return chat, nil
	}
	return domain.Chat{}, fmt.Errorf("%w: chat %d is not accessible by identity %s", domain.ErrChatUnreachable, chatID, c.id)
}

func (c *Client) getBasicChat(ctx context.Context, peerID int64) ([]tg.ChatClass, error) {
	c.log.DebugContext(ctx, "Executing API call: MessagesGetChats", "client_id", c.id, "chat_id", peerID)
	var chats []tg.ChatClass
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().MessagesGetChats(ctx, []int64{peerID})
		if err == nil {
			chats = chatsFromMessagesChats(res)
		}
		return err
	})
	if err != nil {
		return nil, classify(err, chatErrorCodes, domain.ErrChatUnreachable)
	}
	return chats, nil
}

func (c *Client) getChannel(ctx context.Context, chatID, peerID int64) ([]tg.ChatClass, error) {
	cached, ok := c.peers.chat(chatID)
	if !ok {
		// Каналы адресуются только с access hash: пробуем узнать его из диалогов.
		if err := c.refreshDialogs(ctx); err != nil {
			return nil, classify(err, chatErrorCodes, domain.ErrChatUnreachable)
		}
		if cached, ok = c.peers.chat(chatID); !ok {
			return nil, fmt.Errorf("%w: channel %d is not among identity %s dialogs", domain.ErrChatUnreachable, chatID, c.id)
		}
	}

	c.log.DebugContext(ctx, "Executing API call: ChannelsGetChannels", "client_id", c.id, "channel_id", peerID)
	var chats []tg.ChatClass
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().ChannelsGetChannels(ctx, []tg.InputChannelClass{
			&tg.InputChannel{ChannelID: peerID, AccessHash: cached.AccessHash},
		})
		if err == nil {
			chats = chatsFromMessagesChats(res)
		}
		return err
	})
	if err != nil {
		return nil, classify(err, chatErrorCodes, domain.ErrChatUnreachable)
	}
	return chats, nil
}

// GetParticipants возвращает текущих участников чата в порядке, заданном платформой.
func (c *Client) GetParticipants(ctx context.Context, chat domain.Chat) ([]domain.Contact, error) {
	if chat.Type == domain.ChatBasic {
		return c.basicParticipants(ctx, chat)
	}
	return c.channelParticipants(ctx, chat)
}

func (c *Client) basicParticipants(ctx context.Context, chat domain.Chat) ([]domain.Contact, error) {
	c.log.DebugContext(ctx, "Executing API call: MessagesGetFullChat", "client_id", c.id, "chat_id", chat.PeerID)
	var full *tg.MessagesChatFull
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().MessagesGetFullChat(ctx, chat.PeerID)
		if err == nil {
			full = res
		}
		return err
	})
	if err != nil {
		return nil, classify(err, participantErrorCodes, domain.ErrTargetNotFound)
	}

	c.peers.learnUsers(full.Users)
	c.persistPeers(ctx)

	chatFull, ok := full.FullChat.(*tg.ChatFull)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected full chat type %T", domain.ErrTargetNotFound, full.FullChat)
	}
	list, ok := chatFull.Participants.(*tg.ChatParticipants)
	if !ok {
		return nil, fmt.Errorf("%w: participants of chat %d are hidden from identity %s", domain.ErrTargetNotFound, chat.ID, c.id)
	}

	ids := make([]int64, 0, len(list.Participants))
	for _, p := range list.Participants {
		switch v := p.(type) {
		case *tg.ChatParticipant:
			ids = append(ids, v.UserID)
		case *tg.ChatParticipantCreator:
			ids = append(ids, v.UserID)
		case *tg.ChatParticipantAdmin:
			ids = append(ids, v.UserID)
		}
	}
	return c.contactsInOrder(ids, full.Users), nil
}

func (c *Client) channelParticipants(ctx context.Context, chat domain.Chat) ([]domain.Contact, error) {
	input := &tg.InputChannel{ChannelID: chat.PeerID, AccessHash: chat.AccessHash}
	var result []domain.Contact

	for offset := 0; ; {
		c.log.DebugContext(ctx, "Executing API call: ChannelsGetParticipants", "client_id", c.id, "channel_id", chat.PeerID, "offset", offset)
		var page *tg.ChannelsChannelParticipants
		err := c.do(ctx, func(ctx context.Context) error {
			res, err := c.tgRunner.API().ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
				Channel: input,
				Filter:  &tg.ChannelParticipantsRecent{},
				Offset:  offset,
				Limit:   participantsPageSize,
			})
			if err != nil {
				return err
			}
			if p, ok := res.(*tg.ChannelsChannelParticipants); ok {
				page = p
			}
			return nil
		})
		if err != nil {
			return nil, classify(err, participantErrorCodes, domain.ErrTargetNotFound)
		}
		if page == nil || len(page.Participants) == 0 {
			break
		}

		c.peers.learnUsers(page.Users)
		c.persistPeers(ctx)

		ids := make([]int64, 0, len(page.Participants))
		for _, p := range page.Participants {
			switch v := p.(type) {
			case *tg.ChannelParticipant:
				ids = append(ids, v.UserID)
			case *tg.ChannelParticipantSelf:
				ids = append(ids, v.UserID)
			case *tg.ChannelParticipantCreator:
				ids = append(ids, v.UserID)
			case *tg.ChannelParticipantAdmin:
				ids = append(ids, v.UserID)
			}
		}
		result = append(result, c.contactsInOrder(ids, page.Users)...)

		offset += len(page.Participants)
		if offset >= page.Count {
			break
		}
	}

	return result, nil
}

// contactsInOrder сопоставляет ID участников с пользователями ответа, сохраняя порядок участников.
func (c *Client) contactsInOrder(ids []int64, users []tg.UserClass) []domain.Contact {
	byID := make(map[int64]*tg.User, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			byID[user.ID] = user
		}
	}

	contacts := make([]domain.Contact, 0, len(ids))
	for _, id := range ids {
		user, ok := byID[id]
		if !ok {
			continue
		}
		hash, _ := user.GetAccessHash()
		contacts = append(contacts, contactFromUser(user, hash))
	}
	return contacts
}

// refreshDialogs наполняет кэш сущностей пользователями и чатами из всех страниц диалогов сессии.
func (c *Client) refreshDialogs(ctx context.Context) error {
	var (
		fetched int
		last    bool
	)
	query := dialogs.QueryFunc(func(ctx context.Context, req dialogs.Request) (tg.MessagesDialogsClass, error) {
		// Итератор запрашивает страницу и после последней, ее не отправляем.
		if last {
			return &tg.MessagesDialogs{}, nil
		}

		c.log.DebugContext(ctx, "Executing API call: MessagesGetDialogs", "client_id", c.id, "offset_id", req.OffsetID, "fetched", fetched)
		var res tg.MessagesDialogsClass
		err := c.do(ctx, func(ctx context.Context) error {
			r, err := c.tgRunner.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
				OffsetDate: req.OffsetDate,
				OffsetID:   req.OffsetID,
				OffsetPeer: req.OffsetPeer,
				Limit:      req.Limit,
			})
			if err == nil {
				res = r
			}
			return err
		})
		if err != nil {
			return nil, err
		}

		switch d := res.(type) {
		case *tg.MessagesDialogs:
			c.peers.learnUsers(d.Users)
			c.peers.learnChats(d.Chats)
			last = true
		case *tg.MessagesDialogsSlice:
			c.peers.learnUsers(d.Users)
			c.peers.learnChats(d.Chats)
			fetched += len(d.Dialogs)
			last = len(d.Dialogs) == 0 || fetched >= d.Count
		}
		return res, nil
	})

	iter := dialogs.NewIterator(query, dialogsPageSize)
	for iter.Next(ctx) {
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("iterate dialogs: %w", err)
	}

	c.persistPeers(ctx)
	return nil
}

// SendMessage отправляет текстовое сообщение пользователю.
func (c *Client) SendMessage(ctx context.Context, to domain.Contact, text string) error {
	randomID, err := c.randomID()
	if err != nil {
		return fmt.Errorf("%w: random id: %w", domain.ErrSend, err)
	}

	c.log.DebugContext(ctx, "Executing API call: MessagesSendMessage", "client_id", c.id, "user_id", to.UserID)
	err = c.do(ctx, func(ctx context.Context) error {
		_, err := c.tgRunner.API().MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:     inputPeer(to),
			Message:  text,
			RandomID: randomID,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSend, err)
	}
	return nil
}

// SendFile загружает файл и отправляет его пользователю с подписью.
func (c *Client) SendFile(ctx context.Context, to domain.Contact, file domain.File, caption string) error {
	randomID, err := c.randomID()
	if err != nil {
		return fmt.Errorf("%w: random id: %w", domain.ErrSend, err)
	}

	c.log.DebugContext(ctx, "Uploading file", "client_id", c.id, "user_id", to.UserID, "kind", file.Kind, "size", len(file.Data))
	var uploaded tg.InputFileClass
	err = c.do(ctx, func(ctx context.Context) error {
		f, err := c.tgRunner.Uploader().FromBytes(ctx, file.Name, file.Data)
		if err == nil {
			uploaded = f
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: upload: %w", domain.ErrSend, err)
	}

	c.log.DebugContext(ctx, "Executing API call: MessagesSendMedia", "client_id", c.id, "user_id", to.UserID)
	err = c.do(ctx, func(ctx context.Context) error {
		_, err := c.tgRunner.API().MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
			Peer:     inputPeer(to),
			Media:    inputMedia(file, uploaded),
			Message:  caption,
			RandomID: randomID,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSend, err)
	}
	return nil
}

func inputPeer(to domain.Contact) *tg.InputPeerUser {
	return &tg.InputPeerUser{UserID: to.UserID, AccessHash: to.AccessHash}
}

// inputMedia строит описание медиа для отправки по типу слота шаблона.
func inputMedia(file domain.File, uploaded tg.InputFileClass) tg.InputMediaClass {
	if file.Kind == domain.MediaPhoto {
		return &tg.InputMediaUploadedPhoto{File: uploaded}
	}

	mimeType := mime.TypeByExtension(filepath.Ext(file.Name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	attrs := []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: file.Name}}
	switch file.Kind {
	case domain.MediaAudio:
		attrs = append(attrs, &tg.DocumentAttributeAudio{})
	case domain.MediaVideo:
		attrs = append(attrs, &tg.DocumentAttributeVideo{SupportsStreaming: true})
	}

	return &tg.InputMediaUploadedDocument{
		File:       uploaded,
		MimeType:   mimeType,
		Attributes: attrs,
	}
}

func cryptoRandomID() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}
