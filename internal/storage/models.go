package storage

import (
	"time"

	"tg-greeter/internal/domain"
)

// Account - отправляющая учетная запись MTProto.
type Account struct {
	ID           uint      `gorm:"primaryKey"`
	IdentityID   string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	DisplayName  string    `gorm:"type:varchar(255)"`
	AuthMaterial []byte    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a Account) toDomain() domain.Account {
	return domain.Account{
		IdentityID:   a.IdentityID,
		AuthMaterial: a.AuthMaterial,
		DisplayName:  a.DisplayName,
	}
}

// ChatConfig связывает чат с шаблонами и identity, которым разрешена отправка.
type ChatConfig struct {
	ID uint `gorm:"primaryKey"`

	// Chat - ID чата в формате Bot API или его название.
	Chat               string              `gorm:"type:varchar(255);index;not null"`
	Accounts           []Account           `gorm:"many2many:chat_config_accounts;"`
	WelcomeMessages    []WelcomeMessage    `gorm:"constraint:OnDelete:CASCADE;"`
	MemberLeftMessages []MemberLeftMessage `gorm:"constraint:OnDelete:CASCADE;"`
	CreatedAt          time.Time           `gorm:"autoCreateTime"`
}

func (ChatConfig) TableName() string {
	return "chat_configs"
}

// MessageContent - общие поля шаблонов. Медиа хранятся как file_id Bot API.
type MessageContent struct {
	Text       string `gorm:"type:text"`
	Caption    string `gorm:"type:text"`
	PhotoID    string `gorm:"type:varchar(255)"`
	AudioID    string `gorm:"type:varchar(255)"`
	DocumentID string `gorm:"type:varchar(255)"`
	VideoID    string `gorm:"type:varchar(255)"`
}

func (m MessageContent) media() map[domain.MediaKind]string {
	media := make(map[domain.MediaKind]string, 4)
	for kind, id := range map[domain.MediaKind]string{
		domain.MediaPhoto:    m.PhotoID,
		domain.MediaAudio:    m.AudioID,
		domain.MediaDocument: m.DocumentID,
		domain.MediaVideo:    m.VideoID,
	} {
		if id != "" {
			media[kind] = id
		}
	}
	return media
}

// WelcomeMessage - шаблон приветствия.
type WelcomeMessage struct {
	ID           uint `gorm:"primaryKey"`
	ChatConfigID uint `gorm:"index;not null"`
	ChatConfig   ChatConfig
	MessageContent
}

func (WelcomeMessage) TableName() string {
	return "welcome_messages"
}

// MemberLeftMessage - шаблон прощания.
type MemberLeftMessage struct {
	ID           uint `gorm:"primaryKey"`
	ChatConfigID uint `gorm:"index;not null"`
	ChatConfig   ChatConfig
	MessageContent
}

func (MemberLeftMessage) TableName() string {
	return "member_left_messages"
}

// QueuedDelivery - запись очереди доставки. Ровно одна из ссылок на шаблон заполнена.
type QueuedDelivery struct {
	ID                  uint      `gorm:"primaryKey"`
	UserID              int64     `gorm:"not null"`
	ChatID              *int64    `gorm:"index"`
	WelcomeMessageID    *uint     `gorm:"index"`
	MemberLeftMessageID *uint     `gorm:"index;check:chk_queued_deliveries_one_template,(welcome_message_id IS NULL) <> (member_left_message_id IS NULL)"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
}

func (QueuedDelivery) TableName() string {
	return "queued_deliveries"
}

func (q QueuedDelivery) toDomain() domain.Delivery {
	d := domain.Delivery{
		ID:           q.ID,
		TargetUserID: q.UserID,
		TargetChatID: q.ChatID,
	}
	// Запись с обеими ссылками или без ссылок остается без вида и не проходит Validate.
	switch {
	case q.WelcomeMessageID != nil && q.MemberLeftMessageID != nil:
	case q.WelcomeMessageID != nil:
		d.Kind = domain.KindWelcome
		d.TemplateID = *q.WelcomeMessageID
	case q.MemberLeftMessageID != nil:
		d.Kind = domain.KindLeft
		d.TemplateID = *q.MemberLeftMessageID
	}
	return d
}

// Виды записей known_peers.
const (
	peerKindUser = "user"
	peerKindChat = "chat"
)

// KnownPeer - access hash пользователя или чата, который узнала identity.
// PeerID - ID пользователя или ID чата в формате Bot API.
type KnownPeer struct {
	ID         uint      `gorm:"primaryKey"`
	IdentityID string    `gorm:"type:varchar(64);uniqueIndex:idx_known_peers_key,priority:1;not null"`
	Kind       string    `gorm:"type:varchar(8);uniqueIndex:idx_known_peers_key,priority:2;not null"`
	PeerID     int64     `gorm:"uniqueIndex:idx_known_peers_key,priority:3;not null"`
	MTProtoID  int64     `gorm:"column:mtproto_id;not null"`
	ChatType   int       `gorm:"not null"`
	AccessHash int64     `gorm:"not null"`
	Username   string    `gorm:"type:varchar(255)"`
	Title      string    `gorm:"type:varchar(255)"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (KnownPeer) TableName() string {
	return "known_peers"
}

func knownUser(identityID string, c domain.Contact) KnownPeer {
	return KnownPeer{
		IdentityID: identityID,
		Kind:       peerKindUser,
		PeerID:     c.UserID,
		MTProtoID:  c.UserID,
		AccessHash: c.AccessHash,
		Username:   c.Username,
	}
}

func knownChat(identityID string, c domain.Chat) KnownPeer {
	return KnownPeer{
		IdentityID: identityID,
		Kind:       peerKindChat,
		PeerID:     c.ID,
		MTProtoID:  c.PeerID,
		ChatType:   int(c.Type),
		AccessHash: c.AccessHash,
		Title:      c.Title,
	}
}

func (k KnownPeer) contact() domain.Contact {
	return domain.Contact{UserID: k.PeerID, AccessHash: k.AccessHash, Username: k.Username}
}

func (k KnownPeer) chat() domain.Chat {
	return domain.Chat{
		ID:         k.PeerID,
		Type:       domain.ChatType(k.ChatType),
		PeerID:     k.MTProtoID,
		AccessHash: k.AccessHash,
		Title:      k.Title,
	}
}

func allowedIdentities(cfg ChatConfig) []string {
	ids := make([]string, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		ids = append(ids, a.IdentityID)
	}
	return ids
}
