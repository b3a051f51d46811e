package domain

import "fmt"

// TemplateKind различает шаблоны приветствия и прощания.
type TemplateKind string

const (
	KindWelcome TemplateKind = "welcome"
	KindLeft    TemplateKind = "left"
)

// MediaKind - тип медиа-слота шаблона.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
)

// MediaPriority задает фиксированный порядок просмотра медиа-слотов.
var MediaPriority = []MediaKind{MediaPhoto, MediaAudio, MediaDocument, MediaVideo}

// Account представляет отправляющую учетную запись (identity).
// Ядро только читает эти записи.
type Account struct {
	IdentityID   string
	AuthMaterial []byte
	DisplayName  string
}

// Template представляет шаблон сообщения в форме, удобной для отправки.
type Template struct {
	ID      uint
	Kind    TemplateKind
	Text    string
	Caption string
	// Media хранит file_id из Bot API по слотам. Пустое значение - слот не заполнен.
	Media map[MediaKind]string
	// AllowedIdentities - identity, которым конфигурация чата разрешает отправку.
	// Пустой список означает весь пул.
	AllowedIdentities []string
}

// Content описывает, что именно нужно отправить по шаблону.
type Content struct {
	Text    string
	Media   MediaKind
	FileID  string
	Caption string
}

// IsText сообщает, является ли содержимое текстовым.
func (c Content) IsText() bool {
	return c.Media == ""
}

// Content выбирает содержимое для отправки: текст имеет приоритет над любыми
// медиа-слотами, иначе берется первый заполненный слот в порядке MediaPriority.
// Возвращает false, если отправлять нечего.
func (t Template) Content() (Content, bool) {
	if t.Text != "" {
		return Content{Text: t.Text}, true
	}
	for _, kind := range MediaPriority {
		if id := t.Media[kind]; id != "" {
			return Content{Media: kind, FileID: id, Caption: t.Caption}, true
		}
	}
	return Content{}, false
}

// Delivery - запись очереди на доставку (QueuedDelivery).
type Delivery struct {
	ID           uint
	TargetUserID int64
	// TargetChatID задан только для приветствий.
	TargetChatID *int64
	Kind         TemplateKind
	TemplateID   uint
}

// Validate проверяет инвариант записи: вид шаблона и наличие чата согласованы.
func (d Delivery) Validate() error {
	switch d.Kind {
	case KindWelcome:
		if d.TargetChatID == nil {
			return fmt.Errorf("delivery %d: welcome delivery without target chat", d.ID)
		}
	case KindLeft:
		if d.TargetChatID != nil {
			return fmt.Errorf("delivery %d: left delivery must not reference a chat", d.ID)
		}
	default:
		return fmt.Errorf("delivery %d: unknown template kind %q", d.ID, d.Kind)
	}
	if d.TemplateID == 0 {
		return fmt.Errorf("delivery %d: template reference is empty", d.ID)
	}
	return nil
}

// Contact - сетевой дескриптор пользователя (contact handle), достаточный
// для адресации сообщения через конкретную identity.
type Contact struct {
	UserID     int64
	AccessHash int64
	Username   string
}

// ChatType различает обычные группы и каналы/супергруппы.
type ChatType int

const (
	ChatBasic ChatType = iota + 1
	ChatChannel
)

// Chat - загруженный через identity чат.
type Chat struct {
	// ID в формате Bot API (отрицательный, -100... для каналов).
	ID         int64
	Type       ChatType
	PeerID     int64
	AccessHash int64
	Title      string
}

// File - содержимое медиа, полученное из хостинга контента.
type File struct {
	Kind MediaKind
	Name string
	Data []byte
}

// Outcome - итог обработки одной записи очереди.
type Outcome string

const (
	OutcomeDelivered  Outcome = "delivered"
	OutcomeAbandoned  Outcome = "abandoned"
	OutcomeSendFailed Outcome = "send_failed"
	// OutcomeInterrupted - обработка прервана остановкой процесса, запись остается в очереди.
	OutcomeInterrupted Outcome = "interrupted"
)

// Terminal сообщает, нужно ли удалить запись из очереди.
func (o Outcome) Terminal() bool {
	return o == OutcomeDelivered || o == OutcomeAbandoned
}

// ChatEvent - наблюдаемое событие чата (вступление, выход, заявка).
type ChatEvent struct {
	Kind      TemplateKind
	ChatID    int64
	ChatTitle string
	UserID    int64
}
