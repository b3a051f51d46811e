package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"tg-greeter/internal/domain"
	"tg-greeter/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chatID(id int64) *int64 {
	return &id
}

// --- fakeSession ---

type sentMessage struct {
	from    string
	to      int64
	text    string
	file    domain.File
	caption string
}

// fakeSession - сессия identity с заранее заданным состоянием.
type fakeSession struct {
	id string

	// entities - пользователи, которых identity может найти напрямую.
	entities map[int64]domain.Contact
	// members - участники чатов в порядке платформы.
	members map[int64][]domain.Contact
	// chatErr возвращается из GetChat для любого чата, если задан.
	chatErr error
	// lookupErr возвращается из GetEntity и GetChat, если задан.
	lookupErr error
	// membersErr возвращается из GetParticipants, если задан.
	membersErr error
	sendErr    error

	mu              sync.Mutex
	sent            *[]sentMessage
	getChatCalls    int
	getMembersCalls int
	getEntityCalls  int
}

func newFakeSession(id string, sent *[]sentMessage) *fakeSession {
	return &fakeSession{
		id:       id,
		entities: make(map[int64]domain.Contact),
		members:  make(map[int64][]domain.Contact),
		sent:     sent,
	}
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) DisplayName() string { return f.id }

func (f *fakeSession) GetEntity(ctx context.Context, userID int64) (domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getEntityCalls++
	if f.lookupErr != nil {
		return domain.Contact{}, f.lookupErr
	}
	c, ok := f.entities[userID]
	if !ok {
		return domain.Contact{}, domain.ErrTargetNotFound
	}
	return c, nil
}

func (f *fakeSession) GetChat(ctx context.Context, id int64) (domain.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getChatCalls++
	if f.lookupErr != nil {
		return domain.Chat{}, f.lookupErr
	}
	if f.chatErr != nil {
		return domain.Chat{}, f.chatErr
	}
	return domain.Chat{ID: id, Type: domain.ChatChannel}, nil
}

func (f *fakeSession) GetParticipants(ctx context.Context, chat domain.Chat) ([]domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getMembersCalls++
	if f.membersErr != nil {
		return nil, f.membersErr
	}
	return f.members[chat.ID], nil
}

func (f *fakeSession) SendMessage(ctx context.Context, to domain.Contact, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	*f.sent = append(*f.sent, sentMessage{from: f.id, to: to.UserID, text: text})
	return nil
}

func (f *fakeSession) SendFile(ctx context.Context, to domain.Contact, file domain.File, caption string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	*f.sent = append(*f.sent, sentMessage{from: f.id, to: to.UserID, file: file, caption: caption})
	return nil
}

// --- orderedPool ---

// orderedPool выбирает кандидатов в заданном порядке вместо случайного.
type orderedPool struct {
	sessions []ports.Session
	order    []string
	picks    []string
}

func newOrderedPool(sessions ...ports.Session) *orderedPool {
	p := &orderedPool{sessions: sessions}
	for _, s := range sessions {
		p.order = append(p.order, s.ID())
	}
	return p
}

func (p *orderedPool) Enumerate(allowed []string) []ports.Session {
	if len(allowed) == 0 {
		return append([]ports.Session(nil), p.sessions...)
	}
	var out []ports.Session
	for _, s := range p.sessions {
		for _, id := range allowed {
			if s.ID() == id {
				out = append(out, s)
			}
		}
	}
	return out
}

func (p *orderedPool) PickRandom(candidates []ports.Session, excluded map[string]struct{}) (ports.Session, error) {
	for _, id := range p.order {
		if _, ok := excluded[id]; ok {
			continue
		}
		for _, c := range candidates {
			if c.ID() == id {
				p.picks = append(p.picks, id)
				return c, nil
			}
		}
	}
	return nil, domain.ErrCandidatesExhausted
}

func (p *orderedPool) Size() int { return len(p.sessions) }

func (p *orderedPool) Close() {}

// --- memQueue ---

// memQueue - хранилище очереди в памяти.
type memQueue struct {
	mu         sync.Mutex
	deliveries map[uint]domain.Delivery
	templates  map[uint]domain.Template
	// failDeletes - сколько ближайших удалений завершатся ошибкой.
	failDeletes int
	listErr     error
	templateErr error
}

func newMemQueue() *memQueue {
	return &memQueue{
		deliveries: make(map[uint]domain.Delivery),
		templates:  make(map[uint]domain.Template),
	}
}

func (q *memQueue) add(d domain.Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deliveries[d.ID] = d
}

func (q *memQueue) addTemplate(t domain.Template) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.templates[t.ID] = t
}

func (q *memQueue) ListPending(ctx context.Context) ([]domain.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.listErr != nil {
		return nil, q.listErr
	}
	out := make([]domain.Delivery, 0, len(q.deliveries))
	for _, d := range q.deliveries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q *memQueue) GetTemplate(ctx context.Context, kind domain.TemplateKind, id uint) (domain.Template, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.templateErr != nil {
		return domain.Template{}, q.templateErr
	}
	t, ok := q.templates[id]
	if !ok || t.Kind != kind {
		return domain.Template{}, domain.ErrTemplateNotFound
	}
	return t, nil
}

func (q *memQueue) Delete(ctx context.Context, id uint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failDeletes > 0 {
		q.failDeletes--
		return errors.New("connection reset before commit")
	}
	delete(q.deliveries, id)
	return nil
}

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deliveries)
}

// --- mockMediaFetcher ---

type mockMediaFetcher struct {
	mock.Mock
}

func (m *mockMediaFetcher) Fetch(ctx context.Context, kind domain.MediaKind, fileID string) (domain.File, error) {
	args := m.Called(ctx, kind, fileID)
	return args.Get(0).(domain.File), args.Error(1)
}
