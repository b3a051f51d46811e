package cache

import (
	"context"
	"sync"
	"time"

	"tg-greeter/internal/metrics"
)

// AffinityItem хранит identity, последней успешно доставившей сообщение пользователю.
type AffinityItem struct {
	IdentityID string
	// ExpiresAt нулевой, если запись не устаревает.
	ExpiresAt time.Time
}

func (i *AffinityItem) expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// AffinityStore управляет привязками user_id -> identity_id.
type AffinityStore struct {
	cache map[int64]*AffinityItem
	mutex sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
}

// NewAffinityStore создает новый экземпляр AffinityStore.
// ttl == 0 означает, что привязки не устаревают.
func NewAffinityStore(ttl time.Duration) *AffinityStore {
	return &AffinityStore{
		cache: make(map[int64]*AffinityItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get возвращает identity, привязанную к пользователю.
func (cs *AffinityStore) Get(userID int64) (string, bool) {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	item, exists := cs.cache[userID]
	if !exists || item.expired(cs.now()) {
		return "", false
	}
	return item.IdentityID, true
}

// Put привязывает пользователя к identity, продлевая срок действия привязки.
func (cs *AffinityStore) Put(userID int64, identityID string) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	item := &AffinityItem{IdentityID: identityID}
	if cs.ttl > 0 {
		item.ExpiresAt = cs.now().Add(cs.ttl)
	}
	cs.cache[userID] = item
}

// Forget удаляет привязку пользователя.
func (cs *AffinityStore) Forget(userID int64) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	delete(cs.cache, userID)
}

// Len возвращает количество хранимых привязок, включая просроченные.
func (cs *AffinityStore) Len() int {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return len(cs.cache)
}

// CleanupExpired удаляет просроченные привязки.
func (cs *AffinityStore) CleanupExpired() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	now := cs.now()
	for key, item := range cs.cache {
		if item.expired(now) {
			delete(cs.cache, key)
		}
	}
}

// StartCleanupTicker запускает таймер для периодической очистки просроченных привязок.
// После каждой очистки размер хранилища публикуется в метрике greeter_affinity_entries.
func (cs *AffinityStore) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	if cs.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cs.CleanupExpired()
				metrics.AffinityEntries.Set(float64(cs.Len()))
			}
		}
	}()
}
