package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gotd/td/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-greeter/internal/domain"
	"tg-greeter/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ids(sessions []ports.Session) []string {
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID())
	}
	return out
}

func TestOpen(t *testing.T) {
	t.Run("failed accounts are left out", func(t *testing.T) {
		created := make(map[string]*fakeSession)
		factory := func(acc domain.Account) managedSession {
			var err error
			if acc.IdentityID == "broken" {
				err = errors.New("AUTH_KEY_UNREGISTERED")
			}
			s := newFakeSession(acc.IdentityID, err)
			created[acc.IdentityID] = s
			return s
		}

		accounts := []domain.Account{{IdentityID: "a"}, {IdentityID: "broken"}, {IdentityID: "b"}}
		p, err := Open(context.Background(), accounts,
			WithSessionFactory(factory),
			WithConnectTimeout(time.Second),
			WithLogger(discardLogger()),
		)
		require.NoError(t, err)

		require.Equal(t, 2, p.Size())
		assert.Equal(t, []string{"a", "b"}, ids(p.Enumerate(nil)))
		assert.True(t, created["broken"].closed.Load(), "failed session must be closed")

		p.Close()
		assert.True(t, created["a"].closed.Load())
		assert.True(t, created["b"].closed.Load())
		assert.Equal(t, 0, p.Size())
	})

	t.Run("no accounts is not fatal", func(t *testing.T) {
		p, err := Open(context.Background(), nil,
			WithSessionFactory(func(acc domain.Account) managedSession { return newFakeSession(acc.IdentityID, nil) }),
			WithLogger(discardLogger()),
		)
		require.NoError(t, err)
		require.Equal(t, 0, p.Size())
	})

	t.Run("no factory", func(t *testing.T) {
		_, err := Open(context.Background(), nil, WithLogger(discardLogger()))
		require.Error(t, err)
	})
}

func TestPool_Enumerate(t *testing.T) {
	p := New([]ports.Session{
		newFakeSession("a", nil),
		newFakeSession("b", nil),
		newFakeSession("c", nil),
	}, WithLogger(discardLogger()))

	assert.Equal(t, []string{"a", "b", "c"}, ids(p.Enumerate(nil)))
	assert.Equal(t, []string{"a", "c"}, ids(p.Enumerate([]string{"c", "a"})))
	// Identity, которых нет в пуле (например, не прошедшие аутентификацию), игнорируются.
	assert.Equal(t, []string{"b"}, ids(p.Enumerate([]string{"b", "missing"})))
	assert.Empty(t, p.Enumerate([]string{"missing"}))
}

func TestPool_PickRandom(t *testing.T) {
	p := New([]ports.Session{
		newFakeSession("a", nil),
		newFakeSession("b", nil),
	}, WithLogger(discardLogger()))
	candidates := p.Enumerate(nil)

	t.Run("excluded members are never picked", func(t *testing.T) {
		excluded := map[string]struct{}{"a": {}}
		for i := 0; i < 50; i++ {
			s, err := p.PickRandom(candidates, excluded)
			require.NoError(t, err)
			require.Equal(t, "b", s.ID())
		}
	})

	t.Run("exhausted when excluded covers the pool", func(t *testing.T) {
		excluded := map[string]struct{}{"a": {}, "b": {}}
		_, err := p.PickRandom(candidates, excluded)
		require.ErrorIs(t, err, domain.ErrCandidatesExhausted)
	})

	t.Run("exhausted on empty candidates", func(t *testing.T) {
		_, err := p.PickRandom(nil, nil)
		require.ErrorIs(t, err, domain.ErrCandidatesExhausted)
	})

	t.Run("strategy option", func(t *testing.T) {
		p := New([]ports.Session{
			newFakeSession("a", nil),
			newFakeSession("b", nil),
		}, WithLogger(discardLogger()), WithStrategy(NewRoundRobinStrategy()))
		candidates := p.Enumerate(nil)

		s1, err := p.PickRandom(candidates, nil)
		require.NoError(t, err)
		s2, err := p.PickRandom(candidates, nil)
		require.NoError(t, err)
		require.NotEqual(t, s1.ID(), s2.ID())
	})
}

func TestPool_Health(t *testing.T) {
	flooded := newFakeSession("b", nil)
	flooded.healthErr = errors.New("client is in flood wait")

	p, err := Open(context.Background(), []domain.Account{{IdentityID: "a"}, {IdentityID: "b"}},
		WithSessionFactory(func(acc domain.Account) managedSession {
			if acc.IdentityID == "b" {
				return flooded
			}
			return newFakeSession(acc.IdentityID, nil)
		}),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	defer p.Close()

	got := p.Health(context.Background())
	require.Equal(t, []IdentityHealth{
		{ID: "a", DisplayName: "name-a", Healthy: true},
		{ID: "b", DisplayName: "name-b", Healthy: false, Error: "client is in flood wait"},
	}, got)
}

func TestWithPeerStore(t *testing.T) {
	store := &stubPeerStore{}
	p := newPool([]Option{WithPeerStore(store), WithTelegramClients(1, "hash", func(domain.Account) session.Storage { return nil })})
	require.Same(t, store, p.peers)
	require.NotNil(t, p.factory)
}
