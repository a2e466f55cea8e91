package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchbay/internal/domain"
)

// setupTestPublisher creates a publisher connected to a miniredis instance
func setupTestPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	p, err := NewPublisher(&redis.Options{Addr: mr.Addr()}, "patchbay:test", "session-1")
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	return p, mr
}

func TestNewPublisher(t *testing.T) {
	t.Run("creates publisher", func(t *testing.T) {
		p, _ := setupTestPublisher(t)
		assert.Equal(t, "patchbay:test", p.Channel())
		assert.NoError(t, p.Ping(context.Background()))
	})

	t.Run("rejects empty channel", func(t *testing.T) {
		_, err := NewPublisher(&redis.Options{Addr: "localhost:6379"}, "", "s")
		assert.Error(t, err)
	})
}

func TestPublishWithoutSubscribers(t *testing.T) {
	p, _ := setupTestPublisher(t)

	n, err := p.Publish(context.Background(), domain.ModuleDelta(domain.EventModuleAppeared, domain.Module{ID: 1, Client: 20}))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSubscribeReceivesDeltas(t *testing.T) {
	p, mr := setupTestPublisher(t)
	ctx := context.Background()

	sub, err := Subscribe(ctx, &redis.Options{Addr: mr.Addr()}, p.Channel())
	require.NoError(t, err)
	defer sub.Close()

	port := domain.Port{ID: 7, Module: 3, Name: "Speaker", Direction: domain.DirectionOutput, Address: domain.Address{Client: 128}}
	n, err := p.Publish(ctx, domain.PortDelta(domain.EventPortAppeared, port))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	select {
	case m := <-sub.Messages():
		assert.Equal(t, "session-1", m.Session)
		assert.Equal(t, domain.EventPortAppeared, m.Delta.Kind)
		require.NotNil(t, m.Delta.Port)
		assert.Equal(t, port, *m.Delta.Port)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delta")
	}
}

func TestSubscribeSkipsGarbage(t *testing.T) {
	p, mr := setupTestPublisher(t)
	ctx := context.Background()

	sub, err := Subscribe(ctx, &redis.Options{Addr: mr.Addr()}, p.Channel())
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish(p.Channel(), "not json")
	_, err = p.Publish(ctx, domain.ModuleDelta(domain.EventModuleDisappeared, domain.Module{ID: 2, Client: 20}))
	require.NoError(t, err)

	select {
	case err := <-sub.Errors():
		assert.Contains(t, err.Error(), "unmarshal")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for decode error")
	}

	select {
	case m := <-sub.Messages():
		assert.Equal(t, domain.EventModuleDisappeared, m.Delta.Kind)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delta")
	}
}

func TestSubscribeFailsWithoutServer(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Subscribe(ctx, &redis.Options{Addr: addr, MaxRetries: -1}, "patchbay:test")
	assert.Error(t, err)
}

func TestCloseEndsSubscription(t *testing.T) {
	_, mr := setupTestPublisher(t)

	sub, err := Subscribe(context.Background(), &redis.Options{Addr: mr.Addr()}, "patchbay:test")
	require.NoError(t, err)
	sub.Close()

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("messages channel not closed")
	}
}
