package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisBackend, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	backend, err := NewRedisBackend("redis://"+s.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend, s
}

func TestRedisBackendPing(t *testing.T) {
	backend, _ := setupTestRedis(t, time.Hour)
	assert.NoError(t, backend.Ping(context.Background()))
}

func TestRedisParticipantID(t *testing.T) {
	ctx := context.Background()
	backend, s := setupTestRedis(t, time.Hour)

	id, err := NewManager(backend.Storage("tab-1", "browser-1")).ParticipantID(ctx)
	require.NoError(t, err)

	stored, err := s.Get("estimate:session:tab-1:participantId")
	require.NoError(t, err)
	assert.Equal(t, id, stored)
	assert.Equal(t, time.Hour, s.TTL("estimate:session:tab-1:participantId"))

	again, err := NewManager(backend.Storage("tab-1", "browser-1")).ParticipantID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestRedisSessionExpires(t *testing.T) {
	ctx := context.Background()
	backend, s := setupTestRedis(t, time.Minute)

	id, err := NewManager(backend.Storage("tab-1", "browser-1")).ParticipantID(ctx)
	require.NoError(t, err)
	require.NoError(t, NewManager(backend.Storage("tab-1", "browser-1")).RememberName(ctx, "Grace"))

	s.FastForward(2 * time.Minute)

	m := NewManager(backend.Storage("tab-1", "browser-1"))
	_, ok := m.Lookup(ctx)
	assert.False(t, ok)

	fresh, err := m.ParticipantID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, id, fresh)
	assert.Equal(t, "Grace", m.StoredName(ctx), "persistent scope does not expire")
}

func TestRedisGetRefreshesSessionTTL(t *testing.T) {
	ctx := context.Background()
	backend, s := setupTestRedis(t, time.Minute)
	storage := backend.Storage("tab-1", "browser-1")

	require.NoError(t, storage.Set(ctx, ScopeSession, "k", "v"))
	s.FastForward(50 * time.Second)

	v, ok, err := storage.Get(ctx, ScopeSession, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, time.Minute, s.TTL("estimate:session:tab-1:k"))
}

func TestRedisUnreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	_, err := NewRedisBackend("redis://"+addr, time.Hour)
	assert.Error(t, err)
}
