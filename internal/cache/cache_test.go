package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/payvault-be/internal/models"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisFromClient(client), mr
}

func TestRedisCacheGetSet(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCacheSetNX(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute + time.Second)
	ok, err = c.SetNX(ctx, "lock", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "lock"))
	assert.False(t, mr.Exists("lock"))
}

func TestNewRedisFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer c.Close()

	_, err = NewRedis(context.Background(), "::bad")
	assert.Error(t, err)
}

func TestUserCache(t *testing.T) {
	c, _ := newTestRedis(t)
	uc := NewUserCache(c)
	ctx := context.Background()
	id := uuid.New()

	calls := 0
	load := func(context.Context, uuid.UUID) (models.User, error) {
		calls++
		return models.User{ID: id, Email: "a@example.com", Role: models.RoleAdmin, PasswordHash: "secret", IsActive: true}, nil
	}

	first, err := uc.Load(ctx, id, load)
	require.NoError(t, err)
	second, err := uc.Load(ctx, id, load)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Email, second.Email)
	assert.Empty(t, first.PasswordHash)
	assert.Empty(t, second.PasswordHash)

	uc.Invalidate(ctx, id)
	_, err = uc.Load(ctx, id, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUserCacheNoopPassesThroughErrors(t *testing.T) {
	uc := NewUserCache(nil)
	boom := errors.New("boom")
	_, err := uc.Load(context.Background(), uuid.New(), func(context.Context, uuid.UUID) (models.User, error) {
		return models.User{}, boom
	})
	assert.ErrorIs(t, err, boom)

	ok, err := Noop{}.SetNX(context.Background(), "k", nil, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
