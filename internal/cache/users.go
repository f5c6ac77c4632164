package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/models"
)

// UserTTL bounds how stale an authenticated user's role or active flag can be.
const UserTTL = 60 * time.Second

// UserCache memoises user rows looked up on every authenticated request.
type UserCache struct {
	cache Cache
	ttl   time.Duration
}

// NewUserCache wraps c; a nil c disables caching.
func NewUserCache(c Cache) *UserCache {
	if c == nil {
		c = Noop{}
	}
	return &UserCache{cache: c, ttl: UserTTL}
}

func userKey(id uuid.UUID) string {
	return "user:" + id.String()
}

// Load returns the cached user or calls load and caches its result. The
// returned user never carries a password hash.
func (u *UserCache) Load(ctx context.Context, id uuid.UUID, load func(context.Context, uuid.UUID) (models.User, error)) (models.User, error) {
	if raw, err := u.cache.Get(ctx, userKey(id)); err == nil {
		var cached models.User
		if json.Unmarshal(raw, &cached) == nil {
			return cached, nil
		}
	} else if !errors.Is(err, ErrMiss) {
		zap.L().Warn("user cache read failed", zap.Error(err))
	}

	user, err := load(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	user.PasswordHash = ""
	if raw, err := json.Marshal(user); err == nil {
		if err := u.cache.Set(ctx, userKey(id), raw, u.ttl); err != nil {
			zap.L().Warn("user cache write failed", zap.Error(err))
		}
	}
	return user, nil
}

// Invalidate drops a user so the next request reloads it.
func (u *UserCache) Invalidate(ctx context.Context, id uuid.UUID) {
	if err := u.cache.Delete(ctx, userKey(id)); err != nil {
		zap.L().Warn("user cache invalidate failed", zap.Error(err))
	}
}
