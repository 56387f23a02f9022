// Package cache puts a Redis TTL cache in front of the identity store.
// Role and verification checks happen on every engine operation, so reads
// dominate; writes invalidate.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"landledger/internal/identity"
	"landledger/internal/identity/store"
	id "landledger/pkg/domain"
)

// CachedStore decorates a store.Store with read-through caching. A nil
// Redis client degrades to pass-through.
type CachedStore struct {
	store.Store
	redis  *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(inner store.Store, redis *goredis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{Store: inner, redis: redis, ttl: ttl, logger: logger}
}

func (c *CachedStore) Get(ctx context.Context, identityID id.IdentityID) (*identity.Identity, error) {
	if c.redis == nil {
		return c.Store.Get(ctx, identityID)
	}

	key := cacheKey(identityID)
	if payload, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var ident identity.Identity
		if err := json.Unmarshal(payload, &ident); err == nil {
			return &ident, nil
		}
		// Corrupt entry: drop it and fall through to the store.
		c.redis.Del(ctx, key)
	} else if !errors.Is(err, goredis.Nil) {
		c.logger.WarnContext(ctx, "identity cache read failed", "identity_id", identityID, "error", err)
	}

	ident, err := c.Store.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(ident); err == nil {
		if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "identity cache write failed", "identity_id", identityID, "error", err)
		}
	}
	return ident, nil
}

func (c *CachedStore) Update(ctx context.Context, ident *identity.Identity, expectedVersion int64) error {
	if err := c.Store.Update(ctx, ident, expectedVersion); err != nil {
		return err
	}
	c.invalidate(ctx, ident.ID)
	return nil
}

func (c *CachedStore) AdjustReputation(ctx context.Context, identityID id.IdentityID, delta identity.Delta) error {
	if err := c.Store.AdjustReputation(ctx, identityID, delta); err != nil {
		return err
	}
	c.invalidate(ctx, identityID)
	return nil
}

func (c *CachedStore) invalidate(ctx context.Context, identityID id.IdentityID) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, cacheKey(identityID)).Err(); err != nil {
		c.logger.WarnContext(ctx, "identity cache invalidation failed", "identity_id", identityID, "error", err)
	}
}

func cacheKey(identityID id.IdentityID) string {
	return "identity:" + identityID.String()
}
