package identitycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/estimation"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL bounds how long a forgotten session lingers in Redis.
const DefaultRedisTTL = 30 * 24 * time.Hour

// RedisCache keeps identities in Redis, one JSON value per session, so several
// terminals of the same user share them.
type RedisCache struct {
	client *redis.Client
	clock  clockwork.Clock
	prefix string
	ttl    time.Duration
}

var _ estimation.IdentityCache = (*RedisCache)(nil)

// NewRedisCache connects to redisURL. prefix namespaces the keys, typically per user.
func NewRedisCache(redisURL, prefix string, clock clockwork.Clock) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, prefix, clock), nil
}

// NewRedisCacheWithClient creates a cache from an existing client.
func NewRedisCacheWithClient(client *redis.Client, prefix string, clock clockwork.Clock) *RedisCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisCache{
		client: client,
		clock:  clock,
		prefix: prefix + "identity:",
		ttl:    DefaultRedisTTL,
	}
}

func (c *RedisCache) sessionKey(sessionID uuid.UUID) string {
	return c.prefix + "session:" + sessionID.String()
}

func (c *RedisCache) lastNameKey() string {
	return c.prefix + "last_name"
}

func (c *RedisCache) Lookup(ctx context.Context, sessionID uuid.UUID) (*estimation.CachedIdentity, error) {
	data, err := c.client.Get(ctx, c.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	var id estimation.CachedIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("unmarshal identity: %w", err)
	}
	return &id, nil
}

func (c *RedisCache) Remember(ctx context.Context, sessionID uuid.UUID, userName string) error {
	data, err := json.Marshal(estimation.CachedIdentity{
		SessionID: sessionID,
		UserName:  userName,
		JoinedAt:  c.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.sessionKey(sessionID), data, c.ttl)
	pipe.Set(ctx, c.lastNameKey(), userName, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (c *RedisCache) Forget(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.client.Del(ctx, c.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("forget identity: %w", err)
	}
	return nil
}

func (c *RedisCache) LastUsedName(ctx context.Context) (string, error) {
	name, err := c.client.Get(ctx, c.lastNameKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read last used name: %w", err)
	}
	return name, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
