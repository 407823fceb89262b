package management

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultCacheTTL is used when NewRedisCache is given a zero TTL.
const DefaultCacheTTL = 10 * time.Minute

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisCache caches successful lookups of next. Misses and failures are
// never cached, and cache errors fall through to next.
type RedisCache struct {
	next      Lookup
	client    redisClient
	ttl       time.Duration
	keyPrefix string
	logger    zerolog.Logger
}

// NewRedisCache wraps next with a cache backed by client.
func NewRedisCache(next Lookup, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	return newRedisCache(next, client, ttl, logger)
}

func newRedisCache(next Lookup, client redisClient, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{
		next:      next,
		client:    client,
		ttl:       ttl,
		keyPrefix: "hans:care-provider",
		logger:    logger.With().Str("component", "care_provider_cache").Logger(),
	}
}

// DialRedis parses url and checks the connection.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (c *RedisCache) key(pseudoID string) string {
	return c.keyPrefix + ":" + pseudoID
}

func (c *RedisCache) CareProviderLocation(ctx context.Context, pseudoID string) (*CareProvider, error) {
	data, err := c.client.Get(ctx, c.key(pseudoID)).Bytes()
	switch {
	case err == nil:
		var cp CareProvider
		if jerr := json.Unmarshal(data, &cp); jerr == nil {
			return &cp, nil
		}
		c.logger.Warn().Msg("discarding undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Msg("cache read failed")
	}

	cp, err := c.next.CareProviderLocation(ctx, pseudoID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cp); err == nil {
		if err := c.client.Set(ctx, c.key(pseudoID), data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("cache write failed")
		}
	}
	return cp, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
