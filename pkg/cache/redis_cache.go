package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	insightdomain "safe-backend/internal/insight/domain"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Redis-backed InsightCache shared across instances.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, userID, projectID string) (*insightdomain.Insights, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(userID, projectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var insights insightdomain.Insights
	if err := json.Unmarshal([]byte(data), &insights); err != nil {
		return nil, false, err
	}
	return &insights, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID, projectID string, insights *insightdomain.Insights, ttl time.Duration) error {
	data, err := json.Marshal(insights)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(userID, projectID), data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, userID, projectID string) error {
	return c.client.Del(ctx, cacheKey(userID, projectID)).Err()
}
