package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"printshop/analytics/models"
)

const geoKeyPrefix = "geo:"

// GeoCache stores resolved locations per IP.
type GeoCache interface {
	Get(ctx context.Context, ip string) (models.GeoLocation, bool, error)
	Set(ctx context.Context, ip string, loc models.GeoLocation, ttl time.Duration) error
}

// NopGeoCache never hits. Used when no Redis is configured.
type NopGeoCache struct{}

func (NopGeoCache) Get(context.Context, string) (models.GeoLocation, bool, error) {
	return models.GeoLocation{}, false, nil
}

func (NopGeoCache) Set(context.Context, string, models.GeoLocation, time.Duration) error {
	return nil
}

// RedisGeoCache keeps lookups in Redis so that every API instance shares them
// and the upstream quota.
type RedisGeoCache struct {
	client *redis.Client
}

func NewRedisGeoCache(client *redis.Client) *RedisGeoCache {
	return &RedisGeoCache{client: client}
}

func (c *RedisGeoCache) Get(ctx context.Context, ip string) (models.GeoLocation, bool, error) {
	data, err := c.client.Get(ctx, geoKeyPrefix+ip).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.GeoLocation{}, false, nil
		}
		return models.GeoLocation{}, false, fmt.Errorf("failed to read geo cache: %w", err)
	}

	var loc models.GeoLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return models.GeoLocation{}, false, fmt.Errorf("failed to decode cached location: %w", err)
	}
	return loc, true, nil
}

func (c *RedisGeoCache) Set(ctx context.Context, ip string, loc models.GeoLocation, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}
	if err := c.client.Set(ctx, geoKeyPrefix+ip, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write geo cache: %w", err)
	}
	return nil
}
