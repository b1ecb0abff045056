package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"service-dispatch/internal/booking/domain"
)

const locationTTL = 10 * time.Minute

// RedisLocationCache holds the latest sample per provider as a hash.
type RedisLocationCache struct {
	client *redis.Client
}

func NewRedisLocationCache(client *redis.Client) *RedisLocationCache {
	return &RedisLocationCache{client: client}
}

func locationKey(providerID string) string {
	return "provider:location:" + providerID
}

func (c *RedisLocationCache) SetLocation(ctx context.Context, s domain.LocationSample) error {
	key := locationKey(s.ProviderID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"lat":       strconv.FormatFloat(s.Lat, 'f', -1, 64),
		"lng":       strconv.FormatFloat(s.Lng, 'f', -1, 64),
		"timestamp": s.Timestamp.UnixNano(),
		"online":    strconv.FormatBool(s.IsOnline),
	})
	pipe.Expire(ctx, key, locationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache location for %s: %w", s.ProviderID, err)
	}
	return nil
}

// GetLocation returns nil without error when nothing is cached.
func (c *RedisLocationCache) GetLocation(ctx context.Context, providerID string) (*domain.LocationSample, error) {
	fields, err := c.client.HGetAll(ctx, locationKey(providerID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached location for %s: %w", providerID, err)
	}
	return parseCachedSample(providerID, fields)
}

func parseCachedSample(providerID string, fields map[string]string) (*domain.LocationSample, error) {
	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return nil, fmt.Errorf("cached lat for %s: %w", providerID, err)
	}
	lng, err := strconv.ParseFloat(fields["lng"], 64)
	if err != nil {
		return nil, fmt.Errorf("cached lng for %s: %w", providerID, err)
	}
	ts, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cached timestamp for %s: %w", providerID, err)
	}
	online, _ := strconv.ParseBool(fields["online"])
	return &domain.LocationSample{
		ProviderID: providerID,
		Lat:        lat,
		Lng:        lng,
		Timestamp:  time.Unix(0, ts).UTC(),
		IsOnline:   online,
	}, nil
}
