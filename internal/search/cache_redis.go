package search

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tutormarket/searchservice/internal/domain"
	"tutormarket/searchservice/internal/geo"
)

const redisCoveragePrefix = "tmsearch:coverage:"

// RedisCoverageCache stores coverage collections in Redis as GeoJSON.
type RedisCoverageCache struct {
	client *redis.Client
}

func NewRedisCoverageCache(client *redis.Client) *RedisCoverageCache {
	return &RedisCoverageCache{client: client}
}

func (r *RedisCoverageCache) Get(ctx context.Context, key string) (*domain.CoverageCollection, bool, error) {
	data, err := r.client.Get(ctx, redisCoveragePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	collection, _, err := geo.DecodeCoverage(data)
	if err != nil {
		return nil, false, err
	}
	return collection, true, nil
}

func (r *RedisCoverageCache) Set(ctx context.Context, key string, collection *domain.CoverageCollection, ttl time.Duration) error {
	data, err := geo.EncodeCoverage(collection)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisCoveragePrefix+key, data, ttl).Err()
}

func (r *RedisCoverageCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisCoveragePrefix+key).Err()
}

func (r *RedisCoverageCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
