package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/community-amenity-booking/internal/config"
	"github.com/iliyamo/community-amenity-booking/internal/model"
)

// AmenitySource is anything that can load an amenity by id.
type AmenitySource interface {
	GetByID(ctx context.Context, id string) (*model.Amenity, error)
}

// CachedAmenityRepo is a Redis read-through cache in front of an
// AmenitySource.  Redis errors never fail a lookup; they only bypass the
// cache.
type CachedAmenityRepo struct {
	next   AmenitySource
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewCachedAmenityRepo wraps next.  When caching is disabled or rdb is nil
// the source itself is returned.
func NewCachedAmenityRepo(next AmenitySource, rdb *redis.Client, cfg config.CacheConfig) AmenitySource {
	if !cfg.Enabled || rdb == nil {
		return next
	}
	return &CachedAmenityRepo{next: next, rdb: rdb, ttl: cfg.TTL, prefix: cfg.Prefix}
}

func (c *CachedAmenityRepo) key(id string) string { return c.prefix + ":" + id }

// GetByID serves from Redis when possible and fills the cache on a miss.
func (c *CachedAmenityRepo) GetByID(ctx context.Context, id string) (*model.Amenity, error) {
	key := c.key(id)
	if bs, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var a model.Amenity
		if err := json.Unmarshal(bs, &a); err == nil {
			return &a, nil
		}
	} else if err != redis.Nil {
		slog.WarnContext(ctx, "amenity cache read failed", "key", key, "err", err)
	}

	a, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if bs, err := json.Marshal(a); err == nil {
		if err := c.rdb.Set(ctx, key, bs, c.ttl).Err(); err != nil {
			slog.WarnContext(ctx, "amenity cache write failed", "key", key, "err", err)
		}
	}
	return a, nil
}
