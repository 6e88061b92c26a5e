package config

import (
	"os"
	"strconv"
	"time"
)

// CacheConfig defines settings for the Redis read-through cache in front of
// amenity lookups.  Amenity rows are read on every admission but change
// rarely, so a short TTL is enough.  When Enabled is false or no Redis client
// is configured, lookups go straight to MySQL.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// Defaults are used when variables are not set.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled: envBool("AMENITY_CACHE_ENABLED", true),
		TTL:     parseDur(getenv("AMENITY_CACHE_TTL", "5m")),
		Prefix:  getenv("AMENITY_CACHE_PREFIX", "amenity"),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return cfg
}

// Helper functions reused from redis.go and ratelimit.go
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func parseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Second
	}
	return d
}
