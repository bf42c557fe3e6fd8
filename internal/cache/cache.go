package cache

import (
	"fmt"

	"github.com/opensource-finance/shrike/internal/domain"
)

// New creates a new cache based on configuration.
// Community tier gets the in-process LRU; Pro tier gets Redis so
// counters stay accurate across nodes.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
