package domain

import (
	"context"
	"time"
)

// Cache defines the caching interface. It fronts the repository for
// behavioral profiles and serves atomic windowed counters for velocity
// rules. All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a raw value. Returns nil, nil if the key is absent.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a raw value with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetProfile retrieves a cached behavioral profile.
	// Returns nil, nil on a miss.
	GetProfile(ctx context.Context, tenantID string, accountID string) (*BehavioralProfile, error)

	// SetProfile caches a behavioral profile.
	SetProfile(ctx context.Context, tenantID string, profile *BehavioralProfile, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and
	// returns the new value. Used for velocity checks.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// CounterValue reads a windowed counter without incrementing it.
	// Returns 0 when the counter is cold or its window has lapsed.
	CounterValue(ctx context.Context, tenantID string, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// In-process LRU settings
	LocalMaxSize int

	// ProfileTTL bounds how long a cached profile is served before the
	// repository copy is consulted again.
	ProfileTTL time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
