package domain

import (
	"time"
)

// Config holds the complete Shrike configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Engine tuning
	Engine EngineConfig `json:"engine"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// EngineConfig tunes scoring, profiling and the outlier model.
type EngineConfig struct {
	// HomeCountry classifies transactions as domestic/foreign.
	HomeCountry string `json:"homeCountry"`

	// Behavioral profile settings.
	ProfileLookback        int           `json:"profileLookback"`        // most recent N completed transactions
	MinProfileHistory      int           `json:"minProfileHistory"`      // cold-start guard
	ProfileRefreshInterval time.Duration `json:"profileRefreshInterval"` // staleness bound

	// Fixed confidence values: rule matches are near-certain, model
	// detections are probabilistic.
	RuleConfidence  float64 `json:"ruleConfidence"`
	ModelConfidence float64 `json:"modelConfidence"`

	// Outlier model settings.
	Contamination   float64       `json:"contamination"`
	MinTrainingSize int           `json:"minTrainingSize"`
	MaxTrainingSize int           `json:"maxTrainingSize"`
	TrainTimeout    time.Duration `json:"trainTimeout"` // soft deadline for opportunistic training
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultConfig returns the default single-node configuration:
// SQLite, in-process cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./shrike.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			ProfileTTL:   time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: DefaultEngineConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "shrike",
		},
	}
}

// DefaultEngineConfig returns the engine tuning defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HomeCountry:            "US",
		ProfileLookback:        500,
		MinProfileHistory:      5,
		ProfileRefreshInterval: time.Hour,
		RuleConfidence:         95,
		ModelConfidence:        75,
		Contamination:          0.01,
		MinTrainingSize:        100,
		MaxTrainingSize:        10000,
		TrainTimeout:           5 * time.Second,
	}
}

// ProConfig returns a multi-node configuration: PostgreSQL, Redis, NATS.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "shrike",
	}
	cfg.Cache = CacheConfig{
		Type:       "redis",
		RedisAddr:  "localhost:6379",
		ProfileTTL: time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
