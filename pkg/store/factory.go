package store

import (
	"fmt"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/logging"
)

// NewMetricsStore creates a performance store for the configured backend.
// When the store is disabled it returns a disabled memory store, so
// callers can hold a non-nil handle either way.
func NewMetricsStore(cfg Config) (MetricsStore, error) {
	if !cfg.Enabled {
		logging.Debugf("Performance store disabled, using disabled memory store")
		return NewMemoryStore(MemoryConfig{}, false), nil
	}

	switch cfg.Backend {
	case MemoryBackend, "":
		logging.Infof("Creating memory performance store with max_records=%d", cfg.Memory.MaxRecords)
		return NewMemoryStore(cfg.Memory, true), nil

	case SQLiteBackend:
		logging.Infof("Creating SQLite performance store at %s", cfg.SQLite.Path)
		return NewSQLiteStore(cfg.SQLite)

	case RedisBackend:
		logging.Infof("Creating Redis performance store at %s", cfg.Redis.Address)
		return NewRedisStore(cfg.Redis)

	default:
		return nil, fmt.Errorf("unknown store backend type: %s (supported: memory, sqlite, redis)", cfg.Backend)
	}
}

// NewTrainingStore creates a training-example store for the configured
// backend. Redis has no training consumer, so that backend keeps examples
// in memory.
func NewTrainingStore(cfg Config) (TrainingStore, error) {
	if !cfg.Enabled {
		return NewMemoryTrainingStore(MemoryConfig{}, false), nil
	}

	switch cfg.Backend {
	case MemoryBackend, "":
		return NewMemoryTrainingStore(cfg.Memory, true), nil

	case SQLiteBackend:
		return NewSQLiteTrainingStore(cfg.SQLite)

	case RedisBackend:
		logging.Warnf("Training examples are kept in memory with the redis backend")
		return NewMemoryTrainingStore(cfg.Memory, true), nil

	default:
		return nil, fmt.Errorf("unknown store backend type: %s (supported: memory, sqlite, redis)", cfg.Backend)
	}
}

// ValidateConfig validates the store configuration.
func ValidateConfig(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	switch cfg.Backend {
	case MemoryBackend, "":
		return nil

	case SQLiteBackend:
		if cfg.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required for sqlite backend")
		}
		return nil

	case RedisBackend:
		if cfg.Redis.Address == "" {
			return fmt.Errorf("redis address is required for redis backend")
		}
		return nil

	default:
		return fmt.Errorf("unknown store backend type: %s", cfg.Backend)
	}
}
