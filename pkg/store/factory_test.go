package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsStoreMemory(t *testing.T) {
	cfg := DefaultConfig()

	s, err := NewMetricsStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.IsEnabled())
	assert.IsType(t, &MemoryStore{}, s)
}

func TestNewMetricsStoreDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	s, err := NewMetricsStore(cfg)
	require.NoError(t, err)
	assert.False(t, s.IsEnabled())
}

func TestNewMetricsStoreUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "etcd"

	_, err := NewMetricsStore(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestNewTrainingStoreSQLite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = SQLiteBackend
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "training.db")

	s, err := NewTrainingStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(context.Background(), TrainingExample{
		ID:       "ex-1",
		URL:      "https://example.com",
		Category: 2,
		Weight:   1,
		Source:   "user_feedback",
	}))
}

func TestNewTrainingStoreRedisFallsBackToMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = RedisBackend

	s, err := NewTrainingStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &MemoryTrainingStore{}, s)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.Backend = "bogus" }, false},
		{"sqlite without path", func(c *Config) { c.Backend = SQLiteBackend; c.SQLite.Path = "" }, true},
		{"redis without address", func(c *Config) { c.Backend = RedisBackend }, true},
		{"unknown backend", func(c *Config) { c.Backend = "etcd" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := ValidateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
